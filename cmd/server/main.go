package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pongarena/backend/internal/config"
	"github.com/pongarena/backend/internal/httpapi"
	"github.com/pongarena/backend/internal/matchmaking"
	"github.com/pongarena/backend/internal/presence"
	"github.com/pongarena/backend/internal/store"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st *store.Store
	if cfg.DatabaseURL != "" {
		st, err = store.Open(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("database unavailable", zap.Error(err))
		}
	} else {
		logger.Warn("no DATABASE_URL configured, running unranked")
	}

	pres := presence.NewTracker()

	var sink matchmaking.ResultSink
	if st != nil {
		sink = st
	}
	co := matchmaking.NewCoordinator(ctx, matchmaking.Config{
		TickRate: cfg.TickRate,
		Sink:     sink,
		Presence: pres,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(co, st, pres, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		co.Inbox() <- matchmaking.Shutdown{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
