package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pongarena/backend/internal/matchmaking"
	"github.com/pongarena/backend/internal/presence"
	"github.com/pongarena/backend/internal/store"
	"github.com/pongarena/backend/internal/ws"
)

func SetupRoutes(co *matchmaking.Coordinator, st *store.Store, pres *presence.Tracker, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/users", CreateUser(st, log))
	r.Post("/login", Login(st, log))
	r.Get("/leaderboard", Leaderboard(st, log))
	r.Get("/users/{username}/status", UserStatus(co, st, pres))
	r.Get("/healthz", Healthz)

	var ids ws.IdentityResolver
	if st != nil {
		ids = st
	}
	r.Get("/ws", ws.Handler(co, ids, pres, log))
	return r
}
