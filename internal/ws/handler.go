package ws

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/pongarena/backend/internal/engine"
	"github.com/pongarena/backend/internal/match"
	"github.com/pongarena/backend/internal/matchmaking"
	"github.com/pongarena/backend/internal/presence"
	"github.com/pongarena/backend/internal/tournament"
	"github.com/pongarena/backend/internal/types"
)

// IdentityResolver maps a connection credential to a user identity.
// Unresolvable credentials play as guests.
type IdentityResolver interface {
	ResolveConnection(token string) (userID, username string, ok bool)
}

// session is the per-connection context: identity, outbound channels, and
// the controller currently accepting this connection's inputs. It replaces
// any notion of process-wide "current room" state.
type session struct {
	connID string
	userID string
	name   string

	snapshots chan match.Snapshot
	notices   chan matchmaking.Notice

	// controller is written by the writer goroutine (on matchStarted and
	// matchFinished) and read by the reader goroutine (on move), hence
	// atomic.
	controller atomic.Pointer[match.Controller]
}

// noteMatch tracks the match lifecycle carried in notices. A finished
// match's controller loop is gone, so the pointer must be dropped before
// stale moves can pile up against its inbox.
func (s *session) noteMatch(n matchmaking.Notice) {
	switch n.Type {
	case matchmaking.NoticeMatchStarted:
		s.controller.Store(n.Controller)
	case matchmaking.NoticeMatchFinished:
		s.controller.Store(nil)
	}
}

func Handler(co *matchmaking.Coordinator, ids IdentityResolver, pres *presence.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, name := "", ""
		if token := r.URL.Query().Get("token"); token != "" && ids != nil {
			if uid, uname, ok := ids.ResolveConnection(token); ok {
				userID, name = uid, uname
			}
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		s := &session{
			connID:    randID(8),
			userID:    userID,
			name:      name,
			snapshots: make(chan match.Snapshot, 8),
			notices:   make(chan matchmaking.Notice, 16),
		}
		if s.name == "" {
			s.name = "guest-" + s.connID[:4]
		}
		slog := log.With(zap.String("conn", s.connID), zap.String("user", userID))

		co.Inbox() <- matchmaking.Register{
			ConnID:    s.connID,
			UserID:    s.userID,
			Name:      s.name,
			Snapshots: s.snapshots,
			Notices:   s.notices,
		}
		pres.Set(s.userID, presence.StatusOnline)

		defer func() {
			done := make(chan struct{})
			co.Inbox() <- matchmaking.LeaveAll{ConnID: s.connID, Done: done}
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				slog.Error("leaveAllRooms timed out on disconnect")
			}
			co.Inbox() <- matchmaking.Unregister{ConnID: s.connID}
			pres.Set(s.userID, presence.StatusOffline)
		}()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writer(writeCtx, conn, s)

		reader(r.Context(), conn, s, co, slog)
	}
}

// writer serializes snapshots and notices onto the socket. It also tracks
// the controller handed over in matchStarted notices so the reader can
// route move commands.
func writer(ctx context.Context, conn *websocket.Conn, s *session) {
	for {
		var msg types.ServerMessage
		select {
		case <-ctx.Done():
			return
		case snap := <-s.snapshots:
			state := snap.State
			msg = types.ServerMessage{Type: "state", State: &state}
		case n := <-s.notices:
			s.noteMatch(n)
			msg = noticeMessage(n)
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = conn.Write(wctx, websocket.MessageText, payload)
		cancel()
	}
}

func reader(ctx context.Context, conn *websocket.Conn, s *session, co *matchmaking.Coordinator, log *zap.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			writeError(ctx, conn, "bad json")
			continue
		}

		switch cm.Type {
		case "joinRoom":
			handleJoin(ctx, conn, s, co, cm, log)

		case "leaveAllRooms":
			done := make(chan struct{})
			co.Inbox() <- matchmaking.LeaveAll{ConnID: s.connID, Done: done}
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				log.Error("leaveAllRooms timed out")
			}
			s.controller.Store(nil)

		case "move":
			handleMove(s, cm, log)

		default:
			log.Warn("unknown message type", zap.String("type", cm.Type))
			writeError(ctx, conn, "unknown type")
		}
	}
}

func handleJoin(ctx context.Context, conn *websocket.Conn, s *session, co *matchmaking.Coordinator, cm types.ClientMessage, log *zap.Logger) {
	reply := make(chan matchmaking.JoinReply, 1)
	co.Inbox() <- matchmaking.JoinRequest{
		ConnID:       s.connID,
		MaxPlayers:   cm.MaxPlayers,
		Local:        cm.IsLocalGame,
		Tournament:   cm.IsTournament,
		EnableAI:     cm.EnableAI,
		AIDifficulty: engine.Difficulty(cm.AIDifficulty),
		Reply:        reply,
	}

	select {
	case rep := <-reply:
		if rep.Err == nil {
			return // roomJoined arrives as a notice
		}
		if errors.Is(rep.Err, matchmaking.ErrJoinThrottled) {
			log.Debug("join throttled")
			return // debounced joins are dropped, not surfaced
		}
		log.Warn("join rejected", zap.Error(rep.Err))
		writeError(ctx, conn, rep.Err.Error())
	case <-time.After(5 * time.Second):
		log.Error("join reply timed out")
		writeError(ctx, conn, "matchmaking unavailable")
	}
}

func handleMove(s *session, cm types.ClientMessage, log *zap.Logger) {
	ctrl := s.controller.Load()
	if ctrl == nil {
		log.Debug("move with no active match")
		return
	}
	side, ok := types.ValidSides[cm.Player]
	if !ok {
		log.Warn("move with unknown side", zap.String("player", cm.Player))
		return
	}
	var dir engine.Direction
	switch cm.Direction {
	case "up":
		dir = engine.DirUp
	case "down":
		dir = engine.DirDown
	default:
		log.Warn("move with unknown direction", zap.String("direction", cm.Direction))
		return
	}

	// Non-blocking: a dead or saturated match must never wedge the reader,
	// which also handles disconnects.
	select {
	case ctrl.Inbox() <- match.Input{
		ConnID:  s.connID,
		Side:    side,
		Dir:     dir,
		Pressed: cm.Event != "keyup",
	}:
	default:
		log.Debug("move dropped, match inbox full")
	}
}

func noticeMessage(n matchmaking.Notice) types.ServerMessage {
	switch n.Type {
	case matchmaking.NoticeRoomJoined, matchmaking.NoticeMatchStarted:
		return types.ServerMessage{
			Type:   string(n.Type),
			Room:   n.RoomID,
			Paddle: string(n.Side),
		}
	case matchmaking.NoticeMatchFinished:
		return types.ServerMessage{
			Type:    "matchFinished",
			Room:    n.RoomID,
			Winner:  n.Winner,
			Loser:   n.Loser,
			Forfeit: n.Forfeit,
		}
	case matchmaking.NoticeTournament:
		msg := types.ServerMessage{
			Type:  "tournament",
			Room:  n.TournamentID,
			Phase: string(n.Phase),
		}
		if n.Phase == tournament.PhaseCompleted {
			msg.Champion = n.Champion
		}
		return msg
	default:
		return types.ServerMessage{Type: "error", Error: n.Reason}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, reason string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: "error", Error: reason})
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	_ = conn.Write(wctx, websocket.MessageText, payload)
	cancel()
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
