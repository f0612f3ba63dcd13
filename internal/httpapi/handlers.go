package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pongarena/backend/internal/matchmaking"
	"github.com/pongarena/backend/internal/presence"
	"github.com/pongarena/backend/internal/store"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func CreateUser(st *store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			http.Error(w, "accounts unavailable", http.StatusServiceUnavailable)
			return
		}

		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if len(req.Username) < 3 || len(req.Password) < 8 {
			http.Error(w, "username or password too short", http.StatusBadRequest)
			return
		}

		u, err := st.CreateUser(req.Username, req.Password)
		if err != nil {
			if errors.Is(err, store.ErrUsernameTaken) {
				http.Error(w, "username taken", http.StatusConflict)
				return
			}
			log.Error("user creation failed", zap.Error(err))
			http.Error(w, "registration failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			Username string `json:"username"`
			Token    string `json:"token"`
		}{u.Username, u.Token})
	}
}

func Login(st *store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			http.Error(w, "accounts unavailable", http.StatusServiceUnavailable)
			return
		}

		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		u, err := st.Authenticate(req.Username, req.Password)
		if err != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Username string `json:"username"`
			Token    string `json:"token"`
		}{u.Username, u.Token})
	}
}

func Leaderboard(st *store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			http.Error(w, "leaderboard unavailable", http.StatusServiceUnavailable)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := st.Leaderboard(limit)
		if err != nil {
			log.Error("leaderboard query failed", zap.Error(err))
			http.Error(w, "leaderboard failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	}
}

// UserStatus reports presence plus, when the user is mid-match, the room a
// spectate link would target.
func UserStatus(co *matchmaking.Coordinator, st *store.Store, pres *presence.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			http.Error(w, "accounts unavailable", http.StatusServiceUnavailable)
			return
		}

		u, err := st.LookupUser(chi.URLParam(r, "username"))
		if err != nil {
			http.Error(w, "unknown user", http.StatusNotFound)
			return
		}
		userID := strconv.FormatUint(uint64(u.ID), 10)

		reply := make(chan matchmaking.StatusReply, 1)
		co.Inbox() <- matchmaking.StatusQuery{UserID: userID, Reply: reply}

		var live matchmaking.StatusReply
		select {
		case live = <-reply:
		case <-time.After(2 * time.Second):
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Username string `json:"username"`
			Status   string `json:"status"`
			Room     string `json:"room,omitempty"`
		}{u.Username, string(pres.Get(userID)), live.RoomID})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
