package room

import (
	"time"

	"github.com/pongarena/backend/internal/engine"
	"github.com/pongarena/backend/internal/match"
)

// TournamentLink tags a room as one leg of a tournament bracket.
type TournamentLink struct {
	TournamentID string
	LegID        string
}

// Room is one logical match session: its participants in join order, their
// paddle assignments, and (once full) the controller that owns the game
// state. Rooms are plain data; the matchmaking coordinator's goroutine is
// the only writer.
type Room struct {
	ID         string
	MaxPlayers int
	Local      bool
	Tournament *TournamentLink

	Players []string                    // connection ids, join order
	Sides   map[string]engine.Side      // connection -> assigned side
	Outbox  map[string]chan match.Snapshot

	Controller *match.Controller

	CreatedAt time.Time
}

func (r *Room) Full() bool { return len(r.Players) >= r.MaxPlayers }

func (r *Room) Has(connID string) bool {
	_, ok := r.Sides[connID]
	return ok
}

// SideOf returns the paddle side assigned to a connection.
func (r *Room) SideOf(connID string) (engine.Side, bool) {
	side, ok := r.Sides[connID]
	return side, ok
}

// FreeSide returns the first side in serve order no occupant holds. Join
// order cannot pick it: a departure from a partially filled room leaves a
// hole in the middle of the order.
func (r *Room) FreeSide() (engine.Side, bool) {
	for _, s := range engine.SideOrder(r.MaxPlayers) {
		taken := false
		for _, held := range r.Sides {
			if held == s {
				taken = true
				break
			}
		}
		if !taken {
			return s, true
		}
	}
	return "", false
}
