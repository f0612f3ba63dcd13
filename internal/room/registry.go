package room

import (
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/pongarena/backend/internal/engine"
	"github.com/pongarena/backend/internal/match"
)

var ErrNoSuchRoom = errors.New("no such room")
var ErrRoomFull = errors.New("room is full")
var ErrAlreadyJoined = errors.New("connection already in room")

// Registry is the single source of truth for room existence. It is not
// goroutine safe: it is owned by the coordinator and only ever touched
// from its loop.
type Registry struct {
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Create allocates a room with a fresh identifier.
func (g *Registry) Create(maxPlayers int, local bool, link *TournamentLink) *Room {
	id := g.newID()
	r := &Room{
		ID:         id,
		MaxPlayers: maxPlayers,
		Local:      local,
		Tournament: link,
		Sides:      make(map[string]engine.Side),
		Outbox:     make(map[string]chan match.Snapshot),
		CreatedAt:  time.Now(),
	}
	g.rooms[id] = r
	return r
}

func (g *Registry) Get(id string) (*Room, error) {
	r, ok := g.rooms[id]
	if !ok {
		return nil, ErrNoSuchRoom
	}
	return r, nil
}

// FindJoinable returns an existing non-local room with free capacity and a
// matching mode, or nil. Rooms whose match already started never match.
func (g *Registry) FindJoinable(maxPlayers int, tournament bool) *Room {
	for _, r := range g.rooms {
		if r.Local || r.Full() || r.MaxPlayers != maxPlayers {
			continue
		}
		if (r.Tournament != nil) != tournament {
			continue
		}
		if r.Controller != nil && r.Controller.Started() {
			continue
		}
		return r
	}
	return nil
}

// AddPlayer appends a connection with its paddle assignment. The
// assignment is permanent for the life of the room.
func (g *Registry) AddPlayer(id, connID string, side engine.Side, out chan match.Snapshot) error {
	r, err := g.Get(id)
	if err != nil {
		return err
	}
	if r.Full() {
		return ErrRoomFull
	}
	if r.Has(connID) {
		return ErrAlreadyJoined
	}
	r.Players = append(r.Players, connID)
	r.Sides[connID] = side
	if out != nil {
		r.Outbox[connID] = out
	}
	return nil
}

// RemovePlayer drops a connection from the room. Removing an absent
// connection is a no-op. The second return reports whether the room is now
// empty and eligible for deletion.
func (g *Registry) RemovePlayer(id, connID string) (empty bool, err error) {
	r, err := g.Get(id)
	if err != nil {
		return false, err
	}
	if !r.Has(connID) {
		return len(r.Players) == 0, nil
	}
	for i, p := range r.Players {
		if p == connID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			break
		}
	}
	delete(r.Sides, connID)
	delete(r.Outbox, connID)
	return len(r.Players) == 0, nil
}

func (g *Registry) Remove(id string) {
	delete(g.rooms, id)
}

// RoomsOf lists every room a connection currently belongs to. The room
// invariant keeps this at most one for active play, but cleanup paths
// must not rely on it.
func (g *Registry) RoomsOf(connID string) []*Room {
	var out []*Room
	for _, r := range g.rooms {
		if r.Has(connID) {
			out = append(out, r)
		}
	}
	return out
}

// IsGameRunning reports whether the room's match has started and not yet
// finished. Unknown rooms are simply not running.
func (g *Registry) IsGameRunning(id string) bool {
	r, err := g.Get(id)
	if err != nil || r.Controller == nil {
		return false
	}
	return r.Controller.Started() && !r.Controller.Done()
}

// IsGameEnded reports whether the room's match ran to a terminal result.
func (g *Registry) IsGameEnded(id string) bool {
	r, err := g.Get(id)
	if err != nil || r.Controller == nil {
		return false
	}
	return r.Controller.Done()
}

func (g *Registry) Len() int { return len(g.rooms) }

const idCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newID generates a short room code, regenerating on the (unlikely)
// collision with a live room.
func (g *Registry) newID() string {
	for {
		code := make([]byte, 6)
		for i := range code {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(idCharset))))
			if err != nil {
				panic(err) // crypto/rand only fails on a broken host
			}
			code[i] = idCharset[n.Int64()]
		}
		id := "room-" + string(code)
		if _, taken := g.rooms[id]; !taken {
			return id
		}
	}
}
