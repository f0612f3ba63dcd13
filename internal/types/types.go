package types

import "github.com/pongarena/backend/internal/engine"

// ClientMessage is the inbound command envelope. Type is one of
// "joinRoom", "leaveAllRooms", "move".
type ClientMessage struct {
	Type string `json:"type"`

	// joinRoom
	MaxPlayers   int    `json:"maxPlayers,omitempty"`
	IsLocalGame  bool   `json:"isLocalGame,omitempty"`
	EnableAI     bool   `json:"enableAI,omitempty"`
	AIDifficulty string `json:"aiDifficulty,omitempty"`
	IsTournament bool   `json:"isTournament,omitempty"`

	// move: player is the paddle side tag, event is "keydown"/"keyup"
	Player    string `json:"player,omitempty"`
	Direction string `json:"direction,omitempty"`
	Event     string `json:"event,omitempty"`
}

// ServerMessage is the outbound event envelope. Type is one of
// "roomJoined", "matchStarted", "state", "matchFinished", "tournament",
// "error".
type ServerMessage struct {
	Type   string        `json:"type"`
	Room   string        `json:"room,omitempty"`
	Paddle string        `json:"paddle,omitempty"`
	State  *engine.State `json:"state,omitempty"`

	Winner  string `json:"winner,omitempty"`
	Loser   string `json:"loser,omitempty"`
	Forfeit bool   `json:"forfeit,omitempty"`

	Phase    string `json:"phase,omitempty"`
	Champion string `json:"champion,omitempty"`

	Error string `json:"error,omitempty"`
}

// Sides the client may reference in move commands.
var ValidSides = map[string]engine.Side{
	"A": engine.SideA,
	"B": engine.SideB,
	"C": engine.SideC,
	"D": engine.SideD,
}
