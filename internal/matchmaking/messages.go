package matchmaking

import (
	"errors"

	"github.com/pongarena/backend/internal/engine"
	"github.com/pongarena/backend/internal/match"
	"github.com/pongarena/backend/internal/presence"
	"github.com/pongarena/backend/internal/tournament"
)

var ErrNotRegistered = errors.New("connection not registered")
var ErrJoinThrottled = errors.New("join request throttled")
var ErrInvalidCapacity = errors.New("capacity must be 2 or 4")
var ErrInvalidMode = errors.New("mode does not match capacity")
var ErrAlreadyInRoom = errors.New("connection already in a room")
var ErrInTournament = errors.New("connection committed to an active tournament")

// ResultSink records finished matches for rankings. Implementations must
// not block the caller on failure: log and move on.
type ResultSink interface {
	RecordMatchResult(winnerID, loserID string, winnerScore, loserScore int, forfeit bool)
}

// PresenceNotifier keeps external presence queries correct across match
// start/end transitions.
type PresenceNotifier interface {
	NotifyStatusChange(userID string, status presence.Status)
}

type Msg interface{ isCoordMsg() }

// Register announces a connection and the channels it wants snapshots and
// notices delivered on. Both channels stay owned by the connection and are
// reused across every room it plays in.
type Register struct {
	ConnID    string
	UserID    string // "" for guests
	Name      string
	Snapshots chan match.Snapshot
	Notices   chan Notice
}

func (Register) isCoordMsg() {}

type Unregister struct{ ConnID string }

func (Unregister) isCoordMsg() {}

type JoinRequest struct {
	ConnID       string
	MaxPlayers   int
	Local        bool
	Tournament   bool
	EnableAI     bool
	AIDifficulty engine.Difficulty
	Reply        chan JoinReply
}

func (JoinRequest) isCoordMsg() {}

type JoinReply struct {
	RoomID string
	Side   engine.Side
	Err    error
}

// LeaveAll removes the connection from every room it belongs to,
// forfeiting any match in progress. Idempotent; Done is closed when the
// removal has completed so callers can clean up safely.
type LeaveAll struct {
	ConnID string
	Done   chan struct{}
}

func (LeaveAll) isCoordMsg() {}

// StatusQuery resolves a user's live status, e.g. for spectate links.
type StatusQuery struct {
	UserID string
	Reply  chan StatusReply
}

func (StatusQuery) isCoordMsg() {}

type StatusReply struct {
	InGame bool
	RoomID string
}

type Shutdown struct{}

func (Shutdown) isCoordMsg() {}

type NoticeType string

const (
	NoticeRoomJoined    NoticeType = "roomJoined"
	NoticeMatchStarted  NoticeType = "matchStarted"
	NoticeMatchFinished NoticeType = "matchFinished"
	NoticeTournament    NoticeType = "tournament"
	NoticeError         NoticeType = "error"
)

// Notice is an out-of-band event for one connection: room membership,
// match lifecycle, bracket progress, command rejections. Snapshots travel
// separately on the snapshot channel.
type Notice struct {
	Type   NoticeType
	RoomID string
	Side   engine.Side

	// Controller is set on matchStarted so the transport can route move
	// commands straight to the room's inbox.
	Controller *match.Controller

	Winner     string // display name
	Loser      string
	WinnerSide engine.Side
	Forfeit    bool

	TournamentID string
	Phase        tournament.Phase
	Champion     string // display name, completed phase only

	Reason string
}
