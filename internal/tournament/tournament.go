package tournament

import (
	"errors"
	"fmt"
)

var ErrAlreadyEntered = errors.New("already entered")
var ErrBracketFull = errors.New("bracket is full")
var ErrNotEnoughPlayers = errors.New("bracket needs four players")
var ErrUnknownLeg = errors.New("unknown leg")
var ErrLegFinished = errors.New("leg already finished")
var ErrNotAParticipant = errors.New("not a leg participant")

// Phase is the bracket's position in its linear life cycle. There are no
// backward transitions.
type Phase string

const (
	PhaseWaiting      Phase = "waiting"
	PhaseSemifinals   Phase = "semifinals"
	PhaseWaitingFinal Phase = "waiting_final"
	PhaseFinal        Phase = "final"
	PhaseCompleted    Phase = "completed"
)

var nextPhase = map[Phase]Phase{
	PhaseWaiting:      PhaseSemifinals,
	PhaseSemifinals:   PhaseWaitingFinal,
	PhaseWaitingFinal: PhaseFinal,
	PhaseFinal:        PhaseCompleted,
}

// TransitionError reports a rejected phase transition.
type TransitionError struct {
	From, To Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid tournament transition %s -> %s", e.From, e.To)
}

type LegID string

const (
	LegSemifinal1 LegID = "semifinal1"
	LegSemifinal2 LegID = "semifinal2"
	LegFinal      LegID = "final"
)

// Leg is one match of the bracket: a fixed participant pair and, once
// finished, its winner.
type Leg struct {
	ID       LegID
	Players  [2]string // connection ids
	Winner   string
	Forfeit  bool
	Finished bool
}

func (l *Leg) has(connID string) bool {
	return l.Players[0] == connID || l.Players[1] == connID
}

func (l *Leg) opponentOf(connID string) string {
	if l.Players[0] == connID {
		return l.Players[1]
	}
	return l.Players[0]
}

// Tournament is the bracket state machine for one 4-player single
// elimination run: two semifinals, then a final between the winners. It
// is pure bookkeeping: the matchmaking coordinator owns match creation
// and feeds results back in.
type Tournament struct {
	ID    string
	phase Phase

	players []string          // join order; seeds the semifinal pairings
	names   map[string]string // connection -> display name

	semis       [2]*Leg
	final       *Leg
	semiWinners [2]string
	finalWinner string
}

func New(id string) *Tournament {
	return &Tournament{
		ID:    id,
		phase: PhaseWaiting,
		names: make(map[string]string),
	}
}

func (t *Tournament) Phase() Phase { return t.phase }

// advance is the single place phase moves. Anything but the next phase in
// line is rejected, which keeps every caller honest about ordering.
func (t *Tournament) advance(to Phase) error {
	if nextPhase[t.phase] != to {
		return &TransitionError{From: t.phase, To: to}
	}
	t.phase = to
	return nil
}

// AddPlayer enters a participant while the bracket is still gathering.
func (t *Tournament) AddPlayer(connID, name string) error {
	if t.phase != PhaseWaiting {
		return &TransitionError{From: t.phase, To: PhaseWaiting}
	}
	if len(t.players) >= 4 {
		return ErrBracketFull
	}
	for _, p := range t.players {
		if p == connID {
			return ErrAlreadyEntered
		}
	}
	t.players = append(t.players, connID)
	t.names[connID] = name
	return nil
}

// RemoveWaiting drops a participant who left before the bracket started.
// Unknown connections are a no-op. Returns the remaining player count.
func (t *Tournament) RemoveWaiting(connID string) int {
	if t.phase != PhaseWaiting {
		return len(t.players)
	}
	for i, p := range t.players {
		if p == connID {
			t.players = append(t.players[:i], t.players[i+1:]...)
			delete(t.names, connID)
			break
		}
	}
	return len(t.players)
}

// Start fires the waiting -> semifinals transition once four players are
// in, pairing joiners 1v2 and 3v4. The returned legs are what the
// coordinator builds rooms for.
func (t *Tournament) Start() ([2]Leg, error) {
	if len(t.players) != 4 {
		return [2]Leg{}, ErrNotEnoughPlayers
	}
	if err := t.advance(PhaseSemifinals); err != nil {
		return [2]Leg{}, err
	}
	t.semis[0] = &Leg{ID: LegSemifinal1, Players: [2]string{t.players[0], t.players[1]}}
	t.semis[1] = &Leg{ID: LegSemifinal2, Players: [2]string{t.players[2], t.players[3]}}
	return [2]Leg{*t.semis[0], *t.semis[1]}, nil
}

// RecordResult marks a leg finished with its winner. The phase advances
// only when every leg the current phase requires has finished: one
// finished semifinal parks its winner and stays in semifinals until the
// other reports. The return says whether the phase moved.
func (t *Tournament) RecordResult(leg LegID, winner string, forfeit bool) (bool, error) {
	l, err := t.leg(leg)
	if err != nil {
		return false, err
	}
	if l.Finished {
		return false, ErrLegFinished
	}
	if !l.has(winner) {
		return false, ErrNotAParticipant
	}
	if leg == LegFinal && t.phase != PhaseFinal {
		return false, &TransitionError{From: t.phase, To: PhaseCompleted}
	}
	if leg != LegFinal && t.phase != PhaseSemifinals {
		return false, &TransitionError{From: t.phase, To: PhaseWaitingFinal}
	}

	l.Winner = winner
	l.Forfeit = forfeit
	l.Finished = true

	switch leg {
	case LegSemifinal1, LegSemifinal2:
		if !t.semis[0].Finished || !t.semis[1].Finished {
			return false, nil // hold the winner pending the other semifinal
		}
		t.semiWinners = [2]string{t.semis[0].Winner, t.semis[1].Winner}
		return true, t.advance(PhaseWaitingFinal)

	case LegFinal:
		t.finalWinner = winner
		return true, t.advance(PhaseCompleted)
	}
	return false, ErrUnknownLeg
}

// BeginFinal fires waiting_final -> final and returns the final pairing.
func (t *Tournament) BeginFinal() (Leg, error) {
	if err := t.advance(PhaseFinal); err != nil {
		return Leg{}, err
	}
	t.final = &Leg{ID: LegFinal, Players: t.semiWinners}
	return *t.final, nil
}

// ActiveLegOf finds the unfinished leg a connection is playing in, for
// forfeit handling on disconnect. The opponent is the forfeit winner.
func (t *Tournament) ActiveLegOf(connID string) (LegID, string, bool) {
	for _, l := range []*Leg{t.semis[0], t.semis[1], t.final} {
		if l != nil && !l.Finished && l.has(connID) {
			return l.ID, l.opponentOf(connID), true
		}
	}
	return "", "", false
}

// Winners returns the recorded semifinal winners; valid from
// waiting_final on.
func (t *Tournament) Winners() [2]string { return t.semiWinners }

// FinalWinner is set once the tournament completes.
func (t *Tournament) FinalWinner() string { return t.finalWinner }

// NameOf resolves a participant's display name.
func (t *Tournament) NameOf(connID string) string { return t.names[connID] }

// Players returns the participants in join order.
func (t *Tournament) Players() []string { return t.players }

func (t *Tournament) leg(id LegID) (*Leg, error) {
	switch id {
	case LegSemifinal1:
		if t.semis[0] != nil {
			return t.semis[0], nil
		}
	case LegSemifinal2:
		if t.semis[1] != nil {
			return t.semis[1], nil
		}
	case LegFinal:
		if t.final != nil {
			return t.final, nil
		}
	}
	return nil, ErrUnknownLeg
}
