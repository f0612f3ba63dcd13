package matchmaking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pongarena/backend/internal/engine"
	"github.com/pongarena/backend/internal/match"
	"github.com/pongarena/backend/internal/presence"
	"github.com/pongarena/backend/internal/tournament"
)

type fakeSink struct {
	mu      sync.Mutex
	results []recorded
}

type recorded struct {
	winner, loser string
	forfeit       bool
}

func (f *fakeSink) RecordMatchResult(winnerID, loserID string, ws, ls int, forfeit bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, recorded{winnerID, loserID, forfeit})
}

func (f *fakeSink) all() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.results...)
}

type fakePresence struct {
	mu   sync.Mutex
	last map[string]presence.Status
}

func (f *fakePresence) NotifyStatusChange(userID string, s presence.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		f.last = make(map[string]presence.Status)
	}
	f.last[userID] = s
}

func (f *fakePresence) statusOf(userID string) presence.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[userID]
}

type client struct {
	id        string
	snapshots chan match.Snapshot
	notices   chan Notice
}

func newClient(t *testing.T, co *Coordinator, id, userID string) *client {
	t.Helper()
	c := &client{
		id:        id,
		snapshots: make(chan match.Snapshot, 64),
		notices:   make(chan Notice, 64),
	}
	co.Inbox() <- Register{
		ConnID:    id,
		UserID:    userID,
		Name:      "name-" + id,
		Snapshots: c.snapshots,
		Notices:   c.notices,
	}
	return c
}

func (c *client) join(t *testing.T, co *Coordinator, req JoinRequest) JoinReply {
	t.Helper()
	req.ConnID = c.id
	req.Reply = make(chan JoinReply, 1)
	co.Inbox() <- req
	select {
	case rep := <-req.Reply:
		return rep
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for join reply for %s", c.id)
		return JoinReply{}
	}
}

func (c *client) leaveAll(t *testing.T, co *Coordinator) {
	t.Helper()
	done := make(chan struct{})
	co.Inbox() <- LeaveAll{ConnID: c.id, Done: done}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("leaveAll never completed for %s", c.id)
	}
}

// awaitNotice discards notices until one satisfies pred.
func (c *client) awaitNotice(t *testing.T, pred func(Notice) bool) Notice {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-c.notices:
			if pred(n) {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for notice on %s", c.id)
			return Notice{}
		}
	}
}

func noticeOfType(tt NoticeType) func(Notice) bool {
	return func(n Notice) bool { return n.Type == tt }
}

func phaseNotice(p tournament.Phase) func(Notice) bool {
	return func(n Notice) bool { return n.Type == NoticeTournament && n.Phase == p }
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeSink, *fakePresence) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sink := &fakeSink{}
	pres := &fakePresence{}
	co := NewCoordinator(ctx, Config{TickRate: 120, Sink: sink, Presence: pres})
	return co, sink, pres
}

func TestJoinRequiresRegistration(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ghost := &client{id: "ghost"}
	rep := ghost.join(t, co, JoinRequest{MaxPlayers: 2})
	assert.ErrorIs(t, rep.Err, ErrNotRegistered)
}

func TestJoinValidation(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	cases := []struct {
		name string
		req  JoinRequest
		want error
	}{
		{"capacity 3", JoinRequest{MaxPlayers: 3}, ErrInvalidCapacity},
		{"local 4p", JoinRequest{MaxPlayers: 4, Local: true}, ErrInvalidMode},
		{"ai 4p", JoinRequest{MaxPlayers: 4, EnableAI: true}, ErrInvalidMode},
		{"tournament of two", JoinRequest{MaxPlayers: 2, Tournament: true}, ErrInvalidMode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Fresh connection each case so the debounce never interferes.
			c := newClient(t, co, "val-"+tc.name, "")
			rep := c.join(t, co, tc.req)
			assert.ErrorIs(t, rep.Err, tc.want)
		})
	}
}

func TestJoinDebounce(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	c := newClient(t, co, "c1", "")

	first := c.join(t, co, JoinRequest{MaxPlayers: 2})
	require.NoError(t, first.Err)

	again := c.join(t, co, JoinRequest{MaxPlayers: 2})
	assert.ErrorIs(t, again.Err, ErrJoinThrottled)
}

func TestLocalJoinStartsImmediately(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	c := newClient(t, co, "solo", "")

	rep := c.join(t, co, JoinRequest{MaxPlayers: 2, Local: true})
	require.NoError(t, rep.Err)
	assert.Equal(t, engine.SideA, rep.Side)

	c.awaitNotice(t, noticeOfType(NoticeRoomJoined))
	started := c.awaitNotice(t, noticeOfType(NoticeMatchStarted))
	require.NotNil(t, started.Controller)

	// The tick loop is live: snapshots arrive.
	select {
	case <-c.snapshots:
	case <-time.After(time.Second):
		t.Fatal("no snapshot from a started local match")
	}
}

func TestNetworkedPairAssignsSidesInJoinOrder(t *testing.T) {
	co, _, pres := newTestCoordinator(t)
	p1 := newClient(t, co, "p1", "u1")
	p2 := newClient(t, co, "p2", "u2")

	rep1 := p1.join(t, co, JoinRequest{MaxPlayers: 2})
	require.NoError(t, rep1.Err)
	assert.Equal(t, engine.SideA, rep1.Side)

	rep2 := p2.join(t, co, JoinRequest{MaxPlayers: 2})
	require.NoError(t, rep2.Err)
	assert.Equal(t, engine.SideC, rep2.Side)
	assert.Equal(t, rep1.RoomID, rep2.RoomID, "second joiner fills the open room")

	// Full room: both sides get the started match.
	s1 := p1.awaitNotice(t, noticeOfType(NoticeMatchStarted))
	s2 := p2.awaitNotice(t, noticeOfType(NoticeMatchStarted))
	assert.Same(t, s1.Controller, s2.Controller)

	require.Eventually(t, func() bool {
		return pres.statusOf("u1") == presence.StatusInGame &&
			pres.statusOf("u2") == presence.StatusInGame
	}, time.Second, 10*time.Millisecond)
}

func TestNetworkedRejoinFillsVacatedSide(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	p1 := newClient(t, co, "p1", "")
	p2 := newClient(t, co, "p2", "")
	p3 := newClient(t, co, "p3", "")

	require.NoError(t, p1.join(t, co, JoinRequest{MaxPlayers: 4}).Err)
	require.NoError(t, p2.join(t, co, JoinRequest{MaxPlayers: 4}).Err)
	rep3 := p3.join(t, co, JoinRequest{MaxPlayers: 4})
	require.NoError(t, rep3.Err)
	assert.Equal(t, engine.SideC, rep3.Side)

	// p2 vacates B; the next joiner must take that hole, not p3's C.
	p2.leaveAll(t, co)

	p4 := newClient(t, co, "p4", "")
	p5 := newClient(t, co, "p5", "")
	rep4 := p4.join(t, co, JoinRequest{MaxPlayers: 4})
	require.NoError(t, rep4.Err)
	assert.Equal(t, engine.SideB, rep4.Side)

	rep5 := p5.join(t, co, JoinRequest{MaxPlayers: 4})
	require.NoError(t, rep5.Err)
	assert.Equal(t, engine.SideD, rep5.Side)

	// Full room with four distinct owners: everyone gets the same match.
	s1 := p1.awaitNotice(t, noticeOfType(NoticeMatchStarted))
	s4 := p4.awaitNotice(t, noticeOfType(NoticeMatchStarted))
	require.NotNil(t, s1.Controller)
	assert.Same(t, s1.Controller, s4.Controller)
}

func TestTournamentGatheringRefillsVacatedSide(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	c1 := newClient(t, co, "c1", "")
	c2 := newClient(t, co, "c2", "")
	c3 := newClient(t, co, "c3", "")

	require.NoError(t, c1.join(t, co, JoinRequest{MaxPlayers: 4, Tournament: true}).Err)
	require.NoError(t, c2.join(t, co, JoinRequest{MaxPlayers: 4, Tournament: true}).Err)
	require.NoError(t, c3.join(t, co, JoinRequest{MaxPlayers: 4, Tournament: true}).Err)

	c2.leaveAll(t, co)

	c4 := newClient(t, co, "c4", "")
	rep4 := c4.join(t, co, JoinRequest{MaxPlayers: 4, Tournament: true})
	require.NoError(t, rep4.Err)
	assert.Equal(t, engine.SideB, rep4.Side, "gathering room reuses the vacated paddle")
}

func TestDuplicateJoinWhileSeatedIsRejected(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	c := newClient(t, co, "c1", "")

	rep := c.join(t, co, JoinRequest{MaxPlayers: 4})
	require.NoError(t, rep.Err)

	time.Sleep(joinDebounce + 50*time.Millisecond)
	again := c.join(t, co, JoinRequest{MaxPlayers: 4})
	assert.ErrorIs(t, again.Err, ErrAlreadyInRoom)
}

func TestLeaveAllForfeitsRunningMatchAndRecordsResult(t *testing.T) {
	co, sink, pres := newTestCoordinator(t)
	p1 := newClient(t, co, "p1", "u1")
	p2 := newClient(t, co, "p2", "u2")

	require.NoError(t, p1.join(t, co, JoinRequest{MaxPlayers: 2}).Err)
	require.NoError(t, p2.join(t, co, JoinRequest{MaxPlayers: 2}).Err)
	p1.awaitNotice(t, noticeOfType(NoticeMatchStarted))

	p1.leaveAll(t, co)

	fin := p2.awaitNotice(t, noticeOfType(NoticeMatchFinished))
	assert.True(t, fin.Forfeit)
	assert.Equal(t, "name-p2", fin.Winner)

	require.Eventually(t, func() bool {
		rs := sink.all()
		return len(rs) == 1 && rs[0].winner == "u2" && rs[0].loser == "u1" && rs[0].forfeit
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return pres.statusOf("u2") == presence.StatusOnline
	}, time.Second, 10*time.Millisecond)

	// Idempotent: a second leave is a quiet no-op.
	p1.leaveAll(t, co)
}

func TestTournamentBracketRunsToCompletion(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	players := make([]*client, 4)
	for i, id := range []string{"c1", "c2", "c3", "c4"} {
		players[i] = newClient(t, co, id, "u-"+id)
	}
	for _, p := range players {
		require.NoError(t, p.join(t, co, JoinRequest{MaxPlayers: 4, Tournament: true}).Err)
	}

	// Semifinals start for everyone, paired 1v2 and 3v4.
	for _, p := range players {
		p.awaitNotice(t, phaseNotice(tournament.PhaseSemifinals))
	}
	s1 := players[0].awaitNotice(t, noticeOfType(NoticeMatchStarted))
	s2 := players[1].awaitNotice(t, noticeOfType(NoticeMatchStarted))
	s3 := players[2].awaitNotice(t, noticeOfType(NoticeMatchStarted))
	s4 := players[3].awaitNotice(t, noticeOfType(NoticeMatchStarted))
	assert.Same(t, s1.Controller, s2.Controller, "joiners 1 and 2 share semifinal1")
	assert.Same(t, s3.Controller, s4.Controller, "joiners 3 and 4 share semifinal2")
	assert.NotSame(t, s1.Controller, s3.Controller, "semifinals are disjoint")

	// c2 forfeits semifinal1. One finished semifinal must not advance the
	// bracket: no waiting_final notice yet.
	players[1].leaveAll(t, co)
	players[0].awaitNotice(t, noticeOfType(NoticeMatchFinished))
	select {
	case n := <-players[0].notices:
		if n.Type == NoticeTournament && n.Phase == tournament.PhaseWaitingFinal {
			t.Fatal("bracket advanced with one semifinal still running")
		}
	case <-time.After(200 * time.Millisecond):
	}

	// c3 forfeits semifinal2: both semifinals resolved, bracket advances
	// through waiting_final into the final between c1 and c4.
	players[2].leaveAll(t, co)
	players[0].awaitNotice(t, phaseNotice(tournament.PhaseWaitingFinal))
	players[0].awaitNotice(t, phaseNotice(tournament.PhaseFinal))
	f1 := players[0].awaitNotice(t, noticeOfType(NoticeMatchStarted))
	f4 := players[3].awaitNotice(t, noticeOfType(NoticeMatchStarted))
	assert.Same(t, f1.Controller, f4.Controller)

	// c4 forfeits the final.
	players[3].leaveAll(t, co)
	done := players[0].awaitNotice(t, phaseNotice(tournament.PhaseCompleted))
	assert.Equal(t, "name-c1", done.Champion)
}

func TestLegResultStillAppliesAfterRoomIsGone(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	players := make([]*client, 4)
	for i, id := range []string{"c1", "c2", "c3", "c4"} {
		players[i] = newClient(t, co, id, "u-"+id)
	}
	for _, p := range players {
		require.NoError(t, p.join(t, co, JoinRequest{MaxPlayers: 4, Tournament: true}).Err)
	}
	semis := players[0].awaitNotice(t, phaseNotice(tournament.PhaseSemifinals))

	// c3 forfeits semifinal2 normally.
	players[2].leaveAll(t, co)
	players[3].awaitNotice(t, noticeOfType(NoticeMatchFinished))

	// Semifinal1's room was torn down before its result was consumed: the
	// result arrives tagged with the bracket leg but matches no live room.
	co.results <- match.Result{
		RoomID:       "room-GONE42",
		Winner:       engine.SideA,
		Loser:        engine.SideC,
		WinnerConn:   "c1",
		LoserConn:    "c2",
		Forfeit:      true,
		TournamentID: semis.TournamentID,
		LegID:        string(tournament.LegSemifinal1),
	}

	// The bracket must not strand in semifinals: it advances into the
	// final between c1 and c4.
	players[0].awaitNotice(t, phaseNotice(tournament.PhaseWaitingFinal))
	players[0].awaitNotice(t, phaseNotice(tournament.PhaseFinal))
	f1 := players[0].awaitNotice(t, noticeOfType(NoticeMatchStarted))
	f4 := players[3].awaitNotice(t, noticeOfType(NoticeMatchStarted))
	assert.Same(t, f1.Controller, f4.Controller)
}

func TestPendingFinalistCannotJoinOtherMatches(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	players := make([]*client, 4)
	for i, id := range []string{"c1", "c2", "c3", "c4"} {
		players[i] = newClient(t, co, id, "u-"+id)
	}
	for _, p := range players {
		require.NoError(t, p.join(t, co, JoinRequest{MaxPlayers: 4, Tournament: true}).Err)
	}
	players[0].awaitNotice(t, phaseNotice(tournament.PhaseSemifinals))

	// c2 forfeits semifinal1: c1 is now roomless but committed to the
	// final, so regular matchmaking must turn them away.
	players[1].leaveAll(t, co)
	players[0].awaitNotice(t, noticeOfType(NoticeMatchFinished))

	time.Sleep(joinDebounce + 50*time.Millisecond)
	rep := players[0].join(t, co, JoinRequest{MaxPlayers: 2})
	assert.ErrorIs(t, rep.Err, ErrInTournament)

	// The eliminated player is free again.
	rep2 := players[1].join(t, co, JoinRequest{MaxPlayers: 2})
	require.NoError(t, rep2.Err)

	// Run the bracket out; once completed the champion may rejoin.
	players[2].leaveAll(t, co)
	players[0].awaitNotice(t, phaseNotice(tournament.PhaseFinal))
	players[0].awaitNotice(t, noticeOfType(NoticeMatchStarted))
	players[3].leaveAll(t, co)
	players[0].awaitNotice(t, phaseNotice(tournament.PhaseCompleted))

	time.Sleep(joinDebounce + 50*time.Millisecond)
	rep3 := players[0].join(t, co, JoinRequest{MaxPlayers: 2})
	require.NoError(t, rep3.Err)
}

func TestTournamentWaitingRoomDissolvesWhenEveryoneLeaves(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	c := newClient(t, co, "c1", "")

	rep := c.join(t, co, JoinRequest{MaxPlayers: 4, Tournament: true})
	require.NoError(t, rep.Err)
	c.awaitNotice(t, phaseNotice(tournament.PhaseWaiting))

	c.leaveAll(t, co)

	// The bracket and room are gone: a fresh joiner starts a new bracket.
	c2 := newClient(t, co, "c2", "")
	rep2 := c2.join(t, co, JoinRequest{MaxPlayers: 4, Tournament: true})
	require.NoError(t, rep2.Err)
	assert.NotEqual(t, rep.RoomID, rep2.RoomID)
}

func TestStatusQueryReportsRunningGame(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	c := newClient(t, co, "c1", "u1")
	require.NoError(t, c.join(t, co, JoinRequest{MaxPlayers: 2, EnableAI: true}).Err)
	c.awaitNotice(t, noticeOfType(NoticeMatchStarted))

	reply := make(chan StatusReply, 1)
	co.Inbox() <- StatusQuery{UserID: "u1", Reply: reply}
	got := <-reply
	assert.True(t, got.InGame)
	assert.NotEmpty(t, got.RoomID)

	co.Inbox() <- StatusQuery{UserID: "nobody", Reply: reply}
	assert.False(t, (<-reply).InGame)
}
