package matchmaking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pongarena/backend/internal/engine"
	"github.com/pongarena/backend/internal/match"
	"github.com/pongarena/backend/internal/presence"
	"github.com/pongarena/backend/internal/room"
	"github.com/pongarena/backend/internal/tournament"
)

// joinDebounce is the window within which repeated join requests from the
// same connection are ignored after the first.
const joinDebounce = time.Second

type conn struct {
	id        string
	userID    string
	name      string
	snapshots chan match.Snapshot
	notices   chan Notice
	lastJoin  time.Time
}

// Coordinator binds connections to rooms and rooms to match controllers.
// It is a single goroutine owning the room registry, the tournament
// brackets, and the per-connection join guards; every mutation arrives
// through the inbox or the shared results channel, so none of that state
// needs locking.
type Coordinator struct {
	inbox   chan Msg
	results chan match.Result

	reg      *room.Registry
	conns    map[string]*conn
	tours    map[string]*tournament.Tournament
	enrolled map[string]string // connection -> active tournament id

	sink     ResultSink
	pres     PresenceNotifier
	tickRate int
	seq      int64 // AI seed sequence

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

type Config struct {
	TickRate int
	Sink     ResultSink
	Presence PresenceNotifier
	Logger   *zap.Logger
}

func NewCoordinator(parent context.Context, cfg Config) *Coordinator {
	ctx, cancel := context.WithCancel(parent)

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 60
	}

	co := &Coordinator{
		inbox:    make(chan Msg, 64),
		results:  make(chan match.Result, 16),
		reg:      room.NewRegistry(),
		conns:    make(map[string]*conn),
		tours:    make(map[string]*tournament.Tournament),
		enrolled: make(map[string]string),
		sink:     cfg.Sink,
		pres:     cfg.Presence,
		tickRate: cfg.TickRate,
		seq:      time.Now().UnixNano(),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
	go co.loop()
	return co
}

func (co *Coordinator) Inbox() chan<- Msg { return co.inbox }

func (co *Coordinator) loop() {
	for {
		select {
		case <-co.ctx.Done():
			return

		case res := <-co.results:
			co.handleResult(res)

		case m := <-co.inbox:
			switch msg := m.(type) {
			case Register:
				co.conns[msg.ConnID] = &conn{
					id:        msg.ConnID,
					userID:    msg.UserID,
					name:      msg.Name,
					snapshots: msg.Snapshots,
					notices:   msg.Notices,
				}

			case Unregister:
				delete(co.conns, msg.ConnID)
				delete(co.enrolled, msg.ConnID)

			case JoinRequest:
				msg.Reply <- co.handleJoin(msg)

			case LeaveAll:
				co.handleLeaveAll(msg.ConnID)
				close(msg.Done)

			case StatusQuery:
				msg.Reply <- co.handleStatus(msg.UserID)

			case Shutdown:
				co.shutdown()
				return
			}
		}
	}
}

func (co *Coordinator) shutdown() {
	co.cancel() // child controllers share this context and stop with it
}

func (co *Coordinator) handleJoin(m JoinRequest) JoinReply {
	c := co.conns[m.ConnID]
	if c == nil {
		return JoinReply{Err: ErrNotRegistered}
	}

	now := time.Now()
	if now.Sub(c.lastJoin) < joinDebounce {
		return JoinReply{Err: ErrJoinThrottled}
	}
	c.lastJoin = now

	if m.MaxPlayers != 2 && m.MaxPlayers != 4 {
		return JoinReply{Err: ErrInvalidCapacity}
	}
	if (m.Local || m.EnableAI) && m.MaxPlayers != 2 {
		return JoinReply{Err: ErrInvalidMode}
	}
	if m.Tournament && m.MaxPlayers != 4 {
		return JoinReply{Err: ErrInvalidMode}
	}
	if len(co.reg.RoomsOf(m.ConnID)) > 0 {
		return JoinReply{Err: ErrAlreadyInRoom}
	}
	// A bracket participant between legs is in no room but is still
	// committed: a semifinal winner must stay free for the final.
	if _, ok := co.enrolled[m.ConnID]; ok {
		return JoinReply{Err: ErrInTournament}
	}

	switch {
	case m.Local || m.EnableAI:
		return co.joinSolo(c, m)
	case m.Tournament:
		return co.joinTournament(c)
	default:
		return co.joinNetworked(c, m.MaxPlayers)
	}
}

// joinSolo covers both one-keyboard local matches and human-vs-AI: one
// connection, room started immediately.
func (co *Coordinator) joinSolo(c *conn, m JoinRequest) JoinReply {
	r := co.reg.Create(2, true, nil)
	if err := co.reg.AddPlayer(r.ID, c.id, engine.SideA, c.snapshots); err != nil {
		return JoinReply{Err: err}
	}

	assignments := map[engine.Side]string{engine.SideA: c.id}
	var ai map[engine.Side]engine.Difficulty
	if m.EnableAI {
		diff := m.AIDifficulty
		if diff == "" {
			diff = engine.DifficultyMedium
		}
		ai = map[engine.Side]engine.Difficulty{engine.SideC: diff}
	} else {
		// Local: the one keyboard drives both paddles, so the
		// authorization check stays intact with both sides owned.
		assignments[engine.SideC] = c.id
	}

	co.notify(c.id, Notice{Type: NoticeRoomJoined, RoomID: r.ID, Side: engine.SideA})
	co.startRoom(r, assignments, m.Local, ai)
	return JoinReply{RoomID: r.ID, Side: engine.SideA}
}

func (co *Coordinator) joinNetworked(c *conn, maxPlayers int) JoinReply {
	r := co.reg.FindJoinable(maxPlayers, false)
	if r == nil {
		r = co.reg.Create(maxPlayers, false, nil)
	}

	side, ok := r.FreeSide()
	if !ok {
		return JoinReply{Err: room.ErrRoomFull}
	}
	if err := co.reg.AddPlayer(r.ID, c.id, side, c.snapshots); err != nil {
		return JoinReply{Err: err}
	}
	co.notify(c.id, Notice{Type: NoticeRoomJoined, RoomID: r.ID, Side: side})

	if r.Full() {
		assignments := make(map[engine.Side]string, len(r.Players))
		for connID, s := range r.Sides {
			assignments[s] = connID
		}
		co.startRoom(r, assignments, false, nil)
	}
	return JoinReply{RoomID: r.ID, Side: side}
}

func (co *Coordinator) joinTournament(c *conn) JoinReply {
	r := co.reg.FindJoinable(4, true)
	var t *tournament.Tournament
	if r == nil {
		co.seq++
		t = tournament.New(fmt.Sprintf("tour-%d", co.seq))
		co.tours[t.ID] = t
		r = co.reg.Create(4, false, &room.TournamentLink{TournamentID: t.ID})
	} else {
		t = co.tours[r.Tournament.TournamentID]
	}

	side, ok := r.FreeSide()
	if !ok {
		return JoinReply{Err: room.ErrRoomFull}
	}
	if err := co.reg.AddPlayer(r.ID, c.id, side, c.snapshots); err != nil {
		return JoinReply{Err: err}
	}
	if err := t.AddPlayer(c.id, c.name); err != nil {
		_, _ = co.reg.RemovePlayer(r.ID, c.id)
		return JoinReply{Err: err}
	}
	co.enrolled[c.id] = t.ID
	co.notify(c.id, Notice{Type: NoticeRoomJoined, RoomID: r.ID, Side: side})
	co.notifyTournament(t, Notice{Type: NoticeTournament, TournamentID: t.ID, Phase: tournament.PhaseWaiting})

	if r.Full() {
		co.reg.Remove(r.ID) // gathering room is done; play happens in leg rooms
		co.startTournament(t)
	}
	return JoinReply{RoomID: r.ID, Side: side}
}

func (co *Coordinator) startTournament(t *tournament.Tournament) {
	legs, err := t.Start()
	if err != nil {
		co.log.Error("tournament start failed", zap.String("tournament", t.ID), zap.Error(err))
		return
	}
	co.notifyTournament(t, Notice{Type: NoticeTournament, TournamentID: t.ID, Phase: tournament.PhaseSemifinals})

	advanced := false
	for _, leg := range legs {
		if !co.startLeg(t, leg) {
			advanced = true
		}
	}
	if advanced {
		co.advanceTournament(t)
	}
}

// startLeg builds and starts the room for one bracket leg. If a
// participant has already disconnected, the leg resolves as a forfeit
// without a room; the false return tells the caller the bracket may have
// moved on.
func (co *Coordinator) startLeg(t *tournament.Tournament, leg tournament.Leg) bool {
	c0 := co.conns[leg.Players[0]]
	c1 := co.conns[leg.Players[1]]
	if c0 == nil || c1 == nil {
		winner, loser := leg.Players[0], leg.Players[1]
		if c0 == nil && c1 != nil {
			winner, loser = loser, winner
		}
		co.log.Info("leg participant gone before start, forfeiting",
			zap.String("tournament", t.ID), zap.String("leg", string(leg.ID)))
		if _, err := t.RecordResult(leg.ID, winner, true); err != nil {
			co.log.Error("forfeit record failed", zap.Error(err))
		}
		delete(co.enrolled, loser)
		return false
	}

	r := co.reg.Create(2, false, &room.TournamentLink{
		TournamentID: t.ID,
		LegID:        string(leg.ID),
	})
	_ = co.reg.AddPlayer(r.ID, c0.id, engine.SideA, c0.snapshots)
	_ = co.reg.AddPlayer(r.ID, c1.id, engine.SideC, c1.snapshots)

	co.startRoom(r, map[engine.Side]string{
		engine.SideA: c0.id,
		engine.SideC: c1.id,
	}, false, nil)
	return true
}

// startRoom wires a controller to a full room and starts its tick loop.
func (co *Coordinator) startRoom(r *room.Room, assignments map[engine.Side]string, local bool, ai map[engine.Side]engine.Difficulty) {
	state, err := engine.NewState(r.MaxPlayers)
	if err != nil {
		co.log.Error("room with bad capacity", zap.String("room", r.ID), zap.Error(err))
		return
	}

	co.seq++
	cfg := match.Config{
		RoomID:      r.ID,
		Assignments: assignments,
		Local:       local,
		TickRate:    co.tickRate,
		AI:          ai,
		AISeed:      co.seq,
		Results:     co.results,
		Logger:      co.log,
	}
	if r.Tournament != nil {
		// The link rides along in the result so the bracket still moves
		// even if the room is torn down before the result is consumed.
		cfg.TournamentID = r.Tournament.TournamentID
		cfg.LegID = r.Tournament.LegID
	}
	ctrl := match.NewController(co.ctx, state, cfg)
	r.Controller = ctrl

	for connID, out := range r.Outbox {
		ctrl.Inbox() <- match.Subscribe{ConnID: connID, Outbox: out}
	}
	ctrl.Inbox() <- match.Start{}

	status := presence.StatusInGame
	if r.Tournament != nil {
		status = presence.StatusInTournament
	}
	for _, connID := range r.Players {
		side, _ := r.SideOf(connID)
		co.notify(connID, Notice{
			Type:       NoticeMatchStarted,
			RoomID:     r.ID,
			Side:       side,
			Controller: ctrl,
		})
		co.setPresence(connID, status)
	}

	co.log.Info("room started",
		zap.String("room", r.ID),
		zap.Int("players", len(r.Players)),
		zap.Bool("local", local))
}

// handleResult records the outcome and moves the bracket. Neither depends
// on the room still existing: the last players can leave in the window
// between the controller finishing and the result being consumed here, and
// their leave tears the room down first.
func (co *Coordinator) handleResult(res match.Result) {
	co.record(res)

	if r, err := co.reg.Get(res.RoomID); err == nil {
		finished := Notice{
			Type:       NoticeMatchFinished,
			RoomID:     res.RoomID,
			Winner:     co.displayName(res.WinnerConn, res.Winner),
			Loser:      co.displayName(res.LoserConn, res.Loser),
			WinnerSide: res.Winner,
			Forfeit:    res.Forfeit,
		}
		for _, connID := range r.Players {
			co.notify(connID, finished)
		}
		if r.Tournament == nil {
			for _, connID := range r.Players {
				co.setPresence(connID, presence.StatusOnline)
			}
		}
		co.teardownRoom(r)
	} else if res.TournamentID == "" {
		co.log.Warn("result for a room already gone", zap.String("room", res.RoomID))
	}

	if res.TournamentID == "" {
		return
	}
	t := co.tours[res.TournamentID]
	if t == nil {
		co.log.Warn("leg result for unknown tournament",
			zap.String("tournament", res.TournamentID))
		return
	}

	if _, err := t.RecordResult(tournament.LegID(res.LegID), res.WinnerConn, res.Forfeit); err != nil {
		co.log.Error("leg result rejected",
			zap.String("tournament", t.ID),
			zap.String("leg", res.LegID),
			zap.Error(err))
		return
	}
	// The loser is out of the bracket.
	delete(co.enrolled, res.LoserConn)
	co.setPresence(res.LoserConn, presence.StatusOnline)

	co.advanceTournament(t)
}

// advanceTournament pushes the bracket through any phase transitions that
// are now due. Forfeited legs can cascade (a finalist may already be
// gone), hence the loop.
func (co *Coordinator) advanceTournament(t *tournament.Tournament) {
	for {
		switch t.Phase() {
		case tournament.PhaseWaitingFinal:
			co.notifyTournament(t, Notice{
				Type:         NoticeTournament,
				TournamentID: t.ID,
				Phase:        tournament.PhaseWaitingFinal,
			})
			leg, err := t.BeginFinal()
			if err != nil {
				co.log.Error("final creation failed", zap.String("tournament", t.ID), zap.Error(err))
				return
			}
			co.notifyTournament(t, Notice{
				Type:         NoticeTournament,
				TournamentID: t.ID,
				Phase:        tournament.PhaseFinal,
			})
			if co.startLeg(t, leg) {
				return
			}
			// synthesized forfeit moved the phase again

		case tournament.PhaseCompleted:
			co.notifyTournament(t, Notice{
				Type:         NoticeTournament,
				TournamentID: t.ID,
				Phase:        tournament.PhaseCompleted,
				Champion:     t.NameOf(t.FinalWinner()),
			})
			for _, connID := range t.Players() {
				delete(co.enrolled, connID)
				co.setPresence(connID, presence.StatusOnline)
			}
			delete(co.tours, t.ID)
			co.log.Info("tournament completed",
				zap.String("tournament", t.ID),
				zap.String("winner", t.FinalWinner()))
			return

		default:
			return
		}
	}
}

// handleLeaveAll is the disconnect/navigation-away path: forfeit anything
// live, vacate everything else. Safe to call for connections in no rooms.
func (co *Coordinator) handleLeaveAll(connID string) {
	for _, r := range co.reg.RoomsOf(connID) {
		if r.Controller != nil && r.Controller.Started() && !r.Controller.Done() {
			// Forfeit first; room teardown happens when the result
			// comes back through the results channel.
			r.Controller.Inbox() <- match.Disconnect{ConnID: connID}
			continue
		}

		empty, err := co.reg.RemovePlayer(r.ID, connID)
		if err != nil {
			continue
		}
		if r.Tournament != nil {
			if t := co.tours[r.Tournament.TournamentID]; t != nil {
				if t.RemoveWaiting(connID) == 0 {
					delete(co.tours, t.ID)
				}
			}
			delete(co.enrolled, connID)
		}
		if empty {
			co.teardownRoom(r)
		}
	}
	co.setPresence(connID, presence.StatusOnline)
}

func (co *Coordinator) handleStatus(userID string) StatusReply {
	for _, c := range co.conns {
		if c.userID != userID || userID == "" {
			continue
		}
		for _, r := range co.reg.RoomsOf(c.id) {
			if co.reg.IsGameRunning(r.ID) {
				return StatusReply{InGame: true, RoomID: r.ID}
			}
		}
	}
	return StatusReply{}
}

// teardownRoom stops the controller and forgets the room. Subscriber
// channels stay open; they belong to the connections.
func (co *Coordinator) teardownRoom(r *room.Room) {
	if r.Controller != nil {
		r.Controller.Inbox() <- match.Shutdown{}
	}
	co.reg.Remove(r.ID)
}

// record persists a ranked result. Local and AI matches have at most one
// human, so they never reach the sink.
func (co *Coordinator) record(res match.Result) {
	if co.sink == nil {
		return
	}
	w := co.conns[res.WinnerConn]
	l := co.conns[res.LoserConn]
	if w == nil || l == nil || w.userID == "" || l.userID == "" || w.userID == l.userID {
		return
	}
	// Off the coordinator loop: persistence must never stall matchmaking.
	go co.sink.RecordMatchResult(w.userID, l.userID, res.WinnerScore, res.LoserScore, res.Forfeit)
}

func (co *Coordinator) setPresence(connID string, status presence.Status) {
	if co.pres == nil {
		return
	}
	if c := co.conns[connID]; c != nil && c.userID != "" {
		co.pres.NotifyStatusChange(c.userID, status)
	}
}

func (co *Coordinator) displayName(connID string, side engine.Side) string {
	if c := co.conns[connID]; c != nil && c.name != "" {
		return c.name
	}
	return "side " + string(side)
}

// notify delivers a notice without ever blocking the loop; a connection
// with a full notice channel loses the notice, not the coordinator.
func (co *Coordinator) notify(connID string, n Notice) {
	c := co.conns[connID]
	if c == nil {
		return
	}
	select {
	case c.notices <- n:
	default:
		co.log.Warn("notice dropped for slow connection", zap.String("conn", connID))
	}
}

func (co *Coordinator) notifyTournament(t *tournament.Tournament, n Notice) {
	for _, connID := range t.Players() {
		co.notify(connID, n)
	}
}
