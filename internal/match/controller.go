package match

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pongarena/backend/internal/engine"
	"go.uber.org/zap"
)

type Msg interface{ isMatchMsg() }

// Start arms the tick loop. Idempotent.
type Start struct{}

func (Start) isMatchMsg() {}

// Stop halts the tick loop without emitting a result. Safe to repeat.
type Stop struct{}

func (Stop) isMatchMsg() {}

// Input buffers a keydown/keyup for one side. It is validated against the
// side's owning connection and consumed at the next tick boundary.
type Input struct {
	ConnID  string
	Side    engine.Side
	Dir     engine.Direction
	Pressed bool
}

func (Input) isMatchMsg() {}

// Disconnect reports a participant's connection going away mid-match. The
// remaining side is awarded a forfeit win.
type Disconnect struct{ ConnID string }

func (Disconnect) isMatchMsg() {}

type Subscribe struct {
	ConnID string
	Outbox chan Snapshot
}

func (Subscribe) isMatchMsg() {}

type Unsubscribe struct{ ConnID string }

func (Unsubscribe) isMatchMsg() {}

// GetState reflects internal state without data races (test-only).
type GetState struct{ Reply chan View }

func (GetState) isMatchMsg() {}

type Shutdown struct{}

func (Shutdown) isMatchMsg() {}

type Snapshot struct {
	Tick  uint64
	State engine.State
}

type View struct {
	Running  bool
	Finished bool
	NumSubs  int
	State    engine.State
}

// Result is the single terminal event of a match. Forfeit results carry the
// leaver as the loser. Loser is always the winner's opposite edge.
type Result struct {
	RoomID      string
	Winner      engine.Side
	Loser       engine.Side
	WinnerConn  string
	LoserConn   string
	WinnerScore int
	LoserScore  int
	Forfeit     bool

	// TournamentID and LegID echo the config so a bracket leg's outcome
	// can be applied even after the room itself is gone.
	TournamentID string
	LegID        string
}

type Config struct {
	RoomID string
	// Assignments maps each paddle side to its owning connection. A local
	// match maps both sides to the one connection; an AI side maps to "".
	Assignments map[engine.Side]string
	Local        bool
	TickRate     int
	AI           map[engine.Side]engine.Difficulty
	AISeed       int64
	TournamentID string
	LegID        string
	Results      chan<- Result
	Logger       *zap.Logger
}

// Controller owns one GameState and advances it on a fixed tick, applying
// buffered inputs at tick boundaries only. All state lives on the loop
// goroutine; everything reaches it through the inbox.
type Controller struct {
	inbox  chan Msg
	state  engine.State
	cfg    Config
	dt     float64
	period time.Duration

	inputs map[engine.Side]*pressed
	subs   map[string]chan Snapshot
	brains []*engine.Brain
	ticker *time.Ticker

	finished bool
	started  atomic.Bool
	done     atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

type pressed struct{ up, down bool }

func NewController(parent context.Context, initial engine.State, cfg Config) *Controller {
	ctx, cancel := context.WithCancel(parent)

	if cfg.TickRate <= 0 {
		cfg.TickRate = 60
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Controller{
		inbox:  make(chan Msg, 64),
		state:  initial,
		cfg:    cfg,
		dt:     1.0 / float64(cfg.TickRate),
		period: time.Second / time.Duration(cfg.TickRate),
		inputs: make(map[engine.Side]*pressed),
		subs:   make(map[string]chan Snapshot),
		ctx:    ctx,
		cancel: cancel,
		log:    log.With(zap.String("room", cfg.RoomID)),
	}
	for _, side := range engine.Sides(initial) {
		c.inputs[side] = &pressed{}
	}

	seed := cfg.AISeed
	for side, diff := range cfg.AI {
		c.brains = append(c.brains, engine.NewBrain(side, diff, seed))
		seed++
	}

	go c.loop()
	return c
}

func (c *Controller) Inbox() chan<- Msg { return c.inbox }

// Started reports whether the tick loop has ever been armed.
func (c *Controller) Started() bool { return c.started.Load() }

// Done reports whether the match has emitted its terminal result.
func (c *Controller) Done() bool { return c.done.Load() }

func (c *Controller) loop() {
	for {
		// A stopped controller has a nil ticker; a nil channel select
		// case never fires, so ticks simply vanish.
		var ticks <-chan time.Time
		if c.ticker != nil {
			ticks = c.ticker.C
		}

		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case <-ticks:
			c.step()

		case m := <-c.inbox:
			switch msg := m.(type) {
			case Start:
				c.start()

			case Stop:
				c.stopTicker()

			case Input:
				c.applyInput(msg)

			case Disconnect:
				c.forfeit(msg.ConnID)

			case Subscribe:
				c.subs[msg.ConnID] = msg.Outbox
				select {
				case msg.Outbox <- Snapshot{Tick: c.state.Tick, State: c.state}:
				default:
				}

			case Unsubscribe:
				delete(c.subs, msg.ConnID)

			case GetState:
				msg.Reply <- View{
					Running:  c.state.Running,
					Finished: c.finished,
					NumSubs:  len(c.subs),
					State:    c.state,
				}

			case Shutdown:
				c.shutdown()
				return
			}
		}
	}
}

func (c *Controller) start() {
	if c.ticker != nil || c.finished {
		return
	}
	c.state = engine.Launch(c.state)
	c.ticker = time.NewTicker(c.period)
	c.started.Store(true)
	c.log.Info("match started", zap.Bool("local", c.cfg.Local))
}

func (c *Controller) stopTicker() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.ticker = nil
}

func (c *Controller) shutdown() {
	c.stopTicker()
	// Outboxes are owned by their connections and may be resubscribed to
	// another match, so they are dropped, not closed.
	clear(c.subs)
	c.cancel()
}

// applyInput is the anti-cheat boundary: a connection may only drive sides
// assigned to it. Rejections never mutate state and are always logged.
func (c *Controller) applyInput(in Input) {
	owner, known := c.cfg.Assignments[in.Side]
	if !known || owner == "" || owner != in.ConnID {
		c.log.Warn("rejected input for unowned paddle",
			zap.String("conn", in.ConnID),
			zap.String("side", string(in.Side)))
		return
	}

	flags := c.inputs[in.Side]
	if flags == nil {
		c.log.Warn("input for side with no paddle", zap.String("side", string(in.Side)))
		return
	}
	switch in.Dir {
	case engine.DirUp:
		flags.up = in.Pressed
	case engine.DirDown:
		flags.down = in.Pressed
	default:
		c.log.Warn("input with unknown direction", zap.String("dir", string(in.Dir)))
	}
}

func (c *Controller) step() {
	if c.finished {
		return // defensive: a stray tick after the result must be a no-op
	}

	s := c.state
	for side, flags := range c.inputs {
		if flags.up {
			s = engine.MovePaddle(s, side, engine.DirUp)
		}
		if flags.down {
			s = engine.MovePaddle(s, side, engine.DirDown)
		}
	}
	for _, brain := range c.brains {
		if dir, ok := brain.Act(s); ok {
			s = engine.MovePaddle(s, brain.Side, dir)
		}
	}

	s = engine.Step(s, c.dt)
	c.state = s

	c.broadcast(Snapshot{Tick: s.Tick, State: s})

	if !s.Running {
		c.finish(s.Winner, false)
	}
}

// forfeit converts a mid-match disconnect into a terminal result so the
// bracket and rankings always see a well-formed outcome.
func (c *Controller) forfeit(connID string) {
	if c.finished || !c.started.Load() {
		return
	}

	var leaver engine.Side
	for _, side := range engine.Sides(c.state) {
		if c.cfg.Assignments[side] == connID {
			leaver = side
			break
		}
	}
	if leaver == "" {
		return // spectator or unknown connection
	}

	c.log.Info("participant disconnected, awarding forfeit",
		zap.String("conn", connID), zap.String("side", string(leaver)))
	c.finish(leaver.Opposite(), true)
}

// finish emits the terminal result exactly once, strictly after the last
// snapshot, and stops the ticker so nothing is emitted afterwards.
func (c *Controller) finish(winner engine.Side, forfeit bool) {
	if c.finished {
		return
	}
	c.finished = true
	c.stopTicker()
	c.done.Store(true)

	loser := winner.Opposite()
	res := Result{
		RoomID:       c.cfg.RoomID,
		Winner:       winner,
		Loser:        loser,
		WinnerConn:   c.cfg.Assignments[winner],
		LoserConn:    c.cfg.Assignments[loser],
		WinnerScore:  c.score(winner),
		LoserScore:   c.score(loser),
		Forfeit:      forfeit,
		TournamentID: c.cfg.TournamentID,
		LegID:        c.cfg.LegID,
	}

	c.log.Info("match finished",
		zap.String("winner", string(winner)),
		zap.Bool("forfeit", forfeit))

	if c.cfg.Results != nil {
		c.cfg.Results <- res
	}
}

func (c *Controller) score(side engine.Side) int {
	for _, p := range c.state.Paddles {
		if p.Side == side {
			return p.Score
		}
	}
	return 0
}

// broadcast fans a snapshot out to every subscriber. A full outbox loses
// the frame, not the subscriber: outboxes outlive single matches and a
// slow consumer must not stall the room's tick.
func (c *Controller) broadcast(snap Snapshot) {
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
