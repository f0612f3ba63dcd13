package engine

import (
	"errors"
	"math"
	"slices"
)

var ErrBadPlayerCount = errors.New("player count must be 2 or 4")

// Side identifies a paddle by the playfield edge it guards.
type Side string

const (
	SideA Side = "A" // left
	SideB Side = "B" // top
	SideC Side = "C" // right
	SideD Side = "D" // bottom
)

// Axis is the axis a paddle slides along.
type Axis int

const (
	AxisVertical   Axis = iota // A/C move along y
	AxisHorizontal             // B/D move along x
)

func (s Side) Axis() Axis {
	if s == SideB || s == SideD {
		return AxisHorizontal
	}
	return AxisVertical
}

// Opposite returns the paddle side guarding the far edge.
func (s Side) Opposite() Side {
	switch s {
	case SideA:
		return SideC
	case SideC:
		return SideA
	case SideB:
		return SideD
	case SideD:
		return SideB
	}
	return ""
}

type Direction string

const (
	DirUp   Direction = "up"
	DirDown Direction = "down"
)

// Playfield and physics defaults. These match the client canvas; changing
// them only requires the client to redraw, not to re-tune.
const (
	CanvasWidth  = 800.0
	CanvasHeight = 600.0

	PaddleLength = 100.0
	PaddleDepth  = 10.0
	PaddleMargin = 20.0
	PaddleSpeed  = 10.0

	BallRadius    = 8.0
	BaseBallSpeed = 300.0
	MaxBallSpeed  = 2.5 * BaseBallSpeed
	speedGrowth   = 1.05
	maxDeflect    = 0.75

	DefaultWinScore = 5

	// Countdown values are in ticks at the default 60Hz tick rate.
	ServeCountdownTicks = 60
	FirstLaunchTicks    = 180
)

type Ball struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Radius float64 `json:"radius"`
}

// Paddle is a tagged variant: Pos is y for vertical paddles and x for
// horizontal ones. Movement and collision code dispatch on Axis, never on
// the side tag directly.
type Paddle struct {
	Side   Side    `json:"side"`
	Axis   Axis    `json:"axis"`
	Pos    float64 `json:"pos"`
	Length float64 `json:"length"`
	Depth  float64 `json:"depth"`
	Score  int     `json:"score"`
}

// State is the authoritative snapshot of one match. It is a value: Step and
// MovePaddle never mutate their input.
type State struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	Ball    Ball     `json:"ball"`
	Paddles []Paddle `json:"paddles"`

	PaddleSpeed float64 `json:"paddleSpeed"`
	WinScore    int     `json:"win"`

	Running bool `json:"running"`
	Winner  Side `json:"winner,omitempty"`

	// Countdown freezes the ball before a serve; the serve fires on the
	// tick it reaches zero. ServeToward is the edge the next serve is
	// aimed at (away from the last scorer).
	Countdown   int  `json:"ballCountdown"`
	ServeToward Side `json:"-"`

	Rally int    `json:"-"` // paddle hits since last serve
	Tick  uint64 `json:"tick"`
}

// Step advances the match by one fixed tick of dt seconds. Pure: the input
// state is untouched. A stopped match is returned unchanged.
func Step(s State, dt float64) State {
	if !s.Running {
		return s
	}

	next := s
	next.Paddles = slices.Clone(s.Paddles)
	next.Tick++

	if next.Countdown > 0 {
		next.Countdown--
		if next.Countdown == 0 {
			next.Ball.VX, next.Ball.VY = serveVelocity(next)
		}
		return next
	}

	b := next.Ball
	b.X += b.VX * dt
	b.Y += b.VY * dt
	next.Ball = b

	next = bounceWalls(next)

	for i := range next.Paddles {
		if hit, ball := collide(next, next.Paddles[i]); hit {
			next.Ball = ball
			next.Rally++
			return next // one collision response per tick
		}
	}

	return scoreIfOut(next)
}

// bounceWalls reflects the ball off edges that have no paddle guarding
// them (top/bottom in a 2-player match). Guarded edges are goal lines and
// are handled by scoreIfOut.
func bounceWalls(s State) State {
	b := s.Ball
	if !hasSide(s, SideB) && b.Y-b.Radius < 0 && b.VY < 0 {
		b.Y = b.Radius
		b.VY = -b.VY
	}
	if !hasSide(s, SideD) && b.Y+b.Radius > s.Height && b.VY > 0 {
		b.Y = s.Height - b.Radius
		b.VY = -b.VY
	}
	s.Ball = b
	return s
}

// collide tests the ball against one paddle's front face and, on hit,
// returns the reflected ball. The response is deterministic: the normal
// component flips, the tangential component is set from the hit offset
// (up to maxDeflect of the speed), and speed grows by speedGrowth capped
// at MaxBallSpeed.
func collide(s State, p Paddle) (bool, Ball) {
	b := s.Ball

	var toward bool   // ball is moving into this edge
	var front float64 // x (or y) of the paddle's front face
	var cross float64 // ball coordinate along the paddle's length
	var depthOK bool  // ball has reached the face but not passed the back
	switch p.Side {
	case SideA:
		front = PaddleMargin + p.Depth
		toward = b.VX < 0
		cross = b.Y
		depthOK = b.X-b.Radius <= front && b.X > PaddleMargin
	case SideC:
		front = s.Width - PaddleMargin - p.Depth
		toward = b.VX > 0
		cross = b.Y
		depthOK = b.X+b.Radius >= front && b.X < s.Width-PaddleMargin
	case SideB:
		front = PaddleMargin + p.Depth
		toward = b.VY < 0
		cross = b.X
		depthOK = b.Y-b.Radius <= front && b.Y > PaddleMargin
	case SideD:
		front = s.Height - PaddleMargin - p.Depth
		toward = b.VY > 0
		cross = b.X
		depthOK = b.Y+b.Radius >= front && b.Y < s.Height-PaddleMargin
	default:
		return false, b
	}

	if !toward || !depthOK {
		return false, b
	}
	if cross < p.Pos-b.Radius || cross > p.Pos+p.Length+b.Radius {
		return false, b
	}

	offset := (cross - (p.Pos + p.Length/2)) / (p.Length / 2)
	offset = clamp(offset, -1, 1)

	speed := math.Hypot(b.VX, b.VY) * speedGrowth
	if speed > MaxBallSpeed {
		speed = MaxBallSpeed
	}

	// New direction: unit normal away from the paddle plus a tangential
	// deflection from the hit offset, renormalized to the new speed.
	var nx, ny, tx, ty float64
	switch p.Side {
	case SideA:
		nx, ty = 1, 1
		b.X = front + b.Radius
	case SideC:
		nx, ty = -1, 1
		b.X = front - b.Radius
	case SideB:
		ny, tx = 1, 1
		b.Y = front + b.Radius
	case SideD:
		ny, tx = -1, 1
		b.Y = front - b.Radius
	}
	dx := nx + tx*offset*maxDeflect
	dy := ny + ty*offset*maxDeflect
	norm := math.Hypot(dx, dy)
	b.VX = speed * dx / norm
	b.VY = speed * dy / norm

	return true, b
}

// scoreIfOut detects the ball leaving a guarded edge, credits the opposite
// paddle, and resets for the next serve. Goal events are processed one at
// a time: the first edge checked wins the tick.
func scoreIfOut(s State) State {
	b := s.Ball
	var out Side
	switch {
	case hasSide(s, SideA) && b.X < -b.Radius:
		out = SideA
	case hasSide(s, SideC) && b.X > s.Width+b.Radius:
		out = SideC
	case hasSide(s, SideB) && b.Y < -b.Radius:
		out = SideB
	case hasSide(s, SideD) && b.Y > s.Height+b.Radius:
		out = SideD
	default:
		return s
	}

	scorer := out.Opposite()
	i := indexOf(s, scorer)
	if i < 0 {
		return s
	}
	s.Paddles[i].Score++

	if s.Paddles[i].Score >= s.WinScore {
		s.Running = false
		s.Winner = scorer
		s.Ball = centeredBall(s)
		return s
	}

	s.Ball = centeredBall(s)
	s.Countdown = ServeCountdownTicks
	s.ServeToward = out
	s.Rally = 0
	return s
}

// serveVelocity aims the serve at the conceding edge with a small sideways
// component that alternates with the total score, so replays of the same
// match are identical.
func serveVelocity(s State) (vx, vy float64) {
	lean := 0.25
	if totalScore(s)%2 == 1 {
		lean = -lean
	}

	var dx, dy float64
	switch s.ServeToward {
	case SideC:
		dx, dy = 1, lean
	case SideB:
		dx, dy = lean, -1
	case SideD:
		dx, dy = lean, 1
	default: // SideA and first launch
		dx, dy = -1, lean
	}
	norm := math.Hypot(dx, dy)
	return BaseBallSpeed * dx / norm, BaseBallSpeed * dy / norm
}

// MovePaddle nudges one paddle by the configured speed, clamped to the
// playfield. Unknown sides and directions leave the state untouched; the
// caller decides whether that is worth logging.
func MovePaddle(s State, side Side, dir Direction) State {
	i := indexOf(s, side)
	if i < 0 {
		return s
	}

	delta := s.PaddleSpeed
	switch dir {
	case DirUp:
		delta = -delta
	case DirDown:
	default:
		return s
	}

	p := s.Paddles[i]
	limit := s.Height
	if p.Axis == AxisHorizontal {
		limit = s.Width
	}

	next := s
	next.Paddles = slices.Clone(s.Paddles)
	next.Paddles[i].Pos = clamp(p.Pos+delta, 0, limit-p.Length)
	return next
}

func totalScore(s State) int {
	sum := 0
	for _, p := range s.Paddles {
		sum += p.Score
	}
	return sum
}

func hasSide(s State, side Side) bool {
	return indexOf(s, side) >= 0
}

func indexOf(s State, side Side) int {
	for i := range s.Paddles {
		if s.Paddles[i].Side == side {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
