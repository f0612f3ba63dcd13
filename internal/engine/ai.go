package engine

import (
	"math"
	"math/rand"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// tierParams: how often the brain re-aims (ticks) and how far off its aim
// may be (px). Harder tiers react faster and aim tighter.
var tierParams = map[Difficulty]struct {
	retargetTicks uint64
	aimError      float64
}{
	DifficultyEasy:   {90, 80},
	DifficultyMedium: {60, 40},
	DifficultyHard:   {30, 10},
}

// Brain drives one paddle. It retargets on a fixed cadence rather than
// every tick and then walks toward the target at paddle speed, which keeps
// its reactions beatable. The rng is seeded at construction so a match
// replays identically.
type Brain struct {
	Side Side

	retargetTicks uint64
	aimError      float64

	target    float64
	lastAimed uint64
	aimed     bool
	rng       *rand.Rand
}

func NewBrain(side Side, diff Difficulty, seed int64) *Brain {
	params, ok := tierParams[diff]
	if !ok {
		params = tierParams[DifficultyMedium]
	}
	return &Brain{
		Side:          side,
		retargetTicks: params.retargetTicks,
		aimError:      params.aimError,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// Act returns the direction the brain wants to move this tick, or false to
// hold still.
func (b *Brain) Act(s State) (Direction, bool) {
	i := indexOf(s, b.Side)
	if i < 0 {
		return "", false
	}

	if !b.aimed || s.Tick-b.lastAimed >= b.retargetTicks {
		b.target = PredictImpact(s, b.Side)
		if b.aimError > 0 {
			b.target += (b.rng.Float64()*2 - 1) * b.aimError
		}
		b.lastAimed = s.Tick
		b.aimed = true
	}

	p := s.Paddles[i]
	center := p.Pos + p.Length/2
	// Deadband of one step so the paddle doesn't oscillate on target.
	if math.Abs(center-b.target) <= s.PaddleSpeed {
		return "", false
	}
	if b.target < center {
		return DirUp, true
	}
	return DirDown, true
}

// PredictImpact projects the ball linearly onto the given paddle's plane,
// folding wall bounces with triangle-wave reflection. If the ball is moving
// away from the plane it returns the playfield center so the paddle drifts
// home.
func PredictImpact(s State, side Side) float64 {
	i := indexOf(s, side)
	if i < 0 {
		return s.Height / 2
	}
	p := s.Paddles[i]
	b := s.Ball

	var plane, pos, vel, travel, span float64
	switch side {
	case SideA:
		plane = PaddleMargin + p.Depth + b.Radius
		pos, vel = b.X, b.VX
		travel, span = b.Y, s.Height
	case SideC:
		plane = s.Width - PaddleMargin - p.Depth - b.Radius
		pos, vel = b.X, b.VX
		travel, span = b.Y, s.Height
	case SideB:
		plane = PaddleMargin + p.Depth + b.Radius
		pos, vel = b.Y, b.VY
		travel, span = b.X, s.Width
	case SideD:
		plane = s.Height - PaddleMargin - p.Depth - b.Radius
		pos, vel = b.Y, b.VY
		travel, span = b.X, s.Width
	default:
		return s.Height / 2
	}

	home := span / 2
	if vel == 0 {
		return home
	}
	t := (plane - pos) / vel
	if t <= 0 {
		return home
	}

	var crossVel float64
	if side.Axis() == AxisVertical {
		crossVel = b.VY
	} else {
		crossVel = b.VX
	}
	return foldIntoSpan(travel+crossVel*t, span)
}

// foldIntoSpan maps an unbounded coordinate into [0, span] by reflecting
// at both walls (triangle wave with period 2*span).
func foldIntoSpan(v, span float64) float64 {
	m := math.Mod(v, 2*span)
	if m < 0 {
		m += 2 * span
	}
	if m > span {
		m = 2*span - m
	}
	return m
}
