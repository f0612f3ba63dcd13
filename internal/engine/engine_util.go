package engine

// NewState builds the default playfield for a 2- or 4-player match. Sides
// are created in join order: A/C for two players, A/B/C/D for four. The
// match starts stopped; Launch arms it.
func NewState(players int) (State, error) {
	if players != 2 && players != 4 {
		return State{}, ErrBadPlayerCount
	}

	s := State{
		Width:       CanvasWidth,
		Height:      CanvasHeight,
		PaddleSpeed: PaddleSpeed,
		WinScore:    DefaultWinScore,
	}

	sides := []Side{SideA, SideC}
	if players == 4 {
		sides = []Side{SideA, SideB, SideC, SideD}
	}
	for _, side := range sides {
		s.Paddles = append(s.Paddles, newPaddle(s, side))
	}

	s.Ball = centeredBall(s)
	return s, nil
}

func newPaddle(s State, side Side) Paddle {
	p := Paddle{
		Side:   side,
		Axis:   side.Axis(),
		Length: PaddleLength,
		Depth:  PaddleDepth,
	}
	if p.Axis == AxisVertical {
		p.Pos = (s.Height - p.Length) / 2
	} else {
		p.Pos = (s.Width - p.Length) / 2
	}
	return p
}

// Launch arms a freshly built state: running, with the long first-serve
// countdown so clients can settle before the ball moves. Launching a state
// that is already running is a no-op.
func Launch(s State) State {
	if s.Running {
		return s
	}
	s.Running = true
	s.Countdown = FirstLaunchTicks
	s.ServeToward = SideA
	return s
}

func centeredBall(s State) Ball {
	return Ball{X: s.Width / 2, Y: s.Height / 2, Radius: BallRadius}
}

// Sides returns the paddle sides present in join order.
func Sides(s State) []Side {
	out := make([]Side, 0, len(s.Paddles))
	for _, p := range s.Paddles {
		out = append(out, p.Side)
	}
	return out
}

// SideOrder is the paddle assignment order for joiners of a room.
func SideOrder(players int) []Side {
	if players == 4 {
		return []Side{SideA, SideB, SideC, SideD}
	}
	return []Side{SideA, SideC}
}
