package rollback

// Frame identifies a point in simulated time. Frame 0 is the initial state.
type Frame uint64

// FrameClock tracks the newest confirmed frame. It only moves forward.
type FrameClock struct {
	newest Frame
}

func (c *FrameClock) Newest() Frame { return c.newest }

func (c *FrameClock) Advance() Frame {
	c.newest++
	return c.newest
}

// age is how many frames f lies behind newest; zero for future frames.
func (c *FrameClock) age(f Frame) Frame {
	if f >= c.newest {
		return 0
	}
	return c.newest - f
}
