package canbus

import "sync"

// Loopback is an in-memory bus: every sent frame is received once.
type Loopback struct {
	ch     chan Frame
	closed chan struct{}
	once   sync.Once
}

func NewLoopback(depth int) *Loopback {
	if depth <= 0 {
		depth = 16
	}
	return &Loopback{ch: make(chan Frame, depth), closed: make(chan struct{})}
}

func (l *Loopback) Send(f Frame) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	select {
	case l.ch <- f:
		return nil
	default:
		return ErrBufferFull
	}
}

func (l *Loopback) Receive() (Frame, error) {
	select {
	case f := <-l.ch:
		return f, nil
	case <-l.closed:
		return Frame{}, ErrClosed
	}
}

func (l *Loopback) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// Capture records sent frames. The zero value is ready to use.
type Capture struct {
	mu     sync.Mutex
	frames []Frame
	Err    error // returned by Send when set
}

func (c *Capture) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.frames = append(c.frames, f)
	return nil
}

// Frames returns a copy of everything sent so far.
func (c *Capture) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

// ByID returns the sent frames with identifier id.
func (c *Capture) ByID(id uint32) []Frame {
	var out []Frame
	for _, f := range c.Frames() {
		if f.ID == id {
			out = append(out, f)
		}
	}
	return out
}

// Reset drops the recorded frames.
func (c *Capture) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
