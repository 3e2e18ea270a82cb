// Package canbus carries vehicle-bus frames between the BMS core and a CAN
// controller: a frame model, send/receive contracts, an ID router and host
// transports (SLCAN over a serial line, in-memory loopback).
package canbus

import (
	"context"
	"errors"
	"sync"
)

// MaxStdID and MaxExtID bound 11-bit and 29-bit identifiers.
const (
	MaxStdID = 0x7FF
	MaxExtID = 0x1FFFFFFF
)

var (
	ErrClosed     = errors.New("canbus: closed")
	ErrBufferFull = errors.New("canbus: transmit queue full")
	ErrFrame      = errors.New("canbus: malformed frame")
)

// Frame is a classic CAN data or remote frame.
type Frame struct {
	ID       uint32
	Extended bool
	Remote   bool
	Len      uint8
	Data     [8]byte
}

// Payload returns the first Len data bytes.
func (f *Frame) Payload() []byte { return f.Data[:f.Len] }

// Valid reports whether the identifier and length fit the frame format.
func (f Frame) Valid() bool {
	if f.Len > 8 {
		return false
	}
	if f.Extended {
		return f.ID <= MaxExtID
	}
	return f.ID <= MaxStdID
}

// Sender transmits one frame. Implementations must not retain f.
type Sender interface {
	Send(f Frame) error
}

// Receiver blocks until a frame arrives or the transport is closed.
type Receiver interface {
	Receive() (Frame, error)
}

// Listener consumes the frames whose identifiers it declares.
type Listener interface {
	IDs() []uint32
	Update(f Frame)
}

// Router fans inbound frames out to listeners by identifier.
type Router struct {
	mu        sync.RWMutex
	routes    map[uint32][]Listener
	unhandled func(Frame)
}

func NewRouter() *Router {
	return &Router{routes: make(map[uint32][]Listener)}
}

// Handle registers l for every identifier it reports.
func (r *Router) Handle(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range l.IDs() {
		r.routes[id] = append(r.routes[id], l)
	}
}

// OnUnhandled sets a callback for frames no listener claimed.
func (r *Router) OnUnhandled(fn func(Frame)) {
	r.mu.Lock()
	r.unhandled = fn
	r.mu.Unlock()
}

// Dispatch delivers f and reports whether any listener took it.
func (r *Router) Dispatch(f Frame) bool {
	r.mu.RLock()
	ls := r.routes[f.ID]
	fn := r.unhandled
	r.mu.RUnlock()
	for _, l := range ls {
		l.Update(f)
	}
	if len(ls) == 0 && fn != nil {
		fn(f)
	}
	return len(ls) > 0
}

// Pump forwards received frames to out until ctx is done or rx fails.
// Close the transport to unblock a pending Receive.
func Pump(ctx context.Context, rx Receiver, out chan<- Frame) error {
	for {
		f, err := rx.Receive()
		if err != nil {
			return err
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
