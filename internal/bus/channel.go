package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diagworks/diagcore/internal/metrics"
)

var (
	ErrNotConnected  = errors.New("channel not connected")
	ErrAlreadyOpen   = errors.New("channel already connected")
	ErrChannelFaulty = errors.New("channel in error state, disconnect required")
)

// TransportError wraps a physical-layer failure. Sends are never retried at
// this level; retry policy belongs to the protocol engine.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// State is the channel lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "ERROR"
	}
}

// Config holds channel tuning parameters.
type Config struct {
	Interface string
	QueueSize int
}

// Channel is a connected bus transport with framed send/receive.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, frame Frame) error
	Subscribe(filters ...Filter) *Subscription
	State() State
	Stats() Stats
}

// Subscription delivers filtered frames through a bounded queue. When the
// queue is full the frame is dropped and counted, never blocking the
// receive loop.
type Subscription struct {
	C       <-chan Frame
	ch      chan Frame
	filters FilterSet
	cancel  func()
	once    sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// driver is the physical transport behind a channel. read blocks until a
// frame arrives or the driver is closed.
type driver interface {
	open(cfg Config) error
	read() (Frame, error)
	write(Frame) error
	close() error
}

// channel implements Channel over a driver, owning the state machine, the
// background receive loop, subscriber fan-out and counters.
type channel struct {
	cfg    Config
	drv    driver
	state  atomic.Int32
	sendMu sync.Mutex

	subMu sync.Mutex
	subs  []*Subscription

	loopDone chan struct{}

	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	framesDropped  atomic.Uint64
	sendErrors     atomic.Uint64
	receiveErrors  atomic.Uint64
	load           *loadWindow
}

func newChannel(drv driver, cfg Config) *channel {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &channel{
		cfg:  cfg,
		drv:  drv,
		load: newLoadWindow(time.Second),
	}
}

func (c *channel) State() State {
	return State(c.state.Load())
}

func (c *channel) Connect(ctx context.Context) error {
	// CAS so concurrent connects race for exactly one transition.
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		if c.State() == StateError {
			return ErrChannelFaulty
		}
		return ErrAlreadyOpen
	}

	if err := c.drv.open(c.cfg); err != nil {
		c.state.Store(int32(StateDisconnected))
		return &TransportError{Op: "connect", Err: err}
	}

	c.loopDone = make(chan struct{})
	go c.receiveLoop()
	c.state.Store(int32(StateConnected))
	return nil
}

// Disconnect closes the driver, then joins the receive loop before
// reporting disconnected. Valid from CONNECTED and ERROR states.
func (c *channel) Disconnect() error {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) &&
		!c.state.CompareAndSwap(int32(StateError), int32(StateDisconnecting)) {
		if c.State() == StateDisconnected {
			return nil
		}
		return ErrNotConnected
	}

	err := c.drv.close()
	if c.loopDone != nil {
		<-c.loopDone
	}

	// Snapshot first: Cancel re-locks subMu to detach itself.
	c.subMu.Lock()
	subs := c.subs
	c.subs = nil
	c.subMu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}

	c.state.Store(int32(StateDisconnected))
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *channel) Send(ctx context.Context, frame Frame) error {
	if c.State() != StateConnected {
		if c.State() == StateError {
			return ErrChannelFaulty
		}
		return ErrNotConnected
	}
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Physical writes are serialized; request/response pairing is the
	// protocol engine's concern.
	c.sendMu.Lock()
	err := c.drv.write(frame)
	c.sendMu.Unlock()

	if err != nil {
		c.sendErrors.Add(1)
		metrics.BusErrors.Inc()
		return &TransportError{Op: "send", Err: err}
	}
	c.framesSent.Add(1)
	c.load.observe(time.Now())
	metrics.FramesSent.Inc()
	return nil
}

func (c *channel) Subscribe(filters ...Filter) *Subscription {
	ch := make(chan Frame, c.cfg.QueueSize)
	sub := &Subscription{C: ch, ch: ch, filters: filters}
	sub.cancel = func() {
		c.subMu.Lock()
		for i, s := range c.subs {
			if s == sub {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				break
			}
		}
		c.subMu.Unlock()
		close(ch)
	}

	c.subMu.Lock()
	c.subs = append(c.subs, sub)
	c.subMu.Unlock()
	return sub
}

func (c *channel) Stats() Stats {
	stats := Stats{
		FramesSent:     c.framesSent.Load(),
		FramesReceived: c.framesReceived.Load(),
		FramesDropped:  c.framesDropped.Load(),
		SendErrors:     c.sendErrors.Load(),
		ReceiveErrors:  c.receiveErrors.Load(),
		BusLoad:        c.load.rate(time.Now()),
	}
	metrics.BusLoad.Set(stats.BusLoad)
	return stats
}

// receiveLoop continuously reads frames, applies acceptance filters and
// fans out to subscribers without ever blocking on a slow consumer.
func (c *channel) receiveLoop() {
	defer close(c.loopDone)

	for {
		frame, err := c.drv.read()
		if err != nil {
			if c.State() == StateDisconnecting {
				return
			}
			c.receiveErrors.Add(1)
			metrics.BusErrors.Inc()
			// Unrecoverable fault: only disconnect is valid from here.
			c.state.Store(int32(StateError))
			return
		}

		c.framesReceived.Add(1)
		c.load.observe(frame.Timestamp)
		metrics.FramesReceived.Inc()

		c.subMu.Lock()
		for _, sub := range c.subs {
			if !sub.filters.Accepts(frame) {
				continue
			}
			select {
			case sub.ch <- frame:
			default:
				c.framesDropped.Add(1)
				metrics.FramesDropped.Inc()
			}
		}
		c.subMu.Unlock()
	}
}
