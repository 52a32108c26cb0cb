package bus

import (
	"errors"
	"sync"
	"time"
)

var errDriverClosed = errors.New("driver closed")

// SimBus is an in-process bus segment. Channels attached to the same SimBus
// see each other's traffic, which is enough to emulate an ECU for tests and
// the CLI's offline mode.
type SimBus struct {
	mu      sync.Mutex
	drivers []*simDriver
}

// NewSimBus creates an empty simulated bus segment.
func NewSimBus() *SimBus {
	return &SimBus{}
}

// NewChannel attaches a new channel to the segment.
func (b *SimBus) NewChannel(cfg Config) Channel {
	d := &simDriver{bus: b, inbox: make(chan Frame, 1024), done: make(chan struct{})}
	return newChannel(d, cfg)
}

// Inject places a frame on the segment as if an external node sent it.
func (b *SimBus) Inject(frame Frame) {
	frame.Timestamp = time.Now().UTC()
	b.broadcast(nil, frame)
}

func (b *SimBus) attach(d *simDriver) {
	b.mu.Lock()
	b.drivers = append(b.drivers, d)
	b.mu.Unlock()
}

func (b *SimBus) detach(d *simDriver) {
	b.mu.Lock()
	for i, other := range b.drivers {
		if other == d {
			b.drivers = append(b.drivers[:i], b.drivers[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
}

// broadcast delivers a frame to every attached driver except the sender.
func (b *SimBus) broadcast(from *simDriver, frame Frame) {
	b.mu.Lock()
	targets := append([]*simDriver(nil), b.drivers...)
	b.mu.Unlock()

	for _, d := range targets {
		if d == from {
			continue
		}
		select {
		case d.inbox <- frame:
		case <-d.done:
		}
	}
}

type simDriver struct {
	bus   *SimBus
	inbox chan Frame
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	// failWrites makes every write fail, for fault-path tests.
	failWrites bool
}

func (d *simDriver) open(Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.closed = false
		d.done = make(chan struct{})
	}
	d.bus.attach(d)
	return nil
}

func (d *simDriver) read() (Frame, error) {
	select {
	case frame := <-d.inbox:
		return frame, nil
	case <-d.done:
		return Frame{}, errDriverClosed
	}
}

func (d *simDriver) write(frame Frame) error {
	d.mu.Lock()
	fail := d.failWrites
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return errDriverClosed
	}
	if fail {
		return errors.New("simulated write fault")
	}
	frame.Timestamp = time.Now().UTC()
	d.bus.broadcast(d, frame)
	return nil
}

func (d *simDriver) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.done)
	d.bus.detach(d)
	return nil
}
