package uds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diagworks/diagcore/internal/bus"
	"github.com/diagworks/diagcore/internal/logging"
	"github.com/diagworks/diagcore/internal/metrics"
)

// DefaultTimeout and DefaultRetries bound a request when the caller passes
// zero values.
const (
	DefaultTimeout = 500 * time.Millisecond
	DefaultRetries = 3
)

// Engine builds diagnostic requests, correlates responses and owns retry
// policy. The bus channel below it never retries on its own.
type Engine struct {
	channel bus.Channel
	logger  *logging.Logger

	mu       sync.Mutex
	inflight map[uint32]chan struct{}
}

// NewEngine creates a protocol engine on top of a connected channel.
func NewEngine(channel bus.Channel, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		channel:  channel,
		logger:   logger,
		inflight: make(map[uint32]chan struct{}),
	}
}

// acquire takes the single in-flight slot for an address, queueing behind
// any current holder. Cancelling the context abandons the wait.
func (e *Engine) acquire(ctx context.Context, addr uint32) (release func(), err error) {
	e.mu.Lock()
	slot, ok := e.inflight[addr]
	if !ok {
		slot = make(chan struct{}, 1)
		e.inflight[addr] = slot
	}
	e.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send transmits the request and waits for a correlated response at the
// request's response address. Up to retries attempts are made, each waiting
// at most timeout. Frames at the response address that answer nothing are
// ignored. Exhausting all attempts returns ErrTimeout.
func (e *Engine) Send(ctx context.Context, req Request, timeout time.Duration, retries int) (*Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retries <= 0 {
		retries = DefaultRetries
	}

	frame, err := req.encode()
	if err != nil {
		return nil, err
	}

	release, err := e.acquire(ctx, req.TargetAddress)
	if err != nil {
		return nil, err
	}
	defer release()

	metrics.RequestsSent.WithLabelValues(fmt.Sprintf("0x%02X", req.ServiceID)).Inc()

	if req.SuppressResponse {
		if err := e.channel.Send(ctx, frame); err != nil {
			return nil, err
		}
		return &Response{ServiceID: req.ServiceID, Subfunction: req.Subfunction}, nil
	}

	// Subscribe before the first send so an immediate reply cannot race
	// past us. Cancelling the subscription is what removes the
	// correlation entry, so no abandoned wait leaves state behind.
	sub := e.channel.Subscribe(bus.ExactFilter(req.ResponseAddress))
	defer sub.Cancel()

	for attempt := 1; attempt <= retries; attempt++ {
		if err := e.channel.Send(ctx, frame); err != nil {
			return nil, err
		}

		resp, err := e.await(ctx, req, sub, timeout)
		if err == nil {
			if resp.Negative {
				metrics.NegativeResponses.WithLabelValues(fmt.Sprintf("0x%02X", resp.NRC)).Inc()
				return nil, &NegativeResponseError{ServiceID: resp.ServiceID, NRC: resp.NRC}
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Debug("diagnostic attempt timed out",
			logging.Address(req.TargetAddress),
			"attempt", attempt,
			"retries", retries,
		)
	}

	metrics.RequestTimeouts.Inc()
	return nil, fmt.Errorf("service 0x%02X at 0x%X: %w", req.ServiceID, req.TargetAddress, ErrTimeout)
}

// await consumes frames from the subscription until one answers the
// request or the attempt deadline passes.
func (e *Engine) await(ctx context.Context, req Request, sub *bus.Subscription, timeout time.Duration) (*Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case frame, ok := <-sub.C:
			if !ok {
				return nil, bus.ErrNotConnected
			}
			if resp, matched := req.match(frame); matched {
				return resp, nil
			}
			// Unrelated traffic at the response address; keep waiting.
		case <-timer.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
