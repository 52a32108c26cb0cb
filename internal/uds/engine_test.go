package uds

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagworks/diagcore/internal/bus"
)

var testAddr = Addr{Request: 0x7E0, Response: 0x7E8}

// ecuSim answers frames at the request address through a handler, the way
// a real controller would.
type ecuSim struct {
	channel  bus.Channel
	sub      *bus.Subscription
	requests atomic.Int64
	wg       sync.WaitGroup
}

// startECU attaches a simulated controller to the segment. The handler
// returns the response payloads to send back, if any.
func startECU(t *testing.T, segment *bus.SimBus, handler func(req bus.Frame) [][]byte) *ecuSim {
	t.Helper()

	channel := segment.NewChannel(bus.Config{})
	require.NoError(t, channel.Connect(context.Background()))

	ecu := &ecuSim{channel: channel}
	ecu.sub = channel.Subscribe(bus.ExactFilter(testAddr.Request))

	ecu.wg.Add(1)
	go func() {
		defer ecu.wg.Done()
		for req := range ecu.sub.C {
			ecu.requests.Add(1)
			for _, payload := range handler(req) {
				frame, err := bus.NewFrame(testAddr.Response, payload, false)
				if err != nil {
					continue
				}
				channel.Send(context.Background(), frame)
			}
		}
	}()

	t.Cleanup(func() {
		ecu.channel.Disconnect()
		ecu.wg.Wait()
	})
	return ecu
}

func newTestEngine(t *testing.T, segment *bus.SimBus) *Engine {
	t.Helper()
	channel := segment.NewChannel(bus.Config{})
	require.NoError(t, channel.Connect(context.Background()))
	t.Cleanup(func() { channel.Disconnect() })
	return NewEngine(channel, nil)
}

func TestEngineSendPositiveResponse(t *testing.T) {
	segment := bus.NewSimBus()
	startECU(t, segment, func(req bus.Frame) [][]byte {
		return [][]byte{{0x62, 0xF1, 0x90, 0xDE, 0xAD}}
	})
	engine := newTestEngine(t, segment)

	resp, err := engine.Send(context.Background(), Request{
		ServiceID:       ServiceReadDataByIdentifier,
		Payload:         []byte{0xF1, 0x90},
		TargetAddress:   testAddr.Request,
		ResponseAddress: testAddr.Response,
	}, time.Second, 1)

	require.NoError(t, err)
	assert.False(t, resp.Negative)
	assert.Equal(t, []byte{0xF1, 0x90, 0xDE, 0xAD}, resp.Payload)
}

func TestEngineSendNegativeResponse(t *testing.T) {
	segment := bus.NewSimBus()
	startECU(t, segment, func(req bus.Frame) [][]byte {
		return [][]byte{{0x7F, 0x27, NRCSecurityAccessDenied}}
	})
	engine := newTestEngine(t, segment)

	_, err := engine.Send(context.Background(), Request{
		ServiceID:       ServiceSecurityAccess,
		Subfunction:     sub(0x01),
		TargetAddress:   testAddr.Request,
		ResponseAddress: testAddr.Response,
	}, time.Second, 3)

	var nre *NegativeResponseError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, byte(ServiceSecurityAccess), nre.ServiceID)
	assert.Equal(t, byte(NRCSecurityAccessDenied), nre.NRC)
}

func TestEngineSendRetriesThenTimesOut(t *testing.T) {
	segment := bus.NewSimBus()
	ecu := startECU(t, segment, func(req bus.Frame) [][]byte {
		return nil // never answer
	})
	engine := newTestEngine(t, segment)

	_, err := engine.Send(context.Background(), Request{
		ServiceID:       ServiceReadDataByIdentifier,
		Payload:         []byte{0xF1, 0x90},
		TargetAddress:   testAddr.Request,
		ResponseAddress: testAddr.Response,
	}, 20*time.Millisecond, 3)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int64(3), ecu.requests.Load(), "every attempt retransmits")
}

func TestEngineSendIgnoresUnrelatedFrames(t *testing.T) {
	segment := bus.NewSimBus()
	startECU(t, segment, func(req bus.Frame) [][]byte {
		return [][]byte{
			{0x50, 0x03},             // answer to someone else's request
			{0x62, 0xF1, 0x90, 0x42}, // the actual answer
		}
	})
	engine := newTestEngine(t, segment)

	resp, err := engine.Send(context.Background(), Request{
		ServiceID:       ServiceReadDataByIdentifier,
		Payload:         []byte{0xF1, 0x90},
		TargetAddress:   testAddr.Request,
		ResponseAddress: testAddr.Response,
	}, time.Second, 1)

	require.NoError(t, err)
	assert.Equal(t, []byte{0xF1, 0x90, 0x42}, resp.Payload)
}

func TestEngineSuppressedResponseReturnsImmediately(t *testing.T) {
	segment := bus.NewSimBus()
	ecu := startECU(t, segment, func(req bus.Frame) [][]byte {
		return nil
	})
	engine := newTestEngine(t, segment)

	err := engine.TesterPresent(context.Background(), testAddr)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return ecu.requests.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngineSerializesPerAddress(t *testing.T) {
	segment := bus.NewSimBus()

	var mu sync.Mutex
	var arrivals []time.Time
	startECU(t, segment, func(req bus.Frame) [][]byte {
		mu.Lock()
		arrivals = append(arrivals, req.Timestamp)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return [][]byte{{0x62, 0xF1, 0x90, 0x00}}
	})
	engine := newTestEngine(t, segment)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Send(context.Background(), Request{
				ServiceID:       ServiceReadDataByIdentifier,
				Payload:         []byte{0xF1, 0x90},
				TargetAddress:   testAddr.Request,
				ResponseAddress: testAddr.Response,
			}, time.Second, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// With one in-flight request per address, each request waits for the
	// previous response, so wire timestamps are spaced by at least the
	// simulated processing delay.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, arrivals, 4)
	for i := 1; i < len(arrivals); i++ {
		assert.GreaterOrEqual(t, arrivals[i].Sub(arrivals[i-1]), 8*time.Millisecond)
	}
}

func TestEngineAcquireHonorsContext(t *testing.T) {
	engine := NewEngine(nil, nil)

	release, err := engine.acquire(context.Background(), 0x7E0)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = engine.acquire(ctx, 0x7E0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngineReadDTCInformation(t *testing.T) {
	segment := bus.NewSimBus()
	startECU(t, segment, func(req bus.Frame) [][]byte {
		return [][]byte{{0x59, 0x02, 0xFF, 0x01, 0x23, 0x45, 0x2F}}
	})
	engine := newTestEngine(t, segment)

	dtcs, err := engine.ReadDTCInformation(context.Background(), testAddr, 0xFF, time.Second, 1)
	require.NoError(t, err)
	require.Len(t, dtcs, 1)
	assert.Equal(t, uint32(0x012345), dtcs[0].Code)
	assert.Equal(t, byte(0x2F), dtcs[0].Status)
}

func TestEngineReadDataByIdentifierChecksEcho(t *testing.T) {
	segment := bus.NewSimBus()
	startECU(t, segment, func(req bus.Frame) [][]byte {
		return [][]byte{{0x62, 0xF1, 0x91, 0x01}} // wrong identifier echoed
	})
	engine := newTestEngine(t, segment)

	_, err := engine.ReadDataByIdentifier(context.Background(), testAddr, 0xF190, time.Second, 1)
	assert.Error(t, err)
}
