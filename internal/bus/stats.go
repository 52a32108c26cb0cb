package bus

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of channel counters.
type Stats struct {
	FramesSent     uint64  `json:"frames_sent"`
	FramesReceived uint64  `json:"frames_received"`
	FramesDropped  uint64  `json:"frames_dropped"`
	SendErrors     uint64  `json:"send_errors"`
	ReceiveErrors  uint64  `json:"receive_errors"`
	BusLoad        float64 `json:"bus_load_fps"`
}

// loadWindow estimates bus load as frames observed inside a sliding
// one-second window. Old samples are pruned on each observation and read.
type loadWindow struct {
	mu      sync.Mutex
	window  time.Duration
	samples []time.Time
}

func newLoadWindow(window time.Duration) *loadWindow {
	return &loadWindow{window: window}
}

func (w *loadWindow) observe(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(t)
	w.samples = append(w.samples, t)
}

// rate returns frames per second over the window.
func (w *loadWindow) rate(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return float64(len(w.samples)) / w.window.Seconds()
}

func (w *loadWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.samples) && w.samples[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = w.samples[i:]
	}
}
