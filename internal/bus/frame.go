package bus

import (
	"fmt"
	"time"
)

// MaxPayload is the classic CAN payload limit in bytes.
const MaxPayload = 8

// Arbitration ID limits for standard and extended frames.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

// Priority is derived from the arbitration ID: lower IDs win arbitration
// first, so they carry higher priority traffic.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// Priority thresholds on the arbitration ID.
const (
	criticalBelow = 0x100
	highBelow     = 0x400
	normalBelow   = 0x600
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	default:
		return "LOW"
	}
}

// Frame is a single classic bus frame: 11- or 29-bit arbitration ID and at
// most eight payload bytes. DLC must always equal len(Data).
type Frame struct {
	ID        uint32    `json:"id"`
	Data      []byte    `json:"data"`
	DLC       uint8     `json:"dlc"`
	Extended  bool      `json:"extended"`
	Timestamp time.Time `json:"timestamp"`
}

// NewFrame builds a validated frame with the DLC derived from the payload.
func NewFrame(id uint32, data []byte, extended bool) (Frame, error) {
	f := Frame{
		ID:        id,
		Data:      data,
		DLC:       uint8(len(data)),
		Extended:  extended,
		Timestamp: time.Now().UTC(),
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks the frame invariants: payload within the classic limit,
// DLC consistent with the payload, arbitration ID within its address space.
func (f Frame) Validate() error {
	if len(f.Data) > MaxPayload {
		return fmt.Errorf("payload too long: %d bytes (max %d)", len(f.Data), MaxPayload)
	}
	if int(f.DLC) != len(f.Data) {
		return fmt.Errorf("dlc %d does not match payload length %d", f.DLC, len(f.Data))
	}
	if f.Extended {
		if f.ID > MaxExtendedID {
			return fmt.Errorf("extended id 0x%X exceeds 29 bits", f.ID)
		}
	} else if f.ID > MaxStandardID {
		return fmt.Errorf("standard id 0x%X exceeds 11 bits", f.ID)
	}
	return nil
}

// Priority derives the arbitration priority class from the frame ID.
func (f Frame) Priority() Priority {
	switch {
	case f.ID < criticalBelow:
		return PriorityCritical
	case f.ID < highBelow:
		return PriorityHigh
	case f.ID < normalBelow:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{id=0x%X dlc=%d data=% X ext=%t}", f.ID, f.DLC, f.Data, f.Extended)
}
