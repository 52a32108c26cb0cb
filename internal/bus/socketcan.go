//go:build linux

package bus

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	canRawProtocol = 1
	canEFFFlag     = 0x80000000
	canIDMask      = 0x1FFFFFFF
	canFrameSize   = 16
)

// socketCANDriver talks to a raw SocketCAN interface. The kernel frame
// layout is 16 bytes: id(4, host order) dlc(1) pad(3) data(8).
type socketCANDriver struct {
	mu     sync.Mutex
	socket int
	opened bool
}

// NewSocketCAN returns a channel bound to the named CAN interface.
func NewSocketCAN(cfg Config) Channel {
	return newChannel(&socketCANDriver{socket: -1}, cfg)
}

func (d *socketCANDriver) open(cfg Config) error {
	socket, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRawProtocol)
	if err != nil {
		return fmt.Errorf("create CAN socket: %w", err)
	}

	ifreq, err := unix.NewIfreq(cfg.Interface)
	if err != nil {
		unix.Close(socket)
		return fmt.Errorf("ifreq for %s: %w", cfg.Interface, err)
	}
	if err := unix.IoctlIfreq(socket, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(socket)
		return fmt.Errorf("interface index for %s: %w", cfg.Interface, err)
	}

	addr := &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}
	if err := unix.Bind(socket, addr); err != nil {
		unix.Close(socket)
		return fmt.Errorf("bind %s: %w", cfg.Interface, err)
	}

	d.mu.Lock()
	d.socket = socket
	d.opened = true
	d.mu.Unlock()
	return nil
}

func (d *socketCANDriver) read() (Frame, error) {
	buf := make([]byte, canFrameSize)
	n, err := unix.Read(d.socket, buf)
	if err != nil {
		return Frame{}, fmt.Errorf("read: %w", err)
	}
	if n < canFrameSize {
		return Frame{}, fmt.Errorf("short CAN frame: %d bytes", n)
	}

	rawID := binary.LittleEndian.Uint32(buf[0:4])
	dlc := buf[4]
	if dlc > MaxPayload {
		dlc = MaxPayload
	}

	frame := Frame{
		ID:        rawID & canIDMask,
		Data:      append([]byte(nil), buf[8:8+dlc]...),
		DLC:       dlc,
		Extended:  rawID&canEFFFlag != 0,
		Timestamp: time.Now().UTC(),
	}
	return frame, nil
}

func (d *socketCANDriver) write(frame Frame) error {
	rawID := frame.ID
	if frame.Extended {
		rawID |= canEFFFlag
	}

	buf := make([]byte, canFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], rawID)
	buf[4] = frame.DLC
	copy(buf[8:], frame.Data)

	if _, err := unix.Write(d.socket, buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (d *socketCANDriver) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return nil
	}
	d.opened = false
	return unix.Close(d.socket)
}
