//go:build !linux

package bus

import "errors"

type socketCANDriver struct{}

// NewSocketCAN returns a channel whose connect always fails; raw CAN
// sockets exist only on linux. The sim driver works everywhere.
func NewSocketCAN(cfg Config) Channel {
	return newChannel(&socketCANDriver{}, cfg)
}

func (d *socketCANDriver) open(Config) error {
	return errors.New("socketcan requires linux")
}

func (d *socketCANDriver) read() (Frame, error) {
	return Frame{}, errors.New("socketcan requires linux")
}

func (d *socketCANDriver) write(Frame) error {
	return errors.New("socketcan requires linux")
}

func (d *socketCANDriver) close() error { return nil }
