package uds

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

// Addr names the request/response arbitration ID pair of one ECU.
type Addr struct {
	Request  uint32
	Response uint32
}

// ReadDataByIdentifier reads the value behind a data identifier.
func (e *Engine) ReadDataByIdentifier(ctx context.Context, addr Addr, did uint16, timeout time.Duration, retries int) ([]byte, error) {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, did)

	resp, err := e.Send(ctx, Request{
		ServiceID:       ServiceReadDataByIdentifier,
		Payload:         payload,
		TargetAddress:   addr.Request,
		ResponseAddress: addr.Response,
	}, timeout, retries)
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) < 2 {
		return nil, fmt.Errorf("short read-data response: %d bytes", len(resp.Payload))
	}
	if echoed := binary.BigEndian.Uint16(resp.Payload[:2]); echoed != did {
		return nil, fmt.Errorf("response for identifier 0x%04X, requested 0x%04X", echoed, did)
	}
	return resp.Payload[2:], nil
}

// WriteDataByIdentifier writes a value behind a data identifier.
func (e *Engine) WriteDataByIdentifier(ctx context.Context, addr Addr, did uint16, value []byte, timeout time.Duration, retries int) error {
	payload := make([]byte, 2, 2+len(value))
	binary.BigEndian.PutUint16(payload, did)
	payload = append(payload, value...)

	_, err := e.Send(ctx, Request{
		ServiceID:       ServiceWriteDataByIdentifier,
		Payload:         payload,
		TargetAddress:   addr.Request,
		ResponseAddress: addr.Response,
	}, timeout, retries)
	return err
}

// DiagnosticSessionControl switches the ECU into the given session type.
func (e *Engine) DiagnosticSessionControl(ctx context.Context, addr Addr, session byte, timeout time.Duration, retries int) error {
	_, err := e.Send(ctx, Request{
		ServiceID:       ServiceDiagnosticSessionControl,
		Subfunction:     sub(session),
		TargetAddress:   addr.Request,
		ResponseAddress: addr.Response,
	}, timeout, retries)
	return err
}

// SecurityAccessRequestSeed asks for the seed at the given access level.
func (e *Engine) SecurityAccessRequestSeed(ctx context.Context, addr Addr, level byte, timeout time.Duration, retries int) ([]byte, error) {
	resp, err := e.Send(ctx, Request{
		ServiceID:       ServiceSecurityAccess,
		Subfunction:     sub(level),
		TargetAddress:   addr.Request,
		ResponseAddress: addr.Response,
	}, timeout, retries)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// SecurityAccessSendKey submits the computed key. The key subfunction is
// the seed subfunction plus a fixed offset.
func (e *Engine) SecurityAccessSendKey(ctx context.Context, addr Addr, seedLevel byte, key []byte, timeout time.Duration, retries int) error {
	_, err := e.Send(ctx, Request{
		ServiceID:       ServiceSecurityAccess,
		Subfunction:     sub(seedLevel + keySubfunctionOffset),
		Payload:         key,
		TargetAddress:   addr.Request,
		ResponseAddress: addr.Response,
	}, timeout, retries)
	return err
}

// TesterPresent sends the keep-alive. The response is suppressed, so the
// call returns as soon as the frame is on the wire.
func (e *Engine) TesterPresent(ctx context.Context, addr Addr) error {
	_, err := e.Send(ctx, Request{
		ServiceID:        ServiceTesterPresent,
		Subfunction:      sub(0x00),
		TargetAddress:    addr.Request,
		ResponseAddress:  addr.Response,
		SuppressResponse: true,
	}, 0, 1)
	return err
}

// ClearDiagnosticInformation clears stored trouble codes for a DTC group.
func (e *Engine) ClearDiagnosticInformation(ctx context.Context, addr Addr, group uint32, timeout time.Duration, retries int) error {
	payload := []byte{byte(group >> 16), byte(group >> 8), byte(group)}
	_, err := e.Send(ctx, Request{
		ServiceID:       ServiceClearDiagnosticInfo,
		Payload:         payload,
		TargetAddress:   addr.Request,
		ResponseAddress: addr.Response,
	}, timeout, retries)
	return err
}

// ReadDTCInformation reads trouble codes matching a status mask.
func (e *Engine) ReadDTCInformation(ctx context.Context, addr Addr, statusMask byte, timeout time.Duration, retries int) ([]DTC, error) {
	resp, err := e.Send(ctx, Request{
		ServiceID:       ServiceReadDTCInformation,
		Subfunction:     sub(reportDTCByStatusMask),
		Payload:         []byte{statusMask},
		TargetAddress:   addr.Request,
		ResponseAddress: addr.Response,
	}, timeout, retries)
	if err != nil {
		return nil, err
	}
	return parseDTCs(resp.Payload)
}
