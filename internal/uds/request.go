package uds

import (
	"fmt"

	"github.com/diagworks/diagcore/internal/bus"
)

// Diagnostic service identifiers used by the router primitives.
const (
	ServiceDiagnosticSessionControl = 0x10
	ServiceClearDiagnosticInfo      = 0x14
	ServiceReadDTCInformation       = 0x19
	ServiceReadDataByIdentifier     = 0x22
	ServiceSecurityAccess           = 0x27
	ServiceWriteDataByIdentifier    = 0x2E
	ServiceTesterPresent            = 0x3E
)

const (
	// positiveResponseBit is set on the echoed service ID of a positive reply.
	positiveResponseBit = 0x40
	// negativeResponseSID marks a negative reply; the echoed service ID and
	// NRC follow it.
	negativeResponseSID = 0x7F
	// suppressResponseBit on a subfunction asks the ECU not to answer.
	suppressResponseBit = 0x80

	// PadByte fills diagnostic frames to the transport frame size. The
	// classic ISO-TP fill value.
	PadByte = 0xAA

	// keySubfunctionOffset converts a security-access seed subfunction into
	// its matching key-submission subfunction.
	keySubfunctionOffset = 1
)

// Request is a single diagnostic request to one ECU address.
type Request struct {
	ServiceID        byte
	Subfunction      *byte
	Payload          []byte
	TargetAddress    uint32
	ResponseAddress  uint32
	SuppressResponse bool
}

// Response is a correlated reply: either a positive payload or a negative
// response code, never both.
type Response struct {
	ServiceID   byte
	Subfunction *byte
	Payload     []byte
	Negative    bool
	NRC         byte
}

func sub(b byte) *byte { return &b }

// encode lays the request out as [serviceID][subfunction?][payload...]
// padded to the transport frame size with PadByte.
func (r Request) encode() (bus.Frame, error) {
	data := make([]byte, 0, bus.MaxPayload)
	data = append(data, r.ServiceID)
	if r.Subfunction != nil {
		sf := *r.Subfunction
		if r.SuppressResponse {
			sf |= suppressResponseBit
		}
		data = append(data, sf)
	}
	data = append(data, r.Payload...)
	if len(data) > bus.MaxPayload {
		return bus.Frame{}, fmt.Errorf("request payload %d bytes exceeds frame size %d", len(data), bus.MaxPayload)
	}
	for len(data) < bus.MaxPayload {
		data = append(data, PadByte)
	}
	return bus.NewFrame(r.TargetAddress, data, r.TargetAddress > bus.MaxStandardID)
}

// match decides whether a frame at the response address answers this
// request. Frames that answer nothing are ignored by the caller, not
// treated as errors.
func (r Request) match(frame bus.Frame) (*Response, bool) {
	if len(frame.Data) == 0 {
		return nil, false
	}

	if frame.Data[0] == negativeResponseSID {
		if len(frame.Data) < 3 || frame.Data[1] != r.ServiceID {
			return nil, false
		}
		return &Response{ServiceID: r.ServiceID, Negative: true, NRC: frame.Data[2]}, true
	}

	if frame.Data[0] != r.ServiceID|positiveResponseBit {
		return nil, false
	}

	resp := &Response{ServiceID: r.ServiceID}
	body := frame.Data[1:]
	if r.Subfunction != nil {
		if len(body) == 0 {
			return nil, false
		}
		echoed := body[0] &^ suppressResponseBit
		if echoed != *r.Subfunction {
			return nil, false
		}
		resp.Subfunction = sub(echoed)
		body = body[1:]
	}
	resp.Payload = append([]byte(nil), body...)
	return resp, true
}
