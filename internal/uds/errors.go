package uds

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when every retry attempt expired without a
// matching response.
var ErrTimeout = errors.New("diagnostic request timed out")

// Negative response codes the router cares about by name.
const (
	NRCServiceNotSupported     = 0x11
	NRCSubfunctionNotSupported = 0x12
	NRCConditionsNotCorrect    = 0x22
	NRCRequestOutOfRange       = 0x31
	NRCSecurityAccessDenied    = 0x33
	NRCInvalidKey              = 0x35
)

// NegativeResponseError is an explicit ECU rejection. It is surfaced to the
// caller and never retried; repeating a rejected command is unsafe.
type NegativeResponseError struct {
	ServiceID byte
	NRC       byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response for service 0x%02X: %s (0x%02X)", e.ServiceID, nrcName(e.NRC), e.NRC)
}

func nrcName(nrc byte) string {
	switch nrc {
	case NRCServiceNotSupported:
		return "service not supported"
	case NRCSubfunctionNotSupported:
		return "subfunction not supported"
	case NRCConditionsNotCorrect:
		return "conditions not correct"
	case NRCRequestOutOfRange:
		return "request out of range"
	case NRCSecurityAccessDenied:
		return "security access denied"
	case NRCInvalidKey:
		return "invalid key"
	default:
		return "negative response"
	}
}
