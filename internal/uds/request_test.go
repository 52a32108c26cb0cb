package uds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagworks/diagcore/internal/bus"
)

func TestRequestEncode(t *testing.T) {
	tests := []struct {
		name        string
		req         Request
		wantData    []byte
		expectError bool
	}{
		{
			name: "service and payload padded",
			req: Request{
				ServiceID:     ServiceReadDataByIdentifier,
				Payload:       []byte{0xF1, 0x90},
				TargetAddress: 0x7E0,
			},
			wantData: []byte{0x22, 0xF1, 0x90, PadByte, PadByte, PadByte, PadByte, PadByte},
		},
		{
			name: "subfunction placed after service",
			req: Request{
				ServiceID:     ServiceDiagnosticSessionControl,
				Subfunction:   sub(0x03),
				TargetAddress: 0x7E0,
			},
			wantData: []byte{0x10, 0x03, PadByte, PadByte, PadByte, PadByte, PadByte, PadByte},
		},
		{
			name: "suppress bit set on subfunction",
			req: Request{
				ServiceID:        ServiceTesterPresent,
				Subfunction:      sub(0x00),
				SuppressResponse: true,
				TargetAddress:    0x7E0,
			},
			wantData: []byte{0x3E, 0x80, PadByte, PadByte, PadByte, PadByte, PadByte, PadByte},
		},
		{
			name: "payload exceeds frame size",
			req: Request{
				ServiceID:     ServiceWriteDataByIdentifier,
				Payload:       []byte{1, 2, 3, 4, 5, 6, 7, 8},
				TargetAddress: 0x7E0,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := tt.req.encode()
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.req.TargetAddress, frame.ID)
			assert.Equal(t, tt.wantData, frame.Data)
			assert.False(t, frame.Extended)
		})
	}
}

func TestRequestEncodeExtendedAddress(t *testing.T) {
	req := Request{ServiceID: ServiceTesterPresent, Subfunction: sub(0x00), TargetAddress: 0x18DA10F1}
	frame, err := req.encode()
	require.NoError(t, err)
	assert.True(t, frame.Extended)
}

func TestRequestMatch(t *testing.T) {
	req := Request{
		ServiceID:       ServiceReadDataByIdentifier,
		TargetAddress:   0x7E0,
		ResponseAddress: 0x7E8,
	}

	tests := []struct {
		name         string
		data         []byte
		wantMatch    bool
		wantNegative bool
		wantNRC      byte
		wantPayload  []byte
	}{
		{
			name:        "positive response",
			data:        []byte{0x62, 0xF1, 0x90, 0x01, 0x02},
			wantMatch:   true,
			wantPayload: []byte{0xF1, 0x90, 0x01, 0x02},
		},
		{
			name:         "negative response",
			data:         []byte{0x7F, 0x22, 0x31},
			wantMatch:    true,
			wantNegative: true,
			wantNRC:      NRCRequestOutOfRange,
		},
		{
			name: "negative response for another service",
			data: []byte{0x7F, 0x10, 0x11},
		},
		{
			name: "positive response for another service",
			data: []byte{0x50, 0x03},
		},
		{
			name: "truncated negative response",
			data: []byte{0x7F, 0x22},
		},
		{
			name: "empty frame",
			data: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, matched := req.match(bus.Frame{ID: 0x7E8, Data: tt.data, DLC: uint8(len(tt.data))})
			assert.Equal(t, tt.wantMatch, matched)
			if !tt.wantMatch {
				return
			}
			assert.Equal(t, tt.wantNegative, resp.Negative)
			if tt.wantNegative {
				assert.Equal(t, tt.wantNRC, resp.NRC)
				return
			}
			assert.Equal(t, tt.wantPayload, resp.Payload)
		})
	}
}

func TestRequestMatchSubfunctionEcho(t *testing.T) {
	req := Request{
		ServiceID:   ServiceDiagnosticSessionControl,
		Subfunction: sub(0x03),
	}

	resp, matched := req.match(bus.Frame{Data: []byte{0x50, 0x03, 0x00, 0x32}, DLC: 4})
	require.True(t, matched)
	require.NotNil(t, resp.Subfunction)
	assert.Equal(t, byte(0x03), *resp.Subfunction)
	assert.Equal(t, []byte{0x00, 0x32}, resp.Payload)

	// Wrong echoed subfunction is not an answer to this request.
	_, matched = req.match(bus.Frame{Data: []byte{0x50, 0x01}, DLC: 2})
	assert.False(t, matched)

	// The suppress bit on the echo is masked before comparing.
	resp, matched = req.match(bus.Frame{Data: []byte{0x50, 0x83}, DLC: 2})
	require.True(t, matched)
	assert.Equal(t, byte(0x03), *resp.Subfunction)
}

func TestParseDTCs(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []DTC
	}{
		{
			name:    "two codes",
			payload: []byte{0xFF, 0x01, 0x23, 0x45, 0x2F, 0xC1, 0x05, 0x17, 0x08},
			want: []DTC{
				{Code: 0x012345, Status: 0x2F},
				{Code: 0xC10517, Status: 0x08},
			},
		},
		{
			name:    "availability mask only",
			payload: []byte{0xFF},
			want:    nil,
		},
		{
			name:    "empty payload",
			payload: nil,
			want:    nil,
		},
		{
			name:    "trailing padding ignored",
			payload: []byte{0xFF, 0x01, 0x23, 0x45, 0x2F, PadByte, PadByte},
			want:    []DTC{{Code: 0x012345, Status: 0x2F}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDTCs(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
