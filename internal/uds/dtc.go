package uds

// reportDTCByStatusMask is the read-DTC subfunction used by the router.
const reportDTCByStatusMask = 0x02

// DTC is one stored diagnostic trouble code with its status byte.
type DTC struct {
	Code   uint32 `json:"code"`
	Status byte   `json:"status"`
}

// parseDTCs decodes a read-DTC payload: one availability-mask byte followed
// by four-byte records (three DTC bytes plus a status byte). A trailing
// partial record is ignored; it is padding on a fixed-size frame.
func parseDTCs(payload []byte) ([]DTC, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	records := payload[1:]

	var dtcs []DTC
	for len(records) >= 4 {
		code := uint32(records[0])<<16 | uint32(records[1])<<8 | uint32(records[2])
		dtcs = append(dtcs, DTC{Code: code, Status: records[3]})
		records = records[4:]
	}
	return dtcs, nil
}
