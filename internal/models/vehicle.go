package models

import "github.com/diagworks/diagcore/internal/capability"

// ModuleAddress is the request/response arbitration ID pair a diagnostic
// module answers on.
type ModuleAddress struct {
	Request  uint32 `json:"request" yaml:"request"`
	Response uint32 `json:"response" yaml:"response"`
}

// Vehicle is one registered vehicle: its identifying attributes for
// capability matching plus the bus addresses of its diagnostic modules.
type Vehicle struct {
	ID         string                       `json:"id" yaml:"id"`
	VIN        string                       `json:"vin" yaml:"vin"`
	Attributes capability.VehicleAttributes `json:"attributes" yaml:"attributes"`
	Modules    map[string]ModuleAddress     `json:"modules" yaml:"modules"`
}
