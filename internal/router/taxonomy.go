package router

import "fmt"

// Canonical diagnostic module names.
const (
	ModuleEngine       = "ENGINE"
	ModuleTransmission = "TRANSMISSION"
	ModuleABS          = "ABS"
	ModuleAirbag       = "AIRBAG"
	ModuleBody         = "BCM"
	ModuleCluster      = "CLUSTER"
	ModuleHVAC         = "HVAC"
)

// Canonical diagnostic service names.
const (
	ServiceReadDTCs           = "read_dtcs"
	ServiceClearDTCs          = "clear_dtcs"
	ServiceReadLiveData       = "read_live_data"
	ServiceReadIdentification = "read_identification"
	ServiceSessionControl     = "session_control"
	ServiceSecurityAccess     = "security_access"
	ServiceCoding             = "coding"
	ServiceAdaptation         = "adaptation"
	ServiceActuationTest      = "actuation_test"
)

// WriteRisk flags services that change ECU state.
type WriteRisk string

const (
	WriteRiskHigh WriteRisk = "HIGH"
	WriteRiskLow  WriteRisk = "LOW"
)

var knownModules = map[string]bool{
	ModuleEngine:       true,
	ModuleTransmission: true,
	ModuleABS:          true,
	ModuleAirbag:       true,
	ModuleBody:         true,
	ModuleCluster:      true,
	ModuleHVAC:         true,
}

var knownServices = map[string]bool{
	ServiceReadDTCs:           true,
	ServiceClearDTCs:          true,
	ServiceReadLiveData:       true,
	ServiceReadIdentification: true,
	ServiceSessionControl:     true,
	ServiceSecurityAccess:     true,
	ServiceCoding:             true,
	ServiceAdaptation:         true,
	ServiceActuationTest:      true,
}

// writeServices change ECU state: clearing codes, coding, adaptation and
// actuation tests all get WriteRiskHigh.
var writeServices = map[string]bool{
	ServiceClearDTCs:     true,
	ServiceCoding:        true,
	ServiceAdaptation:    true,
	ServiceActuationTest: true,
}

// CapabilityError reports an unknown module or service name: a caller
// defect, deliberately distinct from the legitimate NOT_SUPPORTED outcome.
type CapabilityError struct {
	Kind string
	Name string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("unknown %s name %q", e.Kind, e.Name)
}

// validateNames rejects names outside the canonical taxonomy.
func validateNames(module, service string) error {
	if !knownModules[module] {
		return &CapabilityError{Kind: "module", Name: module}
	}
	if !knownServices[service] {
		return &CapabilityError{Kind: "service", Name: service}
	}
	return nil
}

// riskOf classifies a service's write risk.
func riskOf(service string) WriteRisk {
	if writeServices[service] {
		return WriteRiskHigh
	}
	return WriteRiskLow
}
