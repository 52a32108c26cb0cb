package capability

import "fmt"

// Status classifies how well a vehicle configuration supports a diagnostic
// module or service.
type Status string

const (
	StatusSupported    Status = "SUPPORTED"
	StatusLimited      Status = "LIMITED"
	StatusNotSupported Status = "NOT_SUPPORTED"
	StatusUnknown      Status = "UNKNOWN"
)

// VehicleAttributes identify one concrete vehicle configuration.
type VehicleAttributes struct {
	Manufacturer string `json:"manufacturer" yaml:"manufacturer"`
	Platform     string `json:"platform" yaml:"platform"`
	Model        string `json:"model" yaml:"model"`
	Generation   string `json:"generation" yaml:"generation"`
	Year         int    `json:"year" yaml:"year"`
	Engine       string `json:"engine" yaml:"engine"`
	Transmission string `json:"transmission" yaml:"transmission"`
}

// Matcher selects vehicles by attribute equality. Empty fields are
// wildcards; the year range counts as a single matcher field when set.
type Matcher struct {
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Platform     string `json:"platform,omitempty" yaml:"platform,omitempty"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	Generation   string `json:"generation,omitempty" yaml:"generation,omitempty"`
	YearFrom     int    `json:"year_from,omitempty" yaml:"year_from,omitempty"`
	YearTo       int    `json:"year_to,omitempty" yaml:"year_to,omitempty"`
	Engine       string `json:"engine,omitempty" yaml:"engine,omitempty"`
	Transmission string `json:"transmission,omitempty" yaml:"transmission,omitempty"`
}

// Matches reports whether every set matcher field equals the vehicle's
// attributes.
func (m Matcher) Matches(v VehicleAttributes) bool {
	if m.Manufacturer != "" && m.Manufacturer != v.Manufacturer {
		return false
	}
	if m.Platform != "" && m.Platform != v.Platform {
		return false
	}
	if m.Model != "" && m.Model != v.Model {
		return false
	}
	if m.Generation != "" && m.Generation != v.Generation {
		return false
	}
	if m.yearRangeSet() && (v.Year < m.YearFrom || v.Year > m.YearTo) {
		return false
	}
	if m.Engine != "" && m.Engine != v.Engine {
		return false
	}
	if m.Transmission != "" && m.Transmission != v.Transmission {
		return false
	}
	return true
}

// Specificity is the count of set matcher fields. More specific templates
// win lookups.
func (m Matcher) Specificity() int {
	n := 0
	for _, set := range []bool{
		m.Manufacturer != "",
		m.Platform != "",
		m.Model != "",
		m.Generation != "",
		m.yearRangeSet(),
		m.Engine != "",
		m.Transmission != "",
	} {
		if set {
			n++
		}
	}
	return n
}

func (m Matcher) yearRangeSet() bool {
	return m.YearFrom != 0 || m.YearTo != 0
}

// Support is the template's verdict for one module or service.
type Support struct {
	Status        Status `json:"status" yaml:"status"`
	Reason        string `json:"reason,omitempty" yaml:"reason,omitempty"`
	ProtocolNotes string `json:"protocol_notes,omitempty" yaml:"protocol_notes,omitempty"`
}

// ModuleSupport holds the module-level verdict plus per-service verdicts.
type ModuleSupport struct {
	Support  `yaml:",inline"`
	Services map[string]Support `json:"services,omitempty" yaml:"services,omitempty"`
}

// Template is an immutable support matrix for a class of vehicles.
// Registered templates are never modified; lookup resolves conflicts.
type Template struct {
	Name    string                   `json:"name" yaml:"name"`
	Match   Matcher                  `json:"match" yaml:"match"`
	Modules map[string]ModuleSupport `json:"modules" yaml:"modules"`
}

// Status resolves the verdict for (module, service). Service may be empty
// to query the module itself. Absent entries synthesize NOT_SUPPORTED
// rather than erroring out.
func (t *Template) Status(module, service string) Support {
	mod, ok := t.Modules[module]
	if !ok {
		return Support{
			Status: StatusNotSupported,
			Reason: fmt.Sprintf("module %s not covered by template %s", module, t.Name),
		}
	}
	if service == "" {
		return mod.Support
	}
	svc, ok := mod.Services[service]
	if !ok {
		return Support{
			Status: StatusNotSupported,
			Reason: fmt.Sprintf("service %s on module %s not covered by template %s", service, module, t.Name),
		}
	}
	return svc
}

// clone deep-copies the template so registered state stays immutable even
// if the caller keeps mutating its own copy.
func (t *Template) clone() *Template {
	cp := &Template{Name: t.Name, Match: t.Match}
	if t.Modules != nil {
		cp.Modules = make(map[string]ModuleSupport, len(t.Modules))
		for name, mod := range t.Modules {
			modCp := ModuleSupport{Support: mod.Support}
			if mod.Services != nil {
				modCp.Services = make(map[string]Support, len(mod.Services))
				for svc, sup := range mod.Services {
					modCp.Services[svc] = sup
				}
			}
			cp.Modules[name] = modCp
		}
	}
	return cp
}
