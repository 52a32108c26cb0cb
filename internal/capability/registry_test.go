package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVehicle = VehicleAttributes{
	Manufacturer: "Aurora",
	Platform:     "K2",
	Model:        "Meridian",
	Generation:   "III",
	Year:         2021,
	Engine:       "2.0T",
	Transmission: "DCT",
}

func TestMatcherMatches(t *testing.T) {
	tests := []struct {
		name    string
		matcher Matcher
		want    bool
	}{
		{
			name:    "empty matcher matches everything",
			matcher: Matcher{},
			want:    true,
		},
		{
			name:    "manufacturer match",
			matcher: Matcher{Manufacturer: "Aurora"},
			want:    true,
		},
		{
			name:    "manufacturer mismatch",
			matcher: Matcher{Manufacturer: "Borealis"},
			want:    false,
		},
		{
			name:    "year inside range",
			matcher: Matcher{YearFrom: 2019, YearTo: 2023},
			want:    true,
		},
		{
			name:    "year outside range",
			matcher: Matcher{YearFrom: 2022, YearTo: 2024},
			want:    false,
		},
		{
			name:    "all fields match",
			matcher: Matcher{Manufacturer: "Aurora", Platform: "K2", Model: "Meridian", Generation: "III", YearFrom: 2020, YearTo: 2022, Engine: "2.0T", Transmission: "DCT"},
			want:    true,
		},
		{
			name:    "one field of many mismatches",
			matcher: Matcher{Manufacturer: "Aurora", Engine: "3.0D"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.matcher.Matches(testVehicle))
		})
	}
}

func TestMatcherSpecificity(t *testing.T) {
	assert.Equal(t, 0, Matcher{}.Specificity())
	assert.Equal(t, 1, Matcher{Manufacturer: "Aurora"}.Specificity())
	// The year range counts once however many of its bounds are set.
	assert.Equal(t, 1, Matcher{YearFrom: 2019, YearTo: 2023}.Specificity())
	assert.Equal(t, 1, Matcher{YearFrom: 2019}.Specificity())
	assert.Equal(t, 3, Matcher{Manufacturer: "Aurora", Platform: "K2", Engine: "2.0T"}.Specificity())
}

func TestRegistryFindPrefersSpecificity(t *testing.T) {
	r := NewRegistry()
	r.Register(&Template{Name: "brand-wide", Match: Matcher{Manufacturer: "Aurora"}})
	r.Register(&Template{Name: "platform", Match: Matcher{Manufacturer: "Aurora", Platform: "K2"}})
	r.Register(&Template{Name: "generic", Match: Matcher{}})

	found, err := r.Find(testVehicle)
	require.NoError(t, err)
	assert.Equal(t, "platform", found.Name)
}

func TestRegistryFindTieBreaksOnRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&Template{Name: "first", Match: Matcher{Manufacturer: "Aurora"}})
	r.Register(&Template{Name: "second", Match: Matcher{Platform: "K2"}})

	found, err := r.Find(testVehicle)
	require.NoError(t, err)
	assert.Equal(t, "first", found.Name)
}

func TestRegistryFindNoMatch(t *testing.T) {
	r := NewRegistry()
	r.Register(&Template{Name: "other", Match: Matcher{Manufacturer: "Borealis"}})

	_, err := r.Find(testVehicle)
	assert.ErrorIs(t, err, ErrNoTemplate)
}

func TestRegistryRegisteredTemplateIsImmutable(t *testing.T) {
	r := NewRegistry()
	tpl := &Template{
		Name:  "mutable",
		Match: Matcher{},
		Modules: map[string]ModuleSupport{
			"ENGINE": {Support: Support{Status: StatusSupported}},
		},
	}
	r.Register(tpl)

	// Mutating the caller's copy must not affect the registry.
	tpl.Modules["ENGINE"] = ModuleSupport{Support: Support{Status: StatusNotSupported}}

	found, err := r.Find(testVehicle)
	require.NoError(t, err)
	assert.Equal(t, StatusSupported, found.Status("ENGINE", "").Status)
}

func TestTemplateStatus(t *testing.T) {
	tpl := &Template{
		Name:  "mix",
		Match: Matcher{},
		Modules: map[string]ModuleSupport{
			"ENGINE": {
				Support: Support{Status: StatusSupported},
				Services: map[string]Support{
					"read_dtcs":  {Status: StatusSupported},
					"clear_dtcs": {Status: StatusLimited, Reason: "partial group support"},
				},
			},
		},
	}

	assert.Equal(t, StatusSupported, tpl.Status("ENGINE", "").Status)
	assert.Equal(t, StatusSupported, tpl.Status("ENGINE", "read_dtcs").Status)
	assert.Equal(t, StatusLimited, tpl.Status("ENGINE", "clear_dtcs").Status)

	// Entries the template does not carry are NOT_SUPPORTED with a reason,
	// never an error.
	absent := tpl.Status("ENGINE", "coding")
	assert.Equal(t, StatusNotSupported, absent.Status)
	assert.NotEmpty(t, absent.Reason)

	absentModule := tpl.Status("HVAC", "")
	assert.Equal(t, StatusNotSupported, absentModule.Status)
	assert.NotEmpty(t, absentModule.Reason)
}
