package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagworks/diagcore/internal/capability"
	"github.com/diagworks/diagcore/internal/forensic"
	"github.com/diagworks/diagcore/internal/identity"
	"github.com/diagworks/diagcore/internal/models"
	"github.com/diagworks/diagcore/internal/override"
	"github.com/diagworks/diagcore/internal/ratelimit"
	"github.com/diagworks/diagcore/internal/uds"
)

var (
	techIdent  = identity.Identity{UserID: "tech-1", Username: "tech", Role: identity.RoleTechnician}
	adminIdent = identity.Identity{UserID: "admin-1", Username: "ops", Role: identity.RoleAdmin}
	viewIdent  = identity.Identity{UserID: "view-1", Username: "intern", Role: identity.RoleViewer}
)

type mockHandler struct {
	mu            sync.Mutex
	readDTCCalls  int
	clearCalls    int
	liveDataCalls int

	readDTCsFunc     func(ctx context.Context, vehicle *models.Vehicle, module string) ([]uds.DTC, error)
	clearDTCsFunc    func(ctx context.Context, vehicle *models.Vehicle, module string) error
	readLiveDataFunc func(ctx context.Context, vehicle *models.Vehicle, module string, dataID uint16) ([]byte, error)
}

func (m *mockHandler) Connect(ctx context.Context, vehicle *models.Vehicle) error    { return nil }
func (m *mockHandler) Disconnect(ctx context.Context, vehicle *models.Vehicle) error { return nil }

func (m *mockHandler) ReadDTCs(ctx context.Context, vehicle *models.Vehicle, module string) ([]uds.DTC, error) {
	m.mu.Lock()
	m.readDTCCalls++
	m.mu.Unlock()
	if m.readDTCsFunc != nil {
		return m.readDTCsFunc(ctx, vehicle, module)
	}
	return nil, nil
}

func (m *mockHandler) ClearDTCs(ctx context.Context, vehicle *models.Vehicle, module string) error {
	m.mu.Lock()
	m.clearCalls++
	m.mu.Unlock()
	if m.clearDTCsFunc != nil {
		return m.clearDTCsFunc(ctx, vehicle, module)
	}
	return nil
}

func (m *mockHandler) ReadLiveData(ctx context.Context, vehicle *models.Vehicle, module string, dataID uint16) ([]byte, error) {
	m.mu.Lock()
	m.liveDataCalls++
	m.mu.Unlock()
	if m.readLiveDataFunc != nil {
		return m.readLiveDataFunc(ctx, vehicle, module, dataID)
	}
	return []byte{0x01}, nil
}

func (m *mockHandler) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readDTCCalls + m.clearCalls + m.liveDataCalls
}

type recordingSink struct {
	mu     sync.Mutex
	events []forensic.EventInput
}

func (s *recordingSink) RecordEvent(ctx context.Context, sessionID string, input forensic.EventInput) (*forensic.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, input)
	return &forensic.Event{Type: input.Type}, nil
}

func (s *recordingSink) ofType(t forensic.EventType) []forensic.EventInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []forensic.EventInput
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string) (bool, error) { return false, nil }
func (denyLimiter) Close() error                                        { return nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("redis down")
}
func (brokenLimiter) Close() error { return nil }

// testTemplate supports engine DTC reads fully, live data with a caveat,
// and refuses engine DTC clears.
func testTemplate() *capability.Template {
	return &capability.Template{
		Name:  "aurora-k2",
		Match: capability.Matcher{Manufacturer: "Aurora"},
		Modules: map[string]capability.ModuleSupport{
			ModuleEngine: {
				Support: capability.Support{Status: capability.StatusSupported},
				Services: map[string]capability.Support{
					ServiceReadDTCs:           {Status: capability.StatusSupported},
					ServiceReadLiveData:       {Status: capability.StatusLimited, Reason: "subset of identifiers only"},
					ServiceClearDTCs:          {Status: capability.StatusNotSupported, Reason: "engine clears require manufacturer tooling"},
					ServiceReadIdentification: {Status: capability.StatusSupported},
				},
			},
			ModuleABS: {
				Support: capability.Support{Status: capability.StatusNotSupported, Reason: "chassis bus is gatewayed on this platform"},
			},
		},
	}
}

func testVehicle() *models.Vehicle {
	return &models.Vehicle{
		ID:  "veh-1",
		VIN: "AUR00000000000001",
		Attributes: capability.VehicleAttributes{
			Manufacturer: "Aurora",
			Model:        "K2",
			Year:         2021,
		},
		Modules: map[string]models.ModuleAddress{
			ModuleEngine: {Request: 0x7E0, Response: 0x7E8},
			ModuleABS:    {Request: 0x760, Response: 0x768},
		},
	}
}

type routerFixture struct {
	router    *Router
	handler   *mockHandler
	sink      *recordingSink
	overrides *override.Manager
}

func newRouterFixture(t *testing.T, limiter ratelimit.RateLimiter) *routerFixture {
	t.Helper()

	registry := capability.NewRegistry()
	registry.Register(testTemplate())

	sink := &recordingSink{}
	overrides := override.NewManager(nil, nil, sink)
	handler := &mockHandler{}

	return &routerFixture{
		router:    New(registry, overrides, NewHandlerRegistry(handler), sink, limiter, nil),
		handler:   handler,
		sink:      sink,
		overrides: overrides,
	}
}

func baseRequest(svc string) Request {
	return Request{
		Vehicle:   testVehicle(),
		Module:    ModuleEngine,
		Service:   svc,
		Identity:  techIdent,
		SessionID: "sess-1",
	}
}

func TestRouteRejectsUnknownNames(t *testing.T) {
	tests := []struct {
		name    string
		module  string
		service string
		wantErr string
	}{
		{"unknown module", "FLUX_CAPACITOR", ServiceReadDTCs, `unknown module name "FLUX_CAPACITOR"`},
		{"unknown service", ModuleEngine, "warp_drive", `unknown service name "warp_drive"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t, nil)
			req := baseRequest(tt.service)
			req.Module = tt.module

			result := f.router.Route(context.Background(), req)

			assert.Equal(t, StatusError, result.Status)
			assert.Equal(t, StateFailed, result.State)
			assert.Equal(t, tt.wantErr, result.Error)
			assert.Zero(t, f.handler.totalCalls())

			errs := f.sink.ofType(forensic.EventError)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.wantErr, errs[0].Result)
		})
	}
}

func TestRouteDryRunNeverTouchesTransport(t *testing.T) {
	f := newRouterFixture(t, nil)
	req := baseRequest(ServiceReadDTCs)
	req.DryRun = true

	result := f.router.Route(context.Background(), req)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, forensic.ModeDryRun, result.Mode)
	assert.True(t, result.WouldExecute)
	assert.Equal(t, WriteRiskLow, result.WriteRisk)
	assert.Zero(t, f.handler.totalCalls())
}

func TestRouteDryRunPredictsBlock(t *testing.T) {
	f := newRouterFixture(t, nil)
	req := baseRequest(ServiceClearDTCs)
	req.DryRun = true

	result := f.router.Route(context.Background(), req)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.False(t, result.WouldExecute)
	assert.Equal(t, WriteRiskHigh, result.WriteRisk)
	assert.Contains(t, result.Warning, "would modify ECU state")
	assert.Zero(t, f.handler.totalCalls())
}

func TestRouteDryRunMatchesLiveVerdict(t *testing.T) {
	// The prediction of a dry run must agree with what a live route would
	// do for the same request.
	for _, svc := range []string{ServiceReadDTCs, ServiceClearDTCs} {
		f := newRouterFixture(t, nil)
		dry := baseRequest(svc)
		dry.DryRun = true
		prediction := f.router.Route(context.Background(), dry)

		live := f.router.Route(context.Background(), baseRequest(svc))

		if prediction.WouldExecute {
			assert.Equal(t, StatusSuccess, live.Status, svc)
		} else {
			assert.Equal(t, StatusNotSupported, live.Status, svc)
		}
	}
}

func TestRouteBlocksUnsupportedService(t *testing.T) {
	f := newRouterFixture(t, nil)

	result := f.router.Route(context.Background(), baseRequest(ServiceClearDTCs))

	assert.Equal(t, StatusNotSupported, result.Status)
	assert.Equal(t, StateBlocked, result.State)
	assert.Equal(t, forensic.ModeBlocked, result.Mode)
	assert.Equal(t, "engine clears require manufacturer tooling", result.Error)
	assert.Zero(t, f.handler.totalCalls())

	blocked := f.sink.ofType(forensic.EventCommandBlocked)
	require.Len(t, blocked, 1)
	assert.Contains(t, blocked[0].Result, "manufacturer tooling")
}

func TestRouteBlocksUnsupportedModule(t *testing.T) {
	f := newRouterFixture(t, nil)
	req := baseRequest(ServiceReadDTCs)
	req.Module = ModuleABS

	result := f.router.Route(context.Background(), req)

	assert.Equal(t, StatusNotSupported, result.Status)
	assert.Equal(t, "chassis bus is gatewayed on this platform", result.Error)
}

func TestRouteBlocksModuleAbsentFromTemplate(t *testing.T) {
	f := newRouterFixture(t, nil)
	req := baseRequest(ServiceReadDTCs)
	req.Module = ModuleHVAC
	req.Vehicle.Modules[ModuleHVAC] = models.ModuleAddress{Request: 0x744, Response: 0x74C}

	result := f.router.Route(context.Background(), req)

	assert.Equal(t, StatusNotSupported, result.Status)
	assert.Contains(t, result.Error, "not covered by template")
}

func TestRouteExecutesSupportedService(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.handler.readDTCsFunc = func(ctx context.Context, v *models.Vehicle, module string) ([]uds.DTC, error) {
		assert.Equal(t, "veh-1", v.ID)
		assert.Equal(t, ModuleEngine, module)
		return []uds.DTC{{Code: 0x030100, Status: 0x2F}}, nil
	}

	result := f.router.Route(context.Background(), baseRequest(ServiceReadDTCs))

	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, forensic.ModeLive, result.Mode)
	assert.False(t, result.OverrideActive)
	assert.Empty(t, result.Warning)

	dtcs, ok := result.Data.([]uds.DTC)
	require.True(t, ok)
	require.Len(t, dtcs, 1)
	assert.Equal(t, uint32(0x030100), dtcs[0].Code)

	executed := f.sink.ofType(forensic.EventCommandExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, "veh-1 ENGINE/read_dtcs", executed[0].RawCommand)
}

func TestRouteLimitedStatusPermitsExecution(t *testing.T) {
	f := newRouterFixture(t, nil)

	result := f.router.Route(context.Background(), baseRequest(ServiceReadLiveData))

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "subset of identifiers only", result.CapabilityReason)
	assert.Equal(t, 1, f.handler.liveDataCalls)
}

func TestRouteViewerCannotExecuteLive(t *testing.T) {
	f := newRouterFixture(t, nil)
	req := baseRequest(ServiceReadDTCs)
	req.Identity = viewIdent

	result := f.router.Route(context.Background(), req)

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Error, "may not execute live diagnostics")
	assert.Zero(t, f.handler.totalCalls())
}

func TestRouteViewerMayDryRun(t *testing.T) {
	f := newRouterFixture(t, nil)
	req := baseRequest(ServiceReadDTCs)
	req.Identity = viewIdent
	req.DryRun = true

	result := f.router.Route(context.Background(), req)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.True(t, result.WouldExecute)
}

func TestRouteOverridePermitsBlockedService(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()

	_, err := f.overrides.Activate(ctx, adminIdent, override.ScopeAction, ModuleEngine, ServiceClearDTCs, "bench validation", 0, "sess-1")
	require.NoError(t, err)

	req := baseRequest(ServiceClearDTCs)
	req.Identity = adminIdent
	result := f.router.Route(ctx, req)

	require.Equal(t, StatusSuccess, result.Status)
	assert.True(t, result.OverrideActive)
	assert.Equal(t, OverrideWarning, result.Warning)
	assert.Equal(t, 1, f.handler.clearCalls)
}

func TestRouteOverrideScopedToOtherActionStillBlocks(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()

	_, err := f.overrides.Activate(ctx, adminIdent, override.ScopeAction, ModuleEngine, ServiceCoding, "bench validation", 0, "sess-1")
	require.NoError(t, err)

	req := baseRequest(ServiceClearDTCs)
	req.Identity = adminIdent
	result := f.router.Route(ctx, req)

	assert.Equal(t, StatusNotSupported, result.Status)
	assert.Equal(t, StateBlocked, result.State)
	assert.Zero(t, f.handler.totalCalls())
}

func TestRouteSupportedServiceCarriesNoOverrideWarning(t *testing.T) {
	// An override in force must not taint results the capability matrix
	// would have permitted anyway.
	f := newRouterFixture(t, nil)
	ctx := context.Background()

	_, err := f.overrides.Activate(ctx, adminIdent, override.ScopeSession, "", "", "bench validation", 0, "sess-1")
	require.NoError(t, err)

	req := baseRequest(ServiceReadDTCs)
	req.Identity = adminIdent
	result := f.router.Route(ctx, req)

	require.Equal(t, StatusSuccess, result.Status)
	assert.False(t, result.OverrideActive)
	assert.Empty(t, result.Warning)
}

func TestRouteClassifiesExecutionErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantSub string
	}{
		{
			name:    "negative response",
			err:     &uds.NegativeResponseError{ServiceID: 0x19, NRC: uds.NRCConditionsNotCorrect},
			wantSub: "protocol negative response",
		},
		{
			name:    "timeout after retries",
			err:     fmt.Errorf("ENGINE: %w", uds.ErrTimeout),
			wantSub: "protocol timeout",
		},
		{
			name:    "transport failure",
			err:     errors.New("interface went down"),
			wantSub: "transport error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t, nil)
			f.handler.readDTCsFunc = func(ctx context.Context, v *models.Vehicle, module string) ([]uds.DTC, error) {
				return nil, tt.err
			}

			result := f.router.Route(context.Background(), baseRequest(ServiceReadDTCs))

			assert.Equal(t, StatusError, result.Status)
			assert.Equal(t, StateFailed, result.State)
			assert.Contains(t, result.Error, tt.wantSub)

			errs := f.sink.ofType(forensic.EventError)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Result, tt.wantSub)
		})
	}
}

func TestRouteServiceWithoutExecutor(t *testing.T) {
	// read_identification passes the capability gate but has no live
	// dispatch; the failure surfaces as a structured error, not a panic.
	f := newRouterFixture(t, nil)

	result := f.router.Route(context.Background(), baseRequest(ServiceReadIdentification))

	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Error, ErrNotExecutable.Error())
	assert.Zero(t, f.handler.totalCalls())
}

func TestRouteRateLimited(t *testing.T) {
	f := newRouterFixture(t, denyLimiter{})

	result := f.router.Route(context.Background(), baseRequest(ServiceReadDTCs))

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, ErrRateLimited.Error(), result.Error)
	assert.Zero(t, f.handler.totalCalls())
	assert.Empty(t, f.sink.events)
}

func TestRouteLimiterFailureFailsOpen(t *testing.T) {
	f := newRouterFixture(t, brokenLimiter{})

	result := f.router.Route(context.Background(), baseRequest(ServiceReadDTCs))

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 1, f.handler.readDTCCalls)
}

func TestRouteWithoutSessionSkipsForensics(t *testing.T) {
	f := newRouterFixture(t, nil)
	req := baseRequest(ServiceReadDTCs)
	req.SessionID = ""

	result := f.router.Route(context.Background(), req)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Empty(t, f.sink.events)
}

func TestRouteNoTemplateForVehicle(t *testing.T) {
	f := newRouterFixture(t, nil)
	req := baseRequest(ServiceReadDTCs)
	req.Vehicle.Attributes.Manufacturer = "Borealis"

	result := f.router.Route(context.Background(), req)

	assert.Equal(t, StatusNotSupported, result.Status)
	assert.Contains(t, result.Error, "no capability template matches")
}

func TestHandlerRegistryFallback(t *testing.T) {
	fallback := &mockHandler{}
	specific := &mockHandler{}
	reg := NewHandlerRegistry(fallback)
	reg.Register("Aurora", specific)

	assert.Same(t, specific, reg.For("Aurora"))
	assert.Same(t, fallback, reg.For("Borealis"))
}

func TestParseDataID(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		want   uint16
	}{
		{"absent", nil, defaultDataID},
		{"hex", map[string]string{"data_id": "0xF190"}, 0xF190},
		{"decimal", map[string]string{"data_id": "4660"}, 0x1234},
		{"garbage falls back", map[string]string{"data_id": "vin"}, defaultDataID},
		{"overflow falls back", map[string]string{"data_id": "0x1FFFF"}, defaultDataID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseDataID(tt.params))
		})
	}
}
