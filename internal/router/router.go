package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagworks/diagcore/internal/capability"
	"github.com/diagworks/diagcore/internal/forensic"
	"github.com/diagworks/diagcore/internal/identity"
	"github.com/diagworks/diagcore/internal/logging"
	"github.com/diagworks/diagcore/internal/metrics"
	"github.com/diagworks/diagcore/internal/models"
	"github.com/diagworks/diagcore/internal/override"
	"github.com/diagworks/diagcore/internal/ratelimit"
	"github.com/diagworks/diagcore/internal/uds"
)

// ErrRateLimited rejects a routed request before any safety check runs.
var ErrRateLimited = errors.New("session rate limit exceeded")

// ErrNotExecutable marks services the handler capability set cannot run
// live; they still participate in capability checks and dry runs.
var ErrNotExecutable = errors.New("service has no live executor")

// State is the per-request lifecycle state.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateCapabilityChecked State = "CAPABILITY_CHECKED"
	StateOverrideChecked   State = "OVERRIDE_CHECKED"
	StateExecuting         State = "EXECUTING"
	StateBlocked           State = "BLOCKED"
	StateCompleted         State = "COMPLETED"
	StateFailed            State = "FAILED"
)

// ResultStatus is the outcome class of a routed request.
type ResultStatus string

const (
	StatusSuccess      ResultStatus = "SUCCESS"
	StatusNotSupported ResultStatus = "NOT_SUPPORTED"
	StatusError        ResultStatus = "ERROR"
)

// OverrideWarning is attached to every result executed under an admin
// override so it cannot pass as a normally supported action.
const OverrideWarning = "EXECUTED WITH ADMIN OVERRIDE: capability matrix was bypassed for this action"

// Request is one routed diagnostic command.
type Request struct {
	Vehicle   *models.Vehicle
	Module    string
	Service   string
	Identity  identity.Identity
	SessionID string
	DryRun    bool
	Params    map[string]string
}

// Result is the structured outcome returned to the caller.
type Result struct {
	Status           ResultStatus           `json:"status"`
	State            State                  `json:"state"`
	Module           string                 `json:"module"`
	Service          string                 `json:"service"`
	Mode             forensic.ExecutionMode `json:"mode"`
	WouldExecute     bool                   `json:"would_execute"`
	WriteRisk        WriteRisk              `json:"write_risk"`
	OverrideActive   bool                   `json:"override_active,omitempty"`
	Warning          string                 `json:"warning,omitempty"`
	Error            string                 `json:"error,omitempty"`
	CapabilityReason string                 `json:"capability_reason,omitempty"`
	Data             any                    `json:"data,omitempty"`
}

// ForensicSink receives routing decision points. *forensic.Recorder
// satisfies it.
type ForensicSink interface {
	RecordEvent(ctx context.Context, sessionID string, input forensic.EventInput) (*forensic.Event, error)
}

// Router orchestrates capability check, override check and execution.
// Transport and protocol failures surface as structured ERROR results;
// they never escape the router.
type Router struct {
	registry  *capability.Registry
	overrides *override.Manager
	handlers  *HandlerRegistry
	sink      ForensicSink
	limiter   ratelimit.RateLimiter
	logger    *logging.Logger
}

// New creates a router. limiter and sink may be nil; nil disables the
// corresponding hook.
func New(registry *capability.Registry, overrides *override.Manager, handlers *HandlerRegistry, sink ForensicSink, limiter ratelimit.RateLimiter, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		registry:  registry,
		overrides: overrides,
		handlers:  handlers,
		sink:      sink,
		limiter:   limiter,
		logger:    logger,
	}
}

// Route runs one diagnostic request through the safety gate. Dry runs
// never touch the transport; blocked requests never reach the handler.
func (r *Router) Route(ctx context.Context, req Request) *Result {
	start := time.Now()
	result := &Result{
		Status:    StatusError,
		State:     StateReceived,
		Module:    req.Module,
		Service:   req.Service,
		WriteRisk: riskOf(req.Service),
	}
	defer func() {
		metrics.RoutesTotal.WithLabelValues(string(result.Status), string(result.Mode)).Inc()
		r.logger.Debug("route completed",
			logging.Module(req.Module),
			logging.Service(req.Service),
			logging.Status(string(result.Status)),
			logging.Duration(time.Since(start).Milliseconds()),
		)
	}()

	if r.limiter != nil {
		allowed, err := r.limiter.Allow(ctx, req.SessionID)
		if err != nil {
			r.logger.Warn("rate limiter unavailable, allowing request", logging.Error(err))
		} else if !allowed {
			result.State = StateFailed
			result.Error = ErrRateLimited.Error()
			return result
		}
	}

	// Unknown names are a caller defect, not a capability verdict.
	if err := validateNames(req.Module, req.Service); err != nil {
		result.State = StateFailed
		result.Error = err.Error()
		r.record(ctx, req, forensic.EventInput{
			Type:    forensic.EventError,
			Module:  req.Module,
			Service: req.Service,
			Result:  err.Error(),
		})
		return result
	}

	supported, reason := r.checkCapability(req)
	result.State = StateCapabilityChecked
	result.CapabilityReason = reason
	r.record(ctx, req, forensic.EventInput{
		Type:               forensic.EventCapabilityCheck,
		Module:             req.Module,
		Service:            req.Service,
		CapabilityDecision: reason,
		Result:             fmt.Sprintf("supported=%t", supported),
	})

	overrideActive := false
	if !supported {
		result.State = StateOverrideChecked
		overrideActive = r.overrides.CanOverride(ctx, req.Identity.UserID, req.Module, req.Service, req.SessionID)
	}

	if req.DryRun {
		return r.dryRun(ctx, req, result, supported, overrideActive)
	}

	if !supported && !overrideActive {
		result.Status = StatusNotSupported
		result.State = StateBlocked
		result.Mode = forensic.ModeBlocked
		result.Error = reason
		r.record(ctx, req, forensic.EventInput{
			Type:               forensic.EventCommandBlocked,
			Module:             req.Module,
			Service:            req.Service,
			CapabilityDecision: reason,
			Mode:               forensic.ModeBlocked,
			Result:             "blocked: " + reason,
		})
		return result
	}

	return r.execute(ctx, req, result, overrideActive)
}

// checkCapability resolves the template and checks the module, then the
// service within it.
func (r *Router) checkCapability(req Request) (bool, string) {
	template, err := r.registry.Find(req.Vehicle.Attributes)
	if err != nil {
		return false, fmt.Sprintf("no capability template matches vehicle %s", req.Vehicle.ID)
	}

	moduleSupport := template.Status(req.Module, "")
	if !permits(moduleSupport.Status) {
		return false, moduleSupport.Reason
	}
	serviceSupport := template.Status(req.Module, req.Service)
	if !permits(serviceSupport.Status) {
		return false, serviceSupport.Reason
	}
	return true, serviceSupport.Reason
}

func permits(s capability.Status) bool {
	return s == capability.StatusSupported || s == capability.StatusLimited
}

// dryRun returns a prediction with zero transport interaction.
func (r *Router) dryRun(ctx context.Context, req Request, result *Result, supported, overrideActive bool) *Result {
	result.Status = StatusSuccess
	result.State = StateCompleted
	result.Mode = forensic.ModeDryRun
	result.WouldExecute = supported || overrideActive
	result.OverrideActive = overrideActive
	if result.WriteRisk == WriteRiskHigh {
		result.Warning = "write-classified service: would modify ECU state"
	}
	r.record(ctx, req, forensic.EventInput{
		Type:         forensic.EventCapabilityCheck,
		Module:       req.Module,
		Service:      req.Service,
		Mode:         forensic.ModeDryRun,
		WouldExecute: result.WouldExecute,
		Result:       fmt.Sprintf("dry run: would_execute=%t write_risk=%s", result.WouldExecute, result.WriteRisk),
	})
	return result
}

// execute dispatches to the manufacturer handler and wraps every failure
// into a typed ERROR result.
func (r *Router) execute(ctx context.Context, req Request, result *Result, overrideActive bool) *Result {
	if !req.Identity.CanExecute() {
		result.State = StateFailed
		result.Error = fmt.Sprintf("role %s may not execute live diagnostics", req.Identity.Role)
		return result
	}

	result.State = StateExecuting
	result.Mode = forensic.ModeLive
	handler := r.handlers.For(req.Vehicle.Attributes.Manufacturer)

	data, err := r.dispatch(ctx, handler, req)
	rawCommand := fmt.Sprintf("%s %s/%s", req.Vehicle.ID, req.Module, req.Service)

	if err != nil {
		result.Status = StatusError
		result.State = StateFailed
		result.Error = classifyExecError(err)
		r.record(ctx, req, forensic.EventInput{
			Type:       forensic.EventError,
			Module:     req.Module,
			Service:    req.Service,
			Mode:       forensic.ModeLive,
			RawCommand: rawCommand,
			Result:     result.Error,
		})
		r.logger.Error("diagnostic execution failed",
			logging.Vehicle(req.Vehicle.ID),
			logging.Module(req.Module),
			logging.Action(req.Service),
			logging.Error(err),
		)
		return result
	}

	result.Status = StatusSuccess
	result.State = StateCompleted
	result.Data = data
	result.OverrideActive = overrideActive
	if overrideActive {
		result.Warning = OverrideWarning
	}
	r.record(ctx, req, forensic.EventInput{
		Type:             forensic.EventCommandExecuted,
		Module:           req.Module,
		Service:          req.Service,
		Mode:             forensic.ModeLive,
		OverrideDecision: fmt.Sprintf("override_active=%t", overrideActive),
		RawCommand:       rawCommand,
		RawResponse:      fmt.Sprintf("%v", data),
		Result:           "executed",
	})
	return result
}

func (r *Router) dispatch(ctx context.Context, handler Handler, req Request) (any, error) {
	switch req.Service {
	case ServiceReadDTCs:
		return handler.ReadDTCs(ctx, req.Vehicle, req.Module)
	case ServiceClearDTCs:
		return nil, handler.ClearDTCs(ctx, req.Vehicle, req.Module)
	case ServiceReadLiveData:
		return handler.ReadLiveData(ctx, req.Vehicle, req.Module, parseDataID(req.Params))
	default:
		return nil, fmt.Errorf("%s: %w", req.Service, ErrNotExecutable)
	}
}

// classifyExecError maps protocol and transport failures onto the error
// taxonomy surfaced to callers.
func classifyExecError(err error) string {
	var negative *uds.NegativeResponseError
	switch {
	case errors.As(err, &negative):
		return "protocol negative response: " + negative.Error()
	case errors.Is(err, uds.ErrTimeout):
		return "protocol timeout: " + err.Error()
	default:
		return "transport error: " + err.Error()
	}
}

func (r *Router) record(ctx context.Context, req Request, input forensic.EventInput) {
	if r.sink == nil || req.SessionID == "" {
		return
	}
	if _, err := r.sink.RecordEvent(ctx, req.SessionID, input); err != nil &&
		!errors.Is(err, forensic.ErrSessionUnknown) && !errors.Is(err, forensic.ErrSessionEnded) {
		// Audit loss must never abort the diagnostic, but it is never
		// silent either.
		r.logger.Error("forensic record failed", logging.Error(err), logging.SessionID(req.SessionID))
	}
}
