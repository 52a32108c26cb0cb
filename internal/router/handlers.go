package router

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/diagworks/diagcore/internal/models"
	"github.com/diagworks/diagcore/internal/uds"
)

// Handler is the fixed capability set of a manufacturer-specific protocol
// implementation. Handlers are selected from the registry at router
// construction; there is no runtime attribute probing.
type Handler interface {
	Connect(ctx context.Context, vehicle *models.Vehicle) error
	Disconnect(ctx context.Context, vehicle *models.Vehicle) error
	ReadDTCs(ctx context.Context, vehicle *models.Vehicle, module string) ([]uds.DTC, error)
	ClearDTCs(ctx context.Context, vehicle *models.Vehicle, module string) error
	ReadLiveData(ctx context.Context, vehicle *models.Vehicle, module string, dataID uint16) ([]byte, error)
}

// HandlerRegistry maps manufacturer names to handlers, with a generic
// fallback for everything unregistered.
type HandlerRegistry struct {
	byManufacturer map[string]Handler
	fallback       Handler
}

// NewHandlerRegistry creates a registry around a fallback handler.
func NewHandlerRegistry(fallback Handler) *HandlerRegistry {
	return &HandlerRegistry{
		byManufacturer: make(map[string]Handler),
		fallback:       fallback,
	}
}

// Register binds a manufacturer name to a handler.
func (r *HandlerRegistry) Register(manufacturer string, h Handler) {
	r.byManufacturer[manufacturer] = h
}

// For returns the handler for a manufacturer, or the generic fallback.
func (r *HandlerRegistry) For(manufacturer string) Handler {
	if h, ok := r.byManufacturer[manufacturer]; ok {
		return h
	}
	return r.fallback
}

// UDS session types the generic handler drives.
const (
	sessionDefault  = 0x01
	sessionExtended = 0x03
)

// defaultDataID is read when the caller names no data identifier.
const defaultDataID = 0xF40C

// dtcGroupAll clears every stored trouble code group.
const dtcGroupAll = 0xFFFFFF

// GenericHandler implements Handler with plain UDS primitives. It serves
// any vehicle whose modules speak standard UDS addressing.
type GenericHandler struct {
	engine  *uds.Engine
	timeout time.Duration
	retries int
}

// NewGenericHandler creates the UDS fallback handler.
func NewGenericHandler(engine *uds.Engine, timeout time.Duration, retries int) *GenericHandler {
	return &GenericHandler{engine: engine, timeout: timeout, retries: retries}
}

func (h *GenericHandler) addr(vehicle *models.Vehicle, module string) (uds.Addr, error) {
	ma, ok := vehicle.Modules[module]
	if !ok {
		return uds.Addr{}, fmt.Errorf("vehicle %s has no bus address for module %s", vehicle.ID, module)
	}
	return uds.Addr{Request: ma.Request, Response: ma.Response}, nil
}

// Connect switches every known module into the extended diagnostic session.
func (h *GenericHandler) Connect(ctx context.Context, vehicle *models.Vehicle) error {
	for module := range vehicle.Modules {
		addr, err := h.addr(vehicle, module)
		if err != nil {
			return err
		}
		if err := h.engine.DiagnosticSessionControl(ctx, addr, sessionExtended, h.timeout, h.retries); err != nil {
			return fmt.Errorf("extended session for %s: %w", module, err)
		}
	}
	return nil
}

// Disconnect returns every module to the default session.
func (h *GenericHandler) Disconnect(ctx context.Context, vehicle *models.Vehicle) error {
	for module := range vehicle.Modules {
		addr, err := h.addr(vehicle, module)
		if err != nil {
			return err
		}
		if err := h.engine.DiagnosticSessionControl(ctx, addr, sessionDefault, h.timeout, h.retries); err != nil {
			return fmt.Errorf("default session for %s: %w", module, err)
		}
	}
	return nil
}

func (h *GenericHandler) ReadDTCs(ctx context.Context, vehicle *models.Vehicle, module string) ([]uds.DTC, error) {
	addr, err := h.addr(vehicle, module)
	if err != nil {
		return nil, err
	}
	return h.engine.ReadDTCInformation(ctx, addr, 0xFF, h.timeout, h.retries)
}

func (h *GenericHandler) ClearDTCs(ctx context.Context, vehicle *models.Vehicle, module string) error {
	addr, err := h.addr(vehicle, module)
	if err != nil {
		return err
	}
	return h.engine.ClearDiagnosticInformation(ctx, addr, dtcGroupAll, h.timeout, h.retries)
}

func (h *GenericHandler) ReadLiveData(ctx context.Context, vehicle *models.Vehicle, module string, dataID uint16) ([]byte, error) {
	addr, err := h.addr(vehicle, module)
	if err != nil {
		return nil, err
	}
	return h.engine.ReadDataByIdentifier(ctx, addr, dataID, h.timeout, h.retries)
}

// parseDataID reads a hex or decimal data identifier from request params.
func parseDataID(params map[string]string) uint16 {
	raw, ok := params["data_id"]
	if !ok {
		return defaultDataID
	}
	v, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return defaultDataID
	}
	return uint16(v)
}
