package repository

import (
	"context"
	"errors"

	"github.com/diagworks/diagcore/internal/audit"
	"github.com/diagworks/diagcore/internal/capability"
	"github.com/diagworks/diagcore/internal/forensic"
	"github.com/diagworks/diagcore/internal/identity"
	"github.com/diagworks/diagcore/internal/models"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrVehicleNotFound  = errors.New("vehicle not found")
	ErrVehicleExists    = errors.New("vehicle already exists")
	ErrSessionNotFound  = errors.New("forensic session not found")
	ErrSessionExists    = errors.New("forensic session already exists")
	ErrSessionFinalized = errors.New("forensic session already finalized")
	ErrAppendOnly       = errors.New("audit rows are append-only")
)

// Repository is the persistence surface the core consumes. Audit and
// forensic rows are create/read/append only; no implementation exposes an
// update or delete path for them.
type Repository interface {
	CreateUser(ctx context.Context, user *identity.Identity) error
	GetUser(ctx context.Context, id string) (*identity.Identity, error)

	CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	ListVehicles(ctx context.Context) ([]*models.Vehicle, error)

	CreateTemplate(ctx context.Context, template *capability.Template) error
	ListTemplates(ctx context.Context) ([]*capability.Template, error)

	audit.Store
	forensic.Store

	Close()
}
