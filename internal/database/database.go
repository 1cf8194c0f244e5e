// Package database owns durable storage for registrations, endpoints and
// deployments. All status transitions are validated here, at the single
// point that mutates state.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// Common database errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrConflict      = errors.New("operation conflicts with current state")
	ErrInvalidInput  = errors.New("invalid input")
)

// InvalidTransitionError is returned when a requested status change is not
// in the transition table for the resource.
type InvalidTransitionError struct {
	Resource models.ResourceType
	ID       uuid.UUID
	From     string
	To       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s for %s", e.Resource, e.From, e.To, e.ID)
}

// DeploymentFilter narrows ListDeployments results.
type DeploymentFilter struct {
	RegistrationID *uuid.UUID
	Status         *models.DeploymentStatus
}

// Store is the interface for all persistence operations. The Postgres
// implementation backs normal deployments; the in-memory implementation
// backs tests and noop mode.
type Store interface {
	// CreateRegistration inserts a new registration. Returns
	// ErrAlreadyExists when the owner already has one with the same name.
	CreateRegistration(ctx context.Context, reg *models.ApiRegistration) error
	// GetRegistration retrieves a registration by id.
	GetRegistration(ctx context.Context, id uuid.UUID) (*models.ApiRegistration, error)
	// ListRegistrations returns all registrations owned by ownerID.
	ListRegistrations(ctx context.Context, ownerID string) ([]*models.ApiRegistration, error)
	// ListRegistrationsByStatus returns all registrations in the given status.
	ListRegistrationsByStatus(ctx context.Context, status models.RegistrationStatus) ([]*models.ApiRegistration, error)
	// UpdateRegistration persists the owner-editable fields plus status and
	// validation metadata of reg as a whole.
	UpdateRegistration(ctx context.Context, reg *models.ApiRegistration) error
	// SetRegistrationStatus transitions a registration's status, validating
	// against the transition table. Returns the previous status.
	SetRegistrationStatus(ctx context.Context, id uuid.UUID, status models.RegistrationStatus) (models.RegistrationStatus, error)
	// SetRegistrationValidationResult commits the outcome of a validation
	// run: ACTIVE clears the error and stamps lastValidatedAt,
	// VALIDATION_FAILED stores the cause. Returns the previous status.
	SetRegistrationValidationResult(ctx context.Context, id uuid.UUID, status models.RegistrationStatus, validationError string, validatedAt time.Time) (models.RegistrationStatus, error)
	// DeleteRegistration removes a registration and cascades to its
	// endpoints and deployment history. Returns ErrConflict when any
	// deployment is still active.
	DeleteRegistration(ctx context.Context, id uuid.UUID) error

	// ReplaceEndpoints swaps the full endpoint set of a registration.
	ReplaceEndpoints(ctx context.Context, registrationID uuid.UUID, endpoints []*models.ApiEndpoint) error
	// ListEndpoints returns the endpoints of a registration ordered by
	// method and path.
	ListEndpoints(ctx context.Context, registrationID uuid.UUID) ([]*models.ApiEndpoint, error)

	// CreateDeployment inserts a new deployment record.
	CreateDeployment(ctx context.Context, dep *models.McpServerDeployment) error
	// GetDeployment retrieves a deployment by id.
	GetDeployment(ctx context.Context, id uuid.UUID) (*models.McpServerDeployment, error)
	// ListDeployments returns deployments matching the filter.
	ListDeployments(ctx context.Context, filter *DeploymentFilter) ([]*models.McpServerDeployment, error)
	// UpdateDeploymentRuntimeInfo persists the artifact version plus
	// container identity and network fields as the pipeline progresses.
	UpdateDeploymentRuntimeInfo(ctx context.Context, dep *models.McpServerDeployment) error
	// SetDeploymentStatus transitions a deployment's status, validating
	// against the transition table and keeping startedAt/stoppedAt and
	// errorMessage consistent. Returns the previous status.
	SetDeploymentStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, errorMessage string) (models.DeploymentStatus, error)
	// SetDeploymentHealth records a health probe outcome without touching
	// the lifecycle status.
	SetDeploymentHealth(ctx context.Context, id uuid.UUID, health models.HealthStatus, checkedAt time.Time) error
	// SetDeploymentReplicas records the replica count after a scale.
	SetDeploymentReplicas(ctx context.Context, id uuid.UUID, replicas int) error
	// AppendDeploymentLogs appends captured log entries to one of the
	// deployment's log streams.
	AppendDeploymentLogs(ctx context.Context, id uuid.UUID, kind models.LogKind, entries []models.LogEntry) error
	// GetDeploymentLogs returns the captured log stream of the given kind.
	GetDeploymentLogs(ctx context.Context, id uuid.UUID, kind models.LogKind) ([]models.LogEntry, error)
	// CountActiveDeployments counts deployments of a registration that are
	// running or transitional.
	CountActiveDeployments(ctx context.Context, registrationID uuid.UUID) (int, error)
	// DeleteDeployment removes a deployment record. Returns ErrConflict
	// unless the deployment is in a final state.
	DeleteDeployment(ctx context.Context, id uuid.UUID) error

	// Close releases underlying resources.
	Close() error
}
