// Package registration implements the registration lifecycle manager:
// owner-facing CRUD with synchronous failures, plus the status machinery
// that feeds the async validation pipeline.
package registration

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mcphub-dev/mcphub/internal/database"
	"github.com/mcphub-dev/mcphub/internal/events"
	"github.com/mcphub-dev/mcphub/internal/vault"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

// Validator triggers an async validation run for a registration. The call
// returns immediately; outcomes are observed through the registration's
// status. Implemented by the validation pipeline.
type Validator interface {
	Trigger(id uuid.UUID)
}

// Spec carries the owner-editable fields of a registration. AuthConfig is
// plaintext JSON here; it is encrypted before it reaches the store.
type Spec struct {
	Name        string
	Description string
	ApiType     models.ApiType
	BaseURL     string
	SpecURL     string
	AuthType    models.AuthenticationType
	AuthConfig  string
}

// Service is the registration lifecycle manager.
type Service struct {
	store     database.Store
	vault     *vault.Vault
	bus       *events.Bus
	validator Validator
	log       *logrus.Logger
}

// NewService wires the registration service. The validator may be set later
// via SetValidator to break the construction cycle with the pipeline.
func NewService(store database.Store, v *vault.Vault, bus *events.Bus, log *logrus.Logger) *Service {
	return &Service{store: store, vault: v, bus: bus, log: log}
}

// SetValidator attaches the async validation trigger.
func (s *Service) SetValidator(validator Validator) {
	s.validator = validator
}

// validateSpec checks the owner-editable fields. allowStoredCredentials
// permits an empty auth config for credentialed auth types; updates use it
// to retain the previously stored credentials.
func validateSpec(spec *Spec, allowStoredCredentials bool) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("%w: name is required", database.ErrInvalidInput)
	}
	if !spec.ApiType.Valid() {
		return fmt.Errorf("%w: unknown api type %q", database.ErrInvalidInput, spec.ApiType)
	}
	if !spec.AuthType.Valid() {
		return fmt.Errorf("%w: unknown authentication type %q", database.ErrInvalidInput, spec.AuthType)
	}
	if _, err := url.ParseRequestURI(spec.BaseURL); err != nil {
		return fmt.Errorf("%w: invalid base url %q", database.ErrInvalidInput, spec.BaseURL)
	}
	if spec.ApiType.RequiresSpecURL() {
		if _, err := url.ParseRequestURI(spec.SpecURL); err != nil {
			return fmt.Errorf("%w: api type %s requires a spec url", database.ErrInvalidInput, spec.ApiType)
		}
	}
	if spec.AuthType == models.AuthNone && spec.AuthConfig != "" {
		return fmt.Errorf("%w: auth config must be empty when authentication type is NONE", database.ErrInvalidInput)
	}
	if spec.AuthType.RequiresCredentials() && spec.AuthConfig == "" && !allowStoredCredentials {
		return fmt.Errorf("%w: authentication type %s requires auth config", database.ErrInvalidInput, spec.AuthType)
	}
	return nil
}

// Create stores a new PENDING registration and enqueues its validation.
func (s *Service) Create(ctx context.Context, ownerID string, spec *Spec) (*models.ApiRegistration, error) {
	if err := validateSpec(spec, false); err != nil {
		return nil, err
	}

	encrypted, err := s.vault.Encrypt(spec.AuthConfig)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	reg := &models.ApiRegistration{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Name:        spec.Name,
		Description: spec.Description,
		ApiType:     spec.ApiType,
		BaseURL:     spec.BaseURL,
		SpecURL:     spec.SpecURL,
		AuthType:    spec.AuthType,
		AuthConfig:  encrypted,
		Status:      models.RegistrationPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateRegistration(ctx, reg); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"registration": reg.ID, "name": reg.Name, "owner": ownerID}).
		Info("registration created")
	s.publish(reg.ID, "", models.RegistrationPending, "registration created")
	s.triggerValidation(reg.ID)
	return reg, nil
}

// Get returns a registration owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID string, id uuid.UUID) (*models.ApiRegistration, error) {
	reg, err := s.store.GetRegistration(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.OwnerID != ownerID {
		return nil, database.ErrNotFound
	}
	return reg, nil
}

// List returns all registrations of an owner.
func (s *Service) List(ctx context.Context, ownerID string) ([]*models.ApiRegistration, error) {
	return s.store.ListRegistrations(ctx, ownerID)
}

// Endpoints returns the discovered endpoints of an owned registration.
func (s *Service) Endpoints(ctx context.Context, ownerID string, id uuid.UUID) ([]*models.ApiEndpoint, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.store.ListEndpoints(ctx, id)
}

// Update replaces the editable fields, resets the registration to PENDING,
// clears the prior validation outcome and re-enqueues validation. An empty
// AuthConfig keeps the stored credentials as long as the auth type does not
// change.
func (s *Service) Update(ctx context.Context, ownerID string, id uuid.UUID, spec *Spec) (*models.ApiRegistration, error) {
	if err := validateSpec(spec, true); err != nil {
		return nil, err
	}

	reg, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !reg.Status.AllowsEditing() {
		return nil, fmt.Errorf("%w: registration in status %s cannot be edited", database.ErrConflict, reg.Status)
	}

	oldStatus := reg.Status
	oldAuthType := reg.AuthType
	reg.Name = spec.Name
	reg.Description = spec.Description
	reg.ApiType = spec.ApiType
	reg.BaseURL = spec.BaseURL
	reg.SpecURL = spec.SpecURL
	reg.AuthType = spec.AuthType
	switch {
	case spec.AuthType == models.AuthNone:
		reg.AuthConfig = ""
	case spec.AuthConfig != "":
		encrypted, err := s.vault.Encrypt(spec.AuthConfig)
		if err != nil {
			return nil, err
		}
		reg.AuthConfig = encrypted
	case spec.AuthType != oldAuthType || reg.AuthConfig == "":
		return nil, fmt.Errorf("%w: authentication type %s requires auth config", database.ErrInvalidInput, spec.AuthType)
	}

	reg.Status = models.RegistrationPending
	reg.ValidationError = ""
	reg.LastValidatedAt = nil
	reg.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateRegistration(ctx, reg); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"registration": reg.ID, "name": reg.Name}).
		Info("registration updated, re-validating")
	if oldStatus != models.RegistrationPending {
		s.publish(reg.ID, oldStatus, models.RegistrationPending, "registration updated")
	}
	s.triggerValidation(reg.ID)
	return reg, nil
}

// Delete removes a registration and its history. It fails with ErrConflict
// while any deployment is running or transitional.
func (s *Service) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	reg, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}

	active, err := s.store.CountActiveDeployments(ctx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("%w: registration has %d active deployment(s)", database.ErrConflict, active)
	}

	if err := s.store.DeleteRegistration(ctx, id); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"registration": id, "name": reg.Name}).
		Info("registration deleted")
	return nil
}

// TriggerValidation re-enqueues validation. Idempotent: while the
// registration is VALIDATING this is a no-op.
func (s *Service) TriggerValidation(ctx context.Context, ownerID string, id uuid.UUID) (*models.ApiRegistration, error) {
	reg, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if reg.Status == models.RegistrationValidating {
		return reg, nil
	}
	if !reg.Status.CanTransitionTo(models.RegistrationValidating) {
		return nil, fmt.Errorf("%w: registration in status %s cannot be validated", database.ErrConflict, reg.Status)
	}
	s.triggerValidation(id)
	return reg, nil
}

// Suspend takes an ACTIVE registration out of service.
func (s *Service) Suspend(ctx context.Context, ownerID string, id uuid.UUID) (*models.ApiRegistration, error) {
	return s.transition(ctx, ownerID, id, models.RegistrationSuspended, "registration suspended")
}

// Resume reactivates a SUSPENDED registration.
func (s *Service) Resume(ctx context.Context, ownerID string, id uuid.UUID) (*models.ApiRegistration, error) {
	return s.transition(ctx, ownerID, id, models.RegistrationActive, "registration resumed")
}

// Archive moves a registration to its terminal state.
func (s *Service) Archive(ctx context.Context, ownerID string, id uuid.UUID) (*models.ApiRegistration, error) {
	return s.transition(ctx, ownerID, id, models.RegistrationArchived, "registration archived")
}

func (s *Service) transition(ctx context.Context, ownerID string, id uuid.UUID, status models.RegistrationStatus, message string) (*models.ApiRegistration, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	old, err := s.store.SetRegistrationStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.publish(id, old, status, message)
	return s.store.GetRegistration(ctx, id)
}

func (s *Service) triggerValidation(id uuid.UUID) {
	if s.validator == nil {
		s.log.WithField("registration", id).Warn("no validator attached, skipping validation")
		return
	}
	s.validator.Trigger(id)
}

func (s *Service) publish(id uuid.UUID, old, next models.RegistrationStatus, message string) {
	s.bus.Publish(models.StatusChange{
		ResourceType: models.ResourceRegistration,
		ResourceID:   id.String(),
		OldStatus:    string(old),
		NewStatus:    string(next),
		Timestamp:    time.Now().UTC(),
		Message:      message,
	})
}
