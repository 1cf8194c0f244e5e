package registration

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub-dev/mcphub/internal/database"
	"github.com/mcphub-dev/mcphub/internal/events"
	"github.com/mcphub-dev/mcphub/internal/vault"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

type stubValidator struct {
	mu       sync.Mutex
	triggers []uuid.UUID
}

func (v *stubValidator) Trigger(id uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.triggers = append(v.triggers, id)
}

func (v *stubValidator) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.triggers)
}

func newTestService(t *testing.T) (*Service, *database.MemoryStore, *stubValidator, *events.Bus) {
	t.Helper()

	key, err := vault.GenerateKey()
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)

	store := database.NewMemoryStore()
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	svc := NewService(store, v, bus, log)
	validator := &stubValidator{}
	svc.SetValidator(validator)
	return svc, store, validator, bus
}

func weatherSpec() *Spec {
	return &Spec{
		Name:     "weather-api",
		ApiType:  models.ApiTypeRestOpenAPI,
		BaseURL:  "https://weather.example.test",
		SpecURL:  "https://weather.example.test/openapi.json",
		AuthType: models.AuthApiKey,
		AuthConfig: `{"apiKey":"w123"}`,
	}
}

func TestCreateStartsPendingAndTriggersValidation(t *testing.T) {
	svc, store, validator, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Create(ctx, "alice", weatherSpec())
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationPending, reg.Status)
	assert.Equal(t, 1, validator.count())

	// Auth config is never stored in the clear.
	stored, err := store.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.AuthConfig)
	assert.NotContains(t, stored.AuthConfig, "w123")
}

func TestCreateRejectsInvalidSpec(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	spec := weatherSpec()
	spec.Name = "  "
	_, err := svc.Create(ctx, "alice", spec)
	assert.ErrorIs(t, err, database.ErrInvalidInput)

	spec = weatherSpec()
	spec.BaseURL = "not a url"
	_, err = svc.Create(ctx, "alice", spec)
	assert.ErrorIs(t, err, database.ErrInvalidInput)

	spec = weatherSpec()
	spec.SpecURL = ""
	_, err = svc.Create(ctx, "alice", spec)
	assert.ErrorIs(t, err, database.ErrInvalidInput)

	spec = weatherSpec()
	spec.AuthConfig = ""
	_, err = svc.Create(ctx, "alice", spec)
	assert.ErrorIs(t, err, database.ErrInvalidInput)

	spec = weatherSpec()
	spec.AuthType = models.AuthNone
	_, err = svc.Create(ctx, "alice", spec)
	assert.ErrorIs(t, err, database.ErrInvalidInput)
}

func TestCreateDuplicateNamePerOwner(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", weatherSpec())
	require.NoError(t, err)

	_, err = svc.Create(ctx, "alice", weatherSpec())
	assert.ErrorIs(t, err, database.ErrAlreadyExists)

	// Same name under another owner is fine.
	_, err = svc.Create(ctx, "bob", weatherSpec())
	assert.NoError(t, err)
}

func TestGetScopedToOwner(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Create(ctx, "alice", weatherSpec())
	require.NoError(t, err)

	_, err = svc.Get(ctx, "bob", reg.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	got, err := svc.Get(ctx, "alice", reg.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, got.ID)
}

func TestUpdateResetsValidationState(t *testing.T) {
	svc, store, validator, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Create(ctx, "alice", weatherSpec())
	require.NoError(t, err)

	// Simulate a completed validation run.
	_, err = store.SetRegistrationStatus(ctx, reg.ID, models.RegistrationValidating)
	require.NoError(t, err)
	_, err = store.SetRegistrationValidationResult(ctx, reg.ID, models.RegistrationActive, "", time.Now().UTC())
	require.NoError(t, err)

	before := validator.count()
	spec := weatherSpec()
	spec.Description = "now with forecasts"
	updated, err := svc.Update(ctx, "alice", reg.ID, spec)
	require.NoError(t, err)

	assert.Equal(t, models.RegistrationPending, updated.Status)
	assert.Empty(t, updated.ValidationError)
	assert.Nil(t, updated.LastValidatedAt)
	assert.Equal(t, before+1, validator.count())
}

func TestUpdateKeepsStoredCredentials(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Create(ctx, "alice", weatherSpec())
	require.NoError(t, err)
	stored, err := store.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	encrypted := stored.AuthConfig
	require.NotEmpty(t, encrypted)

	// Omitting authConfig on update retains the encrypted credentials.
	spec := weatherSpec()
	spec.AuthConfig = ""
	spec.Description = "same key"
	updated, err := svc.Update(ctx, "alice", reg.ID, spec)
	require.NoError(t, err)
	assert.Equal(t, encrypted, updated.AuthConfig)

	// Switching auth types requires fresh credentials.
	spec = weatherSpec()
	spec.AuthType = models.AuthBearerToken
	spec.AuthConfig = ""
	_, err = svc.Update(ctx, "alice", reg.ID, spec)
	assert.ErrorIs(t, err, database.ErrInvalidInput)
}

func TestUpdateRejectedWhileValidating(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Create(ctx, "alice", weatherSpec())
	require.NoError(t, err)
	_, err = store.SetRegistrationStatus(ctx, reg.ID, models.RegistrationValidating)
	require.NoError(t, err)

	_, err = svc.Update(ctx, "alice", reg.ID, weatherSpec())
	assert.ErrorIs(t, err, database.ErrConflict)
}

func TestDeleteRefusedWithActiveDeployment(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Create(ctx, "alice", weatherSpec())
	require.NoError(t, err)

	dep := &models.McpServerDeployment{
		ID:             uuid.New(),
		RegistrationID: reg.ID,
		ServerName:     "weather-api-server",
		Status:         models.DeploymentRunning,
	}
	require.NoError(t, store.CreateDeployment(ctx, dep))

	err = svc.Delete(ctx, "alice", reg.ID)
	assert.ErrorIs(t, err, database.ErrConflict)

	// Stop the deployment and deletion goes through.
	_, err = store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentStopping, "")
	require.NoError(t, err)
	_, err = store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentStopped, "")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "alice", reg.ID))
	_, err = store.GetRegistration(ctx, reg.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestTriggerValidationIdempotentWhileValidating(t *testing.T) {
	svc, store, validator, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Create(ctx, "alice", weatherSpec())
	require.NoError(t, err)
	_, err = store.SetRegistrationStatus(ctx, reg.ID, models.RegistrationValidating)
	require.NoError(t, err)

	before := validator.count()
	_, err = svc.TriggerValidation(ctx, "alice", reg.ID)
	require.NoError(t, err)
	assert.Equal(t, before, validator.count())
}

func TestSuspendResumeArchive(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Create(ctx, "alice", weatherSpec())
	require.NoError(t, err)
	_, err = store.SetRegistrationStatus(ctx, reg.ID, models.RegistrationValidating)
	require.NoError(t, err)
	_, err = store.SetRegistrationValidationResult(ctx, reg.ID, models.RegistrationActive, "", time.Now().UTC())
	require.NoError(t, err)

	suspended, err := svc.Suspend(ctx, "alice", reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationSuspended, suspended.Status)

	resumed, err := svc.Resume(ctx, "alice", reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationActive, resumed.Status)

	archived, err := svc.Archive(ctx, "alice", reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationArchived, archived.Status)

	// Archived is terminal.
	_, err = svc.Resume(ctx, "alice", reg.ID)
	var invalid *database.InvalidTransitionError
	assert.True(t, errors.As(err, &invalid))
}

func TestStatusChangesPublished(t *testing.T) {
	svc, _, _, bus := newTestService(t)
	ctx := context.Background()

	ch, cancel := bus.Subscribe()
	defer cancel()

	reg, err := svc.Create(ctx, "alice", weatherSpec())
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, models.ResourceRegistration, ev.ResourceType)
		assert.Equal(t, reg.ID.String(), ev.ResourceID)
		assert.Equal(t, string(models.RegistrationPending), ev.NewStatus)
	case <-time.After(time.Second):
		t.Fatal("expected a status change event")
	}
}
