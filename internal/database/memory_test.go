package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

func newTestRegistration(owner, name string) *models.ApiRegistration {
	now := time.Now().UTC()
	return &models.ApiRegistration{
		ID:        uuid.New(),
		OwnerID:   owner,
		Name:      name,
		ApiType:   models.ApiTypeRestOpenAPI,
		BaseURL:   "https://api.example.test",
		SpecURL:   "https://api.example.test/openapi.json",
		AuthType:  models.AuthNone,
		Status:    models.RegistrationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestDeployment(regID uuid.UUID, status models.DeploymentStatus) *models.McpServerDeployment {
	now := time.Now().UTC()
	return &models.McpServerDeployment{
		ID:             uuid.New(),
		RegistrationID: regID,
		ServerName:     "weather",
		Version:        "abc123def456",
		Status:         status,
		ReplicaCount:   1,
		HealthStatus:   models.HealthUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMemoryStoreDuplicateName(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reg := newTestRegistration("alice", "weather")
	require.NoError(t, store.CreateRegistration(ctx, reg))

	dup := newTestRegistration("alice", "Weather")
	assert.ErrorIs(t, store.CreateRegistration(ctx, dup), ErrAlreadyExists)

	// Same name under a different owner is fine.
	other := newTestRegistration("bob", "weather")
	assert.NoError(t, store.CreateRegistration(ctx, other))
}

func TestMemoryStoreStatusTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reg := newTestRegistration("alice", "weather")
	require.NoError(t, store.CreateRegistration(ctx, reg))

	old, err := store.SetRegistrationStatus(ctx, reg.ID, models.RegistrationValidating)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationPending, old)

	// Illegal jump is rejected at the mutation point.
	_, err = store.SetRegistrationStatus(ctx, reg.ID, models.RegistrationSuspended)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "VALIDATING", invalid.From)

	validatedAt := time.Now().UTC()
	_, err = store.SetRegistrationValidationResult(ctx, reg.ID, models.RegistrationActive, "", validatedAt)
	require.NoError(t, err)

	got, err := store.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationActive, got.Status)
	assert.Empty(t, got.ValidationError)
	require.NotNil(t, got.LastValidatedAt)
	assert.WithinDuration(t, validatedAt, *got.LastValidatedAt, time.Second)
}

func TestMemoryStoreValidationFailureStoresCause(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reg := newTestRegistration("alice", "weather")
	require.NoError(t, store.CreateRegistration(ctx, reg))
	_, err := store.SetRegistrationStatus(ctx, reg.ID, models.RegistrationValidating)
	require.NoError(t, err)

	_, err = store.SetRegistrationValidationResult(ctx, reg.ID, models.RegistrationValidationFailed, "spec fetch failed: 404", time.Now().UTC())
	require.NoError(t, err)

	got, err := store.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationValidationFailed, got.Status)
	assert.Equal(t, "spec fetch failed: 404", got.ValidationError)
	assert.Nil(t, got.LastValidatedAt)
}

func TestMemoryStoreDeleteWithActiveDeployment(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reg := newTestRegistration("alice", "weather")
	require.NoError(t, store.CreateRegistration(ctx, reg))

	dep := newTestDeployment(reg.ID, models.DeploymentRunning)
	require.NoError(t, store.CreateDeployment(ctx, dep))

	assert.ErrorIs(t, store.DeleteRegistration(ctx, reg.ID), ErrConflict)

	// Stopped deployments do not block deletion and are cascaded.
	_, err := store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentStopping, "")
	require.NoError(t, err)
	_, err = store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentStopped, "")
	require.NoError(t, err)

	require.NoError(t, store.DeleteRegistration(ctx, reg.ID))
	_, err = store.GetDeployment(ctx, dep.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDeploymentTimestampInvariants(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reg := newTestRegistration("alice", "weather")
	require.NoError(t, store.CreateRegistration(ctx, reg))
	dep := newTestDeployment(reg.ID, models.DeploymentPending)
	require.NoError(t, store.CreateDeployment(ctx, dep))

	_, err := store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentDeploying, "")
	require.NoError(t, err)
	_, err = store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentRunning, "")
	require.NoError(t, err)

	got, err := store.GetDeployment(ctx, dep.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.StartedAt)
	assert.Empty(t, got.ErrorMessage)

	_, err = store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentStopping, "")
	require.NoError(t, err)
	_, err = store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentStopped, "")
	require.NoError(t, err)

	got, err = store.GetDeployment(ctx, dep.ID)
	require.NoError(t, err)
	assert.Nil(t, got.StartedAt)
	assert.NotNil(t, got.StoppedAt)
}

func TestMemoryStoreErrorMessageOnlyWhenFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reg := newTestRegistration("alice", "weather")
	require.NoError(t, store.CreateRegistration(ctx, reg))
	dep := newTestDeployment(reg.ID, models.DeploymentPending)
	require.NoError(t, store.CreateDeployment(ctx, dep))

	_, err := store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentFailed, "image build failed")
	require.NoError(t, err)

	got, err := store.GetDeployment(ctx, dep.ID)
	require.NoError(t, err)
	assert.Equal(t, "image build failed", got.ErrorMessage)

	// Restart clears the error.
	_, err = store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentPending, "")
	require.NoError(t, err)
	got, err = store.GetDeployment(ctx, dep.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ErrorMessage)
}

func TestMemoryStoreScaleOnStoppedRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reg := newTestRegistration("alice", "weather")
	require.NoError(t, store.CreateRegistration(ctx, reg))
	dep := newTestDeployment(reg.ID, models.DeploymentStopped)
	require.NoError(t, store.CreateDeployment(ctx, dep))

	_, err := store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentScaling, "")
	var invalid *InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
}

func TestMemoryStoreDeleteDeploymentRequiresFinalState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reg := newTestRegistration("alice", "weather")
	require.NoError(t, store.CreateRegistration(ctx, reg))
	dep := newTestDeployment(reg.ID, models.DeploymentRunning)
	require.NoError(t, store.CreateDeployment(ctx, dep))

	assert.ErrorIs(t, store.DeleteDeployment(ctx, dep.ID), ErrConflict)

	_, err := store.SetDeploymentStatus(ctx, dep.ID, models.DeploymentFailed, "crashed")
	require.NoError(t, err)
	assert.NoError(t, store.DeleteDeployment(ctx, dep.ID))
}

func TestMemoryStoreLogs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reg := newTestRegistration("alice", "weather")
	require.NoError(t, store.CreateRegistration(ctx, reg))
	dep := newTestDeployment(reg.ID, models.DeploymentPending)
	require.NoError(t, store.CreateDeployment(ctx, dep))

	now := time.Now().UTC()
	entries := []models.LogEntry{
		{Timestamp: now, Level: "info", Message: "building image"},
		{Timestamp: now, Level: "error", Message: "compile error in main.go"},
	}
	require.NoError(t, store.AppendDeploymentLogs(ctx, dep.ID, models.LogKindBuild, entries))

	got, err := store.GetDeploymentLogs(ctx, dep.ID, models.LogKindBuild)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "compile error in main.go", got[1].Message)

	runtime, err := store.GetDeploymentLogs(ctx, dep.ID, models.LogKindRuntime)
	require.NoError(t, err)
	assert.Empty(t, runtime)
}
