package orchestrator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub-dev/mcphub/internal/build"
	"github.com/mcphub-dev/mcphub/internal/database"
	"github.com/mcphub-dev/mcphub/internal/events"
	"github.com/mcphub-dev/mcphub/internal/generation"
	"github.com/mcphub-dev/mcphub/internal/vault"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

type fakeRuntime struct {
	mu        sync.Mutex
	healthURL string
	starts    int
	stops     int
	restarts  int
	scales    []int
	startErr  error
}

func (f *fakeRuntime) Start(_ context.Context, spec *StartSpec) (*RuntimeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts++
	return &RuntimeInfo{
		ContainerID:    "container-" + spec.Deployment.ID.String()[:8],
		HostPort:       40000,
		EndpointURL:    f.healthURL + "/mcp",
		HealthCheckURL: f.healthURL + "/health",
	}, nil
}

func (f *fakeRuntime) Stop(context.Context, *models.McpServerDeployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRuntime) Restart(context.Context, *models.McpServerDeployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeRuntime) Scale(_ context.Context, _ *models.McpServerDeployment, replicas int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scales = append(f.scales, replicas)
	return nil
}

func (f *fakeRuntime) Logs(context.Context, *models.McpServerDeployment, int) ([]models.LogEntry, error) {
	return []models.LogEntry{{Message: "live log line"}}, nil
}

func (f *fakeRuntime) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type failingBuilder struct{}

func (failingBuilder) Build(context.Context, *models.GenerationArtifact) (models.ImageRef, []models.LogEntry, error) {
	logs := []models.LogEntry{{Timestamp: time.Now().UTC(), Level: "error", Message: "compile error in main.go"}}
	return models.ImageRef{}, logs, &build.Error{Image: "broken", Logs: logs, Err: errors.New("exit status 1")}
}

type fixture struct {
	orch    *Orchestrator
	store   *database.MemoryStore
	runtime *fakeRuntime
	reg     *models.ApiRegistration
}

func newFixture(t *testing.T, builder build.Builder) *fixture {
	t.Helper()

	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(health.Close)

	key, err := vault.GenerateKey()
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)

	store := database.NewMemoryStore()
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	if builder == nil {
		builder = &build.NoopBuilder{Repo: "mcphub"}
	}
	runtime := &fakeRuntime{healthURL: health.URL}
	engine := generation.NewEngine(log, 3000)
	orch := New(store, runtime, builder, engine, v, bus, log, 3000, 5*time.Second)

	encrypted, err := v.Encrypt(`{"apiKey":"k"}`)
	require.NoError(t, err)
	reg := &models.ApiRegistration{
		ID:         uuid.New(),
		OwnerID:    "alice",
		Name:       "Weather API",
		ApiType:    models.ApiTypeRestOpenAPI,
		BaseURL:    "https://weather.example.test",
		SpecURL:    "https://weather.example.test/openapi.json",
		AuthType:   models.AuthApiKey,
		AuthConfig: encrypted,
		Status:     models.RegistrationActive,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateRegistration(context.Background(), reg))
	require.NoError(t, store.ReplaceEndpoints(context.Background(), reg.ID, []*models.ApiEndpoint{{
		ID:             uuid.New(),
		RegistrationID: reg.ID,
		Name:           "getCurrentWeather",
		HTTPMethod:     "GET",
		Path:           "/current",
		CreatedAt:      time.Now().UTC(),
	}}))

	return &fixture{orch: orch, store: store, runtime: runtime, reg: reg}
}

func (f *fixture) deployRunning(t *testing.T) *models.McpServerDeployment {
	t.Helper()
	dep, err := f.orch.Deploy(context.Background(), "alice", f.reg.ID, DeployOptions{})
	require.NoError(t, err)
	f.orch.Wait()

	got, err := f.store.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	require.Equal(t, models.DeploymentRunning, got.Status)
	return got
}

func TestDeployHappyPath(t *testing.T) {
	f := newFixture(t, nil)

	dep, err := f.orch.Deploy(context.Background(), "alice", f.reg.ID, DeployOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentPending, dep.Status)
	assert.Equal(t, "weather-api-mcp", dep.ServerName)

	f.orch.Wait()

	got, err := f.store.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRunning, got.Status)
	assert.NotEmpty(t, got.Version)
	assert.Contains(t, got.ContainerImage, "mcphub/weather-api-mcp:")
	assert.NotEmpty(t, got.ContainerID)
	assert.NotEmpty(t, got.EndpointURL)
	assert.Equal(t, models.HealthHealthy, got.HealthStatus)
	require.NotNil(t, got.StartedAt)

	genLogs, err := f.store.GetDeploymentLogs(context.Background(), dep.ID, models.LogKindGeneration)
	require.NoError(t, err)
	assert.NotEmpty(t, genLogs)
	buildLogs, err := f.store.GetDeploymentLogs(context.Background(), dep.ID, models.LogKindBuild)
	require.NoError(t, err)
	assert.NotEmpty(t, buildLogs)
}

func TestDeployBuildFailureNeverReachesDeploying(t *testing.T) {
	f := newFixture(t, failingBuilder{})

	dep, err := f.orch.Deploy(context.Background(), "alice", f.reg.ID, DeployOptions{})
	require.NoError(t, err)
	f.orch.Wait()

	got, err := f.store.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "build failed")

	starts, _ := f.runtime.counts()
	assert.Zero(t, starts)

	buildLogs, err := f.store.GetDeploymentLogs(context.Background(), dep.ID, models.LogKindBuild)
	require.NoError(t, err)
	assert.NotEmpty(t, buildLogs)
}

func TestDeployRequiresActiveRegistration(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.store.SetRegistrationStatus(context.Background(), f.reg.ID, models.RegistrationSuspended)
	require.NoError(t, err)

	_, err = f.orch.Deploy(context.Background(), "alice", f.reg.ID, DeployOptions{})
	assert.ErrorIs(t, err, database.ErrConflict)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)

	_, err := f.orch.Stop(context.Background(), "alice", dep.ID)
	require.NoError(t, err)
	f.orch.Wait()

	got, err := f.store.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStopped, got.Status)
	require.NotNil(t, got.StoppedAt)

	// A second stop is a no-op, not an error.
	again, err := f.orch.Stop(context.Background(), "alice", dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStopped, again.Status)

	_, stops := f.runtime.counts()
	assert.Equal(t, 1, stops)
}

func TestStopRejectedWhenFailed(t *testing.T) {
	f := newFixture(t, failingBuilder{})
	dep, err := f.orch.Deploy(context.Background(), "alice", f.reg.ID, DeployOptions{})
	require.NoError(t, err)
	f.orch.Wait()

	// FAILED deployments cannot be stopped.
	_, err = f.orch.Stop(context.Background(), "alice", dep.ID)
	assert.ErrorIs(t, err, database.ErrConflict)
}

func TestRestartStoppedDeployment(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)

	_, err := f.orch.Stop(context.Background(), "alice", dep.ID)
	require.NoError(t, err)
	f.orch.Wait()

	_, err = f.orch.Restart(context.Background(), "alice", dep.ID)
	require.NoError(t, err)
	f.orch.Wait()

	got, err := f.store.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRunning, got.Status)

	starts, _ := f.runtime.counts()
	assert.Equal(t, 2, starts)
}

func TestRestartRejectedWhileRunning(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)

	_, err := f.orch.Restart(context.Background(), "alice", dep.ID)
	assert.ErrorIs(t, err, database.ErrConflict)
}

func TestScaleRunningDeployment(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)

	_, err := f.orch.Scale(context.Background(), "alice", dep.ID, 3)
	require.NoError(t, err)
	f.orch.Wait()

	got, err := f.store.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRunning, got.Status)
	assert.Equal(t, 3, got.ReplicaCount)
}

func TestScaleRejectsInvalidReplicas(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)

	_, err := f.orch.Scale(context.Background(), "alice", dep.ID, 0)
	assert.ErrorIs(t, err, database.ErrInvalidInput)
}

func TestUpdatePicksUpNewEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)
	oldVersion := dep.Version

	require.NoError(t, f.store.ReplaceEndpoints(context.Background(), f.reg.ID, []*models.ApiEndpoint{
		{ID: uuid.New(), RegistrationID: f.reg.ID, Name: "getCurrentWeather", HTTPMethod: "GET", Path: "/current"},
		{ID: uuid.New(), RegistrationID: f.reg.ID, Name: "getForecast", HTTPMethod: "GET", Path: "/forecast"},
	}))

	_, err := f.orch.Update(context.Background(), "alice", dep.ID)
	require.NoError(t, err)
	f.orch.Wait()

	got, err := f.store.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRunning, got.Status)
	assert.NotEqual(t, oldVersion, got.Version)
}

func TestUpdateRollsBackOnBuildFailure(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)
	oldVersion := dep.Version

	// Swap in a failing builder and force a version change.
	f.orch.builder = failingBuilder{}
	require.NoError(t, f.store.ReplaceEndpoints(context.Background(), f.reg.ID, []*models.ApiEndpoint{
		{ID: uuid.New(), RegistrationID: f.reg.ID, Name: "somethingNew", HTTPMethod: "GET", Path: "/new"},
	}))

	_, err := f.orch.Update(context.Background(), "alice", dep.ID)
	require.NoError(t, err)
	f.orch.Wait()

	got, err := f.store.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRunning, got.Status)
	assert.Equal(t, oldVersion, got.Version)

	_, stops := f.runtime.counts()
	assert.Zero(t, stops)
}

func TestDeleteRequiresFinalState(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)

	err := f.orch.Delete(context.Background(), "alice", dep.ID)
	assert.ErrorIs(t, err, database.ErrConflict)

	_, err = f.orch.Stop(context.Background(), "alice", dep.ID)
	require.NoError(t, err)
	f.orch.Wait()

	require.NoError(t, f.orch.Delete(context.Background(), "alice", dep.ID))
	_, err = f.store.GetDeployment(context.Background(), dep.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDeploymentScopedToOwner(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)

	_, err := f.orch.Get(context.Background(), "mallory", dep.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = f.orch.Stop(context.Background(), "mallory", dep.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestLogsReturnsLiveRuntimeStream(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)

	entries, err := f.orch.Logs(context.Background(), "alice", dep.ID, models.LogKindRuntime, 50)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "live log line", entries[0].Message)
}

func TestListByRegistration(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)

	deps, err := f.orch.List(context.Background(), "alice", &f.reg.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, dep.ID, deps[0].ID)

	all, err := f.orch.List(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	none, err := f.orch.List(context.Background(), "mallory", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRestartRuntimeKeepsLifecycleStatus(t *testing.T) {
	f := newFixture(t, nil)
	dep := f.deployRunning(t)

	require.NoError(t, f.orch.RestartRuntime(context.Background(), dep.ID))

	got, err := f.store.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRunning, got.Status)
	assert.Equal(t, models.HealthStarting, got.HealthStatus)
}
