// Package orchestrator drives the deployment lifecycle: generate, build,
// start, and the stop/restart/scale/update operations. Mutating operations
// are accepted synchronously and finish asynchronously; progress is
// observable through deployment status and the status bus.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mcphub-dev/mcphub/internal/build"
	"github.com/mcphub-dev/mcphub/internal/database"
	"github.com/mcphub-dev/mcphub/internal/events"
	"github.com/mcphub-dev/mcphub/internal/generation"
	"github.com/mcphub-dev/mcphub/internal/httpauth"
	"github.com/mcphub-dev/mcphub/internal/vault"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

// stageTimeout bounds one async lifecycle stage end to end.
const stageTimeout = 10 * time.Minute

// DeployOptions carries the optional knobs of a new deployment.
type DeployOptions struct {
	Resources models.ResourceSpec
}

// Orchestrator coordinates deployments across the generation engine, the
// image builder and the container runtime.
type Orchestrator struct {
	store   database.Store
	runtime ContainerRuntime
	builder build.Builder
	engine  *generation.Engine
	vault   *vault.Vault
	bus     *events.Bus
	log     *logrus.Logger

	locks  *keyedLocks
	client *http.Client

	containerPort    int
	readinessTimeout time.Duration

	wg sync.WaitGroup
}

// New wires an orchestrator.
func New(store database.Store, runtime ContainerRuntime, builder build.Builder, engine *generation.Engine,
	v *vault.Vault, bus *events.Bus, log *logrus.Logger, containerPort int, readinessTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:            store,
		runtime:          runtime,
		builder:          builder,
		engine:           engine,
		vault:            v,
		bus:              bus,
		log:              log,
		locks:            newKeyedLocks(),
		client:           &http.Client{Timeout: 5 * time.Second},
		containerPort:    containerPort,
		readinessTimeout: readinessTimeout,
	}
}

// Wait blocks until all in-flight async stages have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Deploy creates a PENDING deployment for an active registration and kicks
// off the generate, build, start stages.
func (o *Orchestrator) Deploy(ctx context.Context, ownerID string, registrationID uuid.UUID, opts DeployOptions) (*models.McpServerDeployment, error) {
	reg, err := o.ownedRegistration(ctx, ownerID, registrationID)
	if err != nil {
		return nil, err
	}
	if !reg.Status.AllowsDeployment() {
		return nil, fmt.Errorf("%w: registration is %s, deployment requires an active registration", database.ErrConflict, reg.Status)
	}

	replicas := opts.Resources.Replicas
	if replicas <= 0 {
		replicas = 1
	}

	now := time.Now().UTC()
	dep := &models.McpServerDeployment{
		ID:             uuid.New(),
		RegistrationID: reg.ID,
		ServerName:     generation.ServerName(reg.Name),
		Status:         models.DeploymentPending,
		ContainerPort:  o.containerPort,
		CPULimit:       opts.Resources.CPULimit,
		MemoryLimit:    opts.Resources.MemoryLimit,
		ReplicaCount:   replicas,
		HealthStatus:   models.HealthUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateDeployment(ctx, dep); err != nil {
		return nil, err
	}
	o.publish(dep.ID, "", models.DeploymentPending, "deployment created")

	o.async(dep.ID, func(ctx context.Context) {
		o.runDeploy(ctx, dep.ID)
	})
	return dep, nil
}

// runDeploy executes the full pipeline for a fresh or restarted deployment.
func (o *Orchestrator) runDeploy(ctx context.Context, id uuid.UUID) {
	dep, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		o.log.WithError(err).WithField("deployment", id).Warn("deploy stage lost its deployment")
		return
	}
	reg, err := o.store.GetRegistration(ctx, dep.RegistrationID)
	if err != nil {
		o.fail(ctx, id, fmt.Sprintf("registration unavailable: %v", err))
		return
	}

	// Generate.
	endpoints, err := o.store.ListEndpoints(ctx, reg.ID)
	if err != nil {
		o.fail(ctx, id, fmt.Sprintf("failed to load endpoints: %v", err))
		return
	}
	artifact, err := o.engine.Generate(reg, endpoints)
	if err != nil {
		o.appendLogs(ctx, id, models.LogKindGeneration, []models.LogEntry{stageLog("error", err.Error())})
		o.fail(ctx, id, fmt.Sprintf("generation failed: %v", err))
		return
	}
	o.appendLogs(ctx, id, models.LogKindGeneration, []models.LogEntry{
		stageLog("info", fmt.Sprintf("generated %s version %s with %d tools", artifact.ServerName, artifact.Version, artifact.ToolCount)),
	})

	// Build. A build failure must surface before DEPLOYING is ever entered.
	image, buildLogs, err := o.builder.Build(ctx, artifact)
	o.appendLogs(ctx, id, models.LogKindBuild, buildLogs)
	if err != nil {
		o.fail(ctx, id, fmt.Sprintf("build failed: %v", err))
		return
	}

	dep.Version = artifact.Version
	dep.ContainerImage = image.String()
	if err := o.store.UpdateDeploymentRuntimeInfo(ctx, dep); err != nil {
		o.fail(ctx, id, fmt.Sprintf("failed to record image: %v", err))
		return
	}

	if !o.setStatus(ctx, id, models.DeploymentDeploying, "starting containers") {
		return
	}
	o.startContainers(ctx, dep, reg, image)
}

// startContainers runs the container start plus readiness phase shared by
// deploy, restart and update.
func (o *Orchestrator) startContainers(ctx context.Context, dep *models.McpServerDeployment, reg *models.ApiRegistration, image models.ImageRef) {
	env, err := o.containerEnv(reg, dep)
	if err != nil {
		o.fail(ctx, dep.ID, err.Error())
		return
	}

	_ = o.store.SetDeploymentHealth(ctx, dep.ID, models.HealthStarting, time.Now().UTC())
	info, err := o.runtime.Start(ctx, &StartSpec{Deployment: dep, Image: image, Env: env})
	if err != nil {
		o.fail(ctx, dep.ID, fmt.Sprintf("container start failed: %v", err))
		return
	}

	dep.ContainerID = info.ContainerID
	dep.HostPort = info.HostPort
	dep.EndpointURL = info.EndpointURL
	dep.HealthCheckURL = info.HealthCheckURL
	if err := o.store.UpdateDeploymentRuntimeInfo(ctx, dep); err != nil {
		o.fail(ctx, dep.ID, fmt.Sprintf("failed to record runtime info: %v", err))
		return
	}

	if err := o.awaitReady(ctx, info.HealthCheckURL); err != nil {
		_ = o.runtime.Stop(ctx, dep)
		o.fail(ctx, dep.ID, fmt.Sprintf("server did not become ready: %v", err))
		return
	}

	if !o.setStatus(ctx, dep.ID, models.DeploymentRunning, "deployment running") {
		return
	}
	_ = o.store.SetDeploymentHealth(ctx, dep.ID, models.HealthHealthy, time.Now().UTC())
	o.appendLogs(ctx, dep.ID, models.LogKindRuntime, []models.LogEntry{
		stageLog("info", fmt.Sprintf("serving at %s", dep.EndpointURL)),
	})
}

// Stop asks a running deployment to shut down. Stopping an already stopping
// or stopped deployment is a no-op.
func (o *Orchestrator) Stop(ctx context.Context, ownerID string, id uuid.UUID) (*models.McpServerDeployment, error) {
	unlock := o.locks.lock(id)
	defer unlock()

	dep, err := o.ownedDeployment(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if dep.Status == models.DeploymentStopping || dep.Status == models.DeploymentStopped {
		return dep, nil
	}
	if !dep.Status.CanBeStopped() {
		return nil, fmt.Errorf("%w: deployment is %s and cannot be stopped", database.ErrConflict, dep.Status)
	}

	if !o.setStatus(ctx, id, models.DeploymentStopping, "stopping containers") {
		return nil, database.ErrConflict
	}
	_ = o.store.SetDeploymentHealth(ctx, id, models.HealthShuttingDown, time.Now().UTC())

	o.async(id, func(ctx context.Context) {
		dep, err := o.store.GetDeployment(ctx, id)
		if err != nil {
			return
		}
		if err := o.runtime.Stop(ctx, dep); err != nil {
			o.fail(ctx, id, fmt.Sprintf("container stop failed: %v", err))
			return
		}
		if o.setStatus(ctx, id, models.DeploymentStopped, "deployment stopped") {
			_ = o.store.SetDeploymentHealth(ctx, id, models.HealthUnknown, time.Now().UTC())
		}
	})
	return o.store.GetDeployment(ctx, id)
}

// Restart brings a STOPPED or FAILED deployment back through the pipeline,
// reusing its built image when one exists.
func (o *Orchestrator) Restart(ctx context.Context, ownerID string, id uuid.UUID) (*models.McpServerDeployment, error) {
	unlock := o.locks.lock(id)
	defer unlock()

	dep, err := o.ownedDeployment(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !dep.Status.CanBeRestarted() {
		return nil, fmt.Errorf("%w: deployment is %s and cannot be restarted", database.ErrConflict, dep.Status)
	}

	if !o.setStatus(ctx, id, models.DeploymentPending, "restart requested") {
		return nil, database.ErrConflict
	}

	o.async(id, func(ctx context.Context) {
		dep, err := o.store.GetDeployment(ctx, id)
		if err != nil {
			return
		}
		if dep.ContainerImage == "" {
			// Never built successfully; run the full pipeline.
			o.runDeploy(ctx, id)
			return
		}
		reg, err := o.store.GetRegistration(ctx, dep.RegistrationID)
		if err != nil {
			o.fail(ctx, id, fmt.Sprintf("registration unavailable: %v", err))
			return
		}
		if !o.setStatus(ctx, id, models.DeploymentDeploying, "restarting containers") {
			return
		}
		o.startContainers(ctx, dep, reg, imageRefFromString(dep.ContainerImage))
	})
	return o.store.GetDeployment(ctx, id)
}

// Scale changes the replica count of a RUNNING deployment.
func (o *Orchestrator) Scale(ctx context.Context, ownerID string, id uuid.UUID, replicas int) (*models.McpServerDeployment, error) {
	if replicas < 1 {
		return nil, fmt.Errorf("%w: replicas must be at least 1", database.ErrInvalidInput)
	}

	unlock := o.locks.lock(id)
	defer unlock()

	dep, err := o.ownedDeployment(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !dep.Status.CanBeScaled() {
		return nil, fmt.Errorf("%w: deployment is %s and cannot be scaled", database.ErrConflict, dep.Status)
	}
	if dep.ReplicaCount == replicas {
		return dep, nil
	}

	if !o.setStatus(ctx, id, models.DeploymentScaling, fmt.Sprintf("scaling to %d replicas", replicas)) {
		return nil, database.ErrConflict
	}

	o.async(id, func(ctx context.Context) {
		dep, err := o.store.GetDeployment(ctx, id)
		if err != nil {
			return
		}
		if err := o.runtime.Scale(ctx, dep, replicas); err != nil {
			o.fail(ctx, id, fmt.Sprintf("scale failed: %v", err))
			return
		}
		if err := o.store.SetDeploymentReplicas(ctx, id, replicas); err != nil {
			o.fail(ctx, id, fmt.Sprintf("failed to record replicas: %v", err))
			return
		}
		o.setStatus(ctx, id, models.DeploymentRunning, "scale complete")
	})
	return o.store.GetDeployment(ctx, id)
}

// Update regenerates and rebuilds against the registration's current state
// and swaps the running containers. A failure before the swap rolls back to
// RUNNING on the old version.
func (o *Orchestrator) Update(ctx context.Context, ownerID string, id uuid.UUID) (*models.McpServerDeployment, error) {
	unlock := o.locks.lock(id)
	defer unlock()

	dep, err := o.ownedDeployment(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !dep.Status.CanBeUpdated() {
		return nil, fmt.Errorf("%w: deployment is %s and cannot be updated", database.ErrConflict, dep.Status)
	}

	if !o.setStatus(ctx, id, models.DeploymentUpdating, "update requested") {
		return nil, database.ErrConflict
	}

	o.async(id, func(ctx context.Context) {
		o.runUpdate(ctx, id)
	})
	return o.store.GetDeployment(ctx, id)
}

func (o *Orchestrator) runUpdate(ctx context.Context, id uuid.UUID) {
	dep, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		return
	}
	reg, err := o.store.GetRegistration(ctx, dep.RegistrationID)
	if err != nil {
		o.fail(ctx, id, fmt.Sprintf("registration unavailable: %v", err))
		return
	}

	endpoints, err := o.store.ListEndpoints(ctx, reg.ID)
	if err != nil {
		o.rollback(ctx, id, fmt.Sprintf("failed to load endpoints: %v", err))
		return
	}
	artifact, err := o.engine.Generate(reg, endpoints)
	if err != nil {
		o.appendLogs(ctx, id, models.LogKindGeneration, []models.LogEntry{stageLog("error", err.Error())})
		o.rollback(ctx, id, fmt.Sprintf("generation failed: %v", err))
		return
	}
	if artifact.Version == dep.Version {
		o.setStatus(ctx, id, models.DeploymentRunning, "already on latest version")
		return
	}

	image, buildLogs, err := o.builder.Build(ctx, artifact)
	o.appendLogs(ctx, id, models.LogKindBuild, buildLogs)
	if err != nil {
		// The old containers are untouched; stay on the old version.
		o.rollback(ctx, id, fmt.Sprintf("build failed: %v", err))
		return
	}

	// Point of no return: swap containers.
	if err := o.runtime.Stop(ctx, dep); err != nil {
		o.fail(ctx, id, fmt.Sprintf("failed to stop old containers: %v", err))
		return
	}

	dep.Version = artifact.Version
	dep.ContainerImage = image.String()
	if err := o.store.UpdateDeploymentRuntimeInfo(ctx, dep); err != nil {
		o.fail(ctx, id, fmt.Sprintf("failed to record image: %v", err))
		return
	}
	o.startContainers(ctx, dep, reg, image)
}

// rollback returns an UPDATING deployment to RUNNING on its old version.
func (o *Orchestrator) rollback(ctx context.Context, id uuid.UUID, reason string) {
	o.log.WithField("deployment", id).WithField("reason", reason).Warn("update rolled back")
	o.appendLogs(ctx, id, models.LogKindRuntime, []models.LogEntry{stageLog("warn", "update rolled back: "+reason)})
	o.setStatus(ctx, id, models.DeploymentRunning, "update rolled back: "+reason)
}

// Delete removes a deployment record. Only final deployments can go.
func (o *Orchestrator) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	unlock := o.locks.lock(id)
	defer unlock()

	if _, err := o.ownedDeployment(ctx, ownerID, id); err != nil {
		return err
	}
	return o.store.DeleteDeployment(ctx, id)
}

// Get returns an owner's deployment.
func (o *Orchestrator) Get(ctx context.Context, ownerID string, id uuid.UUID) (*models.McpServerDeployment, error) {
	return o.ownedDeployment(ctx, ownerID, id)
}

// List returns the deployments of one of the owner's registrations, or all
// of the owner's deployments when registrationID is nil.
func (o *Orchestrator) List(ctx context.Context, ownerID string, registrationID *uuid.UUID) ([]*models.McpServerDeployment, error) {
	if registrationID != nil {
		if _, err := o.ownedRegistration(ctx, ownerID, *registrationID); err != nil {
			return nil, err
		}
		return o.store.ListDeployments(ctx, &database.DeploymentFilter{RegistrationID: registrationID})
	}

	regs, err := o.store.ListRegistrations(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var all []*models.McpServerDeployment
	for _, reg := range regs {
		deps, err := o.store.ListDeployments(ctx, &database.DeploymentFilter{RegistrationID: &reg.ID})
		if err != nil {
			return nil, err
		}
		all = append(all, deps...)
	}
	return all, nil
}

// Logs returns a deployment's captured logs. Runtime logs come live from
// the containers when they are up, with the stored stream as fallback.
func (o *Orchestrator) Logs(ctx context.Context, ownerID string, id uuid.UUID, kind models.LogKind, tail int) ([]models.LogEntry, error) {
	dep, err := o.ownedDeployment(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if kind == models.LogKindRuntime && dep.Status.IsActive() && dep.ContainerID != "" {
		if entries, err := o.runtime.Logs(ctx, dep, tail); err == nil {
			return entries, nil
		}
	}
	return o.store.GetDeploymentLogs(ctx, id, kind)
}

// RestartRuntime restarts a deployment's containers without touching its
// lifecycle status. Used by the health monitor.
func (o *Orchestrator) RestartRuntime(ctx context.Context, id uuid.UUID) error {
	unlock := o.locks.lock(id)
	defer unlock()

	dep, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		return err
	}
	if dep.Status != models.DeploymentRunning {
		return fmt.Errorf("%w: deployment is %s", database.ErrConflict, dep.Status)
	}
	if err := o.runtime.Restart(ctx, dep); err != nil {
		return err
	}
	return o.store.SetDeploymentHealth(ctx, id, models.HealthStarting, time.Now().UTC())
}

func (o *Orchestrator) ownedRegistration(ctx context.Context, ownerID string, id uuid.UUID) (*models.ApiRegistration, error) {
	reg, err := o.store.GetRegistration(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.OwnerID != ownerID {
		return nil, database.ErrNotFound
	}
	return reg, nil
}

func (o *Orchestrator) ownedDeployment(ctx context.Context, ownerID string, id uuid.UUID) (*models.McpServerDeployment, error) {
	dep, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := o.ownedRegistration(ctx, ownerID, dep.RegistrationID); err != nil {
		return nil, database.ErrNotFound
	}
	return dep, nil
}

// containerEnv assembles the environment injected into a deployment's
// containers, upstream credentials included.
func (o *Orchestrator) containerEnv(reg *models.ApiRegistration, dep *models.McpServerDeployment) (map[string]string, error) {
	plaintext, err := o.vault.Decrypt(reg.AuthConfig)
	if err != nil {
		return nil, fmt.Errorf("credentials unreadable: %w", err)
	}
	authCfg, err := httpauth.Decode(plaintext)
	if err != nil {
		return nil, err
	}
	env := httpauth.EnvVars(reg.AuthType, authCfg)
	env["MCP_SERVER_VERSION"] = dep.Version
	return env, nil
}

// awaitReady polls the health URL until it answers 2xx or the readiness
// timeout elapses.
func (o *Orchestrator) awaitReady(ctx context.Context, healthURL string) error {
	deadline := time.Now().Add(o.readinessTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return err
		}
		resp, err := o.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("timed out")
	}
	return lastErr
}

// async runs fn in a tracked goroutine holding the deployment's lock.
func (o *Orchestrator) async(id uuid.UUID, fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		unlock := o.locks.lock(id)
		defer unlock()
		ctx, cancel := context.WithTimeout(context.Background(), stageTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// setStatus commits a transition and publishes it. Returns false when the
// transition was rejected, e.g. because a concurrent operation won.
func (o *Orchestrator) setStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, message string) bool {
	old, err := o.store.SetDeploymentStatus(ctx, id, status, "")
	if err != nil {
		var invalid *database.InvalidTransitionError
		if !errors.As(err, &invalid) && !errors.Is(err, database.ErrNotFound) {
			o.log.WithError(err).WithField("deployment", id).Warn("status transition failed")
		}
		return false
	}
	o.publish(id, old, status, message)
	return true
}

// fail moves a deployment to FAILED with its cause.
func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, message string) {
	old, err := o.store.SetDeploymentStatus(ctx, id, models.DeploymentFailed, message)
	if err != nil {
		o.log.WithError(err).WithField("deployment", id).Warn("failed to mark deployment FAILED")
		return
	}
	o.log.WithFields(logrus.Fields{"deployment": id, "cause": message}).Warn("deployment failed")
	o.publish(id, old, models.DeploymentFailed, message)
}

func (o *Orchestrator) appendLogs(ctx context.Context, id uuid.UUID, kind models.LogKind, entries []models.LogEntry) {
	if len(entries) == 0 {
		return
	}
	if err := o.store.AppendDeploymentLogs(ctx, id, kind, entries); err != nil {
		o.log.WithError(err).WithField("deployment", id).Warn("failed to store logs")
	}
}

func (o *Orchestrator) publish(id uuid.UUID, old, next models.DeploymentStatus, message string) {
	o.bus.Publish(models.StatusChange{
		ResourceType: models.ResourceDeployment,
		ResourceID:   id.String(),
		OldStatus:    string(old),
		NewStatus:    string(next),
		Timestamp:    time.Now().UTC(),
		Message:      message,
	})
}

func imageRefFromString(image string) models.ImageRef {
	ref := models.ImageRef{Name: image}
	if idx := lastColon(image); idx > 0 {
		ref.Name = image[:idx]
		ref.Tag = image[idx+1:]
	}
	return ref
}

// lastColon finds the tag separator, ignoring a port colon in the registry
// host.
func lastColon(image string) int {
	for i := len(image) - 1; i >= 0; i-- {
		switch image[i] {
		case ':':
			return i
		case '/':
			return -1
		}
	}
	return -1
}

func stageLog(level, message string) models.LogEntry {
	return models.LogEntry{Timestamp: time.Now().UTC(), Level: level, Message: message}
}
