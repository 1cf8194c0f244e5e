// Package health periodically probes running deployments and records their
// health. Probes never change a deployment's lifecycle status; persistent
// failures raise an alert and, when enabled, a runtime-level restart.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mcphub-dev/mcphub/internal/database"
	"github.com/mcphub-dev/mcphub/internal/events"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

// Restarter restarts a deployment's containers without touching its
// lifecycle status. Implemented by the orchestrator.
type Restarter interface {
	RestartRuntime(ctx context.Context, id uuid.UUID) error
}

// Options tune the monitor.
type Options struct {
	Interval           time.Duration
	ProbeTimeout       time.Duration
	UnhealthyThreshold int
	AutoRestart        bool
}

// Monitor probes running deployments on a fixed interval.
type Monitor struct {
	store     database.Store
	restarter Restarter
	bus       *events.Bus
	log       *logrus.Logger
	client    *http.Client
	opts      Options

	mu      sync.Mutex
	strikes map[uuid.UUID]int
}

// NewMonitor builds a health monitor.
func NewMonitor(store database.Store, restarter Restarter, bus *events.Bus, log *logrus.Logger, opts Options) *Monitor {
	if opts.UnhealthyThreshold <= 0 {
		opts.UnhealthyThreshold = 3
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Monitor{
		store:     store,
		restarter: restarter,
		bus:       bus,
		log:       log,
		client:    &http.Client{Timeout: opts.ProbeTimeout},
		opts:      opts,
		strikes:   make(map[uuid.UUID]int),
	}
}

// Run blocks until ctx is cancelled, probing on each tick.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every running deployment whose last health check is stale.
func (m *Monitor) Sweep(ctx context.Context) {
	running := models.DeploymentRunning
	deps, err := m.store.ListDeployments(ctx, &database.DeploymentFilter{Status: &running})
	if err != nil {
		m.log.WithError(err).Warn("health sweep failed")
		return
	}

	now := time.Now().UTC()
	for _, dep := range deps {
		if dep.HealthCheckURL == "" || !dep.HealthStatus.ShouldContinueMonitoring() {
			continue
		}
		if !m.stale(dep, now) {
			continue
		}
		m.probe(ctx, dep)
	}
	m.forget(deps)
}

// stale reports whether the deployment is due for a probe. A deployment
// checked within the last interval is skipped until the next sweep.
func (m *Monitor) stale(dep *models.McpServerDeployment, now time.Time) bool {
	if m.opts.Interval <= 0 || dep.LastHealthCheck == nil {
		return true
	}
	return now.Sub(*dep.LastHealthCheck) >= m.opts.Interval
}

func (m *Monitor) probe(ctx context.Context, dep *models.McpServerDeployment) {
	health := m.classify(ctx, dep.HealthCheckURL)
	now := time.Now().UTC()

	if err := m.store.SetDeploymentHealth(ctx, dep.ID, health, now); err != nil {
		m.log.WithError(err).WithField("deployment", dep.ID).Warn("failed to record health")
		return
	}
	if health != dep.HealthStatus {
		m.publish(dep.ID, dep.HealthStatus, health)
	}

	if health != models.HealthUnhealthy {
		m.resetStrikes(dep.ID)
		return
	}

	count := m.addStrike(dep.ID)
	if count < m.opts.UnhealthyThreshold {
		return
	}
	m.resetStrikes(dep.ID)

	m.log.WithFields(logrus.Fields{
		"deployment": dep.ID,
		"server":     dep.ServerName,
		"strikes":    count,
	}).Warn("deployment persistently unhealthy")
	m.bus.Publish(models.StatusChange{
		ResourceType: models.ResourceDeployment,
		ResourceID:   dep.ID.String(),
		OldStatus:    string(models.HealthUnhealthy),
		NewStatus:    string(models.HealthUnhealthy),
		Timestamp:    time.Now().UTC(),
		Message:      "deployment failed consecutive health checks",
	})

	if m.opts.AutoRestart && m.restarter != nil {
		if err := m.restarter.RestartRuntime(ctx, dep.ID); err != nil {
			m.log.WithError(err).WithField("deployment", dep.ID).Warn("auto-restart failed")
		}
	}
}

// classify maps a probe response onto a health status: 2xx is healthy,
// throttling and transient unavailability degrade, everything else is
// unhealthy.
func (m *Monitor) classify(ctx context.Context, healthURL string) models.HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return models.HealthUnhealthy
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return models.HealthUnhealthy
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return models.HealthHealthy
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return models.HealthDegraded
	default:
		return models.HealthUnhealthy
	}
}

func (m *Monitor) addStrike(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strikes[id]++
	return m.strikes[id]
}

func (m *Monitor) resetStrikes(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strikes, id)
}

// forget drops strike counters for deployments no longer running.
func (m *Monitor) forget(running []*models.McpServerDeployment) {
	alive := make(map[uuid.UUID]bool, len(running))
	for _, dep := range running {
		alive[dep.ID] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.strikes {
		if !alive[id] {
			delete(m.strikes, id)
		}
	}
}

func (m *Monitor) publish(id uuid.UUID, old, next models.HealthStatus) {
	m.bus.Publish(models.StatusChange{
		ResourceType: models.ResourceDeployment,
		ResourceID:   id.String(),
		OldStatus:    string(old),
		NewStatus:    string(next),
		Timestamp:    time.Now().UTC(),
		Message:      "health changed",
	})
}
