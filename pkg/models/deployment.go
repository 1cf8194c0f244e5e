package models

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentStatus is the lifecycle state of an MCP server deployment.
type DeploymentStatus string

const (
	DeploymentPending   DeploymentStatus = "PENDING"
	DeploymentDeploying DeploymentStatus = "DEPLOYING"
	DeploymentRunning   DeploymentStatus = "RUNNING"
	DeploymentStopping  DeploymentStatus = "STOPPING"
	DeploymentStopped   DeploymentStatus = "STOPPED"
	DeploymentFailed    DeploymentStatus = "FAILED"
	DeploymentUpdating  DeploymentStatus = "UPDATING"
	DeploymentScaling   DeploymentStatus = "SCALING"
)

// deploymentTransitions is the closed transition table for deployment
// statuses. Restarting a stopped or failed deployment goes back through
// PENDING.
var deploymentTransitions = map[DeploymentStatus][]DeploymentStatus{
	DeploymentPending:   {DeploymentDeploying, DeploymentFailed},
	DeploymentDeploying: {DeploymentRunning, DeploymentFailed},
	DeploymentRunning:   {DeploymentStopping, DeploymentUpdating, DeploymentScaling, DeploymentFailed},
	DeploymentUpdating:  {DeploymentRunning, DeploymentStopping, DeploymentFailed},
	DeploymentScaling:   {DeploymentRunning, DeploymentStopping, DeploymentFailed},
	DeploymentStopping:  {DeploymentStopped, DeploymentFailed},
	DeploymentStopped:   {DeploymentPending},
	DeploymentFailed:    {DeploymentPending},
}

// CanTransitionTo reports whether moving from s to next is a legal
// deployment transition.
func (s DeploymentStatus) CanTransitionTo(next DeploymentStatus) bool {
	for _, allowed := range deploymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTransitional reports whether the deployment is between stable states.
func (s DeploymentStatus) IsTransitional() bool {
	switch s {
	case DeploymentPending, DeploymentDeploying, DeploymentStopping, DeploymentUpdating, DeploymentScaling:
		return true
	}
	return false
}

// IsFinal reports whether the deployment has reached a resting state that
// permits deletion.
func (s DeploymentStatus) IsFinal() bool {
	return s == DeploymentStopped || s == DeploymentFailed
}

// IsActive reports whether the deployment still holds (or is acquiring)
// runtime resources. Registrations with active deployments cannot be deleted.
func (s DeploymentStatus) IsActive() bool {
	return s == DeploymentRunning || s.IsTransitional()
}

// CanBeStopped reports whether a stop request is valid in this state.
func (s DeploymentStatus) CanBeStopped() bool {
	return s == DeploymentRunning || s == DeploymentUpdating || s == DeploymentScaling
}

// CanBeRestarted reports whether a restart request is valid in this state.
func (s DeploymentStatus) CanBeRestarted() bool {
	return s == DeploymentStopped || s == DeploymentFailed
}

// CanBeUpdated reports whether a rolling image update may start.
func (s DeploymentStatus) CanBeUpdated() bool {
	return s == DeploymentRunning
}

// CanBeScaled reports whether a replica change may start.
func (s DeploymentStatus) CanBeScaled() bool {
	return s == DeploymentRunning
}

// HealthStatus is the observed health of a deployment, orthogonal to its
// lifecycle status.
type HealthStatus string

const (
	HealthUnknown      HealthStatus = "UNKNOWN"
	HealthStarting     HealthStatus = "STARTING"
	HealthHealthy      HealthStatus = "HEALTHY"
	HealthUnhealthy    HealthStatus = "UNHEALTHY"
	HealthDegraded     HealthStatus = "DEGRADED"
	HealthShuttingDown HealthStatus = "SHUTTING_DOWN"
)

// IsOperational reports whether the server is serving traffic.
func (h HealthStatus) IsOperational() bool {
	return h == HealthHealthy || h == HealthDegraded
}

// ShouldContinueMonitoring reports whether the health monitor keeps probing
// a deployment in this health state.
func (h HealthStatus) ShouldContinueMonitoring() bool {
	return h != HealthShuttingDown
}

// LogKind distinguishes the log streams attached to a deployment.
type LogKind string

const (
	LogKindGeneration LogKind = "generation"
	LogKindBuild      LogKind = "build"
	LogKindRuntime    LogKind = "runtime"
)

// LogEntry is a single structured log line captured from a pipeline stage.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// ResourceSpec carries the runtime resource requests for a deployment.
type ResourceSpec struct {
	CPULimit    string `json:"cpuLimit,omitempty"`    // e.g. "0.5"
	MemoryLimit string `json:"memoryLimit,omitempty"` // e.g. "256m"
	Replicas    int    `json:"replicas,omitempty"`
}

// McpServerDeployment is one running (or previously running) instance of a
// generated MCP server.
type McpServerDeployment struct {
	ID             uuid.UUID `json:"id"`
	RegistrationID uuid.UUID `json:"registrationId"`
	ServerName     string    `json:"serverName"`
	Version        string    `json:"version"`

	Status DeploymentStatus `json:"status"`

	ContainerID    string `json:"containerId,omitempty"`
	ContainerImage string `json:"containerImage,omitempty"`
	ContainerPort  int    `json:"containerPort,omitempty"`
	HostPort       int    `json:"hostPort,omitempty"`
	EndpointURL    string `json:"endpointUrl,omitempty"`
	HealthCheckURL string `json:"healthCheckUrl,omitempty"`

	CPULimit     string `json:"cpuLimit,omitempty"`
	MemoryLimit  string `json:"memoryLimit,omitempty"`
	ReplicaCount int    `json:"replicaCount"`

	HealthStatus    HealthStatus `json:"healthStatus"`
	LastHealthCheck *time.Time   `json:"lastHealthCheck,omitempty"`

	// ErrorMessage is set exactly when Status is FAILED.
	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	StoppedAt *time.Time `json:"stoppedAt,omitempty"`
}
