package orchestrator

import (
	"context"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// RuntimeInfo is what the container runtime reports back after starting a
// deployment.
type RuntimeInfo struct {
	ContainerID    string
	HostPort       int
	EndpointURL    string
	HealthCheckURL string
}

// StartSpec describes the container instance a deployment needs.
type StartSpec struct {
	Deployment *models.McpServerDeployment
	Image      models.ImageRef
	// Env is injected into the container, including upstream credentials.
	Env map[string]string
}

// ContainerRuntime manages container instances for deployments.
// Implementations must be safe for concurrent use across deployments;
// the orchestrator serializes calls per deployment.
type ContainerRuntime interface {
	Start(ctx context.Context, spec *StartSpec) (*RuntimeInfo, error)
	Stop(ctx context.Context, dep *models.McpServerDeployment) error
	Restart(ctx context.Context, dep *models.McpServerDeployment) error
	Scale(ctx context.Context, dep *models.McpServerDeployment, replicas int) error
	Logs(ctx context.Context, dep *models.McpServerDeployment, tail int) ([]models.LogEntry, error)
}
