package orchestrator

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/types"
	"github.com/sirupsen/logrus"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// ComposeRuntime runs deployments as docker compose projects, one project
// per deployment.
type ComposeRuntime struct {
	runtimeDir string
	log        *logrus.Logger
}

// NewComposeRuntime stores compose working files under runtimeDir.
func NewComposeRuntime(runtimeDir string, log *logrus.Logger) *ComposeRuntime {
	return &ComposeRuntime{runtimeDir: runtimeDir, log: log}
}

func (r *ComposeRuntime) Start(ctx context.Context, spec *StartSpec) (*RuntimeInfo, error) {
	dep := spec.Deployment

	hostPort := dep.HostPort
	if hostPort == 0 {
		var err error
		hostPort, err = allocateHostPort()
		if err != nil {
			return nil, fmt.Errorf("failed to allocate host port: %w", err)
		}
	}

	project, err := r.composeProject(spec, hostPort)
	if err != nil {
		return nil, err
	}
	composeYAML, err := project.MarshalYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal docker compose yaml: %w", err)
	}

	dir := r.deploymentDir(dep)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runtime directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "docker-compose.yaml"), composeYAML, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write docker compose yaml: %w", err)
	}

	cmd := exec.CommandContext(ctx, "docker", "compose", "-p", projectName(dep), "up", "-d", "--remove-orphans", "--force-recreate")
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("docker compose up failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	containerID, err := r.containerID(ctx, dep)
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"deployment": dep.ID,
		"server":     dep.ServerName,
		"hostPort":   hostPort,
	}).Info("containers started")

	return &RuntimeInfo{
		ContainerID:    containerID,
		HostPort:       hostPort,
		EndpointURL:    fmt.Sprintf("http://localhost:%d/mcp", hostPort),
		HealthCheckURL: fmt.Sprintf("http://localhost:%d/health", hostPort),
	}, nil
}

func (r *ComposeRuntime) Stop(ctx context.Context, dep *models.McpServerDeployment) error {
	cmd := exec.CommandContext(ctx, "docker", "compose", "-p", projectName(dep), "down", "--remove-orphans")
	cmd.Dir = r.deploymentDir(dep)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker compose down failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (r *ComposeRuntime) Restart(ctx context.Context, dep *models.McpServerDeployment) error {
	cmd := exec.CommandContext(ctx, "docker", "compose", "-p", projectName(dep), "restart")
	cmd.Dir = r.deploymentDir(dep)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker compose restart failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (r *ComposeRuntime) Scale(ctx context.Context, dep *models.McpServerDeployment, replicas int) error {
	scaleArg := fmt.Sprintf("%s=%d", dep.ServerName, replicas)
	cmd := exec.CommandContext(ctx, "docker", "compose", "-p", projectName(dep), "up", "-d", "--scale", scaleArg, "--no-recreate")
	cmd.Dir = r.deploymentDir(dep)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker compose scale failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (r *ComposeRuntime) Logs(ctx context.Context, dep *models.McpServerDeployment, tail int) ([]models.LogEntry, error) {
	if tail <= 0 {
		tail = 100
	}
	cmd := exec.CommandContext(ctx, "docker", "compose", "-p", projectName(dep), "logs", "--no-color", "--tail", fmt.Sprint(tail))
	cmd.Dir = r.deploymentDir(dep)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("docker compose logs failed: %w", err)
	}

	var entries []models.LogEntry
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		entries = append(entries, models.LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     "info",
			Message:   line,
		})
	}
	return entries, nil
}

// composeProject builds the one-service compose project for a deployment.
func (r *ComposeRuntime) composeProject(spec *StartSpec, hostPort int) (*types.Project, error) {
	dep := spec.Deployment

	envValues := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		envValues = append(envValues, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(envValues)

	service := types.ServiceConfig{
		Name:        dep.ServerName,
		Image:       spec.Image.String(),
		Environment: types.NewMappingWithEquals(envValues),
		Ports: []types.ServicePortConfig{{
			Target:    uint32(dep.ContainerPort),
			Published: fmt.Sprintf("%d", hostPort),
		}},
		Restart: types.RestartPolicyUnlessStopped,
	}
	if dep.ReplicaCount > 1 {
		replicas := dep.ReplicaCount
		service.Deploy = &types.DeployConfig{Replicas: &replicas}
		// Published host ports conflict across replicas.
		service.Ports = nil
	}
	if dep.CPULimit != "" || dep.MemoryLimit != "" {
		if service.Deploy == nil {
			service.Deploy = &types.DeployConfig{}
		}
		limits := &types.Resource{NanoCPUs: parseNanoCPUs(dep.CPULimit)}
		if dep.MemoryLimit != "" {
			memory, err := parseMemoryLimit(dep.MemoryLimit)
			if err != nil {
				return nil, err
			}
			limits.MemoryBytes = memory
		}
		service.Deploy.Resources = types.Resources{Limits: limits}
	}

	return &types.Project{
		Name:       projectName(dep),
		WorkingDir: r.deploymentDir(dep),
		Services:   map[string]types.ServiceConfig{dep.ServerName: service},
	}, nil
}

// containerID asks compose for the id of the first container of the
// project.
func (r *ComposeRuntime) containerID(ctx context.Context, dep *models.McpServerDeployment) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", "compose", "-p", projectName(dep), "ps", "-q")
	cmd.Dir = r.deploymentDir(dep)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("docker compose ps failed: %w", err)
	}
	ids := strings.Fields(string(output))
	if len(ids) == 0 {
		return "", fmt.Errorf("no containers found for deployment %s", dep.ID)
	}
	return ids[0], nil
}

func (r *ComposeRuntime) deploymentDir(dep *models.McpServerDeployment) string {
	return filepath.Join(r.runtimeDir, dep.ID.String())
}

// projectName derives a stable compose project name from the deployment id.
func projectName(dep *models.McpServerDeployment) string {
	return "mcphub-" + strings.ReplaceAll(dep.ID.String(), "-", "")[:12]
}

// allocateHostPort grabs a free TCP port from the kernel.
func allocateHostPort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

func parseNanoCPUs(limit string) types.NanoCPUs {
	var cpus float32
	if _, err := fmt.Sscanf(limit, "%f", &cpus); err != nil || cpus <= 0 {
		return 0
	}
	return types.NanoCPUs(cpus)
}

// parseMemoryLimit understands docker-style suffixes: "256m", "1g", plain
// bytes.
func parseMemoryLimit(limit string) (types.UnitBytes, error) {
	lower := strings.ToLower(strings.TrimSpace(limit))
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(lower, "g"):
		multiplier = 1 << 30
		lower = strings.TrimSuffix(lower, "g")
	case strings.HasSuffix(lower, "m"):
		multiplier = 1 << 20
		lower = strings.TrimSuffix(lower, "m")
	case strings.HasSuffix(lower, "k"):
		multiplier = 1 << 10
		lower = strings.TrimSuffix(lower, "k")
	}
	var value int64
	if _, err := fmt.Sscanf(lower, "%d", &value); err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid memory limit %q", limit)
	}
	return types.UnitBytes(value * multiplier), nil
}
