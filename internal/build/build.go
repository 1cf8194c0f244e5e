// Package build turns generation artifacts into container images via the
// local docker daemon. Build output is captured line by line so failures
// ship with their logs.
package build

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// Error reports a failed image build together with the captured output.
type Error struct {
	Image string
	Logs  []models.LogEntry
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("build of %s failed: %v", e.Image, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Builder produces a container image for an artifact. Implementations must
// be safe for concurrent use.
type Builder interface {
	// Build returns the image reference and the captured build logs. On a
	// cache hit (an image for this artifact version already exists) the
	// build is skipped.
	Build(ctx context.Context, artifact *models.GenerationArtifact) (models.ImageRef, []models.LogEntry, error)
}

// DockerBuilder shells out to the docker CLI.
type DockerBuilder struct {
	buildDir string
	repo     string
	log      *logrus.Logger
}

// NewDockerBuilder builds images under repo, staging build contexts in
// buildDir.
func NewDockerBuilder(buildDir, repo string, log *logrus.Logger) *DockerBuilder {
	return &DockerBuilder{buildDir: buildDir, repo: repo, log: log}
}

func (b *DockerBuilder) Build(ctx context.Context, artifact *models.GenerationArtifact) (models.ImageRef, []models.LogEntry, error) {
	ref := models.ImageRef{
		Name: fmt.Sprintf("%s/%s", b.repo, artifact.ServerName),
		Tag:  artifact.Version,
	}
	tag, err := name.NewTag(ref.String())
	if err != nil {
		return models.ImageRef{}, nil, &Error{Image: ref.String(), Err: fmt.Errorf("invalid image reference: %w", err)}
	}

	if b.imageExists(ctx, tag.String()) {
		b.log.WithField("image", tag.String()).Debug("image cache hit, skipping build")
		return ref, []models.LogEntry{logLine("info", "image %s already built, skipping", tag.String())}, nil
	}

	contextDir, err := b.writeContext(artifact)
	if err != nil {
		return models.ImageRef{}, nil, &Error{Image: ref.String(), Err: err}
	}
	defer os.RemoveAll(contextDir)

	logs := []models.LogEntry{logLine("info", "building image %s", tag.String())}
	cmd := exec.CommandContext(ctx, "docker", "build", "-t", tag.String(), contextDir)
	output, err := cmd.CombinedOutput()
	logs = append(logs, captureLines(output)...)
	if err != nil {
		return models.ImageRef{}, logs, &Error{Image: ref.String(), Logs: logs, Err: err}
	}

	b.log.WithField("image", tag.String()).Info("image built")
	logs = append(logs, logLine("info", "image %s built", tag.String()))
	return ref, logs, nil
}

func (b *DockerBuilder) imageExists(ctx context.Context, image string) bool {
	cmd := exec.CommandContext(ctx, "docker", "image", "inspect", image)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// writeContext stages the artifact files into a fresh build context
// directory.
func (b *DockerBuilder) writeContext(artifact *models.GenerationArtifact) (string, error) {
	dir := filepath.Join(b.buildDir, fmt.Sprintf("%s-%s", artifact.ServerName, artifact.Version))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	for fileName, content := range artifact.Files {
		path := filepath.Join(dir, fileName)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("failed to create build context: %w", err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", fileName, err)
		}
	}
	return dir, nil
}

// NoopBuilder returns image references without touching docker. Used when
// builds are disabled and in tests.
type NoopBuilder struct {
	Repo string
}

func (b *NoopBuilder) Build(_ context.Context, artifact *models.GenerationArtifact) (models.ImageRef, []models.LogEntry, error) {
	ref := models.ImageRef{
		Name: fmt.Sprintf("%s/%s", b.Repo, artifact.ServerName),
		Tag:  artifact.Version,
	}
	return ref, []models.LogEntry{logLine("info", "build skipped for %s", ref.String())}, nil
}

func captureLines(output []byte) []models.LogEntry {
	var entries []models.LogEntry
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" {
			continue
		}
		entries = append(entries, logLine("info", "%s", line))
	}
	return entries
}

func logLine(level, format string, args ...any) models.LogEntry {
	return models.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	}
}
