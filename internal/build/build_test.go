package build

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testArtifact() *models.GenerationArtifact {
	return &models.GenerationArtifact{
		RegistrationID: uuid.New(),
		ServerName:     "weather-api-mcp",
		Version:        "abc123def456",
		Files: map[string][]byte{
			"Dockerfile":    []byte("FROM scratch\n"),
			"manifest.json": []byte("{}"),
		},
	}
}

func TestNoopBuilderReturnsReference(t *testing.T) {
	b := &NoopBuilder{Repo: "mcphub"}
	ref, logs, err := b.Build(context.Background(), testArtifact())
	require.NoError(t, err)
	assert.Equal(t, "mcphub/weather-api-mcp:abc123def456", ref.String())
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Message, "build skipped")
}

func TestDockerBuilderRejectsInvalidReference(t *testing.T) {
	b := NewDockerBuilder(t.TempDir(), "MCPHUB/Invalid Repo", discardLogger())
	artifact := testArtifact()
	_, _, err := b.Build(context.Background(), artifact)
	require.Error(t, err)
	var buildErr *Error
	assert.ErrorAs(t, err, &buildErr)
}

func TestWriteContextStagesFiles(t *testing.T) {
	dir := t.TempDir()
	b := NewDockerBuilder(dir, "mcphub", discardLogger())

	contextDir, err := b.writeContext(testArtifact())
	require.NoError(t, err)
	assert.Contains(t, contextDir, "weather-api-mcp-abc123def456")
	assert.FileExists(t, contextDir+"/Dockerfile")
	assert.FileExists(t, contextDir+"/manifest.json")
}

func TestCaptureLinesSkipsBlank(t *testing.T) {
	entries := captureLines([]byte("step 1\n\nstep 2  \n"))
	require.Len(t, entries, 2)
	assert.Equal(t, "step 1", entries[0].Message)
	assert.Equal(t, "step 2", entries[1].Message)
}
