// Package generation turns an ACTIVE registration and its discovered
// endpoints into a buildable MCP server artifact. Generation is
// deterministic: the same registration and endpoint set always produces the
// same files and therefore the same version.
package generation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// versionLen is how many digest hex chars form the artifact version.
const versionLen = 12

// Error reports a generation failure, attributed to the endpoint or file
// that caused it when known.
type Error struct {
	Endpoint string
	File     string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Endpoint != "":
		return fmt.Sprintf("generation failed for endpoint %s: %v", e.Endpoint, e.Err)
	case e.File != "":
		return fmt.Sprintf("generation failed for file %s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// toolDescriptor is the manifest entry for one generated MCP tool. It is
// written twice per artifact: manifest.yaml for the platform and
// manifest.json embedded into the container image.
type toolDescriptor struct {
	Name            string `yaml:"name" json:"name"`
	Description     string `yaml:"description,omitempty" json:"description,omitempty"`
	HTTPMethod      string `yaml:"httpMethod" json:"httpMethod"`
	Path            string `yaml:"path" json:"path"`
	ContentType     string `yaml:"contentType,omitempty" json:"contentType,omitempty"`
	RequestSchema   string `yaml:"requestSchema,omitempty" json:"requestSchema,omitempty"`
	ResponseSchema  string `yaml:"responseSchema,omitempty" json:"responseSchema,omitempty"`
	RequiresAuth    bool   `yaml:"requiresAuth" json:"requiresAuth"`
	RateLimit       int    `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
	CacheTTLSeconds int    `yaml:"cacheTtlSeconds,omitempty" json:"cacheTtlSeconds,omitempty"`
}

// manifest is the deployable description of a generated server.
type manifest struct {
	Server   string           `yaml:"server" json:"server"`
	ApiType  string           `yaml:"apiType" json:"apiType"`
	BaseURL  string           `yaml:"baseUrl" json:"baseUrl"`
	AuthType string           `yaml:"authType" json:"authType"`
	Port     int              `yaml:"port" json:"port"`
	Tools    []toolDescriptor `yaml:"tools" json:"tools"`
}

// Engine renders MCP server artifacts.
type Engine struct {
	log           *logrus.Logger
	containerPort int
}

// NewEngine builds a generation engine. containerPort is the port generated
// servers listen on inside their container.
func NewEngine(log *logrus.Logger, containerPort int) *Engine {
	return &Engine{log: log, containerPort: containerPort}
}

// Generate renders the artifact for a registration. The registration must
// be in a status that allows deployment.
func (e *Engine) Generate(reg *models.ApiRegistration, endpoints []*models.ApiEndpoint) (*models.GenerationArtifact, error) {
	if !reg.Status.AllowsDeployment() {
		return nil, &Error{Err: fmt.Errorf("registration is %s, generation requires an active registration", reg.Status)}
	}

	tools := make([]toolDescriptor, 0, len(endpoints))
	seen := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		name := ToolName(ep)
		if name == "" {
			return nil, &Error{Endpoint: ep.Path, Err: fmt.Errorf("endpoint yields an empty tool name")}
		}
		if seen[name] {
			return nil, &Error{Endpoint: name, Err: fmt.Errorf("duplicate tool name")}
		}
		seen[name] = true
		tools = append(tools, toolDescriptor{
			Name:            name,
			Description:     ep.Description,
			HTTPMethod:      ep.HTTPMethod,
			Path:            ep.Path,
			ContentType:     ep.ContentType,
			RequestSchema:   ep.RequestSchema,
			ResponseSchema:  ep.ResponseSchema,
			RequiresAuth:    ep.RequiresAuth,
			RateLimit:       ep.RateLimit,
			TimeoutSeconds:  ep.TimeoutSeconds,
			CacheTTLSeconds: ep.CacheTTLSeconds,
		})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	serverName := ServerName(reg.Name)
	m := manifest{
		Server:   serverName,
		ApiType:  string(reg.ApiType),
		BaseURL:  reg.BaseURL,
		AuthType: string(reg.AuthType),
		Port:     e.containerPort,
		Tools:    tools,
	}

	files := make(map[string][]byte, 5)

	manifestYAML, err := yaml.Marshal(&m)
	if err != nil {
		return nil, &Error{File: "manifest.yaml", Err: err}
	}
	files["manifest.yaml"] = manifestYAML

	manifestJSON, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return nil, &Error{File: "manifest.json", Err: err}
	}
	files["manifest.json"] = manifestJSON

	for name, tmpl := range artifactTemplates {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, &m); err != nil {
			return nil, &Error{File: name, Err: err}
		}
		files[name] = buf.Bytes()
	}

	digest := fileDigest(files)
	artifact := &models.GenerationArtifact{
		RegistrationID: reg.ID,
		ServerName:     serverName,
		Version:        digest[:versionLen],
		Files:          files,
		Digest:         digest,
		ToolCount:      len(tools),
	}

	e.log.WithFields(logrus.Fields{
		"registration": reg.ID,
		"server":       serverName,
		"version":      artifact.Version,
		"tools":        artifact.ToolCount,
	}).Info("artifact generated")
	return artifact, nil
}

// fileDigest hashes the artifact contents in stable filename order.
func fileDigest(files map[string][]byte) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(files[name])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ServerName derives the generated server's name from the registration
// name: lowercase, non-alphanumerics collapsed to hyphens, "-mcp" suffix.
func ServerName(registrationName string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(registrationName) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	if name == "" {
		name = "server"
	}
	return name + "-mcp"
}

// ToolName sanitizes an endpoint name into a valid MCP tool name.
func ToolName(ep *models.ApiEndpoint) string {
	name := ep.Name
	if name == "" {
		name = strings.ToLower(ep.HTTPMethod) + "_" + strings.Trim(ep.Path, "/")
	}
	var b strings.Builder
	lastSep := true
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastSep = false
		case !lastSep:
			b.WriteByte('_')
			lastSep = true
		}
	}
	return strings.Trim(b.String(), "_")
}
