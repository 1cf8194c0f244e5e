package generation

import "text/template"

// artifactTemplates renders the non-manifest files of an artifact. Every
// template is a pure function of the manifest so artifacts stay
// reproducible.
var artifactTemplates = map[string]*template.Template{
	"main.go":    template.Must(template.New("main.go").Parse(serverMainTemplate)),
	"go.mod":     template.Must(template.New("go.mod").Parse(serverGoModTemplate)),
	"Dockerfile": template.Must(template.New("Dockerfile").Parse(dockerfileTemplate)),
}

// serverMainTemplate is the generated MCP server. It loads manifest.json at
// startup and bridges each tool call to the upstream API, picking up
// credentials from MCP_UPSTREAM_* environment variables injected at deploy
// time. The manifest structs carry no field tags: encoding/json matches the
// camelCase manifest keys case-insensitively.
const serverMainTemplate = `package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type Manifest struct {
	Server   string
	BaseURL  string
	AuthType string
	Port     int
	Tools    []Tool
}

type Tool struct {
	Name           string
	Description    string
	HTTPMethod     string
	Path           string
	ContentType    string
	RequiresAuth   bool
	TimeoutSeconds int
}

func loadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func authorize(req *http.Request) {
	switch os.Getenv("MCP_UPSTREAM_AUTH_TYPE") {
	case "API_KEY":
		header := os.Getenv("MCP_UPSTREAM_API_KEY_HEADER")
		if header == "" {
			header = "X-Api-Key"
		}
		req.Header.Set(header, os.Getenv("MCP_UPSTREAM_API_KEY"))
	case "BASIC_AUTH":
		req.Header.Set("Authorization", "Basic "+os.Getenv("MCP_UPSTREAM_BASIC_AUTH"))
	case "BEARER_TOKEN", "OAUTH2_AUTHORIZATION_CODE":
		req.Header.Set("Authorization", "Bearer "+os.Getenv("MCP_UPSTREAM_TOKEN"))
	}
}

func register(server *mcp.Server, m *Manifest, tool Tool) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        tool.Name,
		Description: tool.Description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		timeout := 30 * time.Second
		if tool.TimeoutSeconds > 0 {
			timeout = time.Duration(tool.TimeoutSeconds) * time.Second
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		path := tool.Path
		for key, value := range args {
			path = strings.ReplaceAll(path, "{"+key+"}", fmt.Sprint(value))
		}

		var body io.Reader
		if tool.HTTPMethod != http.MethodGet && len(args) > 0 {
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, nil, err
			}
			body = strings.NewReader(string(raw))
		}

		req, err := http.NewRequestWithContext(ctx, tool.HTTPMethod, m.BaseURL+path, body)
		if err != nil {
			return nil, nil, err
		}
		if body != nil {
			contentType := tool.ContentType
			if contentType == "" {
				contentType = "application/json"
			}
			req.Header.Set("Content-Type", contentType)
		}
		if tool.RequiresAuth {
			authorize(req)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, payload)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
		}, nil, nil
	})
}

func main() {
	m, err := loadManifest("manifest.json")
	if err != nil {
		log.Fatalf("failed to load manifest: %v", err)
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    m.Server,
		Version: os.Getenv("MCP_SERVER_VERSION"),
	}, &mcp.ServerOptions{HasTools: true})

	for _, tool := range m.Tools {
		register(server, m, tool)
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := fmt.Sprintf(":%d", m.Port)
	log.Printf("%s listening on %s (%d tools)", m.Server, addr, len(m.Tools))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
`

const serverGoModTemplate = `module {{.Server}}

go 1.25

require github.com/modelcontextprotocol/go-sdk v1.2.0
`

const dockerfileTemplate = `FROM golang:1.25-alpine AS build
WORKDIR /src
COPY . .
RUN go mod download && CGO_ENABLED=0 go build -o /out/server .

FROM alpine:3.20
RUN adduser -D -u 10001 mcp
USER mcp
WORKDIR /app
COPY --from=build /out/server /app/server
COPY manifest.json /app/manifest.json
EXPOSE {{.Port}}
ENTRYPOINT ["/app/server"]
`
