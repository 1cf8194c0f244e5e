package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// HealthBody is the health check response payload.
type HealthBody struct {
	Status string `json:"status" example:"ok"`
}

// PingBody is the ping response payload.
type PingBody struct {
	Pong bool `json:"pong" example:"true"`
}

// VersionBody carries build and version information.
type VersionBody struct {
	Version   string `json:"version" example:"1.0.0"`
	GitCommit string `json:"gitCommit,omitempty" example:"a1b2c3d"`
	BuildDate string `json:"buildDate,omitempty" example:"2026-01-15T10:00:00Z"`
}

// RegisterHealthEndpoint registers the health check route.
func RegisterHealthEndpoint(api huma.API, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        basePath + "/health",
		Summary:     "Health check",
		Tags:        []string{"health"},
	}, func(ctx context.Context, input *struct{}) (*Response[HealthBody], error) {
		return &Response[HealthBody]{Body: HealthBody{Status: "ok"}}, nil
	})
}

// RegisterPingEndpoint registers a simple connectivity check.
func RegisterPingEndpoint(api huma.API, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID: "ping",
		Method:      http.MethodGet,
		Path:        basePath + "/ping",
		Summary:     "Ping",
		Tags:        []string{"ping"},
	}, func(ctx context.Context, input *struct{}) (*Response[PingBody], error) {
		return &Response[PingBody]{Body: PingBody{Pong: true}}, nil
	})
}

// RegisterVersionEndpoint registers the version information route.
func RegisterVersionEndpoint(api huma.API, basePath string, info *VersionBody) {
	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        basePath + "/version",
		Summary:     "Version information",
		Tags:        []string{"version"},
	}, func(ctx context.Context, input *struct{}) (*Response[VersionBody], error) {
		return &Response[VersionBody]{Body: *info}, nil
	})
}
