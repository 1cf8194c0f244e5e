// Package hubserver exposes the platform itself over MCP: discovery and
// lifecycle tools for registrations and deployments, so agents can drive
// the hub with the same protocol the generated servers speak.
package hubserver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub-dev/mcphub/internal/orchestrator"
	"github.com/mcphub-dev/mcphub/internal/registration"
	"github.com/mcphub-dev/mcphub/internal/version"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

const defaultOwner = "default"

// NewServer constructs an MCP server backed by the registration service and
// the deployment orchestrator.
func NewServer(regs *registration.Service, orch *orchestrator.Orchestrator) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mcphub",
		Version: version.Version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})

	addRegistrationTools(server, regs)
	addDeploymentTools(server, orch)
	addMetaTools(server)

	return server
}

type ownerArgs struct {
	Owner string `json:"owner,omitempty"`
}

type registrationIDArgs struct {
	Owner string `json:"owner,omitempty"`
	ID    string `json:"id"`
}

func (a ownerArgs) owner() string {
	if a.Owner == "" {
		return defaultOwner
	}
	return a.Owner
}

func (a registrationIDArgs) owner() string {
	if a.Owner == "" {
		return defaultOwner
	}
	return a.Owner
}

// Tool results carry ids as strings. The SDK infers each tool's output
// schema from the Go result type, and a uuid.UUID field would be declared
// as a byte array while json.Marshal emits a string.
type registrationResult struct {
	ID              string                    `json:"id"`
	OwnerID         string                    `json:"ownerId"`
	Name            string                    `json:"name"`
	Description     string                    `json:"description,omitempty"`
	ApiType         models.ApiType            `json:"apiType"`
	BaseURL         string                    `json:"baseUrl"`
	SpecURL         string                    `json:"specUrl,omitempty"`
	AuthType        models.AuthenticationType `json:"authType"`
	Status          models.RegistrationStatus `json:"status"`
	ValidationError string                    `json:"validationError,omitempty"`
	LastValidatedAt *time.Time                `json:"lastValidatedAt,omitempty"`
	CreatedAt       time.Time                 `json:"createdAt"`
	UpdatedAt       time.Time                 `json:"updatedAt"`
}

func toRegistrationResult(r *models.ApiRegistration) registrationResult {
	return registrationResult{
		ID:              r.ID.String(),
		OwnerID:         r.OwnerID,
		Name:            r.Name,
		Description:     r.Description,
		ApiType:         r.ApiType,
		BaseURL:         r.BaseURL,
		SpecURL:         r.SpecURL,
		AuthType:        r.AuthType,
		Status:          r.Status,
		ValidationError: r.ValidationError,
		LastValidatedAt: r.LastValidatedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type endpointResult struct {
	ID             string `json:"id"`
	RegistrationID string `json:"registrationId"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	HTTPMethod     string `json:"httpMethod"`
	Path           string `json:"path"`
	ContentType    string `json:"contentType"`
	RequiresAuth   bool   `json:"requiresAuth"`
}

func toEndpointResult(e *models.ApiEndpoint) endpointResult {
	return endpointResult{
		ID:             e.ID.String(),
		RegistrationID: e.RegistrationID.String(),
		Name:           e.Name,
		Description:    e.Description,
		HTTPMethod:     e.HTTPMethod,
		Path:           e.Path,
		ContentType:    e.ContentType,
		RequiresAuth:   e.RequiresAuth,
	}
}

type deploymentResult struct {
	ID             string                  `json:"id"`
	RegistrationID string                  `json:"registrationId"`
	ServerName     string                  `json:"serverName"`
	Version        string                  `json:"version"`
	Status         models.DeploymentStatus `json:"status"`
	ContainerImage string                  `json:"containerImage,omitempty"`
	EndpointURL    string                  `json:"endpointUrl,omitempty"`
	HealthCheckURL string                  `json:"healthCheckUrl,omitempty"`
	ReplicaCount   int                     `json:"replicaCount"`
	HealthStatus   models.HealthStatus     `json:"healthStatus"`
	ErrorMessage   string                  `json:"errorMessage,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
	StartedAt      *time.Time              `json:"startedAt,omitempty"`
	StoppedAt      *time.Time              `json:"stoppedAt,omitempty"`
}

func toDeploymentResult(d *models.McpServerDeployment) deploymentResult {
	return deploymentResult{
		ID:             d.ID.String(),
		RegistrationID: d.RegistrationID.String(),
		ServerName:     d.ServerName,
		Version:        d.Version,
		Status:         d.Status,
		ContainerImage: d.ContainerImage,
		EndpointURL:    d.EndpointURL,
		HealthCheckURL: d.HealthCheckURL,
		ReplicaCount:   d.ReplicaCount,
		HealthStatus:   d.HealthStatus,
		ErrorMessage:   d.ErrorMessage,
		CreatedAt:      d.CreatedAt,
		StartedAt:      d.StartedAt,
		StoppedAt:      d.StoppedAt,
	}
}

type registrationListResponse struct {
	Registrations []registrationResult `json:"registrations"`
	Count         int                  `json:"count"`
}

type endpointListResponse struct {
	Endpoints []endpointResult `json:"endpoints"`
	Count     int              `json:"count"`
}

func addRegistrationTools(server *mcp.Server, regs *registration.Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_registrations",
		Description: "List the owner's API registrations with their validation status",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args ownerArgs) (*mcp.CallToolResult, registrationListResponse, error) {
		list, err := regs.List(ctx, args.owner())
		if err != nil {
			return nil, registrationListResponse{}, err
		}
		out := registrationListResponse{
			Registrations: make([]registrationResult, len(list)),
			Count:         len(list),
		}
		for i, r := range list {
			out.Registrations[i] = toRegistrationResult(r)
		}
		return nil, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_registration",
		Description: "Fetch a single API registration by id",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args registrationIDArgs) (*mcp.CallToolResult, registrationResult, error) {
		id, err := parseID(args.ID)
		if err != nil {
			return nil, registrationResult{}, err
		}
		reg, err := regs.Get(ctx, args.owner(), id)
		if err != nil {
			return nil, registrationResult{}, err
		}
		return nil, toRegistrationResult(reg), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_endpoints",
		Description: "List the endpoints discovered during validation of a registration",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args registrationIDArgs) (*mcp.CallToolResult, endpointListResponse, error) {
		id, err := parseID(args.ID)
		if err != nil {
			return nil, endpointListResponse{}, err
		}
		endpoints, err := regs.Endpoints(ctx, args.owner(), id)
		if err != nil {
			return nil, endpointListResponse{}, err
		}
		out := endpointListResponse{
			Endpoints: make([]endpointResult, len(endpoints)),
			Count:     len(endpoints),
		}
		for i, e := range endpoints {
			out.Endpoints[i] = toEndpointResult(e)
		}
		return nil, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate_registration",
		Description: "Trigger asynchronous re-validation of a registration",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args registrationIDArgs) (*mcp.CallToolResult, registrationResult, error) {
		id, err := parseID(args.ID)
		if err != nil {
			return nil, registrationResult{}, err
		}
		reg, err := regs.TriggerValidation(ctx, args.owner(), id)
		if err != nil {
			return nil, registrationResult{}, err
		}
		return nil, toRegistrationResult(reg), nil
	})
}

type deploymentListArgs struct {
	Owner          string `json:"owner,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
}

type deploymentIDArgs struct {
	Owner string `json:"owner,omitempty"`
	ID    string `json:"id"`
}

func (a deploymentIDArgs) owner() string {
	if a.Owner == "" {
		return defaultOwner
	}
	return a.Owner
}

type deploymentListResponse struct {
	Deployments []deploymentResult `json:"deployments"`
	Count       int                `json:"count"`
}

func addDeploymentTools(server *mcp.Server, orch *orchestrator.Orchestrator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_deployments",
		Description: "List MCP server deployments, optionally filtered by registration",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args deploymentListArgs) (*mcp.CallToolResult, deploymentListResponse, error) {
		owner := args.Owner
		if owner == "" {
			owner = defaultOwner
		}
		var registrationID *uuid.UUID
		if args.RegistrationID != "" {
			id, err := parseID(args.RegistrationID)
			if err != nil {
				return nil, deploymentListResponse{}, err
			}
			registrationID = &id
		}
		list, err := orch.List(ctx, owner, registrationID)
		if err != nil {
			return nil, deploymentListResponse{}, err
		}
		out := deploymentListResponse{
			Deployments: make([]deploymentResult, len(list)),
			Count:       len(list),
		}
		for i, d := range list {
			out.Deployments[i] = toDeploymentResult(d)
		}
		return nil, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_deployment",
		Description: "Fetch a deployment by id, including its endpoint URL when running",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args deploymentIDArgs) (*mcp.CallToolResult, deploymentResult, error) {
		id, err := parseID(args.ID)
		if err != nil {
			return nil, deploymentResult{}, err
		}
		dep, err := orch.Get(ctx, args.owner(), id)
		if err != nil {
			return nil, deploymentResult{}, err
		}
		return nil, toDeploymentResult(dep), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deploy_registration",
		Description: "Deploy an MCP server for an active registration",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args registrationIDArgs) (*mcp.CallToolResult, deploymentResult, error) {
		id, err := parseID(args.ID)
		if err != nil {
			return nil, deploymentResult{}, err
		}
		dep, err := orch.Deploy(ctx, args.owner(), id, orchestrator.DeployOptions{})
		if err != nil {
			return nil, deploymentResult{}, err
		}
		return nil, toDeploymentResult(dep), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stop_deployment",
		Description: "Stop a running deployment",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args deploymentIDArgs) (*mcp.CallToolResult, deploymentResult, error) {
		id, err := parseID(args.ID)
		if err != nil {
			return nil, deploymentResult{}, err
		}
		dep, err := orch.Stop(ctx, args.owner(), id)
		if err != nil {
			return nil, deploymentResult{}, err
		}
		return nil, toDeploymentResult(dep), nil
	})
}

func addMetaTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "hub_health",
		Description: "Simple health check for the hub MCP bridge",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, map[string]string, error) {
		_ = ctx
		return nil, map[string]string{"status": "ok"}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "hub_version",
		Description: "Return hub build metadata",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, map[string]string, error) {
		return nil, map[string]string{
			"version":    version.Version,
			"serverName": "mcphub",
		}, nil
	})
}

func parseID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, errors.New("id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("id must be a UUID")
	}
	return id, nil
}
