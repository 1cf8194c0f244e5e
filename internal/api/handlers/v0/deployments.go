package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/mcphub-dev/mcphub/internal/orchestrator"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

// DeployRequest is the payload for creating a deployment.
type DeployRequest struct {
	CPULimit    string `json:"cpuLimit,omitempty" doc:"CPU limit, e.g. 0.5" example:"0.5"`
	MemoryLimit string `json:"memoryLimit,omitempty" doc:"Memory limit, e.g. 256m" example:"256m"`
	Replicas    int    `json:"replicas,omitempty" doc:"Initial replica count" default:"1" minimum:"1"`
}

// DeployInput carries the deploy request for a registration.
type DeployInput struct {
	Owner string    `header:"X-Owner-ID" doc:"Owner identity" example:"alice"`
	ID    uuid.UUID `path:"id" doc:"Registration id"`
	Body  DeployRequest
}

// DeploymentIDInput addresses a single deployment.
type DeploymentIDInput struct {
	Owner string    `header:"X-Owner-ID" doc:"Owner identity" example:"alice"`
	ID    uuid.UUID `path:"id" doc:"Deployment id"`
}

// ScaleRequest carries the desired replica count.
type ScaleRequest struct {
	Replicas int `json:"replicas" doc:"Desired replica count" minimum:"1" example:"3"`
}

// ScaleInput carries the scale request.
type ScaleInput struct {
	Owner string    `header:"X-Owner-ID" doc:"Owner identity" example:"alice"`
	ID    uuid.UUID `path:"id" doc:"Deployment id"`
	Body  ScaleRequest
}

// ListDeploymentsInput carries the list request.
type ListDeploymentsInput struct {
	Owner          string `header:"X-Owner-ID" doc:"Owner identity" example:"alice"`
	RegistrationID string `query:"registrationId" doc:"Filter by registration id" required:"false"`
}

// DeploymentLogsInput selects one of a deployment's log streams.
type DeploymentLogsInput struct {
	Owner string    `header:"X-Owner-ID" doc:"Owner identity" example:"alice"`
	ID    uuid.UUID `path:"id" doc:"Deployment id"`
	Kind  string    `query:"kind" doc:"Log stream" default:"runtime" enum:"generation,build,runtime"`
	Tail  int       `query:"tail" doc:"Number of trailing lines for runtime logs" default:"100" minimum:"1" maximum:"1000"`
}

// DeploymentListBody is the list payload.
type DeploymentListBody struct {
	Deployments []*models.McpServerDeployment `json:"deployments"`
	Count       int                           `json:"count"`
}

// LogsBody is the log stream payload.
type LogsBody struct {
	Kind    string            `json:"kind"`
	Entries []models.LogEntry `json:"entries"`
}

// RegisterDeploymentsEndpoints registers the deployment lifecycle routes.
func RegisterDeploymentsEndpoints(api huma.API, basePath string, orch *orchestrator.Orchestrator) {
	tags := []string{"deployments"}

	huma.Register(api, huma.Operation{
		OperationID:   "deploy-registration",
		Method:        http.MethodPost,
		Path:          basePath + "/registrations/{id}/deployments",
		Summary:       "Deploy an MCP server",
		Description:   "Generate, build and start an MCP server for an active registration. Progress is asynchronous.",
		Tags:          tags,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *DeployInput) (*Response[*models.McpServerDeployment], error) {
		dep, err := orch.Deploy(ctx, owner(input.Owner), input.ID, orchestrator.DeployOptions{
			Resources: models.ResourceSpec{
				CPULimit:    input.Body.CPULimit,
				MemoryLimit: input.Body.MemoryLimit,
				Replicas:    input.Body.Replicas,
			},
		})
		if err != nil {
			return nil, mapError(err, "Failed to deploy")
		}
		return &Response[*models.McpServerDeployment]{Body: dep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deployments",
		Method:      http.MethodGet,
		Path:        basePath + "/deployments",
		Summary:     "List deployments",
		Tags:        tags,
	}, func(ctx context.Context, input *ListDeploymentsInput) (*Response[DeploymentListBody], error) {
		var registrationID *uuid.UUID
		if input.RegistrationID != "" {
			id, err := uuid.Parse(input.RegistrationID)
			if err != nil {
				return nil, huma.Error400BadRequest("Invalid registrationId", err)
			}
			registrationID = &id
		}
		deps, err := orch.List(ctx, owner(input.Owner), registrationID)
		if err != nil {
			return nil, mapError(err, "Failed to list deployments")
		}
		return &Response[DeploymentListBody]{Body: DeploymentListBody{Deployments: deps, Count: len(deps)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deployment",
		Method:      http.MethodGet,
		Path:        basePath + "/deployments/{id}",
		Summary:     "Get a deployment",
		Tags:        tags,
	}, func(ctx context.Context, input *DeploymentIDInput) (*Response[*models.McpServerDeployment], error) {
		dep, err := orch.Get(ctx, owner(input.Owner), input.ID)
		if err != nil {
			return nil, mapError(err, "Failed to get deployment")
		}
		return &Response[*models.McpServerDeployment]{Body: dep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "stop-deployment",
		Method:        http.MethodPost,
		Path:          basePath + "/deployments/{id}/stop",
		Summary:       "Stop a deployment",
		Description:   "Stopping an already stopping or stopped deployment is a no-op.",
		Tags:          tags,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *DeploymentIDInput) (*Response[*models.McpServerDeployment], error) {
		dep, err := orch.Stop(ctx, owner(input.Owner), input.ID)
		if err != nil {
			return nil, mapError(err, "Failed to stop deployment")
		}
		return &Response[*models.McpServerDeployment]{Body: dep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "restart-deployment",
		Method:        http.MethodPost,
		Path:          basePath + "/deployments/{id}/restart",
		Summary:       "Restart a stopped or failed deployment",
		Tags:          tags,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *DeploymentIDInput) (*Response[*models.McpServerDeployment], error) {
		dep, err := orch.Restart(ctx, owner(input.Owner), input.ID)
		if err != nil {
			return nil, mapError(err, "Failed to restart deployment")
		}
		return &Response[*models.McpServerDeployment]{Body: dep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "scale-deployment",
		Method:        http.MethodPost,
		Path:          basePath + "/deployments/{id}/scale",
		Summary:       "Scale a running deployment",
		Tags:          tags,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *ScaleInput) (*Response[*models.McpServerDeployment], error) {
		dep, err := orch.Scale(ctx, owner(input.Owner), input.ID, input.Body.Replicas)
		if err != nil {
			return nil, mapError(err, "Failed to scale deployment")
		}
		return &Response[*models.McpServerDeployment]{Body: dep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "update-deployment",
		Method:        http.MethodPost,
		Path:          basePath + "/deployments/{id}/update",
		Summary:       "Update a deployment to the registration's current state",
		Description:   "Regenerates and rebuilds the server. A failed build rolls back to the running version.",
		Tags:          tags,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *DeploymentIDInput) (*Response[*models.McpServerDeployment], error) {
		dep, err := orch.Update(ctx, owner(input.Owner), input.ID)
		if err != nil {
			return nil, mapError(err, "Failed to update deployment")
		}
		return &Response[*models.McpServerDeployment]{Body: dep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-deployment",
		Method:      http.MethodDelete,
		Path:        basePath + "/deployments/{id}",
		Summary:     "Delete a deployment record",
		Description: "Only stopped or failed deployments can be deleted.",
		Tags:        tags,
	}, func(ctx context.Context, input *DeploymentIDInput) (*Response[EmptyResponse], error) {
		if err := orch.Delete(ctx, owner(input.Owner), input.ID); err != nil {
			return nil, mapError(err, "Failed to delete deployment")
		}
		return &Response[EmptyResponse]{Body: EmptyResponse{Message: "Deployment deleted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deployment-logs",
		Method:      http.MethodGet,
		Path:        basePath + "/deployments/{id}/logs",
		Summary:     "Get deployment logs",
		Description: "Generation and build logs come from storage; runtime logs come live from the containers when running.",
		Tags:        tags,
	}, func(ctx context.Context, input *DeploymentLogsInput) (*Response[LogsBody], error) {
		entries, err := orch.Logs(ctx, owner(input.Owner), input.ID, models.LogKind(input.Kind), input.Tail)
		if err != nil {
			return nil, mapError(err, "Failed to get logs")
		}
		return &Response[LogsBody]{Body: LogsBody{Kind: input.Kind, Entries: entries}}, nil
	})
}
