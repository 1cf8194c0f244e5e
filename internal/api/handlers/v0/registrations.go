package v0

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/mcphub-dev/mcphub/internal/registration"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

// defaultOwner is used when requests carry no X-Owner-ID header.
const defaultOwner = "default"

// RegistrationRequest is the payload for creating or updating a
// registration.
type RegistrationRequest struct {
	Name        string            `json:"name" doc:"Registration name, unique per owner" example:"weather-api"`
	Description string            `json:"description,omitempty" doc:"Human-readable description"`
	ApiType     string            `json:"apiType" doc:"API flavor" example:"REST_OPENAPI" enum:"REST_OPENAPI,REST_GENERIC,GRAPHQL,SOAP,GRPC,CUSTOM"`
	BaseURL     string            `json:"baseUrl" doc:"Upstream API base URL" example:"https://api.weather.example"`
	SpecURL     string            `json:"specUrl,omitempty" doc:"Specification URL, required for auto-discoverable API types"`
	AuthType    string            `json:"authType" doc:"Authentication type" example:"API_KEY" enum:"NONE,API_KEY,BASIC_AUTH,BEARER_TOKEN,OAUTH2_CLIENT_CREDENTIALS,OAUTH2_AUTHORIZATION_CODE,JWT,CUSTOM"`
	AuthConfig  map[string]string `json:"authConfig,omitempty" doc:"Credential key-value pairs; stored encrypted, never returned"`
}

// CreateRegistrationInput carries the create request.
type CreateRegistrationInput struct {
	Owner string `header:"X-Owner-ID" doc:"Owner identity" example:"alice"`
	Body  RegistrationRequest
}

// RegistrationIDInput addresses a single registration.
type RegistrationIDInput struct {
	Owner string    `header:"X-Owner-ID" doc:"Owner identity" example:"alice"`
	ID    uuid.UUID `path:"id" doc:"Registration id"`
}

// UpdateRegistrationInput carries the update request.
type UpdateRegistrationInput struct {
	Owner string    `header:"X-Owner-ID" doc:"Owner identity" example:"alice"`
	ID    uuid.UUID `path:"id" doc:"Registration id"`
	Body  RegistrationRequest
}

// ListRegistrationsInput carries the list request.
type ListRegistrationsInput struct {
	Owner string `header:"X-Owner-ID" doc:"Owner identity" example:"alice"`
}

// RegistrationListBody is the list payload.
type RegistrationListBody struct {
	Registrations []*models.ApiRegistration `json:"registrations"`
	Count         int                       `json:"count"`
}

// EndpointListBody is the endpoint list payload.
type EndpointListBody struct {
	Endpoints []*models.ApiEndpoint `json:"endpoints"`
	Count     int                   `json:"count"`
}

func owner(headerValue string) string {
	if headerValue == "" {
		return defaultOwner
	}
	return headerValue
}

func toSpec(req *RegistrationRequest) (*registration.Spec, error) {
	authConfig := ""
	if len(req.AuthConfig) > 0 {
		raw, err := json.Marshal(req.AuthConfig)
		if err != nil {
			return nil, huma.Error400BadRequest("Invalid auth config", err)
		}
		authConfig = string(raw)
	}
	return &registration.Spec{
		Name:        req.Name,
		Description: req.Description,
		ApiType:     models.ApiType(req.ApiType),
		BaseURL:     req.BaseURL,
		SpecURL:     req.SpecURL,
		AuthType:    models.AuthenticationType(req.AuthType),
		AuthConfig:  authConfig,
	}, nil
}

// RegisterRegistrationsEndpoints registers the registration lifecycle
// routes.
func RegisterRegistrationsEndpoints(api huma.API, basePath string, svc *registration.Service) {
	tags := []string{"registrations"}

	huma.Register(api, huma.Operation{
		OperationID:   "create-registration",
		Method:        http.MethodPost,
		Path:          basePath + "/registrations",
		Summary:       "Register an API",
		Description:   "Create a new API registration. Validation starts asynchronously.",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateRegistrationInput) (*Response[*models.ApiRegistration], error) {
		spec, err := toSpec(&input.Body)
		if err != nil {
			return nil, err
		}
		reg, err := svc.Create(ctx, owner(input.Owner), spec)
		if err != nil {
			return nil, mapError(err, "Failed to create registration")
		}
		return &Response[*models.ApiRegistration]{Body: reg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-registrations",
		Method:      http.MethodGet,
		Path:        basePath + "/registrations",
		Summary:     "List registrations",
		Tags:        tags,
	}, func(ctx context.Context, input *ListRegistrationsInput) (*Response[RegistrationListBody], error) {
		regs, err := svc.List(ctx, owner(input.Owner))
		if err != nil {
			return nil, mapError(err, "Failed to list registrations")
		}
		return &Response[RegistrationListBody]{Body: RegistrationListBody{Registrations: regs, Count: len(regs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-registration",
		Method:      http.MethodGet,
		Path:        basePath + "/registrations/{id}",
		Summary:     "Get a registration",
		Tags:        tags,
	}, func(ctx context.Context, input *RegistrationIDInput) (*Response[*models.ApiRegistration], error) {
		reg, err := svc.Get(ctx, owner(input.Owner), input.ID)
		if err != nil {
			return nil, mapError(err, "Failed to get registration")
		}
		return &Response[*models.ApiRegistration]{Body: reg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-registration",
		Method:      http.MethodPut,
		Path:        basePath + "/registrations/{id}",
		Summary:     "Update a registration",
		Description: "Replace the editable fields. The registration returns to PENDING and is re-validated.",
		Tags:        tags,
	}, func(ctx context.Context, input *UpdateRegistrationInput) (*Response[*models.ApiRegistration], error) {
		spec, err := toSpec(&input.Body)
		if err != nil {
			return nil, err
		}
		reg, err := svc.Update(ctx, owner(input.Owner), input.ID, spec)
		if err != nil {
			return nil, mapError(err, "Failed to update registration")
		}
		return &Response[*models.ApiRegistration]{Body: reg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-registration",
		Method:      http.MethodDelete,
		Path:        basePath + "/registrations/{id}",
		Summary:     "Delete a registration",
		Description: "Fails while any deployment of this registration is running or transitional.",
		Tags:        tags,
	}, func(ctx context.Context, input *RegistrationIDInput) (*Response[EmptyResponse], error) {
		if err := svc.Delete(ctx, owner(input.Owner), input.ID); err != nil {
			return nil, mapError(err, "Failed to delete registration")
		}
		return &Response[EmptyResponse]{Body: EmptyResponse{Message: "Registration deleted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "validate-registration",
		Method:        http.MethodPost,
		Path:          basePath + "/registrations/{id}/validate",
		Summary:       "Trigger validation",
		Description:   "Re-run validation asynchronously. A no-op while validation is already running.",
		Tags:          tags,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *RegistrationIDInput) (*Response[*models.ApiRegistration], error) {
		reg, err := svc.TriggerValidation(ctx, owner(input.Owner), input.ID)
		if err != nil {
			return nil, mapError(err, "Failed to trigger validation")
		}
		return &Response[*models.ApiRegistration]{Body: reg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suspend-registration",
		Method:      http.MethodPost,
		Path:        basePath + "/registrations/{id}/suspend",
		Summary:     "Suspend a registration",
		Tags:        tags,
	}, func(ctx context.Context, input *RegistrationIDInput) (*Response[*models.ApiRegistration], error) {
		reg, err := svc.Suspend(ctx, owner(input.Owner), input.ID)
		if err != nil {
			return nil, mapError(err, "Failed to suspend registration")
		}
		return &Response[*models.ApiRegistration]{Body: reg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-registration",
		Method:      http.MethodPost,
		Path:        basePath + "/registrations/{id}/resume",
		Summary:     "Resume a suspended registration",
		Tags:        tags,
	}, func(ctx context.Context, input *RegistrationIDInput) (*Response[*models.ApiRegistration], error) {
		reg, err := svc.Resume(ctx, owner(input.Owner), input.ID)
		if err != nil {
			return nil, mapError(err, "Failed to resume registration")
		}
		return &Response[*models.ApiRegistration]{Body: reg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-registration",
		Method:      http.MethodPost,
		Path:        basePath + "/registrations/{id}/archive",
		Summary:     "Archive a registration",
		Description: "Archived registrations are read-only and cannot come back.",
		Tags:        tags,
	}, func(ctx context.Context, input *RegistrationIDInput) (*Response[*models.ApiRegistration], error) {
		reg, err := svc.Archive(ctx, owner(input.Owner), input.ID)
		if err != nil {
			return nil, mapError(err, "Failed to archive registration")
		}
		return &Response[*models.ApiRegistration]{Body: reg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-registration-endpoints",
		Method:      http.MethodGet,
		Path:        basePath + "/registrations/{id}/endpoints",
		Summary:     "List discovered endpoints",
		Tags:        tags,
	}, func(ctx context.Context, input *RegistrationIDInput) (*Response[EndpointListBody], error) {
		endpoints, err := svc.Endpoints(ctx, owner(input.Owner), input.ID)
		if err != nil {
			return nil, mapError(err, "Failed to list endpoints")
		}
		return &Response[EndpointListBody]{Body: EndpointListBody{Endpoints: endpoints, Count: len(endpoints)}}, nil
	})
}
