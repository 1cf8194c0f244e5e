// Package models contains the shared domain types for the MCP Hub platform:
// API registrations, discovered endpoints, generated server artifacts and
// deployments, together with their status enums and transition tables.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ApiType enumerates the supported flavors of external APIs that can be
// bridged into an MCP server.
type ApiType string

const (
	ApiTypeRestOpenAPI ApiType = "REST_OPENAPI"
	ApiTypeRestGeneric ApiType = "REST_GENERIC"
	ApiTypeGraphQL     ApiType = "GRAPHQL"
	ApiTypeSoap        ApiType = "SOAP"
	ApiTypeGrpc        ApiType = "GRPC"
	ApiTypeCustom      ApiType = "CUSTOM"
)

// SupportsAutoDiscovery reports whether endpoints can be derived from a
// machine-readable specification for this API type.
func (t ApiType) SupportsAutoDiscovery() bool {
	switch t {
	case ApiTypeRestOpenAPI, ApiTypeGraphQL, ApiTypeSoap, ApiTypeGrpc:
		return true
	}
	return false
}

// RequiresSpecURL reports whether the registration must carry a spec or
// schema URL for validation to succeed.
func (t ApiType) RequiresSpecURL() bool {
	return t == ApiTypeRestOpenAPI || t == ApiTypeGraphQL || t == ApiTypeSoap || t == ApiTypeGrpc
}

// Valid reports whether t is a known API type.
func (t ApiType) Valid() bool {
	switch t {
	case ApiTypeRestOpenAPI, ApiTypeRestGeneric, ApiTypeGraphQL, ApiTypeSoap, ApiTypeGrpc, ApiTypeCustom:
		return true
	}
	return false
}

// AuthenticationType enumerates how the platform authenticates against a
// registered upstream API.
type AuthenticationType string

const (
	AuthNone              AuthenticationType = "NONE"
	AuthApiKey            AuthenticationType = "API_KEY"
	AuthBasic             AuthenticationType = "BASIC_AUTH"
	AuthBearerToken       AuthenticationType = "BEARER_TOKEN"
	AuthOAuth2ClientCreds AuthenticationType = "OAUTH2_CLIENT_CREDENTIALS"
	AuthOAuth2AuthCode    AuthenticationType = "OAUTH2_AUTHORIZATION_CODE"
	AuthJWT               AuthenticationType = "JWT"
	AuthCustom            AuthenticationType = "CUSTOM"
)

// RequiresCredentials reports whether this authentication type needs stored
// credentials.
func (a AuthenticationType) RequiresCredentials() bool {
	return a != AuthNone
}

// Valid reports whether a is a known authentication type.
func (a AuthenticationType) Valid() bool {
	switch a {
	case AuthNone, AuthApiKey, AuthBasic, AuthBearerToken,
		AuthOAuth2ClientCreds, AuthOAuth2AuthCode, AuthJWT, AuthCustom:
		return true
	}
	return false
}

// RegistrationStatus is the lifecycle state of an API registration.
type RegistrationStatus string

const (
	RegistrationPending          RegistrationStatus = "PENDING"
	RegistrationValidating       RegistrationStatus = "VALIDATING"
	RegistrationActive           RegistrationStatus = "ACTIVE"
	RegistrationValidationFailed RegistrationStatus = "VALIDATION_FAILED"
	RegistrationSuspended        RegistrationStatus = "SUSPENDED"
	RegistrationArchived         RegistrationStatus = "ARCHIVED"
)

// registrationTransitions is the closed transition table for registration
// statuses. ARCHIVED is terminal and reachable from every other state.
var registrationTransitions = map[RegistrationStatus][]RegistrationStatus{
	RegistrationPending:          {RegistrationValidating},
	RegistrationValidating:       {RegistrationActive, RegistrationValidationFailed},
	RegistrationActive:           {RegistrationPending, RegistrationValidating, RegistrationSuspended},
	RegistrationValidationFailed: {RegistrationPending, RegistrationValidating},
	RegistrationSuspended:        {RegistrationActive},
	RegistrationArchived:         {},
}

// CanTransitionTo reports whether moving from s to next is a legal
// registration transition.
func (s RegistrationStatus) CanTransitionTo(next RegistrationStatus) bool {
	if next == RegistrationArchived {
		return s != RegistrationArchived
	}
	for _, allowed := range registrationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowsDeployment reports whether a server can be generated and deployed
// from a registration in this state.
func (s RegistrationStatus) AllowsDeployment() bool {
	return s == RegistrationActive
}

// AllowsEditing reports whether the owner may mutate the registration.
func (s RegistrationStatus) AllowsEditing() bool {
	return s == RegistrationPending || s == RegistrationValidationFailed || s == RegistrationActive
}

// IsFinal reports whether no further processing is expected.
func (s RegistrationStatus) IsFinal() bool {
	return s == RegistrationArchived
}

// ApiRegistration is a user-owned record describing an external API to be
// bridged into an MCP server.
type ApiRegistration struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ApiType     ApiType   `json:"apiType"`
	BaseURL     string    `json:"baseUrl"`

	// SpecURL points at the OpenAPI document, GraphQL endpoint, WSDL or
	// protobuf listing, depending on ApiType.
	SpecURL string `json:"specUrl,omitempty"`

	AuthType AuthenticationType `json:"authType"`
	// AuthConfig is the vault-encrypted JSON blob of credentials. Empty
	// exactly when AuthType is NONE.
	AuthConfig string `json:"-"`

	Status          RegistrationStatus `json:"status"`
	ValidationError string             `json:"validationError,omitempty"`
	LastValidatedAt *time.Time         `json:"lastValidatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ApiEndpoint describes one callable operation of a registered API. Endpoints
// are owned by their registration and populated during validation for
// auto-discoverable API types.
type ApiEndpoint struct {
	ID             uuid.UUID `json:"id"`
	RegistrationID uuid.UUID `json:"registrationId"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	HTTPMethod     string    `json:"httpMethod"`
	Path           string    `json:"path"`
	ContentType    string    `json:"contentType"`
	RequestSchema  string    `json:"requestSchema,omitempty"`
	ResponseSchema string    `json:"responseSchema,omitempty"`
	RequiresAuth   bool      `json:"requiresAuth"`

	// RateLimit is requests per minute; zero means unlimited.
	RateLimit       int `json:"rateLimit,omitempty"`
	TimeoutSeconds  int `json:"timeoutSeconds,omitempty"`
	CacheTTLSeconds int `json:"cacheTtlSeconds,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
