package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// introspectionQuery asks a GraphQL endpoint for its root operation fields.
const introspectionQuery = `{
  __schema {
    queryType { name fields { name description } }
    mutationType { name fields { name description } }
  }
}`

type introspectionResponse struct {
	Data struct {
		Schema struct {
			QueryType    *introspectionType `json:"queryType"`
			MutationType *introspectionType `json:"mutationType"`
		} `json:"__schema"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type introspectionType struct {
	Name   string `json:"name"`
	Fields []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"fields"`
}

// graphqlDiscoverer derives one endpoint per root query and mutation field
// from an introspection response.
type graphqlDiscoverer struct{}

func (graphqlDiscoverer) Discover(ctx context.Context, reg *models.ApiRegistration, spec []byte) ([]*models.ApiEndpoint, error) {
	var resp introspectionResponse
	if err := json.Unmarshal(spec, &resp); err != nil {
		return nil, &SpecParseError{ApiType: string(reg.ApiType), Err: err}
	}
	if len(resp.Errors) > 0 {
		return nil, &SpecParseError{ApiType: string(reg.ApiType), Err: fmt.Errorf("introspection error: %s", resp.Errors[0].Message)}
	}
	if resp.Data.Schema.QueryType == nil && resp.Data.Schema.MutationType == nil {
		return nil, &SpecParseError{ApiType: string(reg.ApiType), Err: fmt.Errorf("schema exposes no root types")}
	}

	requiresAuth := reg.AuthType.RequiresCredentials()
	now := time.Now().UTC()

	var endpoints []*models.ApiEndpoint
	add := func(root *introspectionType, kind string) {
		if root == nil {
			return
		}
		for _, field := range root.Fields {
			endpoints = append(endpoints, &models.ApiEndpoint{
				ID:             uuid.New(),
				RegistrationID: reg.ID,
				Name:           kind + "_" + field.Name,
				Description:    field.Description,
				HTTPMethod:     "POST",
				Path:           "/graphql",
				ContentType:    "application/json",
				RequiresAuth:   requiresAuth,
				CreatedAt:      now,
			})
		}
	}
	add(resp.Data.Schema.QueryType, "query")
	add(resp.Data.Schema.MutationType, "mutation")

	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })
	return endpoints, nil
}
