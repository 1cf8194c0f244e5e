package validation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

var errNoPaths = errors.New("document defines no paths")

// openapiDiscoverer derives endpoints from an OpenAPI 3 document.
type openapiDiscoverer struct{}

func (openapiDiscoverer) Discover(ctx context.Context, reg *models.ApiRegistration, spec []byte) ([]*models.ApiEndpoint, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, &SpecParseError{ApiType: string(reg.ApiType), Err: err}
	}

	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return nil, &SpecParseError{ApiType: string(reg.ApiType), Err: errNoPaths}
	}

	hasGlobalAuth := len(doc.Security) > 0
	now := time.Now().UTC()

	var endpoints []*models.ApiEndpoint
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op == nil {
				continue
			}
			ep := &models.ApiEndpoint{
				ID:             uuid.New(),
				RegistrationID: reg.ID,
				Name:           operationName(op.OperationID, method, path),
				Description:    firstNonEmpty(op.Summary, op.Description),
				HTTPMethod:     method,
				Path:           path,
				ContentType:    "application/json",
				RequiresAuth:   hasGlobalAuth || (op.Security != nil && len(*op.Security) > 0),
				CreatedAt:      now,
			}
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				if media := op.RequestBody.Value.Content.Get("application/json"); media != nil && media.Schema != nil {
					if raw, err := json.Marshal(media.Schema); err == nil {
						ep.RequestSchema = string(raw)
					}
				}
			}
			if resp := op.Responses.Status(200); resp != nil && resp.Value != nil {
				if media := resp.Value.Content.Get("application/json"); media != nil && media.Schema != nil {
					if raw, err := json.Marshal(media.Schema); err == nil {
						ep.ResponseSchema = string(raw)
					}
				}
			}
			endpoints = append(endpoints, ep)
		}
	}

	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Path != endpoints[j].Path {
			return endpoints[i].Path < endpoints[j].Path
		}
		return endpoints[i].HTTPMethod < endpoints[j].HTTPMethod
	})
	return endpoints, nil
}

// operationName prefers the spec's operationId and falls back to a slug
// derived from the method and path, e.g. "get_weather_current".
func operationName(operationID, method, path string) string {
	if operationID != "" {
		return operationID
	}
	slug := strings.ToLower(method)
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		part = strings.Trim(part, "{}")
		slug += "_" + strings.ToLower(part)
	}
	return slug
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
