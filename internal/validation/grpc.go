package validation

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// grpcDiscoverer derives endpoints from a protobuf service definition. It
// scans rpc declarations line by line; full descriptor parsing is not
// needed to enumerate callable methods.
type grpcDiscoverer struct{}

func (grpcDiscoverer) Discover(ctx context.Context, reg *models.ApiRegistration, spec []byte) ([]*models.ApiEndpoint, error) {
	methods, err := parseProtoServices(spec)
	if err != nil {
		return nil, &SpecParseError{ApiType: string(reg.ApiType), Err: err}
	}
	if len(methods) == 0 {
		return nil, &SpecParseError{ApiType: string(reg.ApiType), Err: fmt.Errorf("proto defines no rpc methods")}
	}

	requiresAuth := reg.AuthType.RequiresCredentials()
	now := time.Now().UTC()

	endpoints := make([]*models.ApiEndpoint, 0, len(methods))
	for _, m := range methods {
		endpoints = append(endpoints, &models.ApiEndpoint{
			ID:             uuid.New(),
			RegistrationID: reg.ID,
			Name:           m.service + "." + m.method,
			HTTPMethod:     "POST",
			Path:           "/" + m.service + "/" + m.method,
			ContentType:    "application/grpc",
			RequiresAuth:   requiresAuth,
			CreatedAt:      now,
		})
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })
	return endpoints, nil
}

type protoMethod struct {
	service string
	method  string
}

func parseProtoServices(spec []byte) ([]protoMethod, error) {
	var methods []protoMethod
	var service string

	scanner := bufio.NewScanner(bytes.NewReader(spec))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "service "):
			rest := strings.TrimPrefix(line, "service ")
			if idx := strings.IndexAny(rest, " {"); idx > 0 {
				service = rest[:idx]
			}
		case strings.HasPrefix(line, "rpc ") && service != "":
			rest := strings.TrimPrefix(line, "rpc ")
			if idx := strings.IndexAny(rest, " ("); idx > 0 {
				methods = append(methods, protoMethod{service: service, method: rest[:idx]})
			}
		case line == "}":
			service = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return methods, nil
}
