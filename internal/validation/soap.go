package validation

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// soapDiscoverer derives one endpoint per WSDL portType operation.
type soapDiscoverer struct{}

func (soapDiscoverer) Discover(ctx context.Context, reg *models.ApiRegistration, spec []byte) ([]*models.ApiEndpoint, error) {
	operations, err := parseWSDLOperations(spec)
	if err != nil {
		return nil, &SpecParseError{ApiType: string(reg.ApiType), Err: err}
	}
	if len(operations) == 0 {
		return nil, &SpecParseError{ApiType: string(reg.ApiType), Err: fmt.Errorf("wsdl defines no operations")}
	}

	requiresAuth := reg.AuthType.RequiresCredentials()
	now := time.Now().UTC()

	endpoints := make([]*models.ApiEndpoint, 0, len(operations))
	for name, doc := range operations {
		endpoints = append(endpoints, &models.ApiEndpoint{
			ID:             uuid.New(),
			RegistrationID: reg.ID,
			Name:           name,
			Description:    doc,
			HTTPMethod:     "POST",
			Path:           "/",
			ContentType:    "text/xml",
			RequiresAuth:   requiresAuth,
			CreatedAt:      now,
		})
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })
	return endpoints, nil
}

// parseWSDLOperations walks the WSDL token stream and collects operation
// names, with their documentation text when present, from portType blocks.
func parseWSDLOperations(spec []byte) (map[string]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(spec))
	operations := make(map[string]string)

	inPortType := false
	var current string
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch el := token.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "portType", "interface":
				inPortType = true
			case "operation":
				if inPortType {
					for _, attr := range el.Attr {
						if attr.Name.Local == "name" && attr.Value != "" {
							current = attr.Value
							operations[current] = ""
						}
					}
				}
			case "documentation":
				if inPortType && current != "" {
					var doc string
					if err := decoder.DecodeElement(&doc, &el); err == nil {
						operations[current] = doc
					}
				}
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "portType", "interface":
				inPortType = false
			case "operation":
				current = ""
			}
		}
	}
	return operations, nil
}
