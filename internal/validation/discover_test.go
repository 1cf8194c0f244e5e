package validation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

func TestSoapDiscovererParsesWSDL(t *testing.T) {
	wsdl := `<?xml version="1.0"?>
<definitions xmlns="http://schemas.xmlsoap.org/wsdl/">
  <portType name="WeatherPort">
    <operation name="GetForecast">
      <documentation>Seven day forecast</documentation>
    </operation>
    <operation name="GetCurrent"/>
  </portType>
</definitions>`

	reg := &models.ApiRegistration{ID: uuid.New(), ApiType: models.ApiTypeSoap, AuthType: models.AuthBasic}
	endpoints, err := soapDiscoverer{}.Discover(context.Background(), reg, []byte(wsdl))
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, "GetCurrent", endpoints[0].Name)
	assert.Equal(t, "GetForecast", endpoints[1].Name)
	assert.Equal(t, "Seven day forecast", endpoints[1].Description)
	assert.Equal(t, "text/xml", endpoints[0].ContentType)
	assert.True(t, endpoints[0].RequiresAuth)
}

func TestSoapDiscovererRejectsEmptyWSDL(t *testing.T) {
	reg := &models.ApiRegistration{ID: uuid.New(), ApiType: models.ApiTypeSoap}
	_, err := soapDiscoverer{}.Discover(context.Background(), reg, []byte(`<definitions/>`))
	assert.Error(t, err)
}

func TestGrpcDiscovererParsesProto(t *testing.T) {
	proto := `syntax = "proto3";

package weather.v1;

service WeatherService {
  rpc GetCurrent (GetCurrentRequest) returns (GetCurrentResponse);
  rpc GetForecast (GetForecastRequest) returns (GetForecastResponse);
}

message GetCurrentRequest {}
`

	reg := &models.ApiRegistration{ID: uuid.New(), ApiType: models.ApiTypeGrpc, AuthType: models.AuthNone}
	endpoints, err := grpcDiscoverer{}.Discover(context.Background(), reg, []byte(proto))
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, "WeatherService.GetCurrent", endpoints[0].Name)
	assert.Equal(t, "/WeatherService/GetCurrent", endpoints[0].Path)
	assert.Equal(t, "application/grpc", endpoints[0].ContentType)
	assert.False(t, endpoints[0].RequiresAuth)
}

func TestGraphqlDiscovererRejectsErrors(t *testing.T) {
	reg := &models.ApiRegistration{ID: uuid.New(), ApiType: models.ApiTypeGraphQL}
	_, err := graphqlDiscoverer{}.Discover(context.Background(), reg, []byte(`{"errors":[{"message":"introspection disabled"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "introspection disabled")
}

func TestOperationNameFallback(t *testing.T) {
	assert.Equal(t, "get_weather_current", operationName("", "GET", "/weather/current"))
	assert.Equal(t, "get_users_id", operationName("", "GET", "/users/{id}"))
	assert.Equal(t, "customName", operationName("customName", "GET", "/x"))
}
