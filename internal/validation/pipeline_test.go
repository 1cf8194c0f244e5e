package validation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphub-dev/mcphub/internal/database"
	"github.com/mcphub-dev/mcphub/internal/events"
	"github.com/mcphub-dev/mcphub/internal/vault"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

const weatherSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "Weather", "version": "1.0.0"},
  "paths": {
    "/current": {
      "get": {
        "operationId": "getCurrentWeather",
        "summary": "Current conditions",
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/forecast": {
      "get": {
        "operationId": "getForecast",
        "responses": {"200": {"description": "ok"}}
      }
    }
  }
}`

func newTestPipeline(t *testing.T) (*Pipeline, *database.MemoryStore, *vault.Vault) {
	t.Helper()
	key, err := vault.GenerateKey()
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)

	store := database.NewMemoryStore()
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	return NewPipeline(store, v, bus, log, 5*time.Second), store, v
}

func createRegistration(t *testing.T, store *database.MemoryStore, v *vault.Vault, apiType models.ApiType, baseURL, specURL string) *models.ApiRegistration {
	t.Helper()
	encrypted, err := v.Encrypt(`{"apiKey":"k"}`)
	require.NoError(t, err)
	reg := &models.ApiRegistration{
		ID:         uuid.New(),
		OwnerID:    "alice",
		Name:       "api-" + uuid.NewString()[:8],
		ApiType:    apiType,
		BaseURL:    baseURL,
		SpecURL:    specURL,
		AuthType:   models.AuthApiKey,
		AuthConfig: encrypted,
		Status:     models.RegistrationPending,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateRegistration(context.Background(), reg))
	return reg
}

func TestValidateOpenAPIRegistration(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(weatherSpec))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, store, v := newTestPipeline(t)
	reg := createRegistration(t, store, v, models.ApiTypeRestOpenAPI, upstream.URL, upstream.URL+"/openapi.json")

	require.NoError(t, p.ValidateNow(context.Background(), reg.ID))

	got, err := store.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationActive, got.Status)
	assert.Empty(t, got.ValidationError)
	require.NotNil(t, got.LastValidatedAt)

	endpoints, err := store.ListEndpoints(context.Background(), reg.ID)
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, "getCurrentWeather", endpoints[0].Name)
	assert.Equal(t, "GET", endpoints[0].HTTPMethod)
	assert.Equal(t, "/current", endpoints[0].Path)
}

func TestValidateUnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	p, store, v := newTestPipeline(t)
	reg := createRegistration(t, store, v, models.ApiTypeRestGeneric, upstream.URL, "")

	require.NoError(t, p.ValidateNow(context.Background(), reg.ID))

	got, err := store.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationValidationFailed, got.Status)
	assert.Contains(t, got.ValidationError, "status 502")
}

func TestValidateSpecFetchFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, store, v := newTestPipeline(t)
	reg := createRegistration(t, store, v, models.ApiTypeRestOpenAPI, upstream.URL, upstream.URL+"/openapi.json")

	require.NoError(t, p.ValidateNow(context.Background(), reg.ID))

	got, err := store.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationValidationFailed, got.Status)
	assert.Contains(t, got.ValidationError, "status 404")
}

func TestValidateMalformedSpec(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			_, _ = w.Write([]byte("{not json"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, store, v := newTestPipeline(t)
	reg := createRegistration(t, store, v, models.ApiTypeRestOpenAPI, upstream.URL, upstream.URL+"/openapi.json")

	require.NoError(t, p.ValidateNow(context.Background(), reg.ID))

	got, err := store.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationValidationFailed, got.Status)
}

func TestValidateGraphQLIntrospection(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/graphql" && r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"__schema":{
				"queryType":{"name":"Query","fields":[{"name":"weather","description":"current weather"}]},
				"mutationType":null}}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, store, v := newTestPipeline(t)
	reg := createRegistration(t, store, v, models.ApiTypeGraphQL, upstream.URL, upstream.URL+"/graphql")

	require.NoError(t, p.ValidateNow(context.Background(), reg.ID))

	got, err := store.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationActive, got.Status)

	endpoints, err := store.ListEndpoints(context.Background(), reg.ID)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "query_weather", endpoints[0].Name)
	assert.Equal(t, "POST", endpoints[0].HTTPMethod)
}

func TestValidateMissingRegistrationIsNoop(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	assert.NoError(t, p.ValidateNow(context.Background(), uuid.New()))
}

func TestValidateSkipsWhileValidating(t *testing.T) {
	p, store, v := newTestPipeline(t)
	reg := createRegistration(t, store, v, models.ApiTypeRestGeneric, "http://127.0.0.1:1", "")

	_, err := store.SetRegistrationStatus(context.Background(), reg.ID, models.RegistrationValidating)
	require.NoError(t, err)

	// A second runner must not steal the VALIDATING slot.
	require.NoError(t, p.ValidateNow(context.Background(), reg.ID))
	got, err := store.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationValidating, got.Status)
}

func TestTriggerRunsAsync(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, store, v := newTestPipeline(t)
	reg := createRegistration(t, store, v, models.ApiTypeRestGeneric, upstream.URL, "")

	p.Trigger(reg.ID)
	p.Wait()

	got, err := store.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationActive, got.Status)
}

func TestSweeperReenqueuesStuckValidation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, store, v := newTestPipeline(t)
	log := logrus.New()
	log.SetOutput(io.Discard)
	sweeper := NewSweeper(store, p, log, time.Minute, time.Minute)

	reg := createRegistration(t, store, v, models.ApiTypeRestGeneric, upstream.URL, "")
	_, err := store.SetRegistrationStatus(context.Background(), reg.ID, models.RegistrationValidating)
	require.NoError(t, err)

	// Fresh VALIDATING records are left alone.
	sweeper.sweep(context.Background())
	got, err := store.GetRegistration(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationValidating, got.Status)
}
