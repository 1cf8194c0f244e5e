// Package validation implements the async validation pipeline: reachability
// probing, spec retrieval and endpoint discovery for each supported API
// type, with outcomes committed through the store's transition tables.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mcphub-dev/mcphub/internal/database"
	"github.com/mcphub-dev/mcphub/internal/events"
	"github.com/mcphub-dev/mcphub/internal/httpauth"
	"github.com/mcphub-dev/mcphub/internal/vault"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

const maxSpecSize = 10 << 20 // 10 MiB

// Discoverer parses a fetched specification into endpoint records.
type Discoverer interface {
	Discover(ctx context.Context, reg *models.ApiRegistration, spec []byte) ([]*models.ApiEndpoint, error)
}

// Pipeline runs validation for registrations. Triggers are asynchronous and
// coalesced per registration: while a run is in flight, further triggers
// for the same id join it instead of starting another.
type Pipeline struct {
	store   database.Store
	vault   *vault.Vault
	bus     *events.Bus
	log     *logrus.Logger
	client  *http.Client
	timeout time.Duration

	discoverers map[models.ApiType]Discoverer

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewPipeline builds a validation pipeline. timeout bounds a single
// validation run end to end.
func NewPipeline(store database.Store, v *vault.Vault, bus *events.Bus, log *logrus.Logger, timeout time.Duration) *Pipeline {
	return &Pipeline{
		store:   store,
		vault:   v,
		bus:     bus,
		log:     log,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		discoverers: map[models.ApiType]Discoverer{
			models.ApiTypeRestOpenAPI: openapiDiscoverer{},
			models.ApiTypeGraphQL:     graphqlDiscoverer{},
			models.ApiTypeSoap:        soapDiscoverer{},
			models.ApiTypeGrpc:        grpcDiscoverer{},
		},
	}
}

// Trigger starts an async validation run for the registration.
func (p *Pipeline) Trigger(id uuid.UUID) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_, _, _ = p.group.Do(id.String(), func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			defer cancel()
			if err := p.ValidateNow(ctx, id); err != nil {
				p.log.WithError(err).WithField("registration", id).Warn("validation run aborted")
			}
			return nil, nil
		})
	}()
}

// Wait blocks until all in-flight validation runs have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// ValidateNow runs one validation pass synchronously. The returned error
// covers pipeline failures only; a validation verdict, pass or fail, is
// committed to the store and is not an error.
func (p *Pipeline) ValidateNow(ctx context.Context, id uuid.UUID) error {
	old, err := p.store.SetRegistrationStatus(ctx, id, models.RegistrationValidating)
	if err != nil {
		var invalid *database.InvalidTransitionError
		if errors.Is(err, database.ErrNotFound) || errors.As(err, &invalid) {
			// Deleted meanwhile, or another run holds VALIDATING.
			return nil
		}
		return err
	}
	p.publish(id, string(old), string(models.RegistrationValidating), "validation started")

	reg, err := p.store.GetRegistration(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}

	endpoints, verdict := p.validate(ctx, reg)
	if isTimeout(verdict) {
		// One bounded retry for transient upstream slowness.
		p.log.WithField("registration", id).Debug("validation timed out, retrying once")
		retryCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
		endpoints, verdict = p.validate(retryCtx, reg)
		cancel()
	}

	// The registration may have been deleted while the run was in flight;
	// never resurrect state for a gone record.
	commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.store.GetRegistration(commitCtx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}

	status := models.RegistrationActive
	message := "validation passed"
	cause := ""
	if verdict != nil {
		status = models.RegistrationValidationFailed
		cause = verdict.Error()
		message = "validation failed"
	} else if len(endpoints) > 0 {
		if err := p.store.ReplaceEndpoints(commitCtx, id, endpoints); err != nil {
			return err
		}
	}

	old, err = p.store.SetRegistrationValidationResult(commitCtx, id, status, cause, time.Now().UTC())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}

	p.log.WithFields(logrus.Fields{
		"registration": id,
		"status":       status,
		"endpoints":    len(endpoints),
	}).Info("validation finished")
	p.publish(id, string(old), string(status), message)
	return nil
}

// validate performs the probe and discovery steps. A non-nil return is the
// validation verdict stored as the failure cause.
func (p *Pipeline) validate(ctx context.Context, reg *models.ApiRegistration) ([]*models.ApiEndpoint, error) {
	plaintext, err := p.vault.Decrypt(reg.AuthConfig)
	if err != nil {
		return nil, fmt.Errorf("credentials unreadable: %w", err)
	}
	authCfg, err := httpauth.Decode(plaintext)
	if err != nil {
		return nil, err
	}

	if err := probe(ctx, p.client, reg.BaseURL, reg.AuthType, authCfg); err != nil {
		return nil, err
	}

	if !reg.ApiType.SupportsAutoDiscovery() {
		return nil, nil
	}

	discoverer, ok := p.discoverers[reg.ApiType]
	if !ok {
		return nil, nil
	}
	spec, err := p.fetchSpec(ctx, reg, authCfg)
	if err != nil {
		return nil, err
	}
	return discoverer.Discover(ctx, reg, spec)
}

// fetchSpec retrieves the raw specification document. For GraphQL the spec
// URL is the endpoint itself and the document is an introspection response.
func (p *Pipeline) fetchSpec(ctx context.Context, reg *models.ApiRegistration, authCfg map[string]string) ([]byte, error) {
	var req *http.Request
	var err error
	if reg.ApiType == models.ApiTypeGraphQL {
		body, _ := json.Marshal(map[string]string{"query": introspectionQuery})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, reg.SpecURL, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, reg.SpecURL, nil)
	}
	if err != nil {
		return nil, &SpecFetchError{URL: reg.SpecURL, Err: err}
	}
	if err := httpauth.Apply(ctx, req, reg.AuthType, authCfg); err != nil {
		return nil, &SpecFetchError{URL: reg.SpecURL, Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &SpecFetchError{URL: reg.SpecURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &SpecFetchError{URL: reg.SpecURL, StatusCode: resp.StatusCode}
	}

	spec, err := io.ReadAll(io.LimitReader(resp.Body, maxSpecSize))
	if err != nil {
		return nil, &SpecFetchError{URL: reg.SpecURL, Err: err}
	}
	return spec, nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (p *Pipeline) publish(id uuid.UUID, old, next, message string) {
	p.bus.Publish(models.StatusChange{
		ResourceType: models.ResourceRegistration,
		ResourceID:   id.String(),
		OldStatus:    old,
		NewStatus:    next,
		Timestamp:    time.Now().UTC(),
		Message:      message,
	})
}
