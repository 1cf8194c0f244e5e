package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// MemoryStore is an in-memory Store implementation used by tests and by
// noop database mode. All returned records are copies.
type MemoryStore struct {
	mu            sync.RWMutex
	registrations map[uuid.UUID]*models.ApiRegistration
	endpoints     map[uuid.UUID][]*models.ApiEndpoint
	deployments   map[uuid.UUID]*models.McpServerDeployment
	logs          map[uuid.UUID]map[models.LogKind][]models.LogEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		registrations: make(map[uuid.UUID]*models.ApiRegistration),
		endpoints:     make(map[uuid.UUID][]*models.ApiEndpoint),
		deployments:   make(map[uuid.UUID]*models.McpServerDeployment),
		logs:          make(map[uuid.UUID]map[models.LogKind][]models.LogEntry),
	}
}

var _ Store = (*MemoryStore)(nil)

func copyRegistration(reg *models.ApiRegistration) *models.ApiRegistration {
	c := *reg
	return &c
}

func copyDeployment(dep *models.McpServerDeployment) *models.McpServerDeployment {
	c := *dep
	return &c
}

func (s *MemoryStore) CreateRegistration(_ context.Context, reg *models.ApiRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.registrations {
		if existing.OwnerID == reg.OwnerID && strings.EqualFold(existing.Name, reg.Name) {
			return ErrAlreadyExists
		}
	}
	s.registrations[reg.ID] = copyRegistration(reg)
	return nil
}

func (s *MemoryStore) GetRegistration(_ context.Context, id uuid.UUID) (*models.ApiRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.registrations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRegistration(reg), nil
}

func (s *MemoryStore) ListRegistrations(_ context.Context, ownerID string) ([]*models.ApiRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ApiRegistration
	for _, reg := range s.registrations {
		if reg.OwnerID == ownerID {
			out = append(out, copyRegistration(reg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListRegistrationsByStatus(_ context.Context, status models.RegistrationStatus) ([]*models.ApiRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ApiRegistration
	for _, reg := range s.registrations {
		if reg.Status == status {
			out = append(out, copyRegistration(reg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateRegistration(_ context.Context, reg *models.ApiRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registrations[reg.ID]; !ok {
		return ErrNotFound
	}
	for _, other := range s.registrations {
		if other.ID != reg.ID && other.OwnerID == reg.OwnerID && strings.EqualFold(other.Name, reg.Name) {
			return ErrAlreadyExists
		}
	}
	s.registrations[reg.ID] = copyRegistration(reg)
	return nil
}

func (s *MemoryStore) SetRegistrationStatus(_ context.Context, id uuid.UUID, status models.RegistrationStatus) (models.RegistrationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return "", ErrNotFound
	}
	old := reg.Status
	if err := applyRegistrationTransition(reg, status, time.Now().UTC()); err != nil {
		return old, err
	}
	return old, nil
}

func (s *MemoryStore) SetRegistrationValidationResult(_ context.Context, id uuid.UUID, status models.RegistrationStatus, validationError string, validatedAt time.Time) (models.RegistrationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return "", ErrNotFound
	}
	old := reg.Status
	if err := applyRegistrationTransition(reg, status, time.Now().UTC()); err != nil {
		return old, err
	}
	switch status {
	case models.RegistrationActive:
		reg.ValidationError = ""
		at := validatedAt
		reg.LastValidatedAt = &at
	case models.RegistrationValidationFailed:
		reg.ValidationError = validationError
	}
	return old, nil
}

func (s *MemoryStore) DeleteRegistration(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registrations[id]; !ok {
		return ErrNotFound
	}
	for _, dep := range s.deployments {
		if dep.RegistrationID == id && dep.Status.IsActive() {
			return ErrConflict
		}
	}
	delete(s.registrations, id)
	delete(s.endpoints, id)
	for depID, dep := range s.deployments {
		if dep.RegistrationID == id {
			delete(s.deployments, depID)
			delete(s.logs, depID)
		}
	}
	return nil
}

func (s *MemoryStore) ReplaceEndpoints(_ context.Context, registrationID uuid.UUID, endpoints []*models.ApiEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registrations[registrationID]; !ok {
		return ErrNotFound
	}
	copies := make([]*models.ApiEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		c := *ep
		copies = append(copies, &c)
	}
	s.endpoints[registrationID] = copies
	return nil
}

func (s *MemoryStore) ListEndpoints(_ context.Context, registrationID uuid.UUID) ([]*models.ApiEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eps := s.endpoints[registrationID]
	out := make([]*models.ApiEndpoint, 0, len(eps))
	for _, ep := range eps {
		c := *ep
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].HTTPMethod < out[j].HTTPMethod
	})
	return out, nil
}

func (s *MemoryStore) CreateDeployment(_ context.Context, dep *models.McpServerDeployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registrations[dep.RegistrationID]; !ok {
		return ErrNotFound
	}
	s.deployments[dep.ID] = copyDeployment(dep)
	return nil
}

func (s *MemoryStore) GetDeployment(_ context.Context, id uuid.UUID) (*models.McpServerDeployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dep, ok := s.deployments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDeployment(dep), nil
}

func (s *MemoryStore) ListDeployments(_ context.Context, filter *DeploymentFilter) ([]*models.McpServerDeployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.McpServerDeployment
	for _, dep := range s.deployments {
		if filter != nil {
			if filter.RegistrationID != nil && dep.RegistrationID != *filter.RegistrationID {
				continue
			}
			if filter.Status != nil && dep.Status != *filter.Status {
				continue
			}
		}
		out = append(out, copyDeployment(dep))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateDeploymentRuntimeInfo(_ context.Context, dep *models.McpServerDeployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.deployments[dep.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Version = dep.Version
	existing.ContainerID = dep.ContainerID
	existing.ContainerImage = dep.ContainerImage
	existing.ContainerPort = dep.ContainerPort
	existing.HostPort = dep.HostPort
	existing.EndpointURL = dep.EndpointURL
	existing.HealthCheckURL = dep.HealthCheckURL
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetDeploymentStatus(_ context.Context, id uuid.UUID, status models.DeploymentStatus, errorMessage string) (models.DeploymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep, ok := s.deployments[id]
	if !ok {
		return "", ErrNotFound
	}
	old := dep.Status
	if err := applyDeploymentTransition(dep, status, errorMessage, time.Now().UTC()); err != nil {
		return old, err
	}
	return old, nil
}

func (s *MemoryStore) SetDeploymentHealth(_ context.Context, id uuid.UUID, health models.HealthStatus, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep, ok := s.deployments[id]
	if !ok {
		return ErrNotFound
	}
	dep.HealthStatus = health
	at := checkedAt
	dep.LastHealthCheck = &at
	return nil
}

func (s *MemoryStore) SetDeploymentReplicas(_ context.Context, id uuid.UUID, replicas int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep, ok := s.deployments[id]
	if !ok {
		return ErrNotFound
	}
	dep.ReplicaCount = replicas
	dep.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendDeploymentLogs(_ context.Context, id uuid.UUID, kind models.LogKind, entries []models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deployments[id]; !ok {
		return ErrNotFound
	}
	if s.logs[id] == nil {
		s.logs[id] = make(map[models.LogKind][]models.LogEntry)
	}
	s.logs[id][kind] = append(s.logs[id][kind], entries...)
	return nil
}

func (s *MemoryStore) GetDeploymentLogs(_ context.Context, id uuid.UUID, kind models.LogKind) ([]models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.deployments[id]; !ok {
		return nil, ErrNotFound
	}
	entries := s.logs[id][kind]
	out := make([]models.LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) CountActiveDeployments(_ context.Context, registrationID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, dep := range s.deployments {
		if dep.RegistrationID == registrationID && dep.Status.IsActive() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DeleteDeployment(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep, ok := s.deployments[id]
	if !ok {
		return ErrNotFound
	}
	if !dep.Status.IsFinal() {
		return ErrConflict
	}
	delete(s.deployments, id)
	delete(s.logs, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
