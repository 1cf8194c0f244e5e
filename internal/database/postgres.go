package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// schema is applied at connection time. Statements are idempotent so
// startup doubles as migration for the current schema version.
const schema = `
CREATE TABLE IF NOT EXISTS api_registrations (
	id UUID PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	api_type TEXT NOT NULL,
	base_url TEXT NOT NULL,
	spec_url TEXT NOT NULL DEFAULT '',
	auth_type TEXT NOT NULL,
	auth_config TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	validation_error TEXT NOT NULL DEFAULT '',
	last_validated_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS api_registrations_owner_name
	ON api_registrations (owner_id, lower(name));

CREATE TABLE IF NOT EXISTS api_endpoints (
	id UUID PRIMARY KEY,
	registration_id UUID NOT NULL REFERENCES api_registrations(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	http_method TEXT NOT NULL,
	path TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'application/json',
	request_schema TEXT NOT NULL DEFAULT '',
	response_schema TEXT NOT NULL DEFAULT '',
	requires_auth BOOLEAN NOT NULL DEFAULT TRUE,
	rate_limit INTEGER NOT NULL DEFAULT 0,
	timeout_seconds INTEGER NOT NULL DEFAULT 30,
	cache_ttl_seconds INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS api_endpoints_registration
	ON api_endpoints (registration_id);

CREATE TABLE IF NOT EXISTS mcp_server_deployments (
	id UUID PRIMARY KEY,
	registration_id UUID NOT NULL REFERENCES api_registrations(id) ON DELETE CASCADE,
	server_name TEXT NOT NULL,
	version TEXT NOT NULL,
	status TEXT NOT NULL,
	container_id TEXT NOT NULL DEFAULT '',
	container_image TEXT NOT NULL DEFAULT '',
	container_port INTEGER NOT NULL DEFAULT 0,
	host_port INTEGER NOT NULL DEFAULT 0,
	endpoint_url TEXT NOT NULL DEFAULT '',
	health_check_url TEXT NOT NULL DEFAULT '',
	cpu_limit TEXT NOT NULL DEFAULT '',
	memory_limit TEXT NOT NULL DEFAULT '',
	replica_count INTEGER NOT NULL DEFAULT 1,
	health_status TEXT NOT NULL DEFAULT 'UNKNOWN',
	last_health_check TIMESTAMPTZ,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	stopped_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS mcp_server_deployments_registration
	ON mcp_server_deployments (registration_id);
CREATE INDEX IF NOT EXISTS mcp_server_deployments_status
	ON mcp_server_deployments (status);

CREATE TABLE IF NOT EXISTS deployment_logs (
	id BIGSERIAL PRIMARY KEY,
	deployment_id UUID NOT NULL REFERENCES mcp_server_deployments(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS deployment_logs_deployment
	ON deployment_logs (deployment_id, kind, id);
`

// PostgresStore is the Store implementation backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects a pool, pings it and applies the schema.
func NewPostgresStore(ctx context.Context, connectionURI string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connectionURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	config.MaxConns = 30
	config.MinConns = 5
	config.MaxConnIdleTime = 30 * time.Minute
	config.MaxConnLifetime = 2 * time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if _, err = pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const registrationColumns = `id, owner_id, name, description, api_type, base_url, spec_url,
	auth_type, auth_config, status, validation_error, last_validated_at, created_at, updated_at`

func scanRegistration(row pgx.Row) (*models.ApiRegistration, error) {
	var reg models.ApiRegistration
	err := row.Scan(
		&reg.ID, &reg.OwnerID, &reg.Name, &reg.Description, &reg.ApiType, &reg.BaseURL,
		&reg.SpecURL, &reg.AuthType, &reg.AuthConfig, &reg.Status, &reg.ValidationError,
		&reg.LastValidatedAt, &reg.CreatedAt, &reg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *PostgresStore) CreateRegistration(ctx context.Context, reg *models.ApiRegistration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_registrations (`+registrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		reg.ID, reg.OwnerID, reg.Name, reg.Description, reg.ApiType, reg.BaseURL,
		reg.SpecURL, reg.AuthType, reg.AuthConfig, reg.Status, reg.ValidationError,
		reg.LastValidatedAt, reg.CreatedAt, reg.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PostgresStore) GetRegistration(ctx context.Context, id uuid.UUID) (*models.ApiRegistration, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM api_registrations WHERE id = $1`, id)
	return scanRegistration(row)
}

func (s *PostgresStore) listRegistrations(ctx context.Context, where string, arg any) ([]*models.ApiRegistration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+registrationColumns+` FROM api_registrations WHERE `+where+` ORDER BY created_at`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ApiRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRegistrations(ctx context.Context, ownerID string) ([]*models.ApiRegistration, error) {
	return s.listRegistrations(ctx, "owner_id = $1", ownerID)
}

func (s *PostgresStore) ListRegistrationsByStatus(ctx context.Context, status models.RegistrationStatus) ([]*models.ApiRegistration, error) {
	return s.listRegistrations(ctx, "status = $1", status)
}

func (s *PostgresStore) UpdateRegistration(ctx context.Context, reg *models.ApiRegistration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_registrations
		SET name = $2, description = $3, api_type = $4, base_url = $5, spec_url = $6,
			auth_type = $7, auth_config = $8, status = $9, validation_error = $10,
			last_validated_at = $11, updated_at = $12
		WHERE id = $1`,
		reg.ID, reg.Name, reg.Description, reg.ApiType, reg.BaseURL, reg.SpecURL,
		reg.AuthType, reg.AuthConfig, reg.Status, reg.ValidationError,
		reg.LastValidatedAt, reg.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// withRegistrationLock runs fn against the current row locked FOR UPDATE and
// persists the mutated status fields.
func (s *PostgresStore) withRegistrationLock(ctx context.Context, id uuid.UUID, fn func(reg *models.ApiRegistration) error) (models.RegistrationStatus, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM api_registrations WHERE id = $1 FOR UPDATE`, id)
	reg, err := scanRegistration(row)
	if err != nil {
		return "", err
	}

	old := reg.Status
	if err := fn(reg); err != nil {
		return old, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE api_registrations
		SET status = $2, validation_error = $3, last_validated_at = $4, updated_at = $5
		WHERE id = $1`,
		reg.ID, reg.Status, reg.ValidationError, reg.LastValidatedAt, reg.UpdatedAt,
	)
	if err != nil {
		return old, err
	}
	return old, tx.Commit(ctx)
}

func (s *PostgresStore) SetRegistrationStatus(ctx context.Context, id uuid.UUID, status models.RegistrationStatus) (models.RegistrationStatus, error) {
	return s.withRegistrationLock(ctx, id, func(reg *models.ApiRegistration) error {
		return applyRegistrationTransition(reg, status, time.Now().UTC())
	})
}

func (s *PostgresStore) SetRegistrationValidationResult(ctx context.Context, id uuid.UUID, status models.RegistrationStatus, validationError string, validatedAt time.Time) (models.RegistrationStatus, error) {
	return s.withRegistrationLock(ctx, id, func(reg *models.ApiRegistration) error {
		if err := applyRegistrationTransition(reg, status, time.Now().UTC()); err != nil {
			return err
		}
		switch status {
		case models.RegistrationActive:
			reg.ValidationError = ""
			at := validatedAt
			reg.LastValidatedAt = &at
		case models.RegistrationValidationFailed:
			reg.ValidationError = validationError
		}
		return nil
	})
}

func (s *PostgresStore) DeleteRegistration(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var active int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM mcp_server_deployments
		WHERE registration_id = $1 AND status NOT IN ('STOPPED', 'FAILED')`, id).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrConflict
	}

	tag, err := tx.Exec(ctx, `DELETE FROM api_registrations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ReplaceEndpoints(ctx context.Context, registrationID uuid.UUID, endpoints []*models.ApiEndpoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM api_registrations WHERE id = $1)`, registrationID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	if _, err = tx.Exec(ctx, `DELETE FROM api_endpoints WHERE registration_id = $1`, registrationID); err != nil {
		return err
	}
	for _, ep := range endpoints {
		_, err = tx.Exec(ctx, `
			INSERT INTO api_endpoints (id, registration_id, name, description, http_method, path,
				content_type, request_schema, response_schema, requires_auth, rate_limit,
				timeout_seconds, cache_ttl_seconds, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			ep.ID, registrationID, ep.Name, ep.Description, ep.HTTPMethod, ep.Path,
			ep.ContentType, ep.RequestSchema, ep.ResponseSchema, ep.RequiresAuth, ep.RateLimit,
			ep.TimeoutSeconds, ep.CacheTTLSeconds, ep.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListEndpoints(ctx context.Context, registrationID uuid.UUID) ([]*models.ApiEndpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, registration_id, name, description, http_method, path, content_type,
			request_schema, response_schema, requires_auth, rate_limit, timeout_seconds,
			cache_ttl_seconds, created_at
		FROM api_endpoints WHERE registration_id = $1 ORDER BY path, http_method`, registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ApiEndpoint
	for rows.Next() {
		var ep models.ApiEndpoint
		err = rows.Scan(&ep.ID, &ep.RegistrationID, &ep.Name, &ep.Description, &ep.HTTPMethod,
			&ep.Path, &ep.ContentType, &ep.RequestSchema, &ep.ResponseSchema, &ep.RequiresAuth,
			&ep.RateLimit, &ep.TimeoutSeconds, &ep.CacheTTLSeconds, &ep.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, &ep)
	}
	return out, rows.Err()
}

const deploymentColumns = `id, registration_id, server_name, version, status, container_id,
	container_image, container_port, host_port, endpoint_url, health_check_url, cpu_limit,
	memory_limit, replica_count, health_status, last_health_check, error_message,
	created_at, updated_at, started_at, stopped_at`

func scanDeployment(row pgx.Row) (*models.McpServerDeployment, error) {
	var dep models.McpServerDeployment
	err := row.Scan(
		&dep.ID, &dep.RegistrationID, &dep.ServerName, &dep.Version, &dep.Status,
		&dep.ContainerID, &dep.ContainerImage, &dep.ContainerPort, &dep.HostPort,
		&dep.EndpointURL, &dep.HealthCheckURL, &dep.CPULimit, &dep.MemoryLimit,
		&dep.ReplicaCount, &dep.HealthStatus, &dep.LastHealthCheck, &dep.ErrorMessage,
		&dep.CreatedAt, &dep.UpdatedAt, &dep.StartedAt, &dep.StoppedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dep, nil
}

func (s *PostgresStore) CreateDeployment(ctx context.Context, dep *models.McpServerDeployment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mcp_server_deployments (`+deploymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		dep.ID, dep.RegistrationID, dep.ServerName, dep.Version, dep.Status,
		dep.ContainerID, dep.ContainerImage, dep.ContainerPort, dep.HostPort,
		dep.EndpointURL, dep.HealthCheckURL, dep.CPULimit, dep.MemoryLimit,
		dep.ReplicaCount, dep.HealthStatus, dep.LastHealthCheck, dep.ErrorMessage,
		dep.CreatedAt, dep.UpdatedAt, dep.StartedAt, dep.StoppedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetDeployment(ctx context.Context, id uuid.UUID) (*models.McpServerDeployment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM mcp_server_deployments WHERE id = $1`, id)
	return scanDeployment(row)
}

func (s *PostgresStore) ListDeployments(ctx context.Context, filter *DeploymentFilter) ([]*models.McpServerDeployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM mcp_server_deployments`
	var args []any
	var conds []string
	if filter != nil {
		if filter.RegistrationID != nil {
			args = append(args, *filter.RegistrationID)
			conds = append(conds, fmt.Sprintf("registration_id = $%d", len(args)))
		}
		if filter.Status != nil {
			args = append(args, *filter.Status)
			conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
		}
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.McpServerDeployment
	for rows.Next() {
		dep, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateDeploymentRuntimeInfo(ctx context.Context, dep *models.McpServerDeployment) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mcp_server_deployments
		SET version = $2, container_id = $3, container_image = $4, container_port = $5,
			host_port = $6, endpoint_url = $7, health_check_url = $8, updated_at = $9
		WHERE id = $1`,
		dep.ID, dep.Version, dep.ContainerID, dep.ContainerImage, dep.ContainerPort,
		dep.HostPort, dep.EndpointURL, dep.HealthCheckURL, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetDeploymentStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, errorMessage string) (models.DeploymentStatus, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM mcp_server_deployments WHERE id = $1 FOR UPDATE`, id)
	dep, err := scanDeployment(row)
	if err != nil {
		return "", err
	}

	old := dep.Status
	if err := applyDeploymentTransition(dep, status, errorMessage, time.Now().UTC()); err != nil {
		return old, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE mcp_server_deployments
		SET status = $2, error_message = $3, updated_at = $4, started_at = $5, stopped_at = $6
		WHERE id = $1`,
		dep.ID, dep.Status, dep.ErrorMessage, dep.UpdatedAt, dep.StartedAt, dep.StoppedAt,
	)
	if err != nil {
		return old, err
	}
	return old, tx.Commit(ctx)
}

func (s *PostgresStore) SetDeploymentHealth(ctx context.Context, id uuid.UUID, health models.HealthStatus, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mcp_server_deployments SET health_status = $2, last_health_check = $3
		WHERE id = $1`, id, health, checkedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetDeploymentReplicas(ctx context.Context, id uuid.UUID, replicas int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mcp_server_deployments SET replica_count = $2, updated_at = $3
		WHERE id = $1`, id, replicas, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendDeploymentLogs(ctx context.Context, id uuid.UUID, kind models.LogKind, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO deployment_logs (deployment_id, kind, ts, level, message)
			VALUES ($1, $2, $3, $4, $5)`, id, kind, e.Timestamp, e.Level, e.Message)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) GetDeploymentLogs(ctx context.Context, id uuid.UUID, kind models.LogKind) ([]models.LogEntry, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mcp_server_deployments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT ts, level, message FROM deployment_logs
		WHERE deployment_id = $1 AND kind = $2 ORDER BY id`, id, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.Timestamp, &e.Level, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountActiveDeployments(ctx context.Context, registrationID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM mcp_server_deployments
		WHERE registration_id = $1 AND status NOT IN ('STOPPED', 'FAILED')`, registrationID).Scan(&count)
	return count, err
}

func (s *PostgresStore) DeleteDeployment(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM mcp_server_deployments WHERE id = $1 FOR UPDATE`, id)
	dep, err := scanDeployment(row)
	if err != nil {
		return err
	}
	if !dep.Status.IsFinal() {
		return ErrConflict
	}

	if _, err = tx.Exec(ctx, `DELETE FROM mcp_server_deployments WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
