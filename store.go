package approvalflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*StoreImpl)(nil)

// StoreImpl persists workflow state in Postgres. Step lists travel as
// jsonb; instance rows carry a version column checked on every update.
type StoreImpl struct {
	db Querier
}

func NewStore(pool *pgxpool.Pool) *StoreImpl {
	return &StoreImpl{db: pool}
}

func (store *StoreImpl) SaveWorkflowDefinition(ctx context.Context, def *WorkflowDefinition) error {
	executor := store.getExecutor(ctx)

	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	const query = `
INSERT INTO approvals.workflow_definitions (id, tenant_id, name, entity_type, is_active, steps, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET tenant_id = EXCLUDED.tenant_id,
	name = EXCLUDED.name,
	entity_type = EXCLUDED.entity_type,
	is_active = EXCLUDED.is_active,
	steps = EXCLUDED.steps
RETURNING id, created_at`

	stepsJSON, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	return executor.QueryRow(ctx, query,
		def.ID, def.TenantID, def.Name, def.EntityType, def.IsActive, stepsJSON, time.Now(),
	).Scan(&def.ID, &def.CreatedAt)
}

func (store *StoreImpl) GetWorkflowDefinition(ctx context.Context, id string) (*WorkflowDefinition, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, tenant_id, name, entity_type, is_active, steps, created_at
FROM approvals.workflow_definitions
WHERE id = $1`

	return scanDefinition(executor.QueryRow(ctx, query, id), fmt.Sprintf("definition %s", id))
}

func (store *StoreImpl) FindActiveDefinition(ctx context.Context, tenantID, entityType string) (*WorkflowDefinition, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, tenant_id, name, entity_type, is_active, steps, created_at
FROM approvals.workflow_definitions
WHERE tenant_id = $1 AND entity_type = $2 AND is_active
ORDER BY created_at
LIMIT 1`

	return scanDefinition(
		executor.QueryRow(ctx, query, tenantID, entityType),
		fmt.Sprintf("no active definition for %s/%s", tenantID, entityType),
	)
}

func (store *StoreImpl) ListWorkflowDefinitions(ctx context.Context, tenantID string) ([]*WorkflowDefinition, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, tenant_id, name, entity_type, is_active, steps, created_at
FROM approvals.workflow_definitions
WHERE $1 = '' OR tenant_id = $1
ORDER BY created_at`

	rows, err := executor.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*WorkflowDefinition
	for rows.Next() {
		var def WorkflowDefinition
		var stepsJSON []byte

		err := rows.Scan(
			&def.ID, &def.TenantID, &def.Name, &def.EntityType,
			&def.IsActive, &stepsJSON, &def.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(stepsJSON, &def.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}

		defs = append(defs, &def)
	}

	return defs, rows.Err()
}

func (store *StoreImpl) DefinitionHasInstances(ctx context.Context, definitionID string) (bool, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT EXISTS (
	SELECT 1 FROM approvals.workflow_instances WHERE definition_id = $1
)`

	var exists bool
	err := executor.QueryRow(ctx, query, definitionID).Scan(&exists)

	return exists, err
}

func (store *StoreImpl) CreateInstance(ctx context.Context, instance *WorkflowInstance) error {
	executor := store.getExecutor(ctx)

	const query = `
INSERT INTO approvals.workflow_instances
	(definition_id, tenant_id, entity_type, entity_id, steps, current_step,
	 status, initiated_by, started_at, due_at, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $11)
RETURNING id, version, created_at, updated_at`

	stepsJSON, err := json.Marshal(instance.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	err = executor.QueryRow(ctx, query,
		instance.DefinitionID, instance.TenantID, instance.EntityType, instance.EntityID,
		stepsJSON, instance.CurrentStep, instance.Status, instance.InitiatedBy,
		instance.StartedAt, instance.DueAt, time.Now(),
	).Scan(&instance.ID, &instance.Version, &instance.CreatedAt, &instance.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: active instance exists for %s#%d",
			ErrConflict, instance.EntityType, instance.EntityID)
	}

	return err
}

func (store *StoreImpl) GetInstance(ctx context.Context, instanceID int64) (*WorkflowInstance, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, definition_id, tenant_id, entity_type, entity_id, steps, current_step,
	   status, initiated_by, started_at, due_at, escalated_at, completed_at,
	   comment, version, created_at, updated_at
FROM approvals.workflow_instances
WHERE id = $1`

	return scanInstance(
		executor.QueryRow(ctx, query, instanceID),
		fmt.Sprintf("instance %d", instanceID),
	)
}

func (store *StoreImpl) UpdateInstance(ctx context.Context, instance *WorkflowInstance, expectedVersion int64) error {
	executor := store.getExecutor(ctx)

	const query = `
UPDATE approvals.workflow_instances
SET current_step = $3, status = $4, due_at = $5, escalated_at = $6,
	completed_at = $7, comment = $8, version = version + 1, updated_at = $9
WHERE id = $1 AND version = $2`

	tag, err := executor.Exec(ctx, query,
		instance.ID, expectedVersion, instance.CurrentStep, instance.Status,
		instance.DueAt, instance.EscalatedAt, instance.CompletedAt,
		instance.Comment, time.Now(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: instance %d changed since read (expected version %d)",
			ErrConflict, instance.ID, expectedVersion)
	}

	instance.Version = expectedVersion + 1

	return nil
}

func (store *StoreImpl) FindActiveInstance(ctx context.Context, entityType string, entityID int64) (*WorkflowInstance, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, definition_id, tenant_id, entity_type, entity_id, steps, current_step,
	   status, initiated_by, started_at, due_at, escalated_at, completed_at,
	   comment, version, created_at, updated_at
FROM approvals.workflow_instances
WHERE entity_type = $1 AND entity_id = $2 AND status IN ('pending', 'in_progress')
LIMIT 1`

	return scanInstance(
		executor.QueryRow(ctx, query, entityType, entityID),
		fmt.Sprintf("no active instance for %s#%d", entityType, entityID),
	)
}

func (store *StoreImpl) ListInProgressInstances(ctx context.Context) ([]*WorkflowInstance, error) {
	const query = `
SELECT id, definition_id, tenant_id, entity_type, entity_id, steps, current_step,
	   status, initiated_by, started_at, due_at, escalated_at, completed_at,
	   comment, version, created_at, updated_at
FROM approvals.workflow_instances
WHERE status = 'in_progress'
ORDER BY id`

	return store.queryInstances(ctx, query)
}

func (store *StoreImpl) ListOverdueInstances(ctx context.Context, now time.Time) ([]*WorkflowInstance, error) {
	const query = `
SELECT id, definition_id, tenant_id, entity_type, entity_id, steps, current_step,
	   status, initiated_by, started_at, due_at, escalated_at, completed_at,
	   comment, version, created_at, updated_at
FROM approvals.workflow_instances
WHERE status = 'in_progress' AND due_at IS NOT NULL AND due_at < $1
ORDER BY due_at`

	return store.queryInstances(ctx, query, now)
}

func (store *StoreImpl) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	executor := store.getExecutor(ctx)

	const query = `
INSERT INTO approvals.workflow_history
	(instance_id, step_order, step_name, action, actor_id, comment, is_system, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at`

	return executor.QueryRow(ctx, query,
		entry.InstanceID, entry.StepOrder, entry.StepName, entry.Action,
		entry.ActorID, entry.Comment, entry.System, time.Now(),
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (store *StoreImpl) GetHistory(ctx context.Context, instanceID int64) ([]HistoryEntry, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, instance_id, step_order, step_name, action, actor_id, comment, is_system, created_at
FROM approvals.workflow_history
WHERE instance_id = $1
ORDER BY id`

	rows, err := executor.Query(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		err := rows.Scan(
			&entry.ID, &entry.InstanceID, &entry.StepOrder, &entry.StepName,
			&entry.Action, &entry.ActorID, &entry.Comment, &entry.System, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (store *StoreImpl) LogEvent(ctx context.Context, instanceID int64, eventType string, payload map[string]any) error {
	executor := store.getExecutor(ctx)

	const query = `
INSERT INTO approvals.workflow_events (instance_id, event_type, payload, created_at)
VALUES ($1, $2, $3, $4)`

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = executor.Exec(ctx, query, instanceID, eventType, payloadJSON, time.Now())

	return err
}

func (store *StoreImpl) GetEvents(ctx context.Context, instanceID int64) ([]WorkflowEvent, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, instance_id, event_type, payload, created_at
FROM approvals.workflow_events
WHERE instance_id = $1
ORDER BY id`

	rows, err := executor.Query(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []WorkflowEvent
	for rows.Next() {
		var event WorkflowEvent
		var payloadJSON []byte

		err := rows.Scan(&event.ID, &event.InstanceID, &event.EventType, &payloadJSON, &event.CreatedAt)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func (store *StoreImpl) queryInstances(ctx context.Context, query string, args ...any) ([]*WorkflowInstance, error) {
	executor := store.getExecutor(ctx)

	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*WorkflowInstance
	for rows.Next() {
		instance, err := scanInstanceRow(rows)
		if err != nil {
			return nil, err
		}

		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

func (store *StoreImpl) getExecutor(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}

	return store.db
}

func scanDefinition(row pgx.Row, notFoundMsg string) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	var stepsJSON []byte

	err := row.Scan(
		&def.ID, &def.TenantID, &def.Name, &def.EntityType,
		&def.IsActive, &stepsJSON, &def.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, notFoundMsg)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &def.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}

	return &def, nil
}

func scanInstance(row pgx.Row, notFoundMsg string) (*WorkflowInstance, error) {
	instance, err := scanInstanceRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, notFoundMsg)
	}

	return instance, err
}

func scanInstanceRow(row pgx.Row) (*WorkflowInstance, error) {
	var instance WorkflowInstance
	var stepsJSON []byte

	err := row.Scan(
		&instance.ID, &instance.DefinitionID, &instance.TenantID,
		&instance.EntityType, &instance.EntityID, &stepsJSON, &instance.CurrentStep,
		&instance.Status, &instance.InitiatedBy, &instance.StartedAt,
		&instance.DueAt, &instance.EscalatedAt, &instance.CompletedAt,
		&instance.Comment, &instance.Version, &instance.CreatedAt, &instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &instance.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}

	return &instance, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
