package approvalflow

import (
	"context"
	"time"
)

// Store is the persistence boundary of the engine. Implementations must
// return ErrNotFound for unknown ids and ErrConflict both for a duplicate
// active instance on the same target and for a version mismatch in
// UpdateInstance.
type Store interface {
	SaveWorkflowDefinition(ctx context.Context, def *WorkflowDefinition) error
	GetWorkflowDefinition(ctx context.Context, id string) (*WorkflowDefinition, error)
	FindActiveDefinition(ctx context.Context, tenantID, entityType string) (*WorkflowDefinition, error)
	ListWorkflowDefinitions(ctx context.Context, tenantID string) ([]*WorkflowDefinition, error)
	DefinitionHasInstances(ctx context.Context, definitionID string) (bool, error)

	CreateInstance(ctx context.Context, instance *WorkflowInstance) error
	GetInstance(ctx context.Context, instanceID int64) (*WorkflowInstance, error)
	// UpdateInstance persists the instance iff its stored version equals
	// expectedVersion, then bumps the version. ErrConflict otherwise.
	UpdateInstance(ctx context.Context, instance *WorkflowInstance, expectedVersion int64) error
	FindActiveInstance(ctx context.Context, entityType string, entityID int64) (*WorkflowInstance, error)
	ListInProgressInstances(ctx context.Context) ([]*WorkflowInstance, error)
	ListOverdueInstances(ctx context.Context, now time.Time) ([]*WorkflowInstance, error)

	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	GetHistory(ctx context.Context, instanceID int64) ([]HistoryEntry, error)

	LogEvent(ctx context.Context, instanceID int64, eventType string, payload map[string]any) error
	GetEvents(ctx context.Context, instanceID int64) ([]WorkflowEvent, error)
}
