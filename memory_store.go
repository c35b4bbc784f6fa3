package approvalflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in maps under one mutex. Used in tests and
// in single-process deployments without Postgres. Reads hand out copies so
// the optimistic version check in UpdateInstance actually bites.
type MemoryStore struct {
	mu            sync.RWMutex
	definitions   map[string]*WorkflowDefinition
	definitionIDs []string
	instances     map[int64]*WorkflowInstance
	history       map[int64][]HistoryEntry
	events        map[int64][]WorkflowEvent
	nextInstance  int64
	nextHistory   int64
	nextEvent     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions:  make(map[string]*WorkflowDefinition),
		instances:    make(map[int64]*WorkflowInstance),
		history:      make(map[int64][]HistoryEntry),
		events:       make(map[int64][]WorkflowEvent),
		nextInstance: 1,
		nextHistory:  1,
		nextEvent:    1,
	}
}

func (s *MemoryStore) SaveWorkflowDefinition(ctx context.Context, def *WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.definitions[def.ID]; ok && existing != nil {
		def.CreatedAt = existing.CreatedAt
	} else {
		if def.ID == "" {
			def.ID = uuid.NewString()
		}
		def.CreatedAt = time.Now()
		s.definitionIDs = append(s.definitionIDs, def.ID)
	}

	stored := cloneDefinition(def)
	s.definitions[def.ID] = stored

	return nil
}

func (s *MemoryStore) GetWorkflowDefinition(ctx context.Context, id string) (*WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: definition %s", ErrNotFound, id)
	}

	return cloneDefinition(def), nil
}

func (s *MemoryStore) FindActiveDefinition(ctx context.Context, tenantID, entityType string) (*WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.definitionIDs {
		def := s.definitions[id]
		if def.IsActive && def.TenantID == tenantID && def.EntityType == entityType {
			return cloneDefinition(def), nil
		}
	}

	return nil, fmt.Errorf("%w: no active definition for %s/%s", ErrNotFound, tenantID, entityType)
}

func (s *MemoryStore) ListWorkflowDefinitions(ctx context.Context, tenantID string) ([]*WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*WorkflowDefinition
	for _, id := range s.definitionIDs {
		def := s.definitions[id]
		if tenantID == "" || def.TenantID == tenantID {
			result = append(result, cloneDefinition(def))
		}
	}

	return result, nil
}

func (s *MemoryStore) DefinitionHasInstances(ctx context.Context, definitionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, instance := range s.instances {
		if instance.DefinitionID == definitionID {
			return true, nil
		}
	}

	return false, nil
}

func (s *MemoryStore) CreateInstance(ctx context.Context, instance *WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.instances {
		if existing.EntityType == instance.EntityType &&
			existing.EntityID == instance.EntityID &&
			!existing.Status.IsTerminal() {
			return fmt.Errorf("%w: active instance %d exists for %s#%d",
				ErrConflict, existing.ID, instance.EntityType, instance.EntityID)
		}
	}

	now := time.Now()
	instance.ID = s.nextInstance
	instance.Version = 1
	instance.CreatedAt = now
	instance.UpdatedAt = now
	s.nextInstance++

	s.instances[instance.ID] = cloneInstance(instance)

	return nil
}

func (s *MemoryStore) GetInstance(ctx context.Context, instanceID int64) (*WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: instance %d", ErrNotFound, instanceID)
	}

	return cloneInstance(instance), nil
}

func (s *MemoryStore) UpdateInstance(ctx context.Context, instance *WorkflowInstance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[instance.ID]
	if !ok {
		return fmt.Errorf("%w: instance %d", ErrNotFound, instance.ID)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: instance %d changed (version %d, expected %d)",
			ErrConflict, instance.ID, stored.Version, expectedVersion)
	}

	instance.Version = expectedVersion + 1
	instance.UpdatedAt = time.Now()
	s.instances[instance.ID] = cloneInstance(instance)

	return nil
}

func (s *MemoryStore) FindActiveInstance(ctx context.Context, entityType string, entityID int64) (*WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, instance := range s.instances {
		if instance.EntityType == entityType &&
			instance.EntityID == entityID &&
			!instance.Status.IsTerminal() {
			return cloneInstance(instance), nil
		}
	}

	return nil, fmt.Errorf("%w: no active instance for %s#%d", ErrNotFound, entityType, entityID)
}

func (s *MemoryStore) ListInProgressInstances(ctx context.Context) ([]*WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*WorkflowInstance
	for _, instance := range s.instances {
		if instance.Status == StatusInProgress {
			result = append(result, cloneInstance(instance))
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (s *MemoryStore) ListOverdueInstances(ctx context.Context, now time.Time) ([]*WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*WorkflowInstance
	for _, instance := range s.instances {
		if instance.IsOverdue(now) {
			result = append(result, cloneInstance(instance))
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[entry.InstanceID]; !ok {
		return fmt.Errorf("%w: instance %d", ErrNotFound, entry.InstanceID)
	}

	entry.ID = s.nextHistory
	s.nextHistory++
	s.history[entry.InstanceID] = append(s.history[entry.InstanceID], *entry)

	return nil
}

func (s *MemoryStore) GetHistory(ctx context.Context, instanceID int64) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]HistoryEntry(nil), s.history[instanceID]...), nil
}

func (s *MemoryStore) LogEvent(ctx context.Context, instanceID int64, eventType string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event := WorkflowEvent{
		ID:         s.nextEvent,
		InstanceID: instanceID,
		EventType:  eventType,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	s.nextEvent++
	s.events[instanceID] = append(s.events[instanceID], event)

	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, instanceID int64) ([]WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]WorkflowEvent(nil), s.events[instanceID]...), nil
}

func cloneDefinition(def *WorkflowDefinition) *WorkflowDefinition {
	copied := *def
	copied.Steps = append([]StepDefinition(nil), def.Steps...)

	return &copied
}

func cloneInstance(instance *WorkflowInstance) *WorkflowInstance {
	copied := *instance
	copied.Steps = append([]StepDefinition(nil), instance.Steps...)
	copied.CurrentStep = clonePtr(instance.CurrentStep)
	copied.DueAt = clonePtr(instance.DueAt)
	copied.EscalatedAt = clonePtr(instance.EscalatedAt)
	copied.CompletedAt = clonePtr(instance.CompletedAt)
	copied.Comment = clonePtr(instance.Comment)

	return &copied
}

func clonePtr[T any](value *T) *T {
	if value == nil {
		return nil
	}

	copied := *value

	return &copied
}
