package approvalflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Engine is the approval state machine. All instance mutations go through
// its transition methods; nothing else writes status or current step.
type Engine struct {
	txManager  TxManager
	store      Store
	authorizer Authorizer
	notifier   Notifier
	now        func() time.Time
}

func NewEngine(store Store, opts ...EngineOption) *Engine {
	engine := &Engine{
		txManager:  NewMemoryTxManager(),
		store:      store,
		authorizer: NewStaticAuthorizer(),
		notifier:   NopNotifier{},
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// RegisterDefinition validates and saves a workflow definition. Editing a
// definition that already has instances is rejected: running instances
// hold a snapshot, but history should stay explainable from the template.
func (engine *Engine) RegisterDefinition(ctx context.Context, def *WorkflowDefinition) error {
	if err := engine.validateDefinition(def); err != nil {
		return err
	}

	return engine.txManager.ReadCommitted(ctx, func(ctx context.Context) error {
		if def.ID != "" {
			used, err := engine.store.DefinitionHasInstances(ctx, def.ID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("check definition usage: %w", err)
			}
			if used {
				return fmt.Errorf("%w: definition %s has instances and cannot be edited", ErrConflict, def.ID)
			}
		}

		return engine.store.SaveWorkflowDefinition(ctx, def)
	})
}

// Start creates an instance of the given definition for a target entity,
// placing it at step 1 in progress.
func (engine *Engine) Start(
	ctx context.Context,
	definitionID string,
	entityType string,
	entityID int64,
	initiatorID string,
) (int64, error) {
	var instanceID int64
	var events []Event

	err := engine.txManager.ReadCommitted(ctx, func(ctx context.Context) error {
		def, err := engine.store.GetWorkflowDefinition(ctx, definitionID)
		if err != nil {
			return fmt.Errorf("get workflow definition: %w", err)
		}

		id, pending, err := engine.startInstance(ctx, def, entityType, entityID, initiatorID)
		if err != nil {
			return err
		}

		instanceID = id
		events = pending

		return nil
	})
	if err != nil {
		return 0, err
	}

	engine.emit(ctx, events)

	return instanceID, nil
}

// StartForEntity starts whichever active definition is registered for the
// tenant and entity type. Returns ErrNotFound if none is.
func (engine *Engine) StartForEntity(
	ctx context.Context,
	tenantID string,
	entityType string,
	entityID int64,
	initiatorID string,
) (int64, error) {
	var instanceID int64
	var events []Event

	err := engine.txManager.ReadCommitted(ctx, func(ctx context.Context) error {
		def, err := engine.store.FindActiveDefinition(ctx, tenantID, entityType)
		if err != nil {
			return fmt.Errorf("find definition for %s: %w", entityType, err)
		}

		id, pending, err := engine.startInstance(ctx, def, entityType, entityID, initiatorID)
		if err != nil {
			return err
		}

		instanceID = id
		events = pending

		return nil
	})
	if err != nil {
		return 0, err
	}

	engine.emit(ctx, events)

	return instanceID, nil
}

func (engine *Engine) startInstance(
	ctx context.Context,
	def *WorkflowDefinition,
	entityType string,
	entityID int64,
	initiatorID string,
) (int64, []Event, error) {
	if !def.IsActive {
		return 0, nil, fmt.Errorf("%w: definition %s is inactive", ErrValidation, def.ID)
	}
	if len(def.Steps) == 0 {
		return 0, nil, fmt.Errorf("%w: definition %s has no steps", ErrValidation, def.ID)
	}
	if def.EntityType != entityType {
		return 0, nil, fmt.Errorf("%w: definition %s targets %s, not %s",
			ErrValidation, def.ID, def.EntityType, entityType)
	}

	existing, err := engine.store.FindActiveInstance(ctx, entityType, entityID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, nil, fmt.Errorf("find active instance: %w", err)
	}
	if existing != nil {
		return 0, nil, fmt.Errorf("%w: active instance %d already exists for %s#%d",
			ErrConflict, existing.ID, entityType, entityID)
	}

	now := engine.now()
	firstOrder := 1
	firstStep := def.StepByOrder(firstOrder)

	instance := &WorkflowInstance{
		DefinitionID: def.ID,
		TenantID:     def.TenantID,
		EntityType:   entityType,
		EntityID:     entityID,
		Steps:        append([]StepDefinition(nil), def.Steps...),
		CurrentStep:  &firstOrder,
		Status:       StatusInProgress,
		InitiatedBy:  initiatorID,
		StartedAt:    now,
		DueAt:        dueAt(now, firstStep),
	}

	if err := engine.store.CreateInstance(ctx, instance); err != nil {
		return 0, nil, fmt.Errorf("create instance: %w", err)
	}

	_ = engine.store.LogEvent(ctx, instance.ID, EventWorkflowStarted, map[string]any{
		KeyDefinitionID: def.ID,
		KeyEntityType:   entityType,
		KeyEntityID:     entityID,
		KeyActorID:      initiatorID,
	})

	event := Event{
		Kind:       EventWorkflowStarted,
		InstanceID: instance.ID,
		ActorID:    initiatorID,
		Timestamp:  now,
		Recipients: approverRecipients(firstStep),
	}

	return instance.ID, []Event{event}, nil
}

// Approve records an approval of the current step by actor and advances
// the instance: to the next step, or to completed on the last step.
func (engine *Engine) Approve(
	ctx context.Context,
	instanceID int64,
	actorID string,
	comment *string,
) (InstanceStatus, error) {
	return engine.progress(ctx, instanceID, actorID, comment, false, nil)
}

// AutoProgress evaluates the current step's auto-progression rule against
// the supplied entity attributes and, when it holds, approves the step as
// the system actor. Returns false when the rule does not hold.
func (engine *Engine) AutoProgress(
	ctx context.Context,
	instanceID int64,
	entityCtx map[string]any,
) (bool, error) {
	progressed := false

	_, err := engine.progress(ctx, instanceID, SystemActorID, nil, true, func(step *StepDefinition) (bool, error) {
		if step.AutoProgress == nil {
			return false, fmt.Errorf("%w: step %q has no auto-progression rule", ErrValidation, step.Name)
		}

		ok, err := step.AutoProgress.Evaluate(entityCtx)
		if err != nil {
			return false, fmt.Errorf("%w: evaluate rule for step %q: %v", ErrDependency, step.Name, err)
		}

		progressed = ok

		return ok, nil
	})
	if err != nil {
		return false, err
	}

	return progressed, nil
}

// progress is the shared approve path. When system is true authorization
// is skipped and gate decides whether the transition applies at all.
func (engine *Engine) progress(
	ctx context.Context,
	instanceID int64,
	actorID string,
	comment *string,
	system bool,
	gate func(step *StepDefinition) (bool, error),
) (InstanceStatus, error) {
	var status InstanceStatus
	var events []Event

	err := engine.txManager.ReadCommitted(ctx, func(ctx context.Context) error {
		instance, err := engine.store.GetInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("get instance: %w", err)
		}
		if instance.Status != StatusInProgress {
			return fmt.Errorf("%w: instance %d is %s", ErrConflict, instanceID, instance.Status)
		}

		step := instance.CurrentStepDef()
		if step == nil {
			return fmt.Errorf("%w: instance %d has no current step", ErrConflict, instanceID)
		}

		if gate != nil {
			applies, err := gate(step)
			if err != nil {
				return err
			}
			if !applies {
				status = instance.Status

				return nil
			}
		}

		if !system {
			if err := engine.authorize(ctx, actorID, step); err != nil {
				return err
			}
		}

		now := engine.now()
		expectedVersion := instance.Version

		action := ActionApproved
		eventKind := EventStepApproved
		if system {
			action = ActionAutoApproved
			eventKind = EventStepAutoApproved
		}

		var recipients Recipients
		if step.Order >= instance.LastStepOrder() {
			instance.Status = StatusCompleted
			instance.CurrentStep = nil
			instance.DueAt = nil
			instance.EscalatedAt = nil
			instance.CompletedAt = &now
		} else {
			next := step.Order + 1
			nextStep := instance.Steps[0]
			for idx := range instance.Steps {
				if instance.Steps[idx].Order == next {
					nextStep = instance.Steps[idx]

					break
				}
			}
			instance.CurrentStep = &next
			instance.DueAt = dueAt(now, &nextStep)
			instance.EscalatedAt = nil
			recipients = approverRecipients(&nextStep)
		}

		// The version check goes first: a lost race must leave no history
		// even on a store without transactional rollback.
		if err := engine.store.UpdateInstance(ctx, instance, expectedVersion); err != nil {
			return fmt.Errorf("update instance: %w", err)
		}

		entry := &HistoryEntry{
			InstanceID: instanceID,
			StepOrder:  step.Order,
			StepName:   step.Name,
			Action:     action,
			ActorID:    actorID,
			Comment:    comment,
			System:     system,
			CreatedAt:  now,
		}
		if err := engine.store.AppendHistory(ctx, entry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		_ = engine.store.LogEvent(ctx, instanceID, eventKind, map[string]any{
			KeyStepOrder: step.Order,
			KeyStepName:  step.Name,
			KeyActorID:   actorID,
		})

		events = append(events, Event{
			Kind:       eventKind,
			InstanceID: instanceID,
			ActorID:    actorID,
			Timestamp:  now,
			Recipients: recipients,
		})

		if instance.Status == StatusCompleted {
			_ = engine.store.LogEvent(ctx, instanceID, EventWorkflowCompleted, map[string]any{
				KeyActorID: actorID,
			})

			events = append(events, Event{
				Kind:       EventWorkflowCompleted,
				InstanceID: instanceID,
				ActorID:    actorID,
				Timestamp:  now,
				Recipients: Recipients{UserIDs: []string{instance.InitiatedBy}},
			})
		}

		status = instance.Status

		return nil
	})
	if err != nil {
		return "", err
	}

	engine.emit(ctx, events)

	return status, nil
}

// Reject terminates the instance at the current step. The reason is
// mandatory; rejection is a decision available to the same approvers.
func (engine *Engine) Reject(
	ctx context.Context,
	instanceID int64,
	actorID string,
	comment string,
) (InstanceStatus, error) {
	if strings.TrimSpace(comment) == "" {
		return "", fmt.Errorf("%w: rejection requires a comment", ErrValidation)
	}

	var status InstanceStatus
	var events []Event

	err := engine.txManager.ReadCommitted(ctx, func(ctx context.Context) error {
		instance, err := engine.store.GetInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("get instance: %w", err)
		}
		if instance.Status != StatusInProgress {
			return fmt.Errorf("%w: instance %d is %s", ErrConflict, instanceID, instance.Status)
		}

		step := instance.CurrentStepDef()
		if step == nil {
			return fmt.Errorf("%w: instance %d has no current step", ErrConflict, instanceID)
		}

		if err := engine.authorize(ctx, actorID, step); err != nil {
			return err
		}

		now := engine.now()
		expectedVersion := instance.Version

		instance.Status = StatusRejected
		instance.CurrentStep = nil
		instance.DueAt = nil
		instance.EscalatedAt = nil
		instance.CompletedAt = &now
		instance.Comment = &comment

		if err := engine.store.UpdateInstance(ctx, instance, expectedVersion); err != nil {
			return fmt.Errorf("update instance: %w", err)
		}

		entry := &HistoryEntry{
			InstanceID: instanceID,
			StepOrder:  step.Order,
			StepName:   step.Name,
			Action:     ActionRejected,
			ActorID:    actorID,
			Comment:    &comment,
			CreatedAt:  now,
		}
		if err := engine.store.AppendHistory(ctx, entry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		_ = engine.store.LogEvent(ctx, instanceID, EventWorkflowRejected, map[string]any{
			KeyStepOrder: step.Order,
			KeyStepName:  step.Name,
			KeyActorID:   actorID,
			KeyReason:    comment,
		})

		events = append(events, Event{
			Kind:       EventWorkflowRejected,
			InstanceID: instanceID,
			ActorID:    actorID,
			Timestamp:  now,
			Recipients: Recipients{UserIDs: []string{instance.InitiatedBy}},
		})

		status = instance.Status

		return nil
	})
	if err != nil {
		return "", err
	}

	engine.emit(ctx, events)

	return status, nil
}

// Cancel terminates a running instance. Reserved for the administrative
// cancel capability, not the step approvers.
func (engine *Engine) Cancel(ctx context.Context, instanceID int64, actorID string) (InstanceStatus, error) {
	var status InstanceStatus
	var events []Event

	err := engine.txManager.ReadCommitted(ctx, func(ctx context.Context) error {
		allowed, err := engine.authorizer.CanCancel(ctx, actorID)
		if err != nil {
			return fmt.Errorf("%w: check cancel capability: %v", ErrDependency, err)
		}
		if !allowed {
			return fmt.Errorf("%w: actor %s may not cancel workflows", ErrUnauthorized, actorID)
		}

		instance, err := engine.store.GetInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("get instance: %w", err)
		}
		if instance.Status != StatusInProgress {
			return fmt.Errorf("%w: instance %d is %s", ErrConflict, instanceID, instance.Status)
		}

		now := engine.now()
		expectedVersion := instance.Version

		stepOrder := 0
		stepName := ""
		if step := instance.CurrentStepDef(); step != nil {
			stepOrder = step.Order
			stepName = step.Name
		}

		instance.Status = StatusCancelled
		instance.CurrentStep = nil
		instance.DueAt = nil
		instance.EscalatedAt = nil
		instance.CompletedAt = &now

		if err := engine.store.UpdateInstance(ctx, instance, expectedVersion); err != nil {
			return fmt.Errorf("update instance: %w", err)
		}

		entry := &HistoryEntry{
			InstanceID: instanceID,
			StepOrder:  stepOrder,
			StepName:   stepName,
			Action:     ActionCancelled,
			ActorID:    actorID,
			CreatedAt:  now,
		}
		if err := engine.store.AppendHistory(ctx, entry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		_ = engine.store.LogEvent(ctx, instanceID, EventWorkflowCancelled, map[string]any{
			KeyActorID: actorID,
		})

		events = append(events, Event{
			Kind:       EventWorkflowCancelled,
			InstanceID: instanceID,
			ActorID:    actorID,
			Timestamp:  now,
			Recipients: Recipients{UserIDs: []string{instance.InitiatedBy}},
		})

		status = instance.Status

		return nil
	})
	if err != nil {
		return "", err
	}

	engine.emit(ctx, events)

	return status, nil
}

// Escalate raises an escalated event for an SLA-breached instance without
// changing its step or status. At most one escalation per breach window:
// advancing a step clears the marker and re-arms it.
func (engine *Engine) Escalate(ctx context.Context, instanceID int64) (bool, error) {
	escalated := false
	var events []Event

	err := engine.txManager.ReadCommitted(ctx, func(ctx context.Context) error {
		instance, err := engine.store.GetInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("get instance: %w", err)
		}
		if instance.Status != StatusInProgress {
			return fmt.Errorf("%w: instance %d is %s", ErrConflict, instanceID, instance.Status)
		}

		now := engine.now()
		if !instance.IsOverdue(now) {
			return nil
		}
		if instance.EscalatedAt != nil {
			return nil
		}

		step := instance.CurrentStepDef()
		if step == nil {
			return fmt.Errorf("%w: instance %d has no current step", ErrConflict, instanceID)
		}

		expectedVersion := instance.Version

		reason := fmt.Sprintf("SLA breached for step %q, due %s", step.Name, instance.DueAt.Format(time.RFC3339))

		instance.EscalatedAt = &now
		if err := engine.store.UpdateInstance(ctx, instance, expectedVersion); err != nil {
			return fmt.Errorf("update instance: %w", err)
		}

		entry := &HistoryEntry{
			InstanceID: instanceID,
			StepOrder:  step.Order,
			StepName:   step.Name,
			Action:     ActionEscalated,
			ActorID:    SystemActorID,
			Comment:    &reason,
			System:     true,
			CreatedAt:  now,
		}
		if err := engine.store.AppendHistory(ctx, entry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		recipients := escalationRecipients(step)

		_ = engine.store.LogEvent(ctx, instanceID, EventWorkflowEscalated, map[string]any{
			KeyStepOrder:  step.Order,
			KeyStepName:   step.Name,
			KeyReason:     reason,
			KeyRecipients: recipients,
		})

		events = append(events, Event{
			Kind:       EventWorkflowEscalated,
			InstanceID: instanceID,
			ActorID:    SystemActorID,
			Timestamp:  now,
			Recipients: recipients,
		})

		escalated = true

		return nil
	})
	if err != nil {
		return false, err
	}

	engine.emit(ctx, events)

	return escalated, nil
}

func (engine *Engine) GetInstance(ctx context.Context, instanceID int64) (*WorkflowInstance, error) {
	return engine.store.GetInstance(ctx, instanceID)
}

func (engine *Engine) GetHistory(ctx context.Context, instanceID int64) ([]HistoryEntry, error) {
	return engine.store.GetHistory(ctx, instanceID)
}

// ListDefinitions lists registered definitions, all tenants when tenantID
// is empty.
func (engine *Engine) ListDefinitions(ctx context.Context, tenantID string) ([]*WorkflowDefinition, error) {
	return engine.store.ListWorkflowDefinitions(ctx, tenantID)
}

// FindActiveInstanceFor returns the running instance for a target entity,
// or nil if there is none.
func (engine *Engine) FindActiveInstanceFor(
	ctx context.Context,
	entityType string,
	entityID int64,
) (*WorkflowInstance, error) {
	instance, err := engine.store.FindActiveInstance(ctx, entityType, entityID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}

	return instance, err
}

// PendingApprovals lists in-progress instances whose current step the
// actor may act on.
func (engine *Engine) PendingApprovals(ctx context.Context, actorID string) ([]*WorkflowInstance, error) {
	instances, err := engine.store.ListInProgressInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var pending []*WorkflowInstance
	for _, instance := range instances {
		step := instance.CurrentStepDef()
		if step == nil || !step.HasApproverRule() {
			continue
		}

		if err := engine.authorize(ctx, actorID, step); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				continue
			}

			return nil, err
		}

		pending = append(pending, instance)
	}

	return pending, nil
}

// OverdueInstances lists in-progress instances past their due date.
func (engine *Engine) OverdueInstances(ctx context.Context, now time.Time) ([]*WorkflowInstance, error) {
	return engine.store.ListOverdueInstances(ctx, now)
}

func (engine *Engine) authorize(ctx context.Context, actorID string, step *StepDefinition) error {
	if !step.HasApproverRule() {
		return fmt.Errorf("%w: step %q has no approver rule", ErrValidation, step.Name)
	}

	for _, userID := range step.ApproverUserIDs {
		if userID == actorID {
			return nil
		}
	}

	if step.ApproverRole != "" {
		ok, err := engine.authorizer.HasRole(ctx, actorID, step.ApproverRole)
		if err != nil {
			return fmt.Errorf("%w: check role %q: %v", ErrDependency, step.ApproverRole, err)
		}
		if ok {
			return nil
		}
	}

	return fmt.Errorf("%w: actor %s may not act on step %q", ErrUnauthorized, actorID, step.Name)
}

func (engine *Engine) validateDefinition(def *WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: workflow name is required", ErrValidation)
	}
	if def.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", ErrValidation)
	}
	if def.IsActive && len(def.Steps) == 0 {
		return fmt.Errorf("%w: an active definition needs at least one step", ErrValidation)
	}

	seen := make(map[int]struct{}, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.Name == "" {
			return fmt.Errorf("%w: step %d has no name", ErrValidation, step.Order)
		}
		if _, ok := seen[step.Order]; ok {
			return fmt.Errorf("%w: duplicate step order %d", ErrValidation, step.Order)
		}
		seen[step.Order] = struct{}{}

		if step.SLA != nil && *step.SLA <= 0 {
			return fmt.Errorf("%w: step %q has non-positive SLA", ErrValidation, step.Name)
		}
		if step.AutoProgress != nil {
			if err := step.AutoProgress.Validate(); err != nil {
				return err
			}
		}
	}

	// Orders must be contiguous starting at 1.
	for order := 1; order <= len(def.Steps); order++ {
		if _, ok := seen[order]; !ok {
			return fmt.Errorf("%w: step orders must be contiguous from 1, missing %d", ErrValidation, order)
		}
	}

	return nil
}

func (engine *Engine) emit(ctx context.Context, events []Event) {
	for _, event := range events {
		engine.notifier.Notify(ctx, event)
	}
}

func dueAt(now time.Time, step *StepDefinition) *time.Time {
	if step == nil || step.SLA == nil {
		return nil
	}

	due := now.Add(*step.SLA)

	return &due
}
