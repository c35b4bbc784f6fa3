package approvalflow

import (
	"time"
)

type InstanceStatus string

const (
	StatusPending    InstanceStatus = "pending"
	StatusInProgress InstanceStatus = "in_progress"
	StatusCompleted  InstanceStatus = "completed"
	StatusRejected   InstanceStatus = "rejected"
	StatusCancelled  InstanceStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s InstanceStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

type HistoryAction string

const (
	ActionApproved     HistoryAction = "approved"
	ActionAutoApproved HistoryAction = "auto_approved"
	ActionRejected     HistoryAction = "rejected"
	ActionCancelled    HistoryAction = "cancelled"
	ActionEscalated    HistoryAction = "escalated"
)

// SystemActorID marks history entries produced by the engine itself
// (auto-progression, escalation) rather than by a user.
const SystemActorID = "system"

// WorkflowDefinition is a reusable, tenant-scoped template of ordered
// approval steps for one class of target entities.
type WorkflowDefinition struct {
	ID         string           `json:"id"`
	TenantID   string           `json:"tenant_id"`
	Name       string           `json:"name"`
	EntityType string           `json:"entity_type"`
	IsActive   bool             `json:"is_active"`
	Steps      []StepDefinition `json:"steps"`
	CreatedAt  time.Time        `json:"created_at"`
}

// StepByOrder returns the step with the given order index, or nil.
func (d *WorkflowDefinition) StepByOrder(order int) *StepDefinition {
	for i := range d.Steps {
		if d.Steps[i].Order == order {
			return &d.Steps[i]
		}
	}

	return nil
}

// StepDefinition is one stage of a definition. A step is gated by an
// approver rule (role and/or explicit user list) and may carry an SLA
// deadline and an auto-progression rule.
type StepDefinition struct {
	Order              int               `json:"order"`
	Name               string            `json:"name"`
	ApproverRole       string            `json:"approver_role,omitempty"`
	ApproverUserIDs    []string          `json:"approver_user_ids,omitempty"`
	SLA                *time.Duration    `json:"sla,omitempty"`
	AutoProgress       *AutoProgressRule `json:"auto_progress,omitempty"`
	EscalationRole     string            `json:"escalation_role,omitempty"`
	EscalationContacts []string          `json:"escalation_contacts,omitempty"`
}

// HasApproverRule reports whether the step names at least one approver.
// Steps without any rule are misconfigured: nobody may act on them.
func (s *StepDefinition) HasApproverRule() bool {
	return s.ApproverRole != "" || len(s.ApproverUserIDs) > 0
}

// WorkflowInstance is one execution of a definition against a concrete
// target entity. The target is a weak reference (type tag + id); the
// engine never loads the entity itself.
//
// Steps is a snapshot of the definition's step list taken at start time,
// so later definition edits cannot affect a running instance.
type WorkflowInstance struct {
	ID           int64            `json:"id"`
	DefinitionID string           `json:"definition_id"`
	TenantID     string           `json:"tenant_id"`
	EntityType   string           `json:"entity_type"`
	EntityID     int64            `json:"entity_id"`
	Steps        []StepDefinition `json:"steps"`
	CurrentStep  *int             `json:"current_step"`
	Status       InstanceStatus   `json:"status"`
	InitiatedBy  string           `json:"initiated_by"`
	StartedAt    time.Time        `json:"started_at"`
	DueAt        *time.Time       `json:"due_at"`
	EscalatedAt  *time.Time       `json:"escalated_at"`
	CompletedAt  *time.Time       `json:"completed_at"`
	Comment      *string          `json:"comment"`
	Version      int64            `json:"version"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// CurrentStepDef resolves the current step against the instance's snapshot.
func (i *WorkflowInstance) CurrentStepDef() *StepDefinition {
	if i.CurrentStep == nil {
		return nil
	}

	for idx := range i.Steps {
		if i.Steps[idx].Order == *i.CurrentStep {
			return &i.Steps[idx]
		}
	}

	return nil
}

// LastStepOrder returns the highest order index in the snapshot.
func (i *WorkflowInstance) LastStepOrder() int {
	last := 0
	for idx := range i.Steps {
		if i.Steps[idx].Order > last {
			last = i.Steps[idx].Order
		}
	}

	return last
}

// IsOverdue reports whether the instance is in progress past its due date.
func (i *WorkflowInstance) IsOverdue(now time.Time) bool {
	return i.Status == StatusInProgress && i.DueAt != nil && now.After(*i.DueAt)
}

// HistoryEntry is one transition in an instance's append-only log.
type HistoryEntry struct {
	ID         int64         `json:"id"`
	InstanceID int64         `json:"instance_id"`
	StepOrder  int           `json:"step_order"`
	StepName   string        `json:"step_name"`
	Action     HistoryAction `json:"action"`
	ActorID    string        `json:"actor_id"`
	Comment    *string       `json:"comment,omitempty"`
	System     bool          `json:"system"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Recipients names who should be notified about an event, by role tag
// and/or explicit user id. Resolution to addresses is the dispatcher's job.
type Recipients struct {
	Roles   []string `json:"roles,omitempty"`
	UserIDs []string `json:"user_ids,omitempty"`
}

// IsEmpty reports whether no recipient is named.
func (r Recipients) IsEmpty() bool {
	return len(r.Roles) == 0 && len(r.UserIDs) == 0
}

// Event is the engine's notification contract. The engine decides who and
// why; channel and delivery belong to the dispatcher.
type Event struct {
	Kind       string     `json:"kind"`
	InstanceID int64      `json:"instance_id"`
	ActorID    string     `json:"actor_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Recipients Recipients `json:"recipients"`
}

// WorkflowEvent is a durable event-log record, keyed by instance.
type WorkflowEvent struct {
	ID         int64          `json:"id"`
	InstanceID int64          `json:"instance_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}
