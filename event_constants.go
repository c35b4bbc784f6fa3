package approvalflow

const (
	// Event kinds
	EventWorkflowStarted   = "started"
	EventStepApproved      = "approved"
	EventStepAutoApproved  = "auto_approved"
	EventWorkflowRejected  = "rejected"
	EventWorkflowCancelled = "cancelled"
	EventWorkflowCompleted = "completed"
	EventWorkflowEscalated = "escalated"

	// Event payload keys
	KeyDefinitionID = "definition_id"
	KeyEntityType   = "entity_type"
	KeyEntityID     = "entity_id"
	KeyStepOrder    = "step_order"
	KeyStepName     = "step_name"
	KeyActorID      = "actor_id"
	KeyComment      = "comment"
	KeyDueAt        = "due_at"
	KeyRecipients   = "recipients"
	KeyReason       = "reason"
)
