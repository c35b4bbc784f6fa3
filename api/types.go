package api

import (
	"github.com/grckit/approvalflow"
)

type StartInstanceRequest struct {
	DefinitionID string `json:"definition_id,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`
	EntityType   string `json:"entity_type"`
	EntityID     int64  `json:"entity_id"`
	InitiatedBy  string `json:"initiated_by"`
}

type StartInstanceResponse struct {
	InstanceID int64 `json:"instance_id"`
}

type DecisionRequest struct {
	ActorID string  `json:"actor_id"`
	Comment *string `json:"comment,omitempty"`
}

type RejectRequest struct {
	ActorID string `json:"actor_id"`
	Comment string `json:"comment"`
}

type CancelRequest struct {
	ActorID string `json:"actor_id"`
}

type DecisionResponse struct {
	InstanceID int64                       `json:"instance_id"`
	Status     approvalflow.InstanceStatus `json:"status"`
}
