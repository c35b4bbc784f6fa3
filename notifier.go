package approvalflow

import (
	"context"
)

// Notifier is the boundary to the external notification dispatcher.
// The engine records the event durably before calling Notify and never
// waits on or retries delivery.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, event Event) {}

// approverRecipients names everyone the step's approver rule points at.
func approverRecipients(step *StepDefinition) Recipients {
	if step == nil {
		return Recipients{}
	}

	recipients := Recipients{UserIDs: append([]string(nil), step.ApproverUserIDs...)}
	if step.ApproverRole != "" {
		recipients.Roles = []string{step.ApproverRole}
	}

	return recipients
}

// escalationRecipients is the step's approvers plus its escalation role
// and contacts, deduplicated.
func escalationRecipients(step *StepDefinition) Recipients {
	recipients := approverRecipients(step)
	if step == nil {
		return recipients
	}

	if step.EscalationRole != "" {
		recipients.Roles = append(recipients.Roles, step.EscalationRole)
	}
	recipients.UserIDs = append(recipients.UserIDs, step.EscalationContacts...)

	return Recipients{
		Roles:   dedupe(recipients.Roles),
		UserIDs: dedupe(recipients.UserIDs),
	}
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}

	return result
}
