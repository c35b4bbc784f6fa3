package approvalflow

import (
	"time"
)

// Builder assembles approval chains fluently:
//
//	def := NewBuilder("acme", "Risk Sign-Off", "Risk").
//		Step("Owner Review").Role("ROLE_RISK_OWNER").SLA(48 * time.Hour).
//		Step("Admin Approval").Role("ROLE_ADMIN").
//		Build()
//
// Step modifiers apply to the most recently added step.
type Builder struct {
	def WorkflowDefinition
}

func NewBuilder(tenantID, name, entityType string) *Builder {
	return &Builder{
		def: WorkflowDefinition{
			TenantID:   tenantID,
			Name:       name,
			EntityType: entityType,
			IsActive:   true,
		},
	}
}

func (builder *Builder) Step(name string) *Builder {
	builder.def.Steps = append(builder.def.Steps, StepDefinition{
		Order: len(builder.def.Steps) + 1,
		Name:  name,
	})

	return builder
}

func (builder *Builder) Role(role string) *Builder {
	if step := builder.currentStep(); step != nil {
		step.ApproverRole = role
	}

	return builder
}

func (builder *Builder) Approvers(userIDs ...string) *Builder {
	if step := builder.currentStep(); step != nil {
		step.ApproverUserIDs = append(step.ApproverUserIDs, userIDs...)
	}

	return builder
}

func (builder *Builder) SLA(duration time.Duration) *Builder {
	if step := builder.currentStep(); step != nil {
		step.SLA = &duration
	}

	return builder
}

func (builder *Builder) AutoProgress(rule AutoProgressRule) *Builder {
	if step := builder.currentStep(); step != nil {
		step.AutoProgress = &rule
	}

	return builder
}

func (builder *Builder) EscalateTo(role string, contacts ...string) *Builder {
	if step := builder.currentStep(); step != nil {
		step.EscalationRole = role
		step.EscalationContacts = append(step.EscalationContacts, contacts...)
	}

	return builder
}

func (builder *Builder) Inactive() *Builder {
	builder.def.IsActive = false

	return builder
}

// Build returns the assembled definition. Validation happens when the
// definition is registered with the engine.
func (builder *Builder) Build() *WorkflowDefinition {
	def := builder.def
	def.Steps = append([]StepDefinition(nil), builder.def.Steps...)

	return &def
}

func (builder *Builder) currentStep() *StepDefinition {
	if len(builder.def.Steps) == 0 {
		return nil
	}

	return &builder.def.Steps[len(builder.def.Steps)-1]
}
