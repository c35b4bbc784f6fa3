package approvalflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderAssignsContiguousOrders(t *testing.T) {
	def := NewBuilder("acme", "Vendor Onboarding", "vendor").
		Step("Procurement Review").
		Role("ROLE_PROCUREMENT").
		Step("Security Assessment").
		Role("ROLE_SECURITY_ANALYST").
		Step("Final Sign-Off").
		Role("ROLE_CISO").
		Build()

	require.Len(t, def.Steps, 3)
	for i, step := range def.Steps {
		assert.Equal(t, i+1, step.Order)
	}
	assert.True(t, def.IsActive)
	assert.Equal(t, "acme", def.TenantID)
	assert.Equal(t, "vendor", def.EntityType)
}

func TestBuilderModifiersApplyToLastStep(t *testing.T) {
	rule := AutoProgressRule{Type: RuleAlways}

	def := NewBuilder("acme", "Incident Review", "incident").
		Step("Triage").
		Role("ROLE_SECURITY_ANALYST").
		Approvers("oncall-1", "oncall-2").
		SLA(2 * time.Hour).
		EscalateTo("ROLE_CISO", "dana").
		Step("Closure").
		Role("ROLE_CISO").
		AutoProgress(rule).
		Build()

	triage := def.Steps[0]
	assert.Equal(t, "ROLE_SECURITY_ANALYST", triage.ApproverRole)
	assert.Equal(t, []string{"oncall-1", "oncall-2"}, triage.ApproverUserIDs)
	require.NotNil(t, triage.SLA)
	assert.Equal(t, 2*time.Hour, *triage.SLA)
	assert.Equal(t, "ROLE_CISO", triage.EscalationRole)
	assert.Equal(t, []string{"dana"}, triage.EscalationContacts)
	assert.Nil(t, triage.AutoProgress)

	closure := def.Steps[1]
	assert.Nil(t, closure.SLA)
	require.NotNil(t, closure.AutoProgress)
	assert.Equal(t, RuleAlways, closure.AutoProgress.Type)
}

func TestBuilderModifiersWithoutStepAreIgnored(t *testing.T) {
	def := NewBuilder("acme", "Empty", "risk").
		Role("ROLE_ADMIN").
		SLA(time.Hour).
		Inactive().
		Build()

	assert.Empty(t, def.Steps)
	assert.False(t, def.IsActive)
}

func TestBuilderBuildCopiesSteps(t *testing.T) {
	builder := NewBuilder("acme", "Copy Check", "risk").
		Step("Review").
		Role("ROLE_ADMIN")

	first := builder.Build()
	second := builder.Step("Extra").Build()

	assert.Len(t, first.Steps, 1)
	assert.Len(t, second.Steps, 2)
}
