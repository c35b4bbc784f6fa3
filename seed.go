package approvalflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SeedStandardDefinitions registers a baseline set of approval chains for
// a tenant: incident reviews tiered by severity and the 72-hour GDPR data
// breach notification chain. Entity types that already have an active
// definition are left untouched, so reruns are safe.
func SeedStandardDefinitions(ctx context.Context, engine *Engine, tenantID string) error {
	incidentTiers := []struct {
		severity string
		sla      time.Duration
	}{
		{"low", 48 * time.Hour},
		{"medium", 24 * time.Hour},
		{"high", 8 * time.Hour},
		{"critical", 2 * time.Hour},
	}

	var defs []*WorkflowDefinition

	for _, tier := range incidentTiers {
		defs = append(defs, NewBuilder(
			tenantID,
			fmt.Sprintf("Incident Review (%s severity)", tier.severity),
			"incident_"+tier.severity,
		).
			Step("Security Review").
			Role("ROLE_SECURITY_ANALYST").
			SLA(tier.sla).
			EscalateTo("ROLE_CISO").
			Step("Closure Approval").
			Role("ROLE_CISO").
			SLA(tier.sla).
			Build())
	}

	// Three 24h stages inside the GDPR 72h regulator notification window.
	defs = append(defs, NewBuilder(tenantID, "GDPR Data Breach Notification", "data_breach").
		Step("DPO Assessment").
		Role("ROLE_DPO").
		SLA(24*time.Hour).
		EscalateTo("ROLE_CISO").
		Step("CISO Review").
		Role("ROLE_CISO").
		SLA(24*time.Hour).
		EscalateTo("ROLE_CEO").
		Step("CEO Notification Sign-Off").
		Role("ROLE_CEO").
		SLA(24*time.Hour).
		Build())

	for _, def := range defs {
		existing, err := engine.store.FindActiveDefinition(ctx, tenantID, def.EntityType)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("look up definition for %s: %w", def.EntityType, err)
		}
		if existing != nil {
			continue
		}

		if err := engine.RegisterDefinition(ctx, def); err != nil {
			return fmt.Errorf("register %q: %w", def.Name, err)
		}
	}

	return nil
}
