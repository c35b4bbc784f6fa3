package approvalflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ContextResolver fetches the target entity's attributes for rule
// evaluation. The engine never loads entities itself; the surrounding
// application supplies this.
type ContextResolver interface {
	Resolve(ctx context.Context, entityType string, entityID int64) (map[string]any, error)
}

// ContextResolverFunc adapts a function to the ContextResolver interface.
type ContextResolverFunc func(ctx context.Context, entityType string, entityID int64) (map[string]any, error)

func (f ContextResolverFunc) Resolve(ctx context.Context, entityType string, entityID int64) (map[string]any, error) {
	return f(ctx, entityType, entityID)
}

// ScanReport summarizes one escalation scan run.
type ScanReport struct {
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	Scanned          int       `json:"scanned"`
	AutoProgressed   int       `json:"auto_progressed"`
	Escalated        int       `json:"escalated"`
	AlreadyEscalated int       `json:"already_escalated"`
	Warnings         int       `json:"warnings"`
	Skipped          int       `json:"skipped"`
	Errors           []string  `json:"errors,omitempty"`
}

// EscalationScanner periodically sweeps in-progress instances, applying
// auto-progression where a rule holds and raising escalations on SLA
// breaches. Deadlines are data, not timers: everything here is poll-driven.
type EscalationScanner struct {
	engine   *Engine
	resolver ContextResolver
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
}

func NewEscalationScanner(
	engine *Engine,
	resolver ContextResolver,
	interval time.Duration,
	logger *slog.Logger,
) *EscalationScanner {
	if logger == nil {
		logger = slog.Default()
	}

	return &EscalationScanner{
		engine:   engine,
		resolver: resolver,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs scans on the configured interval until the context is
// cancelled or Stop is called.
func (s *EscalationScanner) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("escalation scanner started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("escalation scanner stopping: context cancelled")

			return
		case <-s.stopCh:
			s.logger.Info("escalation scanner stopping: stop signal received")

			return
		case <-ticker.C:
			report, err := s.RunScan(ctx, s.engine.now())
			if err != nil {
				s.logger.Error("escalation scan failed", "error", err)

				continue
			}

			if report.AutoProgressed > 0 || report.Escalated > 0 || len(report.Errors) > 0 {
				s.logger.Info("escalation scan finished",
					"run_id", report.RunID,
					"scanned", report.Scanned,
					"auto_progressed", report.AutoProgressed,
					"escalated", report.Escalated,
					"errors", len(report.Errors),
				)
			}
		}
	}
}

func (s *EscalationScanner) Stop() {
	close(s.stopCh)
}

// RunScan sweeps all in-progress instances once. Per-instance failures
// (missing entity, bad rule) are recorded and skipped; only an inability
// to read the instance list fails the scan itself.
func (s *EscalationScanner) RunScan(ctx context.Context, now time.Time) (ScanReport, error) {
	report := ScanReport{
		RunID:     uuid.NewString(),
		StartedAt: now,
	}

	instances, err := s.engine.store.ListInProgressInstances(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: list in-progress instances: %v", ErrDependency, err)
	}

	for _, instance := range instances {
		report.Scanned++

		if instance.DueAt == nil {
			report.Skipped++

			continue
		}

		if !instance.IsOverdue(now) {
			if s.inWarningWindow(instance, now) {
				report.Warnings++
				s.logger.Warn("workflow instance approaching SLA deadline",
					"instance_id", instance.ID,
					"due_at", *instance.DueAt,
				)
			} else {
				report.Skipped++
			}

			continue
		}

		step := instance.CurrentStepDef()
		if step == nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("instance %d: in progress without current step", instance.ID))

			continue
		}

		if step.AutoProgress != nil {
			s.tryAutoProgress(ctx, instance, &report)

			continue
		}

		if instance.EscalatedAt != nil {
			report.AlreadyEscalated++

			continue
		}

		escalated, err := s.engine.Escalate(ctx, instance.ID)
		if err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("instance %d: escalate: %v", instance.ID, err))

			continue
		}
		if escalated {
			report.Escalated++
		} else {
			report.AlreadyEscalated++
		}
	}

	return report, nil
}

func (s *EscalationScanner) tryAutoProgress(ctx context.Context, instance *WorkflowInstance, report *ScanReport) {
	if s.resolver == nil {
		report.Errors = append(report.Errors,
			fmt.Sprintf("instance %d: no context resolver configured", instance.ID))

		return
	}

	entityCtx, err := s.resolver.Resolve(ctx, instance.EntityType, instance.EntityID)
	if err != nil {
		report.Errors = append(report.Errors,
			fmt.Sprintf("instance %d: resolve %s#%d: %v", instance.ID, instance.EntityType, instance.EntityID, err))
		s.logger.Warn("skipping instance: context resolution failed",
			"instance_id", instance.ID,
			"entity_type", instance.EntityType,
			"entity_id", instance.EntityID,
			"error", err,
		)

		return
	}

	progressed, err := s.engine.AutoProgress(ctx, instance.ID, entityCtx)
	if err != nil {
		report.Errors = append(report.Errors,
			fmt.Sprintf("instance %d: auto-progress: %v", instance.ID, err))

		return
	}

	if progressed {
		report.AutoProgressed++
	} else {
		report.Skipped++
	}
}

// inWarningWindow reports whether two thirds of the step's SLA have
// elapsed without the deadline being breached yet.
func (s *EscalationScanner) inWarningWindow(instance *WorkflowInstance, now time.Time) bool {
	step := instance.CurrentStepDef()
	if step == nil || step.SLA == nil || instance.DueAt == nil {
		return false
	}

	warnAt := instance.DueAt.Add(-*step.SLA / 3)

	return !now.Before(warnAt)
}
