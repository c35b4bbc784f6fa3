package approvalflow

import (
	"context"
	"time"
)

// Monitor answers read-only operational questions against Postgres. It is
// deliberately separate from the engine: stats queries never touch the
// transition path.
type Monitor struct {
	store *StoreImpl
}

func NewMonitor(store *StoreImpl) *Monitor {
	return &Monitor{store: store}
}

type DefinitionStats struct {
	DefinitionID       string        `json:"definition_id"`
	Name               string        `json:"name"`
	EntityType         string        `json:"entity_type"`
	TotalInstances     int           `json:"total_instances"`
	CompletedInstances int           `json:"completed_instances"`
	RejectedInstances  int           `json:"rejected_instances"`
	InProgress         int           `json:"in_progress"`
	Overdue            int           `json:"overdue"`
	AverageCompletion  time.Duration `json:"average_completion"`
}

func (m *Monitor) GetDefinitionStats(ctx context.Context) ([]DefinitionStats, error) {
	const query = `
SELECT
	d.id,
	d.name,
	d.entity_type,
	COUNT(i.id),
	COUNT(i.id) FILTER (WHERE i.status = 'completed'),
	COUNT(i.id) FILTER (WHERE i.status = 'rejected'),
	COUNT(i.id) FILTER (WHERE i.status = 'in_progress'),
	COUNT(i.id) FILTER (WHERE i.status = 'in_progress' AND i.due_at < NOW()),
	AVG(EXTRACT(EPOCH FROM i.completed_at - i.started_at)) FILTER (WHERE i.status = 'completed')
FROM approvals.workflow_definitions d
LEFT JOIN approvals.workflow_instances i ON i.definition_id = d.id
GROUP BY d.id, d.name, d.entity_type
ORDER BY d.name`

	rows, err := m.store.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []DefinitionStats
	for rows.Next() {
		var s DefinitionStats
		var avgSeconds *float64

		err := rows.Scan(
			&s.DefinitionID,
			&s.Name,
			&s.EntityType,
			&s.TotalInstances,
			&s.CompletedInstances,
			&s.RejectedInstances,
			&s.InProgress,
			&s.Overdue,
			&avgSeconds,
		)
		if err != nil {
			return nil, err
		}

		if avgSeconds != nil {
			s.AverageCompletion = time.Duration(*avgSeconds * float64(time.Second))
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

type StuckInstance struct {
	InstanceID  int64     `json:"instance_id"`
	EntityType  string    `json:"entity_type"`
	EntityID    int64     `json:"entity_id"`
	StepName    string    `json:"step_name"`
	DueAt       time.Time `json:"due_at"`
	OverdueBy   string    `json:"overdue_by"`
	Escalated   bool      `json:"escalated"`
	InitiatedBy string    `json:"initiated_by"`
}

// GetStuckInstances lists in-progress instances past their deadline,
// oldest breach first.
func (m *Monitor) GetStuckInstances(ctx context.Context) ([]StuckInstance, error) {
	const query = `
SELECT
	i.id,
	i.entity_type,
	i.entity_id,
	COALESCE(s.step ->> 'name', ''),
	i.due_at,
	NOW() - i.due_at,
	i.escalated_at IS NOT NULL,
	i.initiated_by
FROM approvals.workflow_instances i
LEFT JOIN LATERAL (
	SELECT step
	FROM jsonb_array_elements(i.steps) AS step
	WHERE (step ->> 'order')::int = i.current_step
) s ON TRUE
WHERE i.status = 'in_progress' AND i.due_at < NOW()
ORDER BY i.due_at`

	rows, err := m.store.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stuck []StuckInstance
	for rows.Next() {
		var item StuckInstance
		var overdueBy time.Duration

		err := rows.Scan(
			&item.InstanceID,
			&item.EntityType,
			&item.EntityID,
			&item.StepName,
			&item.DueAt,
			&overdueBy,
			&item.Escalated,
			&item.InitiatedBy,
		)
		if err != nil {
			return nil, err
		}

		item.OverdueBy = overdueBy.String()
		stuck = append(stuck, item)
	}

	return stuck, rows.Err()
}
