package etl

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/citylens/citysync/internal/db"
)

// RunLog records engine runs in the etl_run table.
type RunLog struct {
	pool db.Pool
}

func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a run.
func (l *RunLog) Start(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO etl_run (id, started_at, status) VALUES ($1, $2, 'running')`,
		id, startedAt,
	)
	if err != nil {
		return eris.Wrap(err, "etl: start run log")
	}
	return nil
}

// Complete marks a run as finished and stores its summary.
func (l *RunLog) Complete(ctx context.Context, id uuid.UUID, summary *Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "etl: marshal run summary")
	}
	_, err = l.pool.Exec(ctx,
		`UPDATE etl_run SET status = 'completed', completed_at = now(), summary = $1 WHERE id = $2`,
		payload, id,
	)
	if err != nil {
		return eris.Wrap(err, "etl: complete run log")
	}
	return nil
}

// Fail marks a run as failed, keeping whatever summary was accumulated.
func (l *RunLog) Fail(ctx context.Context, id uuid.UUID, summary *Summary, errMsg string) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "etl: marshal run summary")
	}
	_, err = l.pool.Exec(ctx,
		`UPDATE etl_run SET status = 'failed', completed_at = now(), summary = $1, error = $2 WHERE id = $3`,
		payload, errMsg, id,
	)
	if err != nil {
		return eris.Wrap(err, "etl: fail run log")
	}
	return nil
}

// RunEntry is one persisted run, as read back for status reporting.
type RunEntry struct {
	ID          uuid.UUID  `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      string     `json:"status"`
	Summary     []byte     `json:"summary,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// List returns recent runs, newest first.
func (l *RunLog) List(ctx context.Context, limit int) ([]RunEntry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, started_at, completed_at, status, summary, error
		 FROM etl_run ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "etl: query run log")
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var e RunEntry
		if err := rows.Scan(&e.ID, &e.StartedAt, &e.CompletedAt, &e.Status, &e.Summary, &e.Error); err != nil {
			return nil, eris.Wrap(err, "etl: scan run log row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
