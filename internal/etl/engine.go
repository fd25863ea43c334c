package etl

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/citylens/citysync/internal/db"
)

// SourceSummary is the per-source slice of a run summary.
type SourceSummary struct {
	Source    string `json:"source"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Result
}

// Summary is the outcome of one engine run. It is always produced, even when
// the run aborts partway.
type Summary struct {
	RunID       uuid.UUID       `json:"run_id"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Status      string          `json:"status"`
	Sources     []SourceSummary `json:"sources"`
}

// Engine runs sources sequentially in registration order. Sources absorb
// per-item trouble into their result counters; an error escaping a source is
// a store or integrity failure and aborts the remaining sources.
type Engine struct {
	session *Session
	reg     *Registry
	runLog  *RunLog
}

func NewEngine(session *Session, reg *Registry) *Engine {
	return &Engine{
		session: session,
		reg:     reg,
		runLog:  NewRunLog(session.Pool),
	}
}

// Run executes the selected sources (all of them when names is empty) and
// returns the per-source summary. The summary is non-nil even on error.
func (e *Engine) Run(ctx context.Context, names []string) (*Summary, error) {
	log := zap.L().With(zap.String("component", "etl.engine"))

	summary := &Summary{
		RunID:     uuid.New(),
		StartedAt: e.session.Now().UTC(),
		Status:    "completed",
	}

	sources, err := e.reg.Select(names)
	if err != nil {
		summary.Status = "failed"
		summary.CompletedAt = e.session.Now().UTC()
		return summary, err
	}

	if err := e.runLog.Start(ctx, summary.RunID, summary.StartedAt); err != nil {
		summary.Status = "failed"
		summary.CompletedAt = e.session.Now().UTC()
		return summary, err
	}

	log.Info("run started",
		zap.String("run_id", summary.RunID.String()),
		zap.Int("sources", len(sources)),
	)

	var runErr error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			runErr = eris.Wrap(err, "etl: run cancelled")
			break
		}

		srcLog := log.With(zap.String("source", src.Name()))
		srcLog.Info("source started")

		start := time.Now()
		result, err := src.Run(ctx, e.session)
		elapsed := time.Since(start)

		entry := SourceSummary{
			Source:    src.Name(),
			Status:    "ok",
			ElapsedMS: elapsed.Milliseconds(),
		}
		if result != nil {
			entry.Result = *result
		}

		if err != nil {
			entry.Status = "failed"
			entry.Error = err.Error()
			summary.Sources = append(summary.Sources, entry)

			if db.IsIntegrityViolation(err) {
				srcLog.Error("integrity violation, aborting run", zap.Error(err))
			} else {
				srcLog.Error("source failed, aborting run", zap.Error(err))
			}
			runErr = eris.Wrapf(err, "etl: source %s", src.Name())
			break
		}

		summary.Sources = append(summary.Sources, entry)
		srcLog.Info("source complete",
			zap.Int("fetched", entry.Fetched),
			zap.Int64("loaded", entry.Loaded),
			zap.Int("transient_errors", entry.Transient),
			zap.Int("gaps", entry.Gaps),
			zap.Duration("elapsed", elapsed),
		)
	}

	summary.CompletedAt = e.session.Now().UTC()

	if runErr != nil {
		summary.Status = "failed"
		if logErr := e.runLog.Fail(ctx, summary.RunID, summary, runErr.Error()); logErr != nil {
			log.Error("failed to record run failure", zap.Error(logErr))
		}
		return summary, runErr
	}

	if err := e.runLog.Complete(ctx, summary.RunID, summary); err != nil {
		log.Error("failed to record run completion", zap.Error(err))
	}
	log.Info("run complete", zap.String("run_id", summary.RunID.String()))
	return summary, nil
}
