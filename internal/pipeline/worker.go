package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgallion1/mdbulk/internal/bulk"
)

var errNoRun = errors.New("job has nothing to run")

// Worker processes a single bulk job.
type Worker struct {
	log *slog.Logger
}

func NewWorker(log *slog.Logger) *Worker {
	return &Worker{log: log}
}

// Process runs the job's workflow and records its outcome.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "kind", job.Kind)

	job.SetStatus(StatusRunning, string(job.Kind))
	if job.run == nil {
		job.AddError(errNoRun.Error())
		job.SetStatus(StatusFailed, string(job.Kind))
		return
	}

	start := time.Now()
	rows, err := job.run(ctx, job.RecordTask)
	if err != nil {
		log.Error("job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, string(job.Kind))
		return
	}

	job.SetRows(rows)
	failed := failedRows(rows)
	snap := job.Snapshot()
	log.Info("job complete",
		"rows", len(rows),
		"failed_rows", failed,
		"items_processed", snap.Progress.ItemsProcessed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if failed > 0 {
		job.SetStatus(StatusPartial, "done")
		return
	}
	job.SetStatus(StatusCompleted, "done")
}

func failedRows(rows []bulk.Row) int {
	n := 0
	for _, r := range rows {
		if r.Error != "" {
			n++
		}
	}
	return n
}
