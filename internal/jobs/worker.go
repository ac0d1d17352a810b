package jobs

import (
	"context"
	"time"

	"github.com/wolfman30/booking-core/pkg/logging"
)

// Worker polls a Source for due jobs and passes them to a Dispatcher.
type Worker struct {
	source     Source
	dispatcher Dispatcher
	logger     *logging.Logger
	batchSize  int32
	interval   time.Duration
	now        func() time.Time
}

func NewWorker(source Source, dispatcher Dispatcher, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		source:     source,
		dispatcher: dispatcher,
		logger:     logger,
		batchSize:  25,
		interval:   5 * time.Second,
		now:        time.Now,
	}
}

func (w *Worker) WithBatchSize(size int32) *Worker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

func (w *Worker) WithInterval(interval time.Duration) *Worker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithClock overrides the time used to decide which jobs are due.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	if now != nil {
		w.now = now
	}
	return w
}

func (w *Worker) Start(ctx context.Context) {
	if w.source == nil || w.dispatcher == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce dispatches one batch and returns how many jobs were handed off.
func (w *Worker) RunOnce(ctx context.Context) int {
	due, err := w.source.FetchDue(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.Error("job fetch failed", "error", err)
		return 0
	}
	sent := 0
	for _, job := range due {
		if err := w.dispatcher.Dispatch(ctx, job); err != nil {
			w.logger.Error("job dispatch failed", "error", err, "job_id", job.ID, "kind", job.Kind)
			continue
		}
		ok, err := w.source.MarkDispatched(ctx, job.ID)
		if err != nil {
			w.logger.Error("failed to mark job dispatched", "error", err, "job_id", job.ID)
			continue
		}
		if ok {
			sent++
			w.logger.Debug("job dispatched", "job_id", job.ID, "kind", job.Kind, "appointment_id", job.AppointmentID)
		}
	}
	return sent
}
