package pipeline

import (
	"context"
	"fmt"

	"github.com/phuslu/log"

	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/models"
)

// Processor is the single processing entry point shared by queue consumers,
// the recovery sweep and the HTTP surface. Calling it more than once for the
// same job is safe: units are idempotent and completed jobs are left alone.
type Processor struct {
	store     core.JobStore
	queue     core.WorkQueue
	docWorker *DocumentWorker
	asmWorker *AssemblyWorker
	logger    log.Logger
}

func NewProcessor(store core.JobStore, queue core.WorkQueue, docWorker *DocumentWorker, asmWorker *AssemblyWorker, logger log.Logger) *Processor {
	return &Processor{store: store, queue: queue, docWorker: docWorker, asmWorker: asmWorker, logger: logger}
}

// HandleMessage routes one queue message to the worker for its job kind.
func (p *Processor) HandleMessage(ctx context.Context, msg models.WorkMessage) error {
	switch msg.Kind {
	case models.JobKindDocumentAnalysis:
		return p.docWorker.Handle(ctx, msg)
	case models.JobKindRagProcessing:
		return p.asmWorker.Handle(ctx, msg)
	default:
		return fmt.Errorf("unknown work message kind %q for job %s", msg.Kind, msg.JobID)
	}
}

// ProcessJob (re)dispatches a job's work units. Analysis jobs republish every
// unit from the job's persisted metadata — indexing upserts are keyed
// deterministically, so units that already ran simply overwrite themselves.
// Assembly jobs re-enter the assembly worker path directly, not through the
// coordinator.
func (p *Processor) ProcessJob(ctx context.Context, jobID string, redrive bool) error {
	job, err := p.store.GetJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.Status == models.JobStatusCompleted {
		return nil
	}
	if job.Status == models.JobStatusFailed && !redrive {
		return fmt.Errorf("job %s is failed; use the retry operation", jobID)
	}

	switch job.Kind {
	case models.JobKindDocumentAnalysis:
		units := job.Metadata.Units
		if len(units) == 0 {
			return fmt.Errorf("job %s has no recorded work units; manual re-queue required", jobID)
		}
		for _, u := range units {
			msg := models.WorkMessage{
				JobID:       job.ID,
				SubjectID:   job.SubjectID,
				Kind:        models.JobKindDocumentAnalysis,
				DocumentID:  u.DocumentID,
				SourceKey:   u.SourceKey,
				MimeKind:    u.MimeKind,
				DisplayName: u.DisplayName,
				Redrive:     redrive,
			}
			if err := p.queue.Publish(ctx, msg); err != nil {
				return fmt.Errorf("republish unit %s: %w", u.DocumentID, err)
			}
		}
		p.logger.Info().Str("job_id", job.ID).Int("units", len(units)).
			Bool("redrive", redrive).Msg("analysis units dispatched")
		return nil

	case models.JobKindRagProcessing:
		msg := models.WorkMessage{
			JobID:       job.ID,
			SubjectID:   job.SubjectID,
			Kind:        models.JobKindRagProcessing,
			TriggerKind: job.Metadata.TriggerKind,
			Redrive:     redrive,
		}
		if err := p.queue.Publish(ctx, msg); err != nil {
			return fmt.Errorf("republish assembly unit: %w", err)
		}
		p.logger.Info().Str("job_id", job.ID).Bool("redrive", redrive).
			Msg("assembly unit dispatched")
		return nil

	default:
		return fmt.Errorf("job %s has unknown kind %q", job.ID, job.Kind)
	}
}
