package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/models"
)

// AssemblyTrigger creates and dispatches the downstream rag_processing job
// once document analysis completes. It is an explicit dependency of the
// aggregator rather than a lazily resolved reference, and it must be
// idempotent: duplicate completion signals may invoke it concurrently.
type AssemblyTrigger interface {
	TriggerAssembly(ctx context.Context, analysis *models.Job) (*models.Job, error)
}

// Aggregator serializes unit-completion bookkeeping on the job row. The
// counter increment is a single store-side statement, never a read-modify-
// write here, so any interleaving of concurrent unit completions is safe.
type Aggregator struct {
	store   core.JobStore
	trigger AssemblyTrigger
	logger  log.Logger
}

func NewAggregator(store core.JobStore, trigger AssemblyTrigger, logger log.Logger) *Aggregator {
	return &Aggregator{store: store, trigger: trigger, logger: logger}
}

// UnitDone records the completion of one unit, identified by its key (the
// document ID for analysis units). The store counts each key at most once,
// so at-least-once delivery and sweep redrives never advance the counter past
// the distinct documents actually done. When the counter reaches total_units
// the job is completed and, for analysis jobs, assembly is triggered; the
// completion transition and the trigger are both idempotent, so duplicate
// deliveries of the final unit still yield exactly one assembly job.
func (a *Aggregator) UnitDone(ctx context.Context, jobID, unitKey string) error {
	job, counted, err := a.store.MarkUnitDone(ctx, jobID, unitKey)
	if err != nil {
		return fmt.Errorf("mark unit done: %w", err)
	}

	if counted {
		a.logger.Info().Str("job_id", jobID).Str("unit", unitKey).
			Int("processed", job.ProcessedUnits).Int("total", job.TotalUnits).
			Int("percent", job.ProgressPercent).Msg("unit completed")
	} else {
		a.logger.Debug().Str("job_id", jobID).Str("unit", unitKey).
			Msg("unit already counted, rechecking completion")
	}

	if job.ProcessedUnits < job.TotalUnits {
		return nil
	}

	completedNow, err := a.store.CompleteJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if completedNow {
		a.logger.Info().Str("job_id", jobID).Str("kind", string(job.Kind)).Msg("job completed")
	}

	if job.Kind != models.JobKindDocumentAnalysis {
		return nil
	}
	if _, err := a.trigger.TriggerAssembly(ctx, job); err != nil {
		return fmt.Errorf("trigger assembly: %w", err)
	}
	return nil
}

// AssemblyDispatcher is the production AssemblyTrigger: a transactional
// create-if-absent of the subject's rag_processing job followed by the
// dispatch of its single work unit. The extracted text collected during
// analysis is carried onto the new job so extraction is never repeated.
type AssemblyDispatcher struct {
	store  core.JobStore
	queue  core.WorkQueue
	logger log.Logger
}

var _ AssemblyTrigger = (*AssemblyDispatcher)(nil)

func NewAssemblyDispatcher(store core.JobStore, queue core.WorkQueue, logger log.Logger) *AssemblyDispatcher {
	return &AssemblyDispatcher{store: store, queue: queue, logger: logger}
}

func (d *AssemblyDispatcher) TriggerAssembly(ctx context.Context, analysis *models.Job) (*models.Job, error) {
	job := &models.Job{
		ID:         uuid.NewString(),
		SubjectID:  analysis.SubjectID,
		Kind:       models.JobKindRagProcessing,
		Status:     models.JobStatusPending,
		TotalUnits: 1,
		Metadata: models.JobMetadata{
			ExtractedText: analysis.Metadata.ExtractedText,
			TriggerKind:   "analysis_complete",
		},
	}

	created, createdNow, err := d.store.CreateAssemblyJobIfAbsent(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create assembly job: %w", err)
	}
	if !createdNow {
		// Lost the race or assembly already ran for this cycle.
		d.logger.Debug().Str("subject_id", analysis.SubjectID).
			Str("job_id", created.ID).Msg("assembly job already exists")
		return created, nil
	}

	msg := models.WorkMessage{
		JobID:       created.ID,
		SubjectID:   created.SubjectID,
		Kind:        models.JobKindRagProcessing,
		TriggerKind: created.Metadata.TriggerKind,
	}
	if err := d.queue.Publish(ctx, msg); err != nil {
		// The job row exists; the sweep's never-started rule will redrive it.
		d.logger.Warn().Str("job_id", created.ID).Err(err).
			Msg("failed to publish assembly unit; sweep will redrive")
	}

	d.logger.Info().Str("job_id", created.ID).Str("subject_id", created.SubjectID).
		Msg("assembly job created")
	return created, nil
}
