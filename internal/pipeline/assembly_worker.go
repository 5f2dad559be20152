package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/models"
)

// AssemblyWorker consumes the single rag_processing work unit: it feeds the
// text extracted during analysis to the artifact builder and persists the
// resulting brain. A job-level failure (subject unloadable, builder error)
// fails the whole job with the verbatim message; the sweep retries it only if
// the message matches a transient signature.
type AssemblyWorker struct {
	store   core.JobStore
	builder core.ArtifactBuilder
	agg     *Aggregator
	logger  log.Logger
}

func NewAssemblyWorker(store core.JobStore, builder core.ArtifactBuilder, agg *Aggregator, logger log.Logger) *AssemblyWorker {
	return &AssemblyWorker{store: store, builder: builder, agg: agg, logger: logger}
}

func (w *AssemblyWorker) Handle(ctx context.Context, msg models.WorkMessage) error {
	job, err := w.store.GetJobByID(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", msg.JobID)
	}
	if job.Status == models.JobStatusCompleted {
		// Duplicate delivery after completion.
		return nil
	}

	if _, err := w.store.MarkProcessing(ctx, job.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	subject, err := w.store.GetSubjectByID(ctx, job.SubjectID)
	if err != nil || subject == nil {
		return w.failJob(ctx, job.ID, fmt.Sprintf("assembly: subject %s could not be loaded: %v", job.SubjectID, err))
	}

	content, err := w.builder.BuildBrain(ctx, subject, job.Metadata.ExtractedText)
	if err != nil {
		return w.failJob(ctx, job.ID, fmt.Sprintf("assembly: build brain for subject %s: %v", job.SubjectID, err))
	}

	brain := &models.Brain{
		ID:        uuid.NewString(),
		SubjectID: job.SubjectID,
		JobID:     job.ID,
		Content:   content,
	}
	if err := w.store.SaveBrain(ctx, brain); err != nil {
		return w.failJob(ctx, job.ID, fmt.Sprintf("assembly: save brain for subject %s: %v", job.SubjectID, err))
	}

	w.logger.Info().Str("job_id", job.ID).Str("subject_id", job.SubjectID).
		Int("documents", len(job.Metadata.ExtractedText)).Msg("brain assembled")

	return w.agg.UnitDone(ctx, job.ID, "assembly")
}

func (w *AssemblyWorker) failJob(ctx context.Context, jobID, message string) error {
	w.logger.Error().Str("job_id", jobID).Str("error", message).Msg("assembly job failed")
	if err := w.store.FailJob(ctx, jobID, message); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}
