package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/models"
)

// Coordinator opens a document_analysis job for a subject and fans its
// documents out onto the work queue.
type Coordinator struct {
	store  core.JobStore
	queue  core.WorkQueue
	logger log.Logger
}

func NewCoordinator(store core.JobStore, queue core.WorkQueue, logger log.Logger) *Coordinator {
	return &Coordinator{store: store, queue: queue, logger: logger}
}

// StartAnalysis creates one document_analysis job covering every document the
// subject currently has, then publishes one work message per document. The
// job row is committed before the first publish, so a worker that dequeues
// immediately always finds it. The intended units are persisted on the job's
// metadata: if publication partially fails the job stays pending with its
// full total_units and the recovery sweep redrives it from that record.
func (co *Coordinator) StartAnalysis(ctx context.Context, subjectID string) (*models.Job, error) {
	subject, err := co.store.GetSubjectByID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}
	if subject == nil {
		return nil, fmt.Errorf("subject not found: %s", subjectID)
	}

	docs, err := co.store.ListDocumentsBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("subject %s has no documents to analyze", subjectID)
	}

	units := make([]models.WorkUnit, len(docs))
	for i, d := range docs {
		units[i] = models.WorkUnit{
			DocumentID:  d.ID,
			SourceKey:   d.SourceKey,
			MimeKind:    d.MimeKind,
			DisplayName: d.DisplayName,
		}
	}

	job := &models.Job{
		ID:         uuid.NewString(),
		SubjectID:  subjectID,
		Kind:       models.JobKindDocumentAnalysis,
		Status:     models.JobStatusPending,
		TotalUnits: len(units),
		Metadata:   models.JobMetadata{Units: units},
	}
	if err := co.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create analysis job: %w", err)
	}

	published := 0
	for _, u := range units {
		msg := models.WorkMessage{
			JobID:       job.ID,
			SubjectID:   subjectID,
			Kind:        models.JobKindDocumentAnalysis,
			DocumentID:  u.DocumentID,
			SourceKey:   u.SourceKey,
			MimeKind:    u.MimeKind,
			DisplayName: u.DisplayName,
		}
		if err := co.queue.Publish(ctx, msg); err != nil {
			co.logger.Warn().Str("job_id", job.ID).Str("document_id", u.DocumentID).
				Err(err).Msg("failed to publish work unit; sweep will redrive")
			continue
		}
		published++
	}
	co.logger.Info().Str("job_id", job.ID).Str("subject_id", subjectID).
		Int("units", len(units)).Int("published", published).Msg("analysis job created")

	return job, nil
}
