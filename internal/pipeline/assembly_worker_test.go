package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olumide-dev/brainpipe/internal/models"
)

type fakeBuilder struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
}

func (b *fakeBuilder) BuildBrain(_ context.Context, subject *models.Subject, extracted map[string]string) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	return fmt.Sprintf("%s: %s (%d documents)", subject.Name, b.content, len(extracted)), nil
}

func seedAssemblyJob(t *testing.T, store *memStore, extracted map[string]string) models.WorkMessage {
	t.Helper()
	store.subjects["subject-1"] = &models.Subject{ID: "subject-1", Name: "Q2 fund", Kind: "fund"}
	job := &models.Job{
		ID:         "job-rag",
		SubjectID:  "subject-1",
		Kind:       models.JobKindRagProcessing,
		Status:     models.JobStatusPending,
		TotalUnits: 1,
		Metadata: models.JobMetadata{
			ExtractedText: extracted,
			TriggerKind:   "analysis_complete",
		},
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return models.WorkMessage{
		JobID: job.ID, SubjectID: job.SubjectID,
		Kind: models.JobKindRagProcessing, TriggerKind: "analysis_complete",
	}
}

func TestAssemblyWorkerBuildsAndPersistsBrain(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	builder := &fakeBuilder{content: "synthesis"}
	trigger := &countingTrigger{}
	agg := NewAggregator(store, trigger, testLogger())
	w := NewAssemblyWorker(store, builder, agg, testLogger())

	msg := seedAssemblyJob(t, store, map[string]string{"doc-1": "alpha", "doc-2": "beta"})
	require.NoError(t, w.Handle(ctx, msg))

	job, err := store.GetJobByID(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.ProgressPercent)

	brain, ok := store.brains["subject-1"]
	require.True(t, ok)
	assert.Equal(t, msg.JobID, brain.JobID)
	assert.Contains(t, brain.Content, "Q2 fund")
	assert.Contains(t, brain.Content, "2 documents")

	// Completing a rag_processing job must not trigger another assembly.
	assert.Equal(t, 0, trigger.count())
}

func TestAssemblyWorkerDuplicateDeliveryAfterCompletion(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	builder := &fakeBuilder{content: "synthesis"}
	agg := NewAggregator(store, &countingTrigger{}, testLogger())
	w := NewAssemblyWorker(store, builder, agg, testLogger())

	msg := seedAssemblyJob(t, store, map[string]string{"doc-1": "alpha"})
	require.NoError(t, w.Handle(ctx, msg))
	require.NoError(t, w.Handle(ctx, msg), "redelivery after completion is a no-op")
	assert.Equal(t, 1, builder.calls, "brain must not be rebuilt on redelivery")
}

func TestAssemblyWorkerBuilderFailureFailsJobVerbatim(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	builder := &fakeBuilder{err: fmt.Errorf("model overloaded: resource exhausted")}
	agg := NewAggregator(store, &countingTrigger{}, testLogger())
	w := NewAssemblyWorker(store, builder, agg, testLogger())

	msg := seedAssemblyJob(t, store, map[string]string{"doc-1": "alpha"})
	require.NoError(t, w.Handle(ctx, msg), "a failed job is recorded, not bubbled")

	job, err := store.GetJobByID(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	// The message is preserved verbatim so the sweep can match transient
	// signatures against it.
	assert.Contains(t, job.ErrorMessage, "resource exhausted")
	require.NotNil(t, job.CompletedAt)
	assert.Empty(t, store.brains)
}

func TestAssemblyWorkerMissingSubjectFailsJob(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	builder := &fakeBuilder{content: "synthesis"}
	agg := NewAggregator(store, &countingTrigger{}, testLogger())
	w := NewAssemblyWorker(store, builder, agg, testLogger())

	msg := seedAssemblyJob(t, store, map[string]string{"doc-1": "alpha"})
	delete(store.subjects, "subject-1")

	require.NoError(t, w.Handle(ctx, msg))

	job, err := store.GetJobByID(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "subject-1")
	assert.Equal(t, 0, builder.calls)
}
