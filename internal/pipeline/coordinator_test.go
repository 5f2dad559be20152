package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olumide-dev/brainpipe/internal/models"
)

// queueFunc adapts a function to core.WorkQueue for publish-time assertions.
type queueFunc func(ctx context.Context, msg models.WorkMessage) error

func (f queueFunc) Publish(ctx context.Context, msg models.WorkMessage) error { return f(ctx, msg) }

func seedSubjectWithDocs(store *memStore, subjectID string, n int) {
	store.subjects[subjectID] = &models.Subject{
		ID:        subjectID,
		Name:      "Q2 fund",
		Kind:      "fund",
		CreatedAt: time.Now(),
	}
	docs := make([]models.Document, n)
	for i := range docs {
		docs[i] = models.Document{
			ID:          subjectID + "-doc-" + string(rune('a'+i)),
			SubjectID:   subjectID,
			DisplayName: "report.pdf",
			SourceKey:   subjectID + "/report-" + string(rune('a'+i)) + ".pdf",
			MimeKind:    "application/pdf",
			Status:      "uploaded",
		}
	}
	store.documents[subjectID] = docs
}

func TestStartAnalysisPublishesOneUnitPerDocument(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	queue := newFakeQueue()
	seedSubjectWithDocs(store, "subject-1", 3)

	co := NewCoordinator(store, queue, testLogger())
	job, err := co.StartAnalysis(ctx, "subject-1")
	require.NoError(t, err)

	assert.Equal(t, models.JobKindDocumentAnalysis, job.Kind)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.TotalUnits)
	assert.Equal(t, 0, job.ProcessedUnits)
	require.Len(t, job.Metadata.Units, 3)

	msgs := queue.messages()
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, job.ID, m.JobID)
		assert.Equal(t, "subject-1", m.SubjectID)
		assert.Equal(t, job.Metadata.Units[i].DocumentID, m.DocumentID)
		assert.Equal(t, job.Metadata.Units[i].SourceKey, m.SourceKey)
	}
}

func TestStartAnalysisCommitsJobBeforePublishing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedSubjectWithDocs(store, "subject-1", 2)

	// A consumer may dequeue the instant a message lands, so the job row has
	// to be readable from inside Publish already.
	queue := queueFunc(func(ctx context.Context, msg models.WorkMessage) error {
		job, err := store.GetJobByID(ctx, msg.JobID)
		require.NoError(t, err)
		require.NotNil(t, job, "job row must exist before its units are published")
		return nil
	})

	co := NewCoordinator(store, queue, testLogger())
	_, err := co.StartAnalysis(ctx, "subject-1")
	require.NoError(t, err)
}

func TestStartAnalysisPartialPublishFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	queue := newFakeQueue()
	seedSubjectWithDocs(store, "subject-1", 3)
	queue.failKeys["subject-1/report-b.pdf"] = true

	co := NewCoordinator(store, queue, testLogger())
	job, err := co.StartAnalysis(ctx, "subject-1")
	require.NoError(t, err, "partial publish failure must not fail the start")

	// The job keeps its full unit count and metadata; the sweep's
	// never-started rule republishes everything from there.
	got, err := store.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalUnits)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Len(t, got.Metadata.Units, 3)
	assert.Len(t, queue.messages(), 2)
}

func TestStartAnalysisUnknownSubject(t *testing.T) {
	store := newMemStore()
	co := NewCoordinator(store, newFakeQueue(), testLogger())

	_, err := co.StartAnalysis(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject not found")
}

func TestStartAnalysisNoDocuments(t *testing.T) {
	store := newMemStore()
	store.subjects["subject-1"] = &models.Subject{ID: "subject-1", Name: "empty", Kind: "base"}
	co := NewCoordinator(store, newFakeQueue(), testLogger())

	_, err := co.StartAnalysis(context.Background(), "subject-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents")
}
