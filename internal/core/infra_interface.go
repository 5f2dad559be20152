package core

import (
	"context"
	"io"
	"time"

	"github.com/olumide-dev/brainpipe/internal/models"
)

// JobStore defines all persistence operations the pipeline needs.
// It abstracts Postgres so higher layers never depend on a specific DB.
// Every counter and status mutation is a single guarded statement on the
// store side; callers never read-modify-write job rows.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)

	// MarkProcessing moves a pending job to processing and stamps started_at
	// if unset. Calling it on a job already processing is a no-op.
	MarkProcessing(ctx context.Context, id string) (*models.Job, error)

	// MarkUnitDone counts one completed unit, at most once per unit key: the
	// key is recorded in metadata.processedDocuments and the counter only
	// moves when the key is new, so redelivered or redriven units never
	// inflate progress. Recording and increment happen in one statement.
	// Returns the updated row and whether this call counted the unit; on a
	// duplicate (or a terminal job) the current row comes back with false so
	// the caller can still run its completion check.
	MarkUnitDone(ctx context.Context, jobID, unitKey string) (*models.Job, bool, error)

	// CompleteJob transitions processing -> completed. Returns true when this
	// call performed the transition, false when the job was already terminal.
	CompleteJob(ctx context.Context, id string) (bool, error)
	FailJob(ctx context.Context, id string, message string) error

	// ResetForRetry moves a failed job back to pending, clearing the error,
	// completion timestamp and counters. Rejects jobs in any other status.
	ResetForRetry(ctx context.Context, id string) error

	// CreateAssemblyJobIfAbsent creates the rag_processing job for a subject
	// unless one already exists in a non-failed status. Returns the surviving
	// job and whether this call created it. The check-then-create is atomic:
	// a uniqueness constraint backs it so concurrent callers cannot both win.
	CreateAssemblyJobIfAbsent(ctx context.Context, job *models.Job) (*models.Job, bool, error)

	AppendExtractedText(ctx context.Context, jobID, documentID, text string) error
	RecordFailedDocument(ctx context.Context, jobID, documentID, message string) error

	// Claim* select sweep candidates past the given thresholds and stamp them
	// claimed in the same statement, so concurrent sweepers never double-
	// redrive a job. ClaimRetryableFailed additionally resets matches to
	// pending before returning them.
	ClaimNeverStarted(ctx context.Context, grace time.Duration) ([]models.Job, error)
	ClaimStalled(ctx context.Context, stallAfter time.Duration) ([]models.Job, error)
	ClaimRetryableFailed(ctx context.Context, notBefore, window time.Duration, signatures []string) ([]models.Job, error)

	GetSubjectByID(ctx context.Context, id string) (*models.Subject, error)
	ListDocumentsBySubject(ctx context.Context, subjectID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error
	SaveBrain(ctx context.Context, brain *models.Brain) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// It's abstract so you can replace AWS with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
	GetFile(ctx context.Context, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error)
}

// SyncOCR is the fast, synchronous text-layer read attempted first for small
// payloads. An unsupported-format error must unwrap to
// extraction.ErrUnsupportedFormat so the chain falls through.
type SyncOCR interface {
	Detect(ctx context.Context, data []byte) (string, error)
}

// OCRPollResult is one poll of a long-running OCR job. Blocks are the
// paginated result pages in order; they are only meaningful once Done.
type OCRPollResult struct {
	Done    bool
	Failed  bool
	Blocks  []string
	Message string
}

// AsyncOCR submits a long-running OCR job against the stored object and is
// polled until completion.
type AsyncOCR interface {
	Submit(ctx context.Context, sourceKey string) (handle string, err error)
	Poll(ctx context.Context, handle string) (*OCRPollResult, error)
}

// NativeParser extracts text directly from downloaded bytes using a
// format-specific parser.
type NativeParser interface {
	Parse(ctx context.Context, data []byte, mimeKind string) (string, error)
}

// EmbeddingProvider turns text into vectors.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ArtifactBuilder assembles the derived knowledge artifact from the text
// extracted across all of a subject's documents.
type ArtifactBuilder interface {
	BuildBrain(ctx context.Context, subject *models.Subject, extracted map[string]string) (string, error)
}

// VectorIndex upserts embedded chunks into a subject-scoped collection.
// Upserts are keyed by the record's deterministic ID, safe under redrive.
type VectorIndex interface {
	Upsert(ctx context.Context, rec models.VectorRecord) error
	Search(ctx context.Context, subjectID string, query []float32, limit int) ([]models.VectorRecord, error)
}

// WorkQueue is the canonical work-message publisher. Delivery is
// at-least-once; consumers must be idempotent.
type WorkQueue interface {
	Publish(ctx context.Context, msg models.WorkMessage) error
}
