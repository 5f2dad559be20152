package models

import (
	"time"
)

// JobKind identifies which pipeline stage a job tracks.
type JobKind string

const (
	JobKindDocumentAnalysis JobKind = "document_analysis"
	JobKindRagProcessing    JobKind = "rag_processing"
)

// JobStatus is the job lifecycle state. Transitions are forward-only:
// pending -> processing -> completed|failed. A failed job may only go back
// to pending through the dedicated retry reset.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is the durable record of one pipeline stage for a subject.
// ProcessedUnits never decreases and never exceeds TotalUnits;
// ProgressPercent is recomputed on every counter update.
type Job struct {
	ID              string      `db:"id" json:"id"`
	SubjectID       string      `db:"subject_id" json:"subject_id"`
	Kind            JobKind     `db:"kind" json:"kind"`
	Status          JobStatus   `db:"status" json:"status"`
	TotalUnits      int         `db:"total_units" json:"total_units"`
	ProcessedUnits  int         `db:"processed_units" json:"processed_units"`
	ProgressPercent int         `db:"progress_percent" json:"progress_percent"`
	StartedAt       *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage    string      `db:"error_message" json:"error_message,omitempty"`
	Metadata        JobMetadata `db:"metadata" json:"metadata"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// JobMetadata is the per-kind context carried on a job row (stored as JSONB).
// Units are persisted at creation time so a job whose queue messages were lost
// can still be redriven. ProcessedDocuments records which units have already
// been counted: delivery is at-least-once and redrives republish every unit,
// so the counter moves per distinct document, never per delivery.
// ExtractedText accumulated during document analysis is copied onto the
// rag_processing job so extraction is never repeated.
type JobMetadata struct {
	Units              []WorkUnit        `json:"units,omitempty"`
	ProcessedDocuments []string          `json:"processedDocuments,omitempty"`
	ExtractedText      map[string]string `json:"extractedText,omitempty"`
	FailedDocuments    map[string]string `json:"failedDocuments,omitempty"`
	TriggerKind        string            `json:"triggerKind,omitempty"`
}

// DocumentProcessed reports whether the unit for the given document has
// already been counted on this job.
func (m JobMetadata) DocumentProcessed(id string) bool {
	for _, d := range m.ProcessedDocuments {
		if d == id {
			return true
		}
	}
	return false
}

// WorkUnit is one document's worth of work inside a document_analysis job.
type WorkUnit struct {
	DocumentID  string `json:"document_id"`
	SourceKey   string `json:"source_key"`
	MimeKind    string `json:"mime_kind"`
	DisplayName string `json:"display_name"`
}

// WorkMessage is the queue payload. Analysis units carry the document fields;
// assembly units carry only the trigger kind.
type WorkMessage struct {
	JobID       string  `json:"job_id"`
	SubjectID   string  `json:"subject_id"`
	Kind        JobKind `json:"kind"`
	DocumentID  string  `json:"document_id,omitempty"`
	SourceKey   string  `json:"source_key,omitempty"`
	MimeKind    string  `json:"mime_kind,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	TriggerKind string  `json:"trigger_kind,omitempty"`
	Redrive     bool    `json:"redrive,omitempty"`
}

// Subject is the owning knowledge subject (a fund, project, or base) whose
// documents are processed together.
type Subject struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Kind      string    `db:"kind" json:"kind"` // fund | project | base
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Document is one uploaded source document belonging to a subject.
type Document struct {
	ID          string    `db:"id" json:"id"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	SourceKey   string    `db:"source_key" json:"source_key"` // object storage key
	MimeKind    string    `db:"mime_kind" json:"mime_kind"`
	Status      string    `db:"status" json:"status"` // uploaded | processing | ready | failed
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Brain is the derived knowledge artifact assembled once all of a subject's
// documents have been processed.
type Brain struct {
	ID        string    `db:"id" json:"id"`
	SubjectID string    `db:"subject_id" json:"subject_id"`
	JobID     string    `db:"job_id" json:"job_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// VectorRecord is one embedded chunk upserted into a subject's collection.
// IDs are deterministic per (document, chunk index) so re-processing a unit
// overwrites instead of duplicating.
type VectorRecord struct {
	ID          string    `db:"id" json:"id"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	ChunkIndex  int       `db:"chunk_index" json:"chunk_index"`
	TotalChunks int       `db:"total_chunks" json:"total_chunks"`
	Text        string    `db:"text" json:"text"`
	Embedding   []float32 `db:"embedding" json:"embedding"`
}

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
