package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/olumide-dev/brainpipe/internal/config"
	"github.com/olumide-dev/brainpipe/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const jobColumns = `
	id, subject_id, kind, status, total_units, processed_units, progress_percent,
	started_at, completed_at, error_message, metadata, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var (
		j    models.Job
		meta []byte
	)
	err := row.Scan(
		&j.ID, &j.SubjectID, &j.Kind, &j.Status, &j.TotalUnits, &j.ProcessedUnits,
		&j.ProgressPercent, &j.StartedAt, &j.CompletedAt, &j.ErrorMessage, &meta,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &j.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return &j, nil
}

// Implementing the job store interface

func (c *DatabaseClient) CreateJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("encode job metadata: %w", err)
	}
	const q = `
		INSERT INTO jobs
			(id, subject_id, kind, status, total_units, processed_units, progress_percent,
			 error_message, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, '', $6, now(), now())
	`
	_, err = c.db.ExecContext(ctx, q,
		job.ID, job.SubjectID, job.Kind, job.Status, job.TotalUnits, meta)
	return err
}

func (c *DatabaseClient) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(c.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (c *DatabaseClient) MarkProcessing(ctx context.Context, id string) (*models.Job, error) {
	q := `
		UPDATE jobs
		SET status = 'processing',
		    started_at = COALESCE(started_at, now()),
		    updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING ` + jobColumns
	job, err := scanJob(c.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		// Already terminal; hand back the current row so callers can decide.
		return c.GetJobByID(ctx, id)
	}
	return job, err
}

// MarkUnitDone is a single-row atomic update: the dedup guard, the unit-key
// append, the capped increment, the percent and the processing transition all
// happen in one statement so concurrent (or duplicate) unit completions
// serialize on the row instead of racing in application memory. The jsonb `?`
// guard is what keeps at-least-once delivery from inflating the counter.
func (c *DatabaseClient) MarkUnitDone(ctx context.Context, jobID, unitKey string) (*models.Job, bool, error) {
	q := `
		UPDATE jobs
		SET metadata = jsonb_set(metadata, '{processedDocuments}',
		        COALESCE(metadata->'processedDocuments', '[]'::jsonb) || to_jsonb($2::text), true),
		    processed_units = LEAST(processed_units + 1, total_units),
		    progress_percent = (LEAST(processed_units + 1, total_units) * 100 + total_units / 2)
		                       / GREATEST(total_units, 1),
		    status = 'processing',
		    started_at = COALESCE(started_at, now()),
		    updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
		  AND NOT COALESCE(metadata->'processedDocuments', '[]'::jsonb) ? $2
		RETURNING ` + jobColumns
	job, err := scanJob(c.db.QueryRowContext(ctx, q, jobID, unitKey))
	if err == nil {
		return job, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	// Duplicate delivery or terminal status: hand back the current row so the
	// caller can still run its completion check.
	job, err = c.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, fmt.Errorf("job not found: %s", jobID)
	}
	return job, false, nil
}

func (c *DatabaseClient) CompleteJob(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE jobs
		SET status = 'completed', progress_percent = 100, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing' AND processed_units >= total_units
	`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *DatabaseClient) FailJob(ctx context.Context, id string, message string) error {
	const q = `
		UPDATE jobs
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status <> 'completed'
	`
	res, err := c.db.ExecContext(ctx, q, id, message)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job not found or already completed: %s", id)
	}
	return nil
}

func (c *DatabaseClient) ResetForRetry(ctx context.Context, id string) error {
	// Unit accounting restarts with the counters: a stale processedDocuments
	// set would make every redriven unit look like a duplicate.
	const q = `
		UPDATE jobs
		SET status = 'pending', error_message = '', completed_at = NULL, started_at = NULL,
		    processed_units = 0, progress_percent = 0,
		    metadata = metadata - 'processedDocuments' - 'failedDocuments',
		    updated_at = now()
		WHERE id = $1 AND status = 'failed'
	`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s is not in a failed state", id)
	}
	return nil
}

// CreateAssemblyJobIfAbsent inserts the rag_processing job for a subject. The
// partial unique index jobs_live_assembly_uq makes the check-then-create
// atomic: under concurrent completion signals exactly one insert wins and the
// loser fetches the surviving row.
func (c *DatabaseClient) CreateAssemblyJobIfAbsent(ctx context.Context, job *models.Job) (*models.Job, bool, error) {
	if job == nil {
		return nil, false, errors.New("nil job")
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("encode job metadata: %w", err)
	}
	q := `
		INSERT INTO jobs
			(id, subject_id, kind, status, total_units, processed_units, progress_percent,
			 error_message, metadata, created_at, updated_at)
		VALUES ($1, $2, 'rag_processing', 'pending', $3, 0, 0, '', $4, now(), now())
		ON CONFLICT DO NOTHING
		RETURNING ` + jobColumns
	created, err := scanJob(c.db.QueryRowContext(ctx, q, job.ID, job.SubjectID, job.TotalUnits, meta))
	if err == nil {
		return created, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	// Lost the race (or one already existed): fetch the live assembly job.
	q = `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE subject_id = $1 AND kind = 'rag_processing' AND status <> 'failed'
		ORDER BY created_at DESC
		LIMIT 1`
	existing, err := scanJob(c.db.QueryRowContext(ctx, q, job.SubjectID))
	if err != nil {
		return nil, false, fmt.Errorf("fetch existing assembly job: %w", err)
	}
	return existing, false, nil
}

func (c *DatabaseClient) AppendExtractedText(ctx context.Context, jobID, documentID, text string) error {
	// The inner jsonb_set guarantees the extractedText object exists before
	// the outer one writes the per-document key.
	const q = `
		UPDATE jobs
		SET metadata = jsonb_set(
		        jsonb_set(metadata, '{extractedText}',
		                  COALESCE(metadata->'extractedText', '{}'::jsonb), true),
		        ARRAY['extractedText', $2], to_jsonb($3::text), true),
		    updated_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, jobID, documentID, text)
	return err
}

func (c *DatabaseClient) RecordFailedDocument(ctx context.Context, jobID, documentID, message string) error {
	const q = `
		UPDATE jobs
		SET metadata = jsonb_set(
		        jsonb_set(metadata, '{failedDocuments}',
		                  COALESCE(metadata->'failedDocuments', '{}'::jsonb), true),
		        ARRAY['failedDocuments', $2], to_jsonb($3::text), true),
		    updated_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, jobID, documentID, message)
	return err
}

// Sweep claims. Each claim stamps updated_at inside the same statement and
// selects with SKIP LOCKED, so two sweeper instances never redrive the same
// job in one window.

func (c *DatabaseClient) ClaimNeverStarted(ctx context.Context, grace time.Duration) ([]models.Job, error) {
	q := `
		UPDATE jobs
		SET updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND created_at < now() - make_interval(secs => $1)
			  AND updated_at < now() - make_interval(secs => $1)
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	return c.queryJobs(ctx, q, grace.Seconds())
}

func (c *DatabaseClient) ClaimStalled(ctx context.Context, stallAfter time.Duration) ([]models.Job, error) {
	q := `
		UPDATE jobs
		SET updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'processing'
			  AND completed_at IS NULL
			  AND started_at < now() - make_interval(secs => $1)
			  AND updated_at < now() - make_interval(secs => $1)
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	return c.queryJobs(ctx, q, stallAfter.Seconds())
}

func (c *DatabaseClient) ClaimRetryableFailed(ctx context.Context, notBefore, window time.Duration, signatures []string) ([]models.Job, error) {
	patterns := make([]string, len(signatures))
	for i, s := range signatures {
		patterns[i] = "%" + s + "%"
	}
	q := `
		UPDATE jobs
		SET status = 'pending', error_message = '', completed_at = NULL, started_at = NULL,
		    processed_units = 0, progress_percent = 0,
		    metadata = metadata - 'processedDocuments' - 'failedDocuments',
		    updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'failed'
			  AND completed_at <= now() - make_interval(secs => $1)
			  AND completed_at > now() - make_interval(secs => $2)
			  AND error_message ILIKE ANY($3)
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	return c.queryJobs(ctx, q, notBefore.Seconds(), window.Seconds(), patterns)
}

func (c *DatabaseClient) queryJobs(ctx context.Context, q string, args ...any) ([]models.Job, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// Implementing the store interface for subjects and documents

func (c *DatabaseClient) GetSubjectByID(ctx context.Context, id string) (*models.Subject, error) {
	const q = `
		SELECT id, name, kind, created_at, updated_at
		FROM subjects WHERE id = $1
	`
	var s models.Subject
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.Name, &s.Kind, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *DatabaseClient) ListDocumentsBySubject(ctx context.Context, subjectID string) ([]models.Document, error) {
	const q = `
		SELECT id, subject_id, display_name, source_key, mime_kind, status, created_at, updated_at
		FROM documents
		WHERE subject_id = $1
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.SubjectID, &d.DisplayName, &d.SourceKey, &d.MimeKind, &d.Status, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status string) error {
	const q = `
		UPDATE documents
		SET status = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) SaveBrain(ctx context.Context, brain *models.Brain) error {
	if brain == nil {
		return errors.New("nil brain")
	}
	const q = `
		INSERT INTO brains (id, subject_id, job_id, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (subject_id) DO UPDATE
		SET job_id = EXCLUDED.job_id, content = EXCLUDED.content, updated_at = now()
	`
	_, err := c.db.ExecContext(ctx, q, brain.ID, brain.SubjectID, brain.JobID, brain.Content)
	return err
}

// Implementing the vector index on the same pgvector-enabled database

// Upsert writes one embedded chunk keyed by its deterministic ID, so
// re-processing a document overwrites its previous vectors.
func (c *DatabaseClient) Upsert(ctx context.Context, rec models.VectorRecord) error {
	const q = `
		INSERT INTO brain_vectors
			(id, subject_id, document_id, chunk_index, total_chunks, text, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE
		SET text = EXCLUDED.text, embedding = EXCLUDED.embedding,
		    chunk_index = EXCLUDED.chunk_index, total_chunks = EXCLUDED.total_chunks
	`
	vec := pgvector.NewVector(rec.Embedding)
	_, err := c.db.ExecContext(ctx, q,
		rec.ID, rec.SubjectID, rec.DocumentID, rec.ChunkIndex, rec.TotalChunks, rec.Text, vec)
	return err
}

// Search finds top-k similar chunks within a subject's collection.
func (c *DatabaseClient) Search(ctx context.Context, subjectID string, query []float32, limit int) ([]models.VectorRecord, error) {
	const q = `
		SELECT id, subject_id, document_id, chunk_index, total_chunks, text, embedding
		FROM brain_vectors
		WHERE subject_id = $1
		ORDER BY embedding <-> $2
		LIMIT $3
	`
	vec := pgvector.NewVector(query)
	rows, err := c.db.QueryContext(ctx, q, subjectID, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VectorRecord
	for rows.Next() {
		var (
			r   models.VectorRecord
			emb pgvector.Vector
		)
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.DocumentID, &r.ChunkIndex, &r.TotalChunks, &r.Text, &emb); err != nil {
			return nil, err
		}
		r.Embedding = emb.Slice()
		out = append(out, r)
	}
	return out, rows.Err()
}
