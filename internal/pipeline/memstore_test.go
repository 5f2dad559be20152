package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"

	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/models"
)

func testLogger() log.Logger {
	return log.Logger{Writer: &log.IOWriter{Writer: io.Discard}}
}

// memStore is an in-memory core.JobStore mirroring the guarded-update
// semantics of the Postgres client: single-lock mutations, capped counters,
// and atomic check-then-create for the assembly job.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*models.Job
	subjects  map[string]*models.Subject
	documents map[string][]models.Document
	brains    map[string]*models.Brain
}

var _ core.JobStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[string]*models.Job),
		subjects:  make(map[string]*models.Subject),
		documents: make(map[string][]models.Document),
		brains:    make(map[string]*models.Brain),
	}
}

func copyJob(j *models.Job) *models.Job {
	out := *j
	return &out
}

func (s *memStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate job id %s", job.ID)
	}
	j := copyJob(job)
	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now
	s.jobs[job.ID] = j
	return nil
}

func (s *memStore) GetJobByID(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return copyJob(j), nil
}

func (s *memStore) MarkProcessing(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if j.Status == models.JobStatusPending || j.Status == models.JobStatusProcessing {
		j.Status = models.JobStatusProcessing
		if j.StartedAt == nil {
			now := time.Now()
			j.StartedAt = &now
		}
		j.UpdatedAt = time.Now()
	}
	return copyJob(j), nil
}

func (s *memStore) MarkUnitDone(_ context.Context, jobID, unitKey string) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, false, fmt.Errorf("job not found: %s", jobID)
	}
	active := j.Status == models.JobStatusPending || j.Status == models.JobStatusProcessing
	if !active || j.Metadata.DocumentProcessed(unitKey) {
		return copyJob(j), false, nil
	}
	j.Metadata.ProcessedDocuments = append(j.Metadata.ProcessedDocuments, unitKey)
	if j.ProcessedUnits < j.TotalUnits {
		j.ProcessedUnits++
	}
	total := j.TotalUnits
	if total < 1 {
		total = 1
	}
	j.ProgressPercent = (j.ProcessedUnits*100 + total/2) / total
	j.Status = models.JobStatusProcessing
	if j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}
	j.UpdatedAt = time.Now()
	return copyJob(j), true, nil
}

func (s *memStore) CompleteJob(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("job not found: %s", id)
	}
	if j.Status != models.JobStatusProcessing || j.ProcessedUnits < j.TotalUnits {
		return false, nil
	}
	j.Status = models.JobStatusCompleted
	j.ProgressPercent = 100
	now := time.Now()
	j.CompletedAt = &now
	j.UpdatedAt = now
	return true, nil
}

func (s *memStore) FailJob(_ context.Context, id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status == models.JobStatusCompleted {
		return fmt.Errorf("job not found or already completed: %s", id)
	}
	j.Status = models.JobStatusFailed
	j.ErrorMessage = message
	now := time.Now()
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (s *memStore) ResetForRetry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusFailed {
		return fmt.Errorf("job %s is not in a failed state", id)
	}
	s.resetLocked(j)
	return nil
}

func (s *memStore) resetLocked(j *models.Job) {
	j.Status = models.JobStatusPending
	j.ErrorMessage = ""
	j.CompletedAt = nil
	j.StartedAt = nil
	j.ProcessedUnits = 0
	j.ProgressPercent = 0
	j.Metadata.ProcessedDocuments = nil
	j.Metadata.FailedDocuments = nil
	j.UpdatedAt = time.Now()
}

func (s *memStore) CreateAssemblyJobIfAbsent(_ context.Context, job *models.Job) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.SubjectID == job.SubjectID && j.Kind == models.JobKindRagProcessing && j.Status != models.JobStatusFailed {
			return copyJob(j), false, nil
		}
	}
	j := copyJob(job)
	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now
	s.jobs[j.ID] = j
	return copyJob(j), true, nil
}

func (s *memStore) AppendExtractedText(_ context.Context, jobID, documentID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if j.Metadata.ExtractedText == nil {
		j.Metadata.ExtractedText = make(map[string]string)
	}
	j.Metadata.ExtractedText[documentID] = text
	j.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) RecordFailedDocument(_ context.Context, jobID, documentID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if j.Metadata.FailedDocuments == nil {
		j.Metadata.FailedDocuments = make(map[string]string)
	}
	j.Metadata.FailedDocuments[documentID] = message
	j.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) ClaimNeverStarted(_ context.Context, grace time.Duration) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-grace)
	var out []models.Job
	for _, j := range s.jobs {
		if j.Status == models.JobStatusPending && j.CreatedAt.Before(cutoff) && j.UpdatedAt.Before(cutoff) {
			j.UpdatedAt = time.Now()
			out = append(out, *copyJob(j))
		}
	}
	return out, nil
}

func (s *memStore) ClaimStalled(_ context.Context, stallAfter time.Duration) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-stallAfter)
	var out []models.Job
	for _, j := range s.jobs {
		if j.Status == models.JobStatusProcessing && j.CompletedAt == nil &&
			j.StartedAt != nil && j.StartedAt.Before(cutoff) && j.UpdatedAt.Before(cutoff) {
			j.UpdatedAt = time.Now()
			out = append(out, *copyJob(j))
		}
	}
	return out, nil
}

func (s *memStore) ClaimRetryableFailed(_ context.Context, notBefore, window time.Duration, signatures []string) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []models.Job
	for _, j := range s.jobs {
		if j.Status != models.JobStatusFailed || j.CompletedAt == nil {
			continue
		}
		age := now.Sub(*j.CompletedAt)
		if age < notBefore || age >= window {
			continue
		}
		matched := false
		for _, sig := range signatures {
			if strings.Contains(strings.ToLower(j.ErrorMessage), strings.ToLower(sig)) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		s.resetLocked(j)
		out = append(out, *copyJob(j))
	}
	return out, nil
}

func (s *memStore) GetSubjectByID(_ context.Context, id string) (*models.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subjects[id]
	if !ok {
		return nil, nil
	}
	out := *sub
	return &out, nil
}

func (s *memStore) ListDocumentsBySubject(_ context.Context, subjectID string) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Document(nil), s.documents[subjectID]...), nil
}

func (s *memStore) UpdateDocumentStatus(_ context.Context, id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for subjectID, docs := range s.documents {
		for i := range docs {
			if docs[i].ID == id {
				s.documents[subjectID][i].Status = status
				return nil
			}
		}
	}
	return fmt.Errorf("document not found: %s", id)
}

func (s *memStore) SaveBrain(_ context.Context, brain *models.Brain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := *brain
	s.brains[brain.SubjectID] = &b
	return nil
}

func (s *memStore) Close() error { return nil }

// mutateJob backdates timestamps to simulate job age in sweeper tests.
func (s *memStore) mutateJob(id string, fn func(*models.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
	}
}

func (s *memStore) allJobs() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *copyJob(j))
	}
	return out
}

// fakeQueue records published messages; optional errors simulate partial
// publish failures.
type fakeQueue struct {
	mu         sync.Mutex
	published  []models.WorkMessage
	failKeys   map[string]bool // source keys whose publish fails
	failAll    bool
	publishErr error
}

var _ core.WorkQueue = (*fakeQueue)(nil)

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failKeys: make(map[string]bool)}
}

func (q *fakeQueue) Publish(_ context.Context, msg models.WorkMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failAll || q.failKeys[msg.SourceKey] {
		if q.publishErr != nil {
			return q.publishErr
		}
		return fmt.Errorf("publish refused for %s", msg.SourceKey)
	}
	q.published = append(q.published, msg)
	return nil
}

func (q *fakeQueue) messages() []models.WorkMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.WorkMessage(nil), q.published...)
}
