package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/core/chunker"
	"github.com/olumide-dev/brainpipe/internal/core/extraction"
	"github.com/olumide-dev/brainpipe/internal/models"
)

// DocumentWorker processes one analysis work unit: fetch bytes, run the
// extraction chain, chunk, embed, index, report the unit done.
//
// Failure policy follows the error taxonomy: a chain failure is terminal for
// the document but never for the job — the unit is recorded and counted as
// processed so nine good documents still complete a ten-document job.
// Infrastructure failures (object fetch, embedding, indexing) return an error
// instead, leaving the unit unprocessed for redelivery or the recovery sweep.
type DocumentWorker struct {
	store      core.JobStore
	objects    core.ObjectClient
	chain      *extraction.Chain
	chunker    *chunker.Chunker
	embedder   core.EmbeddingProvider
	index      core.VectorIndex
	agg        *Aggregator
	minTextLen int
	embedBatch int
	logger     log.Logger
}

func NewDocumentWorker(
	store core.JobStore,
	objects core.ObjectClient,
	chain *extraction.Chain,
	ch *chunker.Chunker,
	embedder core.EmbeddingProvider,
	index core.VectorIndex,
	agg *Aggregator,
	minTextLen, embedBatch int,
	logger log.Logger,
) *DocumentWorker {
	if embedBatch <= 0 {
		embedBatch = 16
	}
	return &DocumentWorker{
		store: store, objects: objects, chain: chain, chunker: ch,
		embedder: embedder, index: index, agg: agg,
		minTextLen: minTextLen, embedBatch: embedBatch, logger: logger,
	}
}

func (w *DocumentWorker) Handle(ctx context.Context, msg models.WorkMessage) error {
	job, err := w.store.MarkProcessing(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if job.Metadata.DocumentProcessed(msg.DocumentID) {
		// Redelivered or redriven unit: don't repeat extraction, but re-run
		// the completion check in case the first pass died before it.
		w.logger.Debug().Str("job_id", msg.JobID).Str("document_id", msg.DocumentID).
			Msg("unit already processed, skipping extraction")
		return w.agg.UnitDone(ctx, msg.JobID, msg.DocumentID)
	}

	data, err := w.objects.GetFile(ctx, msg.SourceKey)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", msg.SourceKey, err)
	}

	text, err := w.chain.Extract(ctx, data, msg.MimeKind, msg.SourceKey)
	if err != nil {
		var chainErr *extraction.ChainError
		if !errors.As(err, &chainErr) {
			return fmt.Errorf("extract %s: %w", msg.DocumentID, err)
		}
		// Every stage failed: skip this document, keep the job moving.
		w.logger.Error().Str("job_id", msg.JobID).Str("document_id", msg.DocumentID).
			Str("display_name", msg.DisplayName).Err(chainErr).Msg("document skipped after extraction failure")
		if err := w.store.RecordFailedDocument(ctx, msg.JobID, msg.DocumentID, chainErr.Error()); err != nil {
			return fmt.Errorf("record failed document: %w", err)
		}
		w.setDocumentStatus(ctx, msg.DocumentID, "failed")
		return w.agg.UnitDone(ctx, msg.JobID, msg.DocumentID)
	}

	if len(strings.TrimSpace(text)) < w.minTextLen {
		w.logger.Info().Str("job_id", msg.JobID).Str("document_id", msg.DocumentID).
			Msg("document has no usable text content, skipping")
		return w.agg.UnitDone(ctx, msg.JobID, msg.DocumentID)
	}

	if err := w.store.AppendExtractedText(ctx, msg.JobID, msg.DocumentID, text); err != nil {
		return fmt.Errorf("append extracted text: %w", err)
	}

	if err := w.embedAndIndex(ctx, msg, text); err != nil {
		return err
	}

	w.setDocumentStatus(ctx, msg.DocumentID, "ready")
	return w.agg.UnitDone(ctx, msg.JobID, msg.DocumentID)
}

// setDocumentStatus is advisory bookkeeping on the document row; a failure
// here must not fail the unit, but it is still worth a trace.
func (w *DocumentWorker) setDocumentStatus(ctx context.Context, documentID, status string) {
	if err := w.store.UpdateDocumentStatus(ctx, documentID, status); err != nil {
		w.logger.Debug().Str("document_id", documentID).Str("status", status).
			Err(err).Msg("document status update failed")
	}
}

// embedAndIndex windows the text, embeds each window in batches, and upserts
// the vectors under deterministic ids so a redriven unit overwrites its own
// records.
func (w *DocumentWorker) embedAndIndex(ctx context.Context, msg models.WorkMessage, text string) error {
	chunks := w.chunker.Split(msg.DocumentID, text)

	for start := 0; start < len(chunks); start += w.embedBatch {
		end := start + w.embedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := w.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", msg.DocumentID, err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(batch))
		}

		// Upserts within a batch are independent (deterministic ids), so they
		// can land in parallel.
		g, gctx := errgroup.WithContext(ctx)
		for i, c := range batch {
			rec := models.VectorRecord{
				ID:          c.ID,
				SubjectID:   msg.SubjectID,
				DocumentID:  msg.DocumentID,
				ChunkIndex:  c.Index,
				TotalChunks: len(chunks),
				Text:        c.Text,
				Embedding:   vecs[i],
			}
			g.Go(func() error {
				if err := w.index.Upsert(gctx, rec); err != nil {
					return fmt.Errorf("index chunk %s: %w", rec.ID, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
