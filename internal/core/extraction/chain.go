package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/olumide-dev/brainpipe/internal/core"
)

const (
	stageSyncOCR  = "sync-ocr"
	stageAsyncOCR = "async-ocr"
	stageNative   = "native-parse"
	stageFallback = "fallback-parse"
)

// Config tunes the chain. SyncByteLimit gates the fast OCR stage: large
// multi-page payloads almost always need the asynchronous path, so the direct
// read is not worth attempting on them.
type Config struct {
	SyncByteLimit int
	PollInterval  time.Duration
	MaxPolls      int
}

// Chain tries extraction strategies strictly in order and returns the first
// success: fast OCR read, asynchronous OCR job, native format parser, then a
// permissive fallback parser. Stage failures are expected and recorded; they
// only surface when every stage has failed.
type Chain struct {
	sync     core.SyncOCR
	async    core.AsyncOCR
	native   core.NativeParser
	fallback core.NativeParser
	cfg      Config
	logger   log.Logger
}

func NewChain(sync core.SyncOCR, async core.AsyncOCR, native, fallback core.NativeParser, cfg Config, logger log.Logger) *Chain {
	return &Chain{sync: sync, async: async, native: native, fallback: fallback, cfg: cfg, logger: logger}
}

// Extract runs the chain over the downloaded bytes. sourceKey is the stored
// object's key, needed by the asynchronous OCR stage which runs against the
// object store rather than the local copy.
func (c *Chain) Extract(ctx context.Context, data []byte, mimeKind, sourceKey string) (string, error) {
	var failed []StageError

	record := func(stage string, err error) {
		failed = append(failed, StageError{Stage: stage, Err: err})
		c.logger.Debug().Str("stage", stage).Str("source_key", sourceKey).Err(err).
			Msg("extraction stage failed, falling through")
	}

	if len(data) <= c.cfg.SyncByteLimit {
		text, err := c.sync.Detect(ctx, data)
		if err == nil {
			return text, nil
		}
		record(stageSyncOCR, err)
	}

	text, err := c.asyncExtract(ctx, sourceKey)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	record(stageAsyncOCR, err)

	text, err = c.native.Parse(ctx, data, mimeKind)
	if err == nil {
		return text, nil
	}
	record(stageNative, err)

	// The permissive parser only runs when the native one threw.
	text, err = c.fallback.Parse(ctx, data, mimeKind)
	if err == nil {
		return text, nil
	}
	record(stageFallback, err)

	return "", &ChainError{Stages: failed}
}

// asyncExtract submits a long-running OCR job and polls it on a fixed
// interval up to MaxPolls attempts. Paginated result blocks are concatenated
// in order.
func (c *Chain) asyncExtract(ctx context.Context, sourceKey string) (string, error) {
	handle, err := c.async.Submit(ctx, sourceKey)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	for attempt := 1; attempt <= c.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}

		res, err := c.async.Poll(ctx, handle)
		if err != nil {
			return "", fmt.Errorf("poll attempt %d: %w", attempt, err)
		}
		if res.Failed {
			return "", fmt.Errorf("ocr job failed: %s", res.Message)
		}
		if res.Done {
			return strings.Join(res.Blocks, "\n"), nil
		}
	}
	return "", fmt.Errorf("ocr job %s not done after %d polls", handle, c.cfg.MaxPolls)
}
