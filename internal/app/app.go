package app

import (
	"context"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"github.com/olumide-dev/brainpipe/internal/config"
	"github.com/olumide-dev/brainpipe/internal/core/chunker"
	db "github.com/olumide-dev/brainpipe/internal/core/database"
	"github.com/olumide-dev/brainpipe/internal/core/extraction"
	"github.com/olumide-dev/brainpipe/internal/core/llm"
	objectclient "github.com/olumide-dev/brainpipe/internal/core/object-client"
	"github.com/olumide-dev/brainpipe/internal/pipeline"
	"github.com/olumide-dev/brainpipe/internal/queue"
)

type App struct {
	DBClient *db.DatabaseClient
	Queue    *queue.MemoryQueue
	Sweeper  *pipeline.Sweeper
	Server   *Server

	embedder *llm.GeminiEmbedder
	builder  *llm.GeminiBrainBuilder
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	logger := log.DefaultLogger

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("database initialized and ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	builder, err := llm.NewGeminiBrainBuilder(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the brain builder, %w", err)
	}

	tok, err := chunker.NewTiktoken()
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the tokenizer, %w", err)
	}
	chunk, err := chunker.New(tok, cfg.Pipeline.MaxChunkToken, cfg.Pipeline.OverlapTokens)
	if err != nil {
		return nil, err
	}

	// No concrete OCR provider is wired yet; the unconfigured adapter makes
	// the chain fall through to the native parsers.
	ocr := extraction.UnconfiguredOCR{}
	chain := extraction.NewChain(ocr, ocr,
		extraction.DocconvParser{}, extraction.PlainTextParser{},
		extraction.Config{
			SyncByteLimit: cfg.Pipeline.SyncByteLimit,
			PollInterval:  cfg.Pipeline.PollInterval,
			MaxPolls:      cfg.Pipeline.MaxPolls,
		}, logger)

	workQueue := queue.NewMemoryQueue(cfg.Pipeline.QueueDepth, logger)

	dispatcher := pipeline.NewAssemblyDispatcher(dbClient, workQueue, logger)
	aggregator := pipeline.NewAggregator(dbClient, dispatcher, logger)
	docWorker := pipeline.NewDocumentWorker(dbClient, objClient, chain, chunk,
		embedder, dbClient, aggregator, cfg.Pipeline.MinTextLen, cfg.Pipeline.EmbedBatch, logger)
	asmWorker := pipeline.NewAssemblyWorker(dbClient, builder, aggregator, logger)
	processor := pipeline.NewProcessor(dbClient, workQueue, docWorker, asmWorker, logger)
	coordinator := pipeline.NewCoordinator(dbClient, workQueue, logger)

	workQueue.Start(ctx, cfg.Pipeline.QueueWorkers, processor.HandleMessage)

	sweeper := pipeline.NewSweeper(dbClient, processor, cfg.Pipeline, logger)
	if err := sweeper.Start(); err != nil {
		return nil, err
	}

	server := NewServer(cfg, dbClient, coordinator, processor, embedder, dbClient)

	return &App{
		DBClient: dbClient,
		Queue:    workQueue,
		Sweeper:  sweeper,
		Server:   server,
		embedder: embedder,
		builder:  builder,
	}, nil
}

func (a *App) Close() {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.builder != nil {
		_ = a.builder.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
