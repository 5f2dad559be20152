package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	GenModel     string
	Port         string

	Pipeline PipelineConfig
}

// PipelineConfig holds the tunable knobs of the job pipeline. The thresholds
// are configuration, not invariants: operators routinely tighten or loosen
// them per deployment.
type PipelineConfig struct {
	QueueWorkers  int           // goroutines draining the work queue
	QueueDepth    int           // buffered queue capacity
	SyncByteLimit int           // max payload size for the fast OCR stage
	PollInterval  time.Duration // async OCR poll cadence
	MaxPolls      int           // async OCR poll attempts before falling through
	MinTextLen    int           // shorter extractions count as "no content"
	MaxChunkToken int           // token budget per chunk window
	OverlapTokens int           // token overlap between consecutive windows
	EmbedBatch    int           // chunks embedded per provider call

	SweepInterval time.Duration // recovery sweep cadence
	PendingGrace  time.Duration // pending jobs older than this are never-started
	StallAfter    time.Duration // processing jobs started earlier than this are stalled
	RetryWindow   time.Duration // failed jobs completed within this window are retry candidates
	RetryAfter    time.Duration // ...but not before this much time has passed
	TransientErrs []string      // error substrings considered retryable
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "brainpipe-docs"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		Port:         getEnv("PORT", "8080"),

		Pipeline: PipelineConfig{
			QueueWorkers:  getEnvInt("QUEUE_WORKERS", 4),
			QueueDepth:    getEnvInt("QUEUE_DEPTH", 64),
			SyncByteLimit: getEnvInt("SYNC_BYTE_LIMIT", 5*1024*1024),
			PollInterval:  getEnvDuration("OCR_POLL_INTERVAL", 5*time.Second),
			MaxPolls:      getEnvInt("OCR_MAX_POLLS", 60),
			MinTextLen:    getEnvInt("MIN_TEXT_LEN", 10),
			MaxChunkToken: getEnvInt("MAX_CHUNK_TOKENS", 7000),
			OverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", 300),
			EmbedBatch:    getEnvInt("EMBED_BATCH", 16),

			SweepInterval: getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
			PendingGrace:  getEnvDuration("SWEEP_PENDING_GRACE", 30*time.Second),
			StallAfter:    getEnvDuration("SWEEP_STALL_AFTER", 5*time.Minute),
			RetryWindow:   getEnvDuration("SWEEP_RETRY_WINDOW", 10*time.Minute),
			RetryAfter:    getEnvDuration("SWEEP_RETRY_AFTER", 2*time.Minute),
			TransientErrs: getEnvList("SWEEP_TRANSIENT_ERRORS",
				"connection pool", "too many connections", "resource exhausted"),
		},
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func getEnvList(key string, def ...string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
