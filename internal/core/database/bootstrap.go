package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olumide-dev/brainpipe/internal/core"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

var (
	_ core.JobStore    = (*DatabaseClient)(nil)
	_ core.VectorIndex = (*DatabaseClient)(nil)
)

const (
	embedDimToken   = "__EMBED_DIM__"
	defaultEmbedDim = 768
)

// renderBootstrapSQL substitutes the configured embedding dimension into the
// schema, so the brain_vectors column width always matches EMBED_DIM.
func renderBootstrapSQL(embedDim int) (string, error) {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return "", fmt.Errorf("read initdb.sql: %w", err)
	}
	if embedDim <= 0 {
		embedDim = defaultEmbedDim
	}
	return strings.ReplaceAll(string(sqlBytes), embedDimToken, strconv.Itoa(embedDim)), nil
}

// EnsureBootstrapped creates the schema on first start, keyed by a version
// row in brainpipe_meta.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, embedDim int) error {

	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'brainpipe_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}

	if !exists {
		return runBootstrap(ctxBoot, db, embedDim)
	}

	var hasVersion bool
	if err := db.QueryRowContext(ctxBoot, `SELECT EXISTS (SELECT 1 FROM brainpipe_meta WHERE version = 1)`).Scan(&hasVersion); err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if !hasVersion {
		return runBootstrap(ctxBoot, db, embedDim)
	}

	return nil
}

func runBootstrap(ctx context.Context, db *sql.DB, embedDim int) error {
	schema, err := renderBootstrapSQL(embedDim)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}
