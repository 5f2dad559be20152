package extraction

import (
	"context"
	"fmt"

	"github.com/olumide-dev/brainpipe/internal/core"
)

// UnconfiguredOCR stands in when no OCR service is wired. Both stages report
// an unsupported-format class error, so the chain degrades straight to the
// native parser instead of failing the unit.
type UnconfiguredOCR struct{}

var (
	_ core.SyncOCR  = UnconfiguredOCR{}
	_ core.AsyncOCR = UnconfiguredOCR{}
)

func (UnconfiguredOCR) Detect(ctx context.Context, data []byte) (string, error) {
	return "", fmt.Errorf("ocr service not configured: %w", ErrUnsupportedFormat)
}

func (UnconfiguredOCR) Submit(ctx context.Context, sourceKey string) (string, error) {
	return "", fmt.Errorf("ocr service not configured: %w", ErrUnsupportedFormat)
}

func (UnconfiguredOCR) Poll(ctx context.Context, handle string) (*core.OCRPollResult, error) {
	return nil, fmt.Errorf("ocr service not configured: %w", ErrUnsupportedFormat)
}
