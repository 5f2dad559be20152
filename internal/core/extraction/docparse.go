package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"code.sajari.com/docconv"

	"github.com/olumide-dev/brainpipe/internal/core"
)

// DocconvParser is the native format parser: docconv dispatches on the mime
// kind to its PDF, word-processor, HTML etc. converters.
type DocconvParser struct{}

var _ core.NativeParser = DocconvParser{}

func (DocconvParser) Parse(ctx context.Context, data []byte, mimeKind string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := docconv.Convert(bytes.NewReader(data), mimeKind, false)
	if err != nil {
		return "", fmt.Errorf("docconv %s: %w", mimeKind, err)
	}
	if res == nil || res.Body == "" {
		return "", fmt.Errorf("docconv %s: %w", mimeKind, ErrUnsupportedFormat)
	}
	return res.Body, nil
}

// PlainTextParser is the permissive last-resort parser: it ignores the
// declared mime kind and salvages whatever reads as UTF-8 text.
type PlainTextParser struct{}

var _ core.NativeParser = PlainTextParser{}

func (PlainTextParser) Parse(ctx context.Context, data []byte, mimeKind string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.New("payload is not readable as text")
	}
	res, err := docconv.Convert(bytes.NewReader(data), "text/plain", false)
	if err != nil {
		return "", fmt.Errorf("docconv text/plain: %w", err)
	}
	return res.Body, nil
}
