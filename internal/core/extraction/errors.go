package extraction

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is the "unsupported format" class of extraction error.
// Chain stages return it (wrapped or bare) to signal that the payload is not
// something they can read, as opposed to a service failure.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// StageError records which chain stage failed and why.
type StageError struct {
	Stage string
	Err   error
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e StageError) Unwrap() error { return e.Err }

// ChainError is returned when every attempted stage failed. Its message names
// each stage and its error so operators can tell a corrupted file from a
// service outage.
type ChainError struct {
	Stages []StageError
}

func (e *ChainError) Error() string {
	parts := make([]string, len(e.Stages))
	for i, s := range e.Stages {
		parts[i] = s.Error()
	}
	return "text extraction failed at every stage: " + strings.Join(parts, "; ")
}
