package chunker

import (
	"fmt"
)

// Tokenizer converts text to and from a token sequence. Chunk budgets are
// measured in real tokens, not characters, so windows line up with what the
// embedding model actually sees.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Chunk is one token-bounded window of a document's text. IDs are
// deterministic for identical input: the bare document ID for a single
// window, documentID-chunk-N otherwise. Retries therefore overwrite the same
// vector records instead of duplicating them.
type Chunk struct {
	ID         string
	Index      int
	Text       string
	TokenCount int
}

// Chunker splits long text into overlapping token windows preserving order.
type Chunker struct {
	tok       Tokenizer
	maxTokens int
	overlap   int
}

func New(tok Tokenizer, maxTokens, overlap int) (*Chunker, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("maxTokens must be positive, got %d", maxTokens)
	}
	if overlap < 0 || overlap >= maxTokens {
		return nil, fmt.Errorf("overlap %d must be in [0, maxTokens)", overlap)
	}
	return &Chunker{tok: tok, maxTokens: maxTokens, overlap: overlap}, nil
}

// Split windows the text. Text within the token budget stays a single chunk
// keyed by the document ID alone.
func (c *Chunker) Split(documentID, text string) []Chunk {
	tokens := c.tok.Encode(text)
	if len(tokens) <= c.maxTokens {
		return []Chunk{{
			ID:         documentID,
			Index:      0,
			Text:       text,
			TokenCount: len(tokens),
		}}
	}

	stride := c.maxTokens - c.overlap
	var chunks []Chunk
	for start := 0; start < len(tokens); start += stride {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		chunks = append(chunks, Chunk{
			ID:         fmt.Sprintf("%s-chunk-%d", documentID, len(chunks)),
			Index:      len(chunks),
			Text:       c.tok.Decode(window),
			TokenCount: len(window),
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
