package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TiktokenTokenizer counts tokens with the cl100k_base BPE vocabulary.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

var _ Tokenizer = (*TiktokenTokenizer)(nil)

func NewTiktoken() (*TiktokenTokenizer, error) {
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", defaultEncoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
