package prompt

import (
	"github.com/cockroachdb/errors"
	"github.com/tiktoken-go/tokenizer"
)

// TruncationMarker is appended to context cut down to the token budget.
const TruncationMarker = "\n...[truncated]"

// Budget caps embedded context at a number of cl100k_base tokens. Local
// models use other vocabularies, so the count is an estimate.
type Budget struct {
	codec tokenizer.Codec
	max   int
}

// NewBudget returns a budget of max tokens. max <= 0 disables truncation.
func NewBudget(max int) (*Budget, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, errors.Wrap(err, "loading tokenizer")
	}
	return &Budget{codec: codec, max: max}, nil
}

// Count returns the token count of s.
func (b *Budget) Count(s string) int {
	ids, _, err := b.codec.Encode(s)
	if err != nil {
		return len(s) / 4
	}
	return len(ids)
}

// Fit truncates s so that s plus reserved stays within the budget.
func (b *Budget) Fit(reserved, s string) (string, bool) {
	if b.max <= 0 {
		return s, false
	}
	room := b.max - b.Count(reserved)
	if room < 0 {
		room = 0
	}
	ids, _, err := b.codec.Encode(s)
	if err != nil || len(ids) <= room {
		return s, false
	}
	cut, err := b.codec.Decode(ids[:room])
	if err != nil {
		return s, false
	}
	return cut + TruncationMarker, true
}
