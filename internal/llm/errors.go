package llm

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrTimeout       = errors.New("request timed out")
	ErrEmptyResponse = errors.New("no choices in response")
	ErrNoModel       = errors.New("no model specified")
)

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s/%s: %v", e.Provider, e.Model, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
