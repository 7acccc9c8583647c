// Package llm is the text-generation capability used by the semantic
// mapping generator: given a model identifier and prompt text, return text.
//
// Calls are synchronous and made exactly once. A failure is returned to the
// caller as-is; there is no retry.
package llm

import (
	"context"
	"fmt"
)

// Client completes a prompt with the named model.
type Client interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Func adapts a plain function to Client.
type Func func(ctx context.Context, model, prompt string) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: endpoint returned status %d: %s", e.Status, e.Body)
}
