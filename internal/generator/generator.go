// Package generator turns a user request and page snapshot into CSS: it
// builds the prompt, calls the remote model and validates what comes back.
package generator

import (
	"context"
	"errors"
	"fmt"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f Func) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

var (
	// ErrCredentialMissing is returned before any call when no API key is set.
	ErrCredentialMissing = errors.New("credential not configured")
	// ErrCredentialUnavailable wraps a failure to read the stored API key.
	ErrCredentialUnavailable = errors.New("credential unavailable")
	// ErrMalformedResponse means the response had no candidate text.
	ErrMalformedResponse = errors.New("could not parse generator response")
)

// HTTPError is a non-success status from the generation endpoint.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("generator http status %d", e.Status)
	}
	return fmt.Sprintf("generator http status %d: %s", e.Status, e.Message)
}

// BlockedError means the endpoint refused the prompt.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "generator blocked prompt: " + e.Reason
}
