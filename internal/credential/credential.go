// Package credential stores the generator API key under a fixed kv key.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vibestyler/internal/kv"
)

// Key is the kv key holding the API key.
const Key = "geminiApiKey"

// ErrEmpty is returned when Set is given a blank key.
var ErrEmpty = errors.New("credential: empty api key")

// Store reads and writes the API key. A stored key wins over the fallback,
// which normally comes from config or GEMINI_API_KEY.
type Store struct {
	kv       kv.Store
	fallback string
}

// New creates a Store over backend.
func New(backend kv.Store, fallback string) *Store {
	return &Store{kv: backend, fallback: strings.TrimSpace(fallback)}
}

// APIKey returns the configured key, or "" when none is set anywhere.
func (s *Store) APIKey(ctx context.Context) (string, error) {
	raw, found, err := s.kv.Get(ctx, Key)
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	if found {
		if key := strings.TrimSpace(string(raw)); key != "" {
			return key, nil
		}
	}
	return s.fallback, nil
}

// Set persists key.
func (s *Store) Set(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmpty
	}
	if err := s.kv.Set(ctx, Key, []byte(key)); err != nil {
		return fmt.Errorf("save api key: %w", err)
	}
	return nil
}

// Clear removes the stored key; the fallback still applies.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Remove(ctx, Key); err != nil {
		return fmt.Errorf("clear api key: %w", err)
	}
	return nil
}

// Mask renders key for display, keeping only the last four characters.
func Mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
