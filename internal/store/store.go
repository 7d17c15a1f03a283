// Package store provides durable storage for the two persisted lists of the
// assistant: chat history and permanent context.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Stable keys of the persisted lists.
const (
	KeyHistory          = "ChatHistory"
	KeyPermanentContext = "PermanentContexts"
)

// Store persists ordered string lists under a key.
type Store interface {
	// Load returns the list stored under key. A missing key or a malformed
	// payload yields an empty list and no error; err is reserved for storage
	// failures, in which case the list is also empty.
	Load(ctx context.Context, key string) ([]string, error)

	// Save replaces the list stored under key.
	Save(ctx context.Context, key string, values []string) error
}

// encodeList renders values in the canonical stored form. A nil list is
// stored as an empty JSON array so that loading and saving back is byte-stable.
func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(data), nil
}

func decodeList(raw string) ([]string, error) {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}
