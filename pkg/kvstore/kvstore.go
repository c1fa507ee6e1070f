// Package kvstore provides the durable key-value layer the chat client persists
// its state into. Values are opaque bytes; callers usually store JSON documents
// through GetJSON/PutJSON.
package kvstore

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("kvstore: key not found")

// Store is a durable string-keyed byte store.
//
// Implementations must be safe for concurrent use. Get returns ErrNotFound for
// keys that were never written or have been deleted.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON loads key and decodes it into v. Missing keys return ErrNotFound,
// undecodable values return a wrapped json error.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	if s == nil {
		return errors.New("kvstore: nil store")
	}
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "kvstore: decode %q", key)
	}
	return nil
}

func PutJSON(ctx context.Context, s Store, key string, v any) error {
	if s == nil {
		return errors.New("kvstore: nil store")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "kvstore: encode %q", key)
	}
	return s.Set(ctx, key, b)
}
