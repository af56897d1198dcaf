// Package storage defines the blob store the visualization and harmonization
// steps export artifacts through.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
)

const (
	MimeCSV  = "text/csv"
	MimeJSON = "application/json"
)

// PutResult carries the address clients use to fetch the object.
type PutResult struct {
	URL string `json:"url"`
}

// BlobStore stores bytes under key and returns a fetchable URL.
type BlobStore interface {
	Put(ctx context.Context, data []byte, key, mime string) (PutResult, error)
}

// PutFile uploads a local file.
func PutFile(ctx context.Context, store BlobStore, path, key, mime string) (PutResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PutResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	return store.Put(ctx, data, key, mime)
}

var ErrNotFound = errors.New("blob not found")

// Reader fetches a stored object by key.
type Reader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}
