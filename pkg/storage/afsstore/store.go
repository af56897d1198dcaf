package afsstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"bioinsight-be/pkg/storage"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// Store writes objects under an afs base URL (file://, mem://, ...). When
// publicBase is set, returned URLs point at the HTTP blob route instead of
// the storage location.
type Store struct {
	fs         afs.Service
	baseURL    string
	publicBase string
}

var _ storage.BlobStore = (*Store)(nil)

func New(baseURL, publicBase string) *Store {
	return &Store{
		fs:         afs.New(),
		baseURL:    baseURL,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

func (s *Store) Put(ctx context.Context, data []byte, key, mime string) (storage.PutResult, error) {
	dest := url.Join(s.baseURL, key)
	if err := s.fs.Upload(ctx, dest, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return storage.PutResult{}, fmt.Errorf("upload %s: %w", dest, err)
	}
	if s.publicBase != "" {
		return storage.PutResult{URL: s.publicBase + "/" + strings.TrimLeft(key, "/")}, nil
	}
	return storage.PutResult{URL: dest}, nil
}

// Get reads an object back by key. Used by the HTTP blob route.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.Contains(key, "..") {
		return nil, fmt.Errorf("invalid key %q", key)
	}
	src := url.Join(s.baseURL, key)
	ok, err := s.fs.Exists(ctx, src)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.fs.DownloadWithURL(ctx, src)
}
