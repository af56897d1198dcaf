package afsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bioinsight-be/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutAndGet(t *testing.T) {
	dir := t.TempDir()
	s := New("file://"+dir, "")

	res, err := s.Put(context.Background(), []byte("a,b\n1,2\n"), "udi/x_heatmap.csv", storage.MimeCSV)
	require.NoError(t, err)
	assert.NotEmpty(t, res.URL)

	onDisk, err := os.ReadFile(filepath.Join(dir, "udi", "x_heatmap.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(onDisk))

	back, err := s.Get(context.Background(), "udi/x_heatmap.csv")
	require.NoError(t, err)
	assert.Equal(t, onDisk, back)
}

func TestStore_PublicURL(t *testing.T) {
	s := New("file://"+t.TempDir(), "http://localhost:3000/api/blobs/")
	res, err := s.Put(context.Background(), []byte("{}"), "udi/spec.json", storage.MimeJSON)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/api/blobs/udi/spec.json", res.URL)
}

func TestStore_GetMissingAndTraversal(t *testing.T) {
	s := New("file://"+t.TempDir(), "")
	_, err := s.Get(context.Background(), "nope.csv")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Get(context.Background(), "../etc/passwd")
	assert.Error(t, err)
}
