package fsblob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/signflow"
)

func TestStore(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "documents/a/completed.pdf", []byte("v1")))
	require.NoError(t, s.Put(ctx, "documents/a/completed.pdf", []byte("v2")))

	data, err := s.Get(ctx, "documents/a/completed.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	entries, err := os.ReadDir(filepath.Join(dir, "documents", "a"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")

	require.NoError(t, s.Delete(ctx, "documents/a/completed.pdf"))
	require.NoError(t, s.Delete(ctx, "documents/a/completed.pdf"))
	_, err = s.Get(ctx, "documents/a/completed.pdf")
	assert.ErrorIs(t, err, signflow.ErrNotFound)
}

func TestInvalidKeys(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "/etc/passwd", "../escape", "a/../../b", "a//b", `a\b`} {
		assert.ErrorIs(t, s.Put(context.Background(), key, nil), ErrInvalidKey, key)
	}
}
