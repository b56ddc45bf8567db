package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Put(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(filepath.Join(dir, "uploads"))

	path, err := store.Put(context.Background(), "labs.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "uploads"), filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, "_labs.pdf"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestLocalStore_PutCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalStore(t.TempDir()).Put(ctx, "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "passwd", SafeName("../../etc/passwd"))
	assert.Equal(t, "scan.png", SafeName(`C:\Users\me\scan.png`))
	assert.Equal(t, "upload", SafeName(""))
}
