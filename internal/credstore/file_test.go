package credstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, err = store.Load(ctx, "claude")
	var notFound *ErrNotFound
	require.True(t, errors.As(err, &notFound), "expected ErrNotFound before first save")

	want := []byte(`{"claudeAiOauth":{"accessToken":"a","refreshToken":"b"}}`)
	require.NoError(t, store.Save(ctx, "claude", want))

	got, err := store.Load(ctx, "claude")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestFileStoreOverwriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "codex", []byte(`{"v":1}`)))
	require.NoError(t, store.Save(ctx, "codex", []byte(`{"v":2}`)))

	got, err := store.Load(ctx, "codex")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":2}`, string(got))
}
