package snapshot_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/collabd/internal/snapshot"
	"github.com/p-blackswan/collabd/internal/store"
)

func setupStore(t *testing.T) *snapshot.SQLiteStore {
	t.Helper()
	ds, err := store.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return snapshot.NewSQLiteStore(ds, zerolog.Nop())
}

func TestSQLiteStore_LoadMissing(t *testing.T) {
	s := setupStore(t)
	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	state := []byte(`{"id":"p-1","context":{"repo":"collabd"}}`)
	require.NoError(t, s.Save(ctx, "p-1", state))

	got, err := s.Load(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestSQLiteStore_SaveOverwrites(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "p-1", []byte(`{"v":1}`)))
	require.NoError(t, s.Save(ctx, "p-1", []byte(`{"v":2}`)))

	got, err := s.Load(ctx, "p-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func TestSQLiteStore_ProjectsAreIndependent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "p-1", []byte(`{"v":1}`)))
	require.NoError(t, s.Save(ctx, "p-2", []byte(`{"v":2}`)))
	require.NoError(t, s.Delete(ctx, "p-1"))

	_, err := s.Load(ctx, "p-1")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	got, err := s.Load(ctx, "p-2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func TestSQLiteStore_DeleteMissingIsNoOp(t *testing.T) {
	s := setupStore(t)
	assert.NoError(t, s.Delete(context.Background(), "nope"))
}
