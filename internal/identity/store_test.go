package identity

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetOrCreateIsStable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "identity.sqlite3")

	first, err := openTestStore(t, path).GetOrCreate(ctx, "desk")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := openTestStore(t, path).GetOrCreate(ctx, "desk")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "desk", second.Name)
}

func TestGetOrCreateRenames(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "identity.sqlite3"))

	original, err := s.GetOrCreate(ctx, "desk")
	require.NoError(t, err)

	renamed, err := s.GetOrCreate(ctx, "studio")
	require.NoError(t, err)

	assert.Equal(t, original.ID, renamed.ID)
	assert.Equal(t, "studio", renamed.Name)

	kept, err := s.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "studio", kept.Name)
}

func TestResetMintsNewID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "identity.sqlite3"))

	before, err := s.GetOrCreate(ctx, "desk")
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	after, err := s.GetOrCreate(ctx, "desk")
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)
}

func TestEphemeralIsUnique(t *testing.T) {
	a := Ephemeral("x")
	b := Ephemeral("x")
	assert.NotEqual(t, a.ID, b.ID)
}
