package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *ModelStore {
	t.Helper()
	s, err := OpenModelStore(filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestModelStorePutGet(t *testing.T) {
	s := openTestStore(t)

	info, err := s.Put(ModelInfo{
		Name:      "gaussian",
		Positions: 64,
		Intervals: 64,
		Rounds:    6,
		Builder:   "optimal",
		Entropy:   123.5,
	}, []byte("snapshot-1"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, info.ID)
	assert.False(t, info.CreatedAt.IsZero())

	got, snap, err := s.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot-1"), snap)
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, "gaussian", got.Name)
	assert.Equal(t, 64, got.Positions)
	assert.Equal(t, 6, got.Rounds)
	assert.Equal(t, 123.5, got.Entropy)
	assert.True(t, info.CreatedAt.Equal(got.CreatedAt))

	_, _, err = s.Get(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestModelStoreLatestListDelete(t *testing.T) {
	s := openTestStore(t)
	base := time.Unix(1700000000, 0)

	older, err := s.Put(ModelInfo{Name: "beta", CreatedAt: base}, []byte("old"))
	require.NoError(t, err)
	newer, err := s.Put(ModelInfo{Name: "beta", CreatedAt: base.Add(time.Minute)}, []byte("new"))
	require.NoError(t, err)
	other, err := s.Put(ModelInfo{Name: "uniform", CreatedAt: base.Add(time.Hour)}, []byte("u"))
	require.NoError(t, err)

	info, snap, err := s.Latest("beta")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, info.ID)
	assert.Equal(t, []byte("new"), snap)

	info, _, err = s.Latest("")
	require.NoError(t, err)
	assert.Equal(t, other.ID, info.ID)

	_, _, err = s.Latest("piecewise")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, older.ID, all[0].ID)

	require.NoError(t, s.Delete(newer.ID))
	info, _, err = s.Latest("beta")
	require.NoError(t, err)
	assert.Equal(t, older.ID, info.ID)
	assert.ErrorIs(t, s.Delete(newer.ID), ErrNotFound)
}
