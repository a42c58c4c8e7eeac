package blockstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("") // in-memory
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBlock(ctx, Record{Height: 100, Hash: "hash-100", PreviousBlockHash: "hash-99"}))

	rec, ok, err := s.BlockByHeight(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hash-100", rec.Hash)
	assert.Equal(t, "hash-99", rec.PreviousBlockHash)

	hash, ok, err := s.BlockHashByHeight(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hash-100", hash)

	_, ok, err = s.BlockHashByHeight(ctx, 101)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTipAdvancesMonotonically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.TipHeight(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh store has no tip")

	require.NoError(t, s.PutBlock(ctx, Record{Height: 5, Hash: "h5"}))
	require.NoError(t, s.PutBlock(ctx, Record{Height: 7, Hash: "h7"}))
	require.NoError(t, s.PutBlock(ctx, Record{Height: 6, Hash: "h6"})) // backfill

	tip, ok, err := s.TipHeight(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), tip, "backfilling below the tip must not lower it")
}

func TestPruneAbove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for h := uint32(1); h <= 10; h++ {
		require.NoError(t, s.PutBlock(ctx, Record{Height: h, Hash: fmt.Sprintf("h%d", h)}))
	}

	require.NoError(t, s.PruneAbove(ctx, 6))

	tip, ok, err := s.TipHeight(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(6), tip)

	_, ok, err = s.BlockByHeight(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok, "records above the prune height must be gone")

	_, ok, err = s.BlockByHeight(ctx, 6)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRejectsRecordWithoutHash(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.PutBlock(context.Background(), Record{Height: 1}))
}
