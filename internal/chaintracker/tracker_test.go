package chaintracker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashAt(h uint32) string { return fmt.Sprintf("hash-%d", h) }

func seed(t *Tracker, from, to uint32) {
	for h := from; h <= to; h++ {
		t.Add(h, hashAt(h))
	}
}

func TestAddAndLookup(t *testing.T) {
	tr := New()
	_, ok := tr.TipHeight()
	assert.False(t, ok, "empty tracker has no tip")

	seed(tr, 0, 5)

	tip, ok := tr.TipHeight()
	require.True(t, ok)
	assert.Equal(t, uint32(5), tip)
	assert.Equal(t, 6, tr.Len())

	hash, ok := tr.HashAtHeight(3)
	require.True(t, ok)
	assert.Equal(t, hashAt(3), hash)

	height, ok := tr.HeightOfHash(hashAt(3))
	require.True(t, ok)
	assert.Equal(t, uint32(3), height)

	_, ok = tr.HashAtHeight(6)
	assert.False(t, ok)
}

func TestReAddingIdenticalHashIsNoOp(t *testing.T) {
	tr := New()
	seed(tr, 0, 3)

	assert.False(t, tr.Add(2, hashAt(2)))
	assert.Equal(t, 4, tr.Len())
	tip, _ := tr.TipHeight()
	assert.Equal(t, uint32(3), tip)
}

func TestReorgAtTip(t *testing.T) {
	tr := New()
	seed(tr, 0, 10)

	assert.True(t, tr.Add(10, "fork-10"))

	tip, ok := tr.TipHeight()
	require.True(t, ok)
	assert.Equal(t, uint32(10), tip)

	hash, ok := tr.HashAtHeight(10)
	require.True(t, ok)
	assert.Equal(t, "fork-10", hash)

	_, ok = tr.HeightOfHash(hashAt(10))
	assert.False(t, ok, "replaced hash is evicted from the reverse index")
}

func TestReorgBelowTipDropsEverythingAbove(t *testing.T) {
	tr := New()
	seed(tr, 0, 10)

	assert.True(t, tr.Add(7, "fork-7"))

	tip, ok := tr.TipHeight()
	require.True(t, ok)
	assert.Equal(t, uint32(7), tip, "conflict height becomes the tip")
	assert.Equal(t, 8, tr.Len())

	for h := uint32(8); h <= 10; h++ {
		_, ok := tr.HashAtHeight(h)
		assert.False(t, ok, "height %d survived the reorg", h)
		_, ok = tr.HeightOfHash(hashAt(h))
		assert.False(t, ok)
	}

	hash, ok := tr.HashAtHeight(7)
	require.True(t, ok)
	assert.Equal(t, "fork-7", hash)
	hash, ok = tr.HashAtHeight(6)
	require.True(t, ok)
	assert.Equal(t, hashAt(6), hash)
}

func TestClear(t *testing.T) {
	tr := New()
	seed(tr, 0, 4)

	tr.Clear()

	assert.Equal(t, 0, tr.Len())
	_, ok := tr.TipHeight()
	assert.False(t, ok)
	_, ok = tr.HashAtHeight(0)
	assert.False(t, ok)

	// Usable again after a clear.
	tr.Add(0, hashAt(0))
	tip, ok := tr.TipHeight()
	require.True(t, ok)
	assert.Equal(t, uint32(0), tip)
}
