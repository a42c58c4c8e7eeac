package p2p

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easylayer/blockchain-provider/internal/network"
)

const block1HeaderHex = "010000006fe28c0ab6f1b372c1a6a246ae63f74f931e8365e15a" +
	"089c68d6190000000000982051fd1e4ba744bbbe680e1fee14677ba1a3c3540bf7b1cd" +
	"b606e857233e0e61bc6649ffff001d01e36299"

func TestHeaderSyncAppliesChainedHeaders(t *testing.T) {
	tr := New(Config{}, network.Mainnet())
	tr.tracker.Add(0, network.Mainnet().GenesisHash)

	raw, err := hex.DecodeString(block1HeaderHex)
	require.NoError(t, err)

	added, ceiling := tr.sync.apply([][]byte{raw})
	assert.Equal(t, 1, added)
	assert.False(t, ceiling)

	hash, ok := tr.tracker.HashAtHeight(1)
	require.True(t, ok)
	assert.Equal(t, block1Hash, hash)
}

func TestHeaderSyncSkipsOrphanHeaders(t *testing.T) {
	tr := New(Config{}, network.Mainnet())
	// Tracker is empty: block 1's parent is unknown, so nothing is applied.
	raw, err := hex.DecodeString(block1HeaderHex)
	require.NoError(t, err)

	added, _ := tr.sync.apply([][]byte{raw})
	assert.Zero(t, added)
	assert.Zero(t, tr.tracker.Len())
}

func TestHeaderSyncHonorsHeightCeiling(t *testing.T) {
	raw, err := hex.DecodeString(block1HeaderHex)
	require.NoError(t, err)

	tr := New(Config{}, network.Mainnet())
	tr.tracker.Add(0, network.Mainnet().GenesisHash)

	added, ceiling := tr.sync.apply([][]byte{raw})
	assert.Equal(t, 1, added, "no ceiling configured: header applies")
	assert.False(t, ceiling)

	capped := New(Config{MaxHeight: 1}, network.Mainnet())
	capped.tracker.Add(0, network.Mainnet().GenesisHash)
	added, ceiling = capped.sync.apply([][]byte{raw})
	assert.Equal(t, 1, added, "ceiling at 1 still admits height 1")
	assert.False(t, ceiling)

	// A second page beyond the ceiling stops the sync.
	beyond := New(Config{MaxHeight: 1}, network.Mainnet())
	beyond.tracker.Add(0, network.Mainnet().GenesisHash)
	beyond.tracker.Add(1, block1Hash)
	fake2 := buildChildHeaderOf(t, block1Hash)
	added, ceiling = beyond.sync.apply([][]byte{fake2})
	assert.Zero(t, added)
	assert.True(t, ceiling)
}

// buildChildHeaderOf fabricates an 80-byte header whose previous-hash field
// points at parent. Proof of work is not validated by the sync layer.
func buildChildHeaderOf(t *testing.T, parent string) []byte {
	t.Helper()
	prev, err := internalHash(parent)
	require.NoError(t, err)
	hdr := make([]byte, 80)
	hdr[0] = 0x01 // version 1
	copy(hdr[4:36], prev[:])
	return hdr
}

func TestHeaderSyncBatchSizeClampedToProtocolPage(t *testing.T) {
	assert.Equal(t, maxHeadersPerMsg, New(Config{}, network.Mainnet()).sync.batchSize())
	assert.Equal(t, 500, New(Config{HeaderSyncBatchSize: 500}, network.Mainnet()).sync.batchSize())
	assert.Equal(t, maxHeadersPerMsg, New(Config{HeaderSyncBatchSize: 5000}, network.Mainnet()).sync.batchSize())
}

func TestLocatorAnchorsAtGenesis(t *testing.T) {
	tr := New(Config{}, network.Mainnet())

	// Empty tracker: only the genesis anchor.
	loc := tr.sync.locator()
	assert.Equal(t, []string{network.Mainnet().GenesisHash}, loc)

	// A long synthetic chain: newest first, strides grow, 32 entries max,
	// genesis last.
	for h := uint32(0); h <= 5000; h++ {
		if h == 0 {
			tr.tracker.Add(h, network.Mainnet().GenesisHash)
			continue
		}
		tr.tracker.Add(h, hashForHeight(h))
	}
	loc = tr.sync.locator()
	require.NotEmpty(t, loc)
	assert.LessOrEqual(t, len(loc), maxLocatorEntries)
	assert.Equal(t, hashForHeight(5000), loc[0])
	assert.Equal(t, network.Mainnet().GenesisHash, loc[len(loc)-1])
}

func hashForHeight(h uint32) string {
	buf := make([]byte, 32)
	buf[0] = byte(h)
	buf[1] = byte(h >> 8)
	buf[2] = byte(h >> 16)
	return hex.EncodeToString(buf)
}
