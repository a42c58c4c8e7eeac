package merkle

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easylayer/blockchain-provider/internal/universal"
	"github.com/easylayer/blockchain-provider/pkg/common/errs"
)

// Bitcoin mainnet block 170, the first block with a non-coinbase
// transaction. Two leaves, one hashing round.
var block170TxIDs = []string{
	"b1fea52486ce0c62bb442b530a3f0132b826c74e473d1f2c220bfa78111c5082",
	"f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16",
}

const block170Root = "7dac2c5666815c17a3b36427de37bb9d2e2c5ccec3f8633eb91a4205cb4c10ff"

func TestComputeRootSingleTxidIsOwnRoot(t *testing.T) {
	txid := strings.ToUpper(block170TxIDs[0])
	root, err := ComputeRoot([]string{txid})
	require.NoError(t, err)
	assert.Equal(t, block170TxIDs[0], root)
}

func TestComputeRootPair(t *testing.T) {
	root, err := ComputeRoot(block170TxIDs)
	require.NoError(t, err)
	assert.Equal(t, block170Root, root)
}

func TestComputeRootDuplicatesLastOnOddLevels(t *testing.T) {
	a := strings.Repeat("11", 32)
	b := strings.Repeat("22", 32)
	c := strings.Repeat("33", 32)

	odd, err := ComputeRoot([]string{a, b, c})
	require.NoError(t, err)
	padded, err := ComputeRoot([]string{a, b, c, c})
	require.NoError(t, err)
	assert.Equal(t, padded, odd)
}

func TestComputeRootEmptyList(t *testing.T) {
	_, err := ComputeRoot(nil)
	assert.ErrorIs(t, err, errNoTransactions)
}

func TestComputeRootRejectsBadTxid(t *testing.T) {
	_, err := ComputeRoot([]string{"zz", "22"})
	var derr *errs.DecodeError
	assert.ErrorAs(t, err, &derr)
}

func TestVerifyBlockRootAcceptsMatchingRoot(t *testing.T) {
	b := &universal.Block{
		Hash:       "000000000000000000000000000000000000000000000000000000000000a170",
		MerkleRoot: strings.ToUpper(block170Root),
		TxIDs:      block170TxIDs,
	}
	assert.NoError(t, VerifyBlockRoot(b, true))
}

func TestVerifyBlockRootRejectsMismatch(t *testing.T) {
	b := &universal.Block{
		Hash:       "000000000000000000000000000000000000000000000000000000000000a170",
		MerkleRoot: strings.Repeat("ab", 32),
		TxIDs:      block170TxIDs,
	}
	err := VerifyBlockRoot(b, true)
	var merr *errs.MerkleVerificationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, b.Hash, merr.BlockHash)
	assert.Equal(t, strings.Repeat("ab", 32), merr.Expected)
	assert.Equal(t, block170Root, merr.Computed)
}

func TestVerifyBlockRootEmptyBlock(t *testing.T) {
	b := &universal.Block{MerkleRoot: EmptyRoot}
	assert.NoError(t, VerifyBlockRoot(b, false))

	b.MerkleRoot = strings.Repeat("cd", 32)
	var merr *errs.MerkleVerificationError
	assert.ErrorAs(t, VerifyBlockRoot(b, false), &merr)
}

// commitmentFor derives the BIP141 commitment the coinbase would carry for
// the given wtxid set with an all-zero reserved value.
func commitmentFor(t *testing.T, wtxids []string) string {
	t.Helper()
	root, err := ComputeWitnessRoot(wtxids)
	require.NoError(t, err)
	rootLE, err := hex.DecodeString(root)
	require.NoError(t, err)
	for i, j := 0, len(rootLE)-1; i < j; i, j = i+1, j-1 {
		rootLE[i], rootLE[j] = rootLE[j], rootLE[i]
	}
	combined := make([]byte, 64)
	copy(combined[:32], rootLE)
	return hex.EncodeToString(chainhash.DoubleHashB(combined))
}

func TestVerifyWitnessCommitment(t *testing.T) {
	wtxids := []string{strings.Repeat("44", 32), strings.Repeat("55", 32)}
	commitment := commitmentFor(t, wtxids)

	assert.True(t, VerifyWitnessCommitment(wtxids, commitment, ""))
	assert.True(t, VerifyWitnessCommitment(wtxids, strings.ToUpper(commitment), ""))
	assert.False(t, VerifyWitnessCommitment(wtxids, strings.Repeat("00", 32), ""))

	// Nothing to verify without a commitment or transactions.
	assert.True(t, VerifyWitnessCommitment(nil, commitment, ""))
	assert.True(t, VerifyWitnessCommitment(wtxids, "", ""))
}

func TestVerifyBlockRootChecksWitnessCommitment(t *testing.T) {
	coinbaseID := strings.Repeat("66", 32)
	spendID := strings.Repeat("77", 32)
	spendWTxID := strings.Repeat("88", 32)
	commitment := commitmentFor(t, []string{coinbaseID, spendWTxID})

	root, err := ComputeRoot([]string{coinbaseID, spendID})
	require.NoError(t, err)

	block := func(commitmentHex string) *universal.Block {
		return &universal.Block{
			Hash:       strings.Repeat("99", 32),
			MerkleRoot: root,
			Txs: []*universal.Transaction{
				{
					TxID:  coinbaseID,
					WTxID: coinbaseID,
					Vin:   []universal.Vin{{Coinbase: "51"}},
					Vout: []universal.Vout{{
						ScriptPubKey: universal.ScriptPubKey{Hex: "6a24aa21a9ed" + commitmentHex},
					}},
				},
				{
					TxID:  spendID,
					WTxID: spendWTxID,
					Vin:   []universal.Vin{{TxID: strings.Repeat("aa", 32), Witness: []string{"0102"}}},
				},
			},
		}
	}

	assert.NoError(t, VerifyBlockRoot(block(commitment), true))

	var merr *errs.MerkleVerificationError
	assert.ErrorAs(t, VerifyBlockRoot(block(strings.Repeat("00", 32)), true), &merr)

	// With segwit disabled the commitment is not consulted at all.
	assert.NoError(t, VerifyBlockRoot(block(strings.Repeat("00", 32)), false))
}
