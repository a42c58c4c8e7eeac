package codec

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easylayer/blockchain-provider/internal/network"
	"github.com/easylayer/blockchain-provider/pkg/common/errs"
)

// Bitcoin mainnet block 1 (height 1), 215 bytes, one coinbase transaction.
const block1Hex = "010000006fe28c0ab6f1b372c1a6a246ae63f74f931e8365e15a089c68d6190000000000982051fd1e4ba744bbbe680e1fee14677ba1a3c3540bf7b1cdb606e857233e0e61bc6649ffff001d01e362990101000000010000000000000000000000000000000000000000000000000000000000000000ffffffff0704ffff001d0104ffffffff0100f2052a0100000043410496b538e853519c726a2c91e61ec11600ae1390813a627c66fb8be7947be63c52da7589379515d4e0a604f8141781e62294721166bf621e73a82cbf2342c858eeac00000000"

const (
	block1Hash       = "00000000839a8e6886ab5951d76f411475428afc90947ee320161bbf18eb6048"
	block1MerkleRoot = "0e3e2357e806b6cdb1f70b54c3a3a17b6714ee1f0e68bebb44a74b1efd512098"
)

const genesisHeaderHex = "0100000000000000000000000000000000000000000000000000000000000000000000003ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a29ab5f49ffff001d1dac2b7c"

func TestVarIntRoundTrip(t *testing.T) {
	cases := []struct {
		value uint64
		width int
	}{
		{0, 1},
		{252, 1},
		{253, 3},
		{65535, 3},
		{65536, 5},
		{4294967295, 5},
		{4294967296, 9},
	}
	for _, tc := range cases {
		enc := AppendVarInt(nil, tc.value)
		assert.Len(t, enc, tc.width, "width of %d", tc.value)
		assert.Equal(t, tc.width, VarIntSize(tc.value))

		v, consumed, err := ReadVarInt(enc)
		require.NoError(t, err)
		assert.Equal(t, tc.value, v)
		assert.Equal(t, tc.width, consumed)
	}
}

func TestVarIntTruncated(t *testing.T) {
	_, _, err := ReadVarInt([]byte{0xfd, 0x01})
	require.Error(t, err)
	var derr *errs.DecodeError
	assert.ErrorAs(t, err, &derr)
}

func TestDifficultyFromBits(t *testing.T) {
	p := network.Mainnet()
	assert.Equal(t, "1", DifficultyFromBits(0x1d00ffff, p.MaxTarget))
	// Zero mantissa means a zero target; division is undefined.
	assert.Equal(t, "0", DifficultyFromBits(0x1d000000, p.MaxTarget))
	assert.Equal(t, "0", DifficultyFromBits(0x1d00ffff, nil))
}

func TestParseHeaderGenesis(t *testing.T) {
	raw, err := hex.DecodeString(genesisHeaderHex)
	require.NoError(t, err)

	h, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, network.Mainnet().GenesisHash, h.Hash)
	assert.Empty(t, h.PreviousBlockHash, "genesis has no parent")
	assert.Equal(t, "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b", h.MerkleRoot)
	assert.Equal(t, uint32(0x1d00ffff), h.Bits)
}

func TestParseHeaderTooShort(t *testing.T) {
	_, err := ParseHeader(make([]byte, 79))
	var derr *errs.DecodeError
	require.ErrorAs(t, err, &derr)
}

func TestParseBlockOne(t *testing.T) {
	p := network.Mainnet()
	height := uint32(1)
	b, err := ParseBlockHex(block1Hex, p, &height)
	require.NoError(t, err)

	assert.Equal(t, block1Hash, b.Hash)
	assert.Equal(t, block1MerkleRoot, b.MerkleRoot)
	assert.Equal(t, p.GenesisHash, b.PreviousBlockHash)
	assert.Equal(t, uint32(1), b.HeightValue())
	assert.Equal(t, int32(1), b.Version)
	assert.Equal(t, "00000001", b.VersionHex)
	assert.Equal(t, uint32(1231469665), b.Time)
	assert.Equal(t, "1d00ffff", b.Bits)
	assert.Equal(t, "1", b.Difficulty)
	assert.Equal(t, uint32(2573394689), b.Nonce)
	assert.Equal(t, uint32(215), b.Size)
	assert.Equal(t, uint32(215), b.StrippedSize, "no witness data in 2009")
	assert.Equal(t, uint32(1), b.NTx)
	assert.Equal(t, block1Hex, b.Hex)

	require.Len(t, b.Txs, 1)
	tx := b.Txs[0]
	assert.Equal(t, block1MerkleRoot, tx.TxID, "single-tx block: txid is the merkle root")
	assert.Equal(t, tx.TxID, tx.WTxID)
	assert.Equal(t, block1Hash, tx.BlockHash)
	assert.Equal(t, int64(1231469665), tx.BlockTime)

	require.Len(t, tx.Vin, 1)
	assert.NotEmpty(t, tx.Vin[0].Coinbase)
	assert.Empty(t, tx.Vin[0].TxID)

	require.Len(t, tx.Vout, 1)
	assert.Equal(t, "50", tx.Vout[0].Value.String())
	assert.Equal(t, ScriptTypePubKey, tx.Vout[0].ScriptPubKey.Type)
}

func TestParseBlockHeaderOnly(t *testing.T) {
	raw, err := hex.DecodeString(genesisHeaderHex)
	require.NoError(t, err)

	b, err := ParseBlock(raw, network.Mainnet(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), b.NTx)
	assert.Empty(t, b.Txs)
	assert.Nil(t, b.Height)
}

func TestParseBlockTrailingBytes(t *testing.T) {
	raw, err := hex.DecodeString(block1Hex)
	require.NoError(t, err)
	raw = append(raw, 0x00)

	_, err = ParseBlock(raw, network.Mainnet(), nil)
	var derr *errs.DecodeError
	require.ErrorAs(t, err, &derr)
}

// buildLegacyTx serializes a minimal one-in one-out transaction with the
// given previous outpoint.
func buildLegacyTx(prevHash [32]byte, prevIndex uint32) []byte {
	var raw []byte
	raw = binary.LittleEndian.AppendUint32(raw, 1) // version
	raw = append(raw, 0x01)                        // input count
	raw = append(raw, prevHash[:]...)
	raw = binary.LittleEndian.AppendUint32(raw, prevIndex)
	raw = append(raw, 0x01, 0x51) // scriptSig: OP_1
	raw = binary.LittleEndian.AppendUint32(raw, 0xffffffff)
	raw = append(raw, 0x01) // output count
	raw = binary.LittleEndian.AppendUint64(raw, 50_0000_0000)
	raw = append(raw, 0x01, 0x51)                  // scriptPubKey: OP_1
	raw = binary.LittleEndian.AppendUint32(raw, 0) // locktime
	return raw
}

func TestCoinbaseDetectionNeedsBothMarkers(t *testing.T) {
	p := network.Mainnet()
	var zero [32]byte

	tx, err := ParseTransaction(buildLegacyTx(zero, 0xffffffff), p, "", 0)
	require.NoError(t, err)
	require.Len(t, tx.Vin, 1)
	assert.True(t, tx.IsCoinbase())
	assert.Equal(t, "51", tx.Vin[0].Coinbase)
	assert.Nil(t, tx.Vin[0].ScriptSig)

	// Zero previous hash alone is not enough: the index must be all-ones.
	tx, err = ParseTransaction(buildLegacyTx(zero, 0), p, "", 0)
	require.NoError(t, err)
	assert.False(t, tx.IsCoinbase())
	assert.Empty(t, tx.Vin[0].Coinbase)
	require.NotNil(t, tx.Vin[0].ScriptSig)
	assert.Equal(t, "51", tx.Vin[0].ScriptSig.Hex)
}

// buildSegwitTx serializes a one-in one-out transaction with a two-item
// witness stack and a P2WPKH output.
func buildSegwitTx() []byte {
	var raw []byte
	raw = binary.LittleEndian.AppendUint32(raw, 2) // version
	raw = append(raw, 0x00, 0x01)                  // marker, flag
	raw = append(raw, 0x01)                        // input count
	prev := make([]byte, 32)
	for i := range prev {
		prev[i] = 0xaa
	}
	raw = append(raw, prev...)
	raw = binary.LittleEndian.AppendUint32(raw, 0) // prev index
	raw = append(raw, 0x00)                        // empty scriptSig
	raw = binary.LittleEndian.AppendUint32(raw, 0xffffffff)
	raw = append(raw, 0x01) // output count
	raw = binary.LittleEndian.AppendUint64(raw, 1000)
	raw = append(raw, 0x16, 0x00, 0x14) // P2WPKH: OP_0 push-20
	for i := 0; i < 20; i++ {
		raw = append(raw, 0x11)
	}
	raw = append(raw, 0x02)             // witness items
	raw = append(raw, 0x02, 0x01, 0x02) // item 1
	raw = append(raw, 0x03, 0x03, 0x04, 0x05)
	raw = binary.LittleEndian.AppendUint32(raw, 0) // locktime
	return raw
}

func TestSegwitSizeLaw(t *testing.T) {
	p := network.Mainnet()
	raw := buildSegwitTx()
	tx, err := ParseTransaction(raw, p, "", 0)
	require.NoError(t, err)

	// 92 total bytes, of which 2 marker/flag + 8 witness are discounted.
	assert.Equal(t, uint32(92), tx.Size)
	assert.Equal(t, uint64(82*3+92), tx.Weight)
	assert.Equal(t, uint32((82*3+92+3)/4), tx.VSize)
	assert.NotEqual(t, tx.TxID, tx.WTxID, "witness data changes the wtxid")
	assert.Equal(t, tx.WTxID, tx.Hash)
	require.Len(t, tx.Vin, 1)
	assert.Equal(t, []string{"0102", "030405"}, tx.Vin[0].Witness)
	require.Len(t, tx.Vout, 1)
	assert.Equal(t, ScriptTypeP2WPKH, tx.Vout[0].ScriptPubKey.Type)
	assert.Equal(t, "0.00001", tx.Vout[0].Value.String())
}

func TestLegacySizeLaw(t *testing.T) {
	var prev [32]byte
	prev[0] = 0x01
	raw := buildLegacyTx(prev, 0)

	// On a segwit network a legacy transaction still weighs stripped*4.
	tx, err := ParseTransaction(raw, network.Mainnet(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, tx.Size, tx.VSize)
	assert.Equal(t, uint64(tx.Size)*4, tx.Weight)
	assert.Equal(t, tx.TxID, tx.WTxID)

	// Without segwit the marker byte pair must not be consumed either.
	tx2, err := ParseTransaction(raw, network.Params{Network: "plain", CurrencyDecimals: 8}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, tx.TxID, tx2.TxID)
	assert.Equal(t, uint32(tx2.Size), tx2.VSize)
}

func TestParseTransactionTrailingBytes(t *testing.T) {
	var prev [32]byte
	raw := append(buildLegacyTx(prev, 0xffffffff), 0xde)
	_, err := ParseTransaction(raw, network.Mainnet(), "", 0)
	var derr *errs.DecodeError
	require.ErrorAs(t, err, &derr)
}

func TestParseTransactionCarriesBlockContext(t *testing.T) {
	var prev [32]byte
	tx, err := ParseTransaction(buildLegacyTx(prev, 0xffffffff), network.Mainnet(), block1Hash, 1231469665)
	require.NoError(t, err)
	assert.Equal(t, block1Hash, tx.BlockHash)
	assert.Equal(t, int64(1231469665), tx.BlockTime)
	assert.Equal(t, int64(1231469665), tx.Time)
}

func TestClassifyScript(t *testing.T) {
	h20 := make([]byte, 20)
	h32 := make([]byte, 32)

	p2pkh := append([]byte{0x76, 0xa9, 0x14}, h20...)
	p2pkh = append(p2pkh, 0x88, 0xac)
	p2sh := append([]byte{0xa9, 0x14}, h20...)
	p2sh = append(p2sh, 0x87)
	p2wpkh := append([]byte{0x00, 0x14}, h20...)
	p2wsh := append([]byte{0x00, 0x20}, h32...)
	p2tr := append([]byte{0x51, 0x20}, h32...)
	pubkey := append([]byte{33}, make([]byte, 33)...)
	pubkey = append(pubkey, 0xac)

	cases := []struct {
		name   string
		script []byte
		want   string
	}{
		{"p2pkh", p2pkh, ScriptTypeP2PKH},
		{"p2sh", p2sh, ScriptTypeP2SH},
		{"p2wpkh", p2wpkh, ScriptTypeP2WPKH},
		{"p2wsh", p2wsh, ScriptTypeP2WSH},
		{"p2tr", p2tr, ScriptTypeP2TR},
		{"pubkey", pubkey, ScriptTypePubKey},
		{"nulldata", []byte{0x6a, 0x04, 0xde, 0xad, 0xbe, 0xef}, ScriptTypeNullData},
		{"bare multisig", []byte{0x51, 0x51, 0xae}, ScriptTypeMultisig},
		{"nonstandard", []byte{0x51, 0x51}, ScriptTypeNonStandard},
		{"undecodable", []byte{0x4c}, ScriptTypeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyScript(tc.script))
		})
	}
}

func TestDisassembleScript(t *testing.T) {
	asm, err := DisassembleScript([]byte{0x76, 0xa9, 0x02, 0xab, 0xcd, 0x88, 0xac})
	require.NoError(t, err)
	assert.Equal(t, "OP_DUP OP_HASH160 abcd OP_EQUALVERIFY OP_CHECKSIG", asm)

	_, err = DisassembleScript([]byte{0x05, 0x01})
	assert.Error(t, err)
}
