package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/easylayer/blockchain-provider/internal/network"
	"github.com/easylayer/blockchain-provider/internal/universal"
	"github.com/easylayer/blockchain-provider/pkg/common/errs"
)

// HeaderSize is the fixed consensus size of a block header.
const HeaderSize = 80

// Header is the parsed 80-byte block header. Hashes are in display order.
type Header struct {
	Hash              string
	Version           int32
	PreviousBlockHash string
	MerkleRoot        string
	Time              uint32
	Bits              uint32
	Nonce             uint32
}

// ParseHeader decodes the fixed-offset header fields and computes the block
// hash (double-SHA256 of the 80 bytes, byte-reversed to display order).
func ParseHeader(raw []byte) (*Header, error) {
	if len(raw) < HeaderSize {
		return nil, errs.NewDecodeError("block header needs %d bytes, have %d", HeaderSize, len(raw))
	}
	r := newReader(raw[:HeaderSize])
	version, _ := r.uint32()
	prev, _ := r.take(32)
	merkle, _ := r.take(32)
	timestamp, _ := r.uint32()
	bits, _ := r.uint32()
	nonce, _ := r.uint32()

	h := &Header{
		Hash:       displayHash(chainhash.DoubleHashB(raw[:HeaderSize])),
		Version:    int32(version),
		MerkleRoot: displayHash(merkle),
		Time:       timestamp,
		Bits:       bits,
		Nonce:      nonce,
	}
	if !isZeroHash(prev) {
		h.PreviousBlockHash = displayHash(prev)
	}
	return h, nil
}

// ParseBlock decodes a consensus-serialized block into a universal Block.
// height is optional: when the caller has no external context (tracker or
// known height) it stays unset and must be filled in later.
//
// A buffer holding exactly one header is a valid zero-transaction block.
func ParseBlock(raw []byte, p network.Params, height *uint32) (*universal.Block, error) {
	if len(raw) == 0 {
		return nil, errs.NewDecodeError("empty block input")
	}
	header, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}

	r := newReader(raw)
	r.pos = HeaderSize

	var txCount uint64
	if r.remaining() > 0 {
		if txCount, err = r.varint(); err != nil {
			return nil, err
		}
	}

	txs := make([]*universal.Transaction, 0, txCount)
	strippedTotal := uint32(0)
	for i := uint64(0); i < txCount; i++ {
		tx, err := parseTransaction(r, p)
		if err != nil {
			return nil, err
		}
		tx.BlockHash = header.Hash
		tx.BlockTime = int64(header.Time)
		tx.Time = int64(header.Time)
		// Recover the stripped size from the law weight = stripped*3 + size
		// (or stripped*4 when witnesses are disabled).
		if p.HasSegWit {
			strippedTotal += uint32((tx.Weight - uint64(tx.Size)) / 3)
		} else {
			strippedTotal += tx.Size
		}
		txs = append(txs, tx)
	}
	if r.remaining() != 0 {
		return nil, r.errAt("trailing bytes after %d transactions", txCount)
	}

	size := uint32(len(raw))
	strippedSize := HeaderSize + strippedTotal
	if txCount > 0 {
		strippedSize += uint32(VarIntSize(txCount))
	}
	weight, vsize := sizeMetrics(strippedSize, size, p.HasSegWit)

	b := &universal.Block{
		Hash:              header.Hash,
		StrippedSize:      strippedSize,
		Size:              size,
		Weight:            weight,
		VSize:             vsize,
		Version:           header.Version,
		VersionHex:        fmt.Sprintf("%08x", uint32(header.Version)),
		MerkleRoot:        header.MerkleRoot,
		Time:              header.Time,
		Nonce:             header.Nonce,
		Bits:              fmt.Sprintf("%08x", header.Bits),
		Difficulty:        DifficultyFromBits(header.Bits, p.MaxTarget),
		PreviousBlockHash: header.PreviousBlockHash,
		Txs:               txs,
		Hex:               hex.EncodeToString(raw),
		NTx:               uint32(txCount),
	}
	if height != nil {
		b.SetHeight(*height)
	}
	return b, nil
}

// ParseBlockHex is ParseBlock over a hex string.
func ParseBlockHex(blockHex string, p network.Params, height *uint32) (*universal.Block, error) {
	raw, err := hex.DecodeString(blockHex)
	if err != nil {
		return nil, errs.NewDecodeError("invalid block hex: %v", err)
	}
	return ParseBlock(raw, p, height)
}

// ParseTransactionHex is ParseTransaction over a hex string.
func ParseTransactionHex(txHex string, p network.Params, blockhash string, blocktime int64) (*universal.Transaction, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, errs.NewDecodeError("invalid transaction hex: %v", err)
	}
	return ParseTransaction(raw, p, blockhash, blocktime)
}
