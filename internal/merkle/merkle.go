// Package merkle recomputes block Merkle roots and verifies them against
// the values a node claimed, so tampered or corrupted payloads are caught
// before blocks are handed to callers.
package merkle

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/easylayer/blockchain-provider/internal/universal"
	"github.com/easylayer/blockchain-provider/pkg/common/errs"
)

// EmptyRoot is the root a block with no transactions must claim.
const EmptyRoot = "0000000000000000000000000000000000000000000000000000000000000000"

var errNoTransactions = errors.New("merkle: cannot compute root of empty transaction list")

// hexToLE decodes display-order hex into internal (little-endian) bytes.
func hexToLE(displayHex string) ([]byte, error) {
	b, err := hex.DecodeString(displayHex)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b, nil
}

func leToHex(le []byte) string {
	rev := make([]byte, len(le))
	for i, c := range le {
		rev[len(le)-1-i] = c
	}
	return hex.EncodeToString(rev)
}

// ComputeRoot reduces display-order txids to the Merkle root via pairwise
// double-SHA256, duplicating the last node on odd levels. A single txid is
// its own root.
func ComputeRoot(txids []string) (string, error) {
	if len(txids) == 0 {
		return "", errNoTransactions
	}
	if len(txids) == 1 {
		return strings.ToLower(txids[0]), nil
	}

	level := make([][]byte, len(txids))
	for i, txid := range txids {
		le, err := hexToLE(txid)
		if err != nil {
			return "", errs.NewDecodeError("invalid txid %q: %v", txid, err)
		}
		level[i] = le
	}

	buf := make([]byte, 64)
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			copy(buf[:32], left)
			copy(buf[32:], right)
			next = append(next, chainhash.DoubleHashB(buf))
		}
		level = next
	}
	return leToHex(level[0]), nil
}

// ComputeWitnessRoot computes the witness Merkle root: the coinbase wtxid
// is replaced by the all-zero hash before reduction.
func ComputeWitnessRoot(wtxids []string) (string, error) {
	if len(wtxids) == 0 {
		return "", errNoTransactions
	}
	ids := make([]string, len(wtxids))
	copy(ids, wtxids)
	ids[0] = EmptyRoot
	return ComputeRoot(ids)
}

// VerifyWitnessCommitment checks the BIP141 commitment: double-SHA256 of
// witness-root || reserved must equal the commitment from the coinbase.
// An empty wtxid list or commitment is treated as nothing-to-verify.
func VerifyWitnessCommitment(wtxids []string, commitmentHex, reservedHex string) bool {
	if len(wtxids) == 0 || commitmentHex == "" {
		return true
	}
	rootBE, err := ComputeWitnessRoot(wtxids)
	if err != nil {
		return false
	}
	rootLE, err := hexToLE(rootBE)
	if err != nil {
		return false
	}
	reserved := make([]byte, 32)
	if reservedHex != "" {
		if dec, err := hex.DecodeString(reservedHex); err == nil && len(dec) == 32 {
			reserved = dec
		}
	}
	combined := make([]byte, 64)
	copy(combined[:32], rootLE)
	copy(combined[32:], reserved)
	computed := hex.EncodeToString(chainhash.DoubleHashB(combined))
	return computed == strings.ToLower(commitmentHex)
}

// txIDs extracts display-order txids from a block fetched at any verbosity.
func txIDs(b *universal.Block) []string {
	if len(b.TxIDs) > 0 {
		return b.TxIDs
	}
	ids := make([]string, 0, len(b.Txs))
	for _, tx := range b.Txs {
		ids = append(ids, tx.TxID)
	}
	return ids
}

func wtxIDs(b *universal.Block) []string {
	ids := make([]string, 0, len(b.Txs))
	for _, tx := range b.Txs {
		id := tx.WTxID
		if id == "" {
			id = tx.TxID
		}
		ids = append(ids, id)
	}
	return ids
}

// hasWitnessData reports whether any transaction in the block carries a
// non-empty witness stack.
func hasWitnessData(b *universal.Block) bool {
	for _, tx := range b.Txs {
		for _, vin := range tx.Vin {
			if len(vin.Witness) > 0 {
				return true
			}
		}
	}
	return false
}

// VerifyBlockRoot recomputes the block's Merkle root from its transaction
// list and compares it byte-for-byte against the claimed merkleroot. When
// segwitEnabled is set and witness data is present, the BIP141 witness
// commitment in the coinbase is checked as well.
//
// A failed check returns a MerkleVerificationError naming the expected and
// computed roots; the claimed value is never silently replaced.
func VerifyBlockRoot(b *universal.Block, segwitEnabled bool) error {
	claimed := strings.ToLower(b.MerkleRoot)
	ids := txIDs(b)

	if len(ids) == 0 {
		if claimed == EmptyRoot {
			return nil
		}
		return &errs.MerkleVerificationError{
			BlockHash: b.Hash,
			Expected:  claimed,
			Computed:  EmptyRoot,
		}
	}

	computed, err := ComputeRoot(ids)
	if err != nil {
		return err
	}
	if computed != claimed {
		return &errs.MerkleVerificationError{
			BlockHash: b.Hash,
			Expected:  claimed,
			Computed:  computed,
		}
	}

	if segwitEnabled && hasWitnessData(b) {
		if commitment, ok := witnessCommitment(b); ok {
			if !VerifyWitnessCommitment(wtxIDs(b), commitment, "") {
				return &errs.MerkleVerificationError{
					BlockHash: b.Hash,
					Expected:  commitment,
					Computed:  "witness commitment mismatch",
				}
			}
		}
	}
	return nil
}

// witnessCommitment finds the BIP141 commitment output in the coinbase:
// OP_RETURN 0x24 0xaa21a9ed <32-byte commitment>.
func witnessCommitment(b *universal.Block) (string, bool) {
	if len(b.Txs) == 0 || !b.Txs[0].IsCoinbase() {
		return "", false
	}
	for _, vout := range b.Txs[0].Vout {
		script := vout.ScriptPubKey.Hex
		if len(script) >= 76 && strings.HasPrefix(script, "6a24aa21a9ed") {
			return script[12:76], true
		}
	}
	return "", false
}
