package codec

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/shopspring/decimal"

	"github.com/easylayer/blockchain-provider/internal/network"
	"github.com/easylayer/blockchain-provider/internal/universal"
	"github.com/easylayer/blockchain-provider/pkg/common/errs"
)

const coinbaseSequenceIndex = 0xffffffff

// displayHash renders an internal-byte-order hash in display order.
func displayHash(b []byte) string {
	rev := make([]byte, len(b))
	for i, c := range b {
		rev[len(b)-1-i] = c
	}
	return hex.EncodeToString(rev)
}

func isZeroHash(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// ParseTransaction decodes one consensus-serialized transaction.
// blockhash and blocktime are optional context carried onto the result;
// pass "" and 0 when the transaction is unconfirmed.
func ParseTransaction(raw []byte, p network.Params, blockhash string, blocktime int64) (*universal.Transaction, error) {
	if len(raw) == 0 {
		return nil, errs.NewDecodeError("empty transaction input")
	}
	r := newReader(raw)
	tx, err := parseTransaction(r, p)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, r.errAt("trailing bytes after transaction")
	}
	tx.BlockHash = blockhash
	tx.BlockTime = blocktime
	if blocktime != 0 {
		tx.Time = blocktime
	}
	return tx, nil
}

// parseTransaction decodes one transaction starting at the reader's current
// position, leaving the reader just past it.
func parseTransaction(r *reader, p network.Params) (*universal.Transaction, error) {
	start := r.pos

	verBytes, err := r.take(4)
	if err != nil {
		return nil, err
	}
	version := int32(uint32(verBytes[0]) | uint32(verBytes[1])<<8 | uint32(verBytes[2])<<16 | uint32(verBytes[3])<<24)

	// BIP144 marker/flag. Only consumed on segwit-capable networks; a legacy
	// transaction can never have a zero input count, so 0x00 here is
	// unambiguous.
	hasWitnessFlag := false
	if p.HasSegWit && r.remaining() >= 2 && r.buf[r.pos] == 0x00 && r.buf[r.pos+1] == 0x01 {
		hasWitnessFlag = true
		r.pos += 2
	}
	bodyStart := r.pos

	inCount, err := r.varint()
	if err != nil {
		return nil, err
	}
	if inCount == 0 {
		return nil, r.errAt("transaction has zero inputs")
	}
	if inCount > uint64(r.remaining()) {
		return nil, r.errAt("input count %d exceeds buffer", inCount)
	}

	vins := make([]universal.Vin, 0, inCount)
	for i := uint64(0); i < inCount; i++ {
		prevHash, err := r.take(32)
		if err != nil {
			return nil, err
		}
		prevIndex, err := r.uint32()
		if err != nil {
			return nil, err
		}
		scriptLen, err := r.varint()
		if err != nil {
			return nil, err
		}
		script, err := r.take(int(scriptLen))
		if err != nil {
			return nil, err
		}
		sequence, err := r.uint32()
		if err != nil {
			return nil, err
		}

		if isZeroHash(prevHash) && prevIndex == coinbaseSequenceIndex {
			vins = append(vins, universal.Vin{
				Coinbase: hex.EncodeToString(script),
				Sequence: sequence,
			})
			continue
		}
		vins = append(vins, universal.Vin{
			TxID: displayHash(prevHash),
			Vout: prevIndex,
			ScriptSig: &universal.ScriptSig{
				Asm: disassembleOrEmpty(script),
				Hex: hex.EncodeToString(script),
			},
			Sequence: sequence,
		})
	}

	outCount, err := r.varint()
	if err != nil {
		return nil, err
	}
	if outCount > uint64(r.remaining()) {
		return nil, r.errAt("output count %d exceeds buffer", outCount)
	}
	vouts := make([]universal.Vout, 0, outCount)
	for i := uint64(0); i < outCount; i++ {
		value, err := r.uint64()
		if err != nil {
			return nil, err
		}
		scriptLen, err := r.varint()
		if err != nil {
			return nil, err
		}
		script, err := r.take(int(scriptLen))
		if err != nil {
			return nil, err
		}
		vouts = append(vouts, universal.Vout{
			Value: decimal.New(int64(value), -p.CurrencyDecimals),
			N:     uint32(i),
			ScriptPubKey: universal.ScriptPubKey{
				Asm:  disassembleOrEmpty(script),
				Hex:  hex.EncodeToString(script),
				Type: ClassifyScript(script),
			},
		})
	}
	bodyEnd := r.pos

	witnessPresent := false
	if hasWitnessFlag {
		for i := uint64(0); i < inCount; i++ {
			itemCount, err := r.varint()
			if err != nil {
				return nil, err
			}
			if itemCount == 0 {
				continue
			}
			witnessPresent = true
			stack := make([]string, 0, itemCount)
			for j := uint64(0); j < itemCount; j++ {
				itemLen, err := r.varint()
				if err != nil {
					return nil, err
				}
				item, err := r.take(int(itemLen))
				if err != nil {
					return nil, err
				}
				stack = append(stack, hex.EncodeToString(item))
			}
			vins[i].Witness = stack
		}
	}

	lockStart := r.pos
	lockTime, err := r.uint32()
	if err != nil {
		return nil, err
	}
	end := r.pos

	full := r.buf[start:end]
	size := uint32(len(full))

	// Stripped serialization drops the marker/flag pair and all witness
	// stacks; the txid is the double-SHA256 of exactly these bytes.
	var stripped []byte
	if hasWitnessFlag {
		stripped = make([]byte, 0, 4+(bodyEnd-bodyStart)+4)
		stripped = append(stripped, r.buf[start:start+4]...)
		stripped = append(stripped, r.buf[bodyStart:bodyEnd]...)
		stripped = append(stripped, r.buf[lockStart:end]...)
	} else {
		stripped = full
	}
	strippedSize := uint32(len(stripped))

	txid := displayHash(chainhash.DoubleHashB(stripped))
	wtxid := txid
	if witnessPresent {
		wtxid = displayHash(chainhash.DoubleHashB(full))
	}

	weight, vsize := sizeMetrics(strippedSize, size, p.HasSegWit)

	return &universal.Transaction{
		TxID:     txid,
		Hash:     wtxid,
		WTxID:    wtxid,
		Version:  version,
		Size:     size,
		VSize:    vsize,
		Weight:   weight,
		LockTime: lockTime,
		Vin:      vins,
		Vout:     vouts,
		Hex:      hex.EncodeToString(full),
	}, nil
}

// sizeMetrics applies the segwit size law: weight = stripped*3 + total and
// vsize = ceil(weight/4) on segwit networks; weight = stripped*4 and
// vsize = stripped otherwise.
func sizeMetrics(stripped, size uint32, segwit bool) (weight uint64, vsize uint32) {
	if segwit {
		weight = uint64(stripped)*3 + uint64(size)
		vsize = uint32((weight + 3) / 4)
		return weight, vsize
	}
	return uint64(stripped) * 4, stripped
}
