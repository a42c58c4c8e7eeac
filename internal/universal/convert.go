package universal

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ConversionError reports a raw RPC payload that could not be normalized
// into the universal model. Required fields are validated at this boundary
// so missing data fails fast instead of propagating zero values.
type ConversionError struct {
	Entity string
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert raw %s: %s", e.Entity, e.Reason)
}

func convErr(entity, format string, args ...any) *ConversionError {
	return &ConversionError{Entity: entity, Reason: fmt.Sprintf(format, args...)}
}

// NormalizeAmount converts a fee or fee-rate value reported by a node into
// the smallest currency unit. Nodes disagree on denomination: some report
// coin-denominated fractions (0.00012), others already-integer smallest
// units (12000). Values below 1 are treated as coin-denominated and scaled
// by 10^decimals; everything else is rounded as-is.
func NormalizeAmount(v decimal.Decimal, decimals int32) int64 {
	if v.IsZero() {
		return 0
	}
	if v.Abs().LessThan(decimal.New(1, 0)) {
		return v.Shift(decimals).Round(0).IntPart()
	}
	return v.Round(0).IntPart()
}

// NormalizeAmountJSON is NormalizeAmount over a raw JSON number.
func NormalizeAmountJSON(n json.Number, decimals int32) (int64, error) {
	if n == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", n, err)
	}
	return NormalizeAmount(d, decimals), nil
}

// CoinsToSmallestUnit converts a coin-denominated decimal (e.g. a vout
// value) into the smallest unit unconditionally.
func CoinsToSmallestUnit(v decimal.Decimal, decimals int32) int64 {
	return v.Shift(decimals).Round(0).IntPart()
}

type rawBlock struct {
	Block
	Tx []json.RawMessage `json:"tx"`
}

// BlockFromRaw converts a raw getblock result (verbosity 1 or 2) into a
// Block. The tx array may hold txid strings or full transaction objects;
// both are accepted, never mixed into the same output field.
func BlockFromRaw(raw json.RawMessage, decimals int32) (*Block, error) {
	var rb rawBlock
	if err := json.Unmarshal(raw, &rb); err != nil {
		return nil, convErr("block", "unmarshal: %v", err)
	}
	b := rb.Block
	if b.Hash == "" {
		return nil, convErr("block", "missing hash")
	}
	if b.MerkleRoot == "" {
		return nil, convErr("block", "missing merkleroot for %s", b.Hash)
	}

	for i, item := range rb.Tx {
		if len(item) == 0 {
			return nil, convErr("block", "empty tx entry %d in %s", i, b.Hash)
		}
		if item[0] == '"' {
			var txid string
			if err := json.Unmarshal(item, &txid); err != nil {
				return nil, convErr("block", "tx entry %d in %s: %v", i, b.Hash, err)
			}
			b.TxIDs = append(b.TxIDs, txid)
			continue
		}
		tx, err := TransactionFromRaw(item, decimals)
		if err != nil {
			return nil, err
		}
		if tx.BlockHash == "" {
			tx.BlockHash = b.Hash
		}
		if tx.BlockTime == 0 {
			tx.BlockTime = int64(b.Time)
		}
		b.Txs = append(b.Txs, tx)
	}
	if len(b.TxIDs) > 0 && len(b.Txs) > 0 {
		return nil, convErr("block", "mixed txid/object tx array in %s", b.Hash)
	}
	if b.NTx == 0 {
		b.NTx = uint32(len(rb.Tx))
	}
	return &b, nil
}

type rawTransaction struct {
	Transaction
	Fee json.Number `json:"fee"`
}

// TransactionFromRaw converts a raw getrawtransaction / getblock verbosity 2
// transaction object into a Transaction.
func TransactionFromRaw(raw json.RawMessage, decimals int32) (*Transaction, error) {
	var rt rawTransaction
	if err := json.Unmarshal(raw, &rt); err != nil {
		return nil, convErr("transaction", "unmarshal: %v", err)
	}
	tx := rt.Transaction
	if tx.TxID == "" {
		return nil, convErr("transaction", "missing txid")
	}
	if rt.Fee != "" {
		fee, err := NormalizeAmountJSON(rt.Fee, decimals)
		if err != nil {
			return nil, convErr("transaction", "fee for %s: %v", tx.TxID, err)
		}
		tx.Fee = fee
	}
	return &tx, nil
}

type rawBlockStats struct {
	BlockStats
	TotalOut   json.Number `json:"total_out"`
	TotalFee   json.Number `json:"totalfee"`
	AvgFee     json.Number `json:"avgfee"`
	AvgFeeRate json.Number `json:"avgfeerate"`
	MinFee     json.Number `json:"minfee"`
	MaxFee     json.Number `json:"maxfee"`
	MedianFee  json.Number `json:"medianfee"`
	Subsidy    json.Number `json:"subsidy"`
}

// BlockStatsFromRaw converts a raw getblockstats result, normalizing every
// fee-denominated field with the shared heuristic.
func BlockStatsFromRaw(raw json.RawMessage, decimals int32) (*BlockStats, error) {
	var rs rawBlockStats
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, convErr("blockstats", "unmarshal: %v", err)
	}
	s := rs.BlockStats
	if s.BlockHash == "" {
		return nil, convErr("blockstats", "missing blockhash")
	}
	for _, f := range []struct {
		src json.Number
		dst *int64
	}{
		{rs.TotalOut, &s.TotalOut},
		{rs.TotalFee, &s.TotalFee},
		{rs.AvgFee, &s.AvgFee},
		{rs.AvgFeeRate, &s.AvgFeeRate},
		{rs.MinFee, &s.MinFee},
		{rs.MaxFee, &s.MaxFee},
		{rs.MedianFee, &s.MedianFee},
		{rs.Subsidy, &s.Subsidy},
	} {
		v, err := NormalizeAmountJSON(f.src, decimals)
		if err != nil {
			return nil, convErr("blockstats", "%s: %v", s.BlockHash, err)
		}
		*f.dst = v
	}
	return &s, nil
}

// GenesisBlockStats hand-builds the stats record for the genesis block,
// which nodes typically refuse to serve through getblockstats.
func GenesisBlockStats(hash string, time int64, subsidy int64) *BlockStats {
	return &BlockStats{
		BlockHash:  hash,
		Height:     0,
		Time:       time,
		MedianTime: time,
		Txs:        1,
		Subsidy:    subsidy,
		Ins:        0,
		Outs:       1,
	}
}

type rawMempoolEntry struct {
	MempoolTransaction
	Fees struct {
		Base       json.Number `json:"base"`
		Modified   json.Number `json:"modified"`
		Ancestor   json.Number `json:"ancestor"`
		Descendant json.Number `json:"descendant"`
	} `json:"fees"`
	// Legacy nodes report flat fee fields instead of the fees object.
	Fee json.Number `json:"fee"`
}

// MempoolEntryFromRaw converts a raw getmempoolentry result.
func MempoolEntryFromRaw(txid string, raw json.RawMessage, decimals int32) (*MempoolTransaction, error) {
	var re rawMempoolEntry
	if err := json.Unmarshal(raw, &re); err != nil {
		return nil, convErr("mempool entry", "unmarshal %s: %v", txid, err)
	}
	e := re.MempoolTransaction
	e.TxID = txid

	base := re.Fees.Base
	if base == "" {
		base = re.Fee
	}
	for _, f := range []struct {
		src json.Number
		dst *int64
	}{
		{base, &e.BaseFee},
		{re.Fees.Modified, &e.ModifiedFee},
		{re.Fees.Ancestor, &e.AncestorFee},
		{re.Fees.Descendant, &e.DescendantFee},
	} {
		v, err := NormalizeAmountJSON(f.src, decimals)
		if err != nil {
			return nil, convErr("mempool entry", "%s: %v", txid, err)
		}
		*f.dst = v
	}
	return &e, nil
}

type rawMempoolInfo struct {
	MempoolInfo
	MempoolMinFee json.Number `json:"mempoolminfee"`
	MinRelayTxFee json.Number `json:"minrelaytxfee"`
}

// MempoolInfoFromRaw converts a raw getmempoolinfo result.
func MempoolInfoFromRaw(raw json.RawMessage, decimals int32) (*MempoolInfo, error) {
	var ri rawMempoolInfo
	if err := json.Unmarshal(raw, &ri); err != nil {
		return nil, convErr("mempool info", "unmarshal: %v", err)
	}
	info := ri.MempoolInfo
	var err error
	if info.MempoolMinFee, err = NormalizeAmountJSON(ri.MempoolMinFee, decimals); err != nil {
		return nil, convErr("mempool info", "mempoolminfee: %v", err)
	}
	if info.MinRelayTxFee, err = NormalizeAmountJSON(ri.MinRelayTxFee, decimals); err != nil {
		return nil, convErr("mempool info", "minrelaytxfee: %v", err)
	}
	return &info, nil
}

type rawNetworkInfo struct {
	NetworkInfo
	RelayFee json.Number `json:"relayfee"`
}

// NetworkInfoFromRaw converts a raw getnetworkinfo result.
func NetworkInfoFromRaw(raw json.RawMessage, decimals int32) (*NetworkInfo, error) {
	var rn rawNetworkInfo
	if err := json.Unmarshal(raw, &rn); err != nil {
		return nil, convErr("network info", "unmarshal: %v", err)
	}
	info := rn.NetworkInfo
	var err error
	if info.RelayFee, err = NormalizeAmountJSON(rn.RelayFee, decimals); err != nil {
		return nil, convErr("network info", "relayfee: %v", err)
	}
	return &info, nil
}

type rawSmartFee struct {
	SmartFeeEstimate
	FeeRate json.Number `json:"feerate"`
}

// SmartFeeFromRaw converts a raw estimatesmartfee result. A missing feerate
// is not an error; the node reports reasons in Errors.
func SmartFeeFromRaw(raw json.RawMessage, decimals int32) (*SmartFeeEstimate, error) {
	var rf rawSmartFee
	if err := json.Unmarshal(raw, &rf); err != nil {
		return nil, convErr("fee estimate", "unmarshal: %v", err)
	}
	est := rf.SmartFeeEstimate
	if rf.FeeRate != "" {
		v, err := NormalizeAmountJSON(rf.FeeRate, decimals)
		if err != nil {
			return nil, convErr("fee estimate", "feerate: %v", err)
		}
		est.FeeRate = v
	}
	return &est, nil
}
