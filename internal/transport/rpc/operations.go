package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/easylayer/blockchain-provider/internal/codec"
	"github.com/easylayer/blockchain-provider/internal/universal"
)

// The genesis coinbase subsidy in the smallest unit; getblockstats refuses
// height 0 so its record is hand-built.
const genesisSubsidy = 50_0000_0000

func (t *Transport) BlockHeight(ctx context.Context) (uint32, error) {
	raw, err := t.callOne(ctx, "getblockcount", nil)
	if err != nil {
		return 0, err
	}
	var height uint32
	if err := json.Unmarshal(raw, &height); err != nil {
		return 0, fmt.Errorf("unmarshal getblockcount result: %w", err)
	}
	return height, nil
}

func (t *Transport) BlockHashesByHeights(ctx context.Context, heights []uint32) ([]string, error) {
	calls := make([]call, len(heights))
	for i, h := range heights {
		calls[i] = call{Method: "getblockhash", Params: []any{h}}
	}
	raws, err := t.callBatch(ctx, calls)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(heights))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		if err := json.Unmarshal(raw, &hashes[i]); err != nil {
			return nil, fmt.Errorf("unmarshal getblockhash result for height %d: %w", heights[i], err)
		}
	}
	return hashes, nil
}

func (t *Transport) RawBlocksByHashes(ctx context.Context, hashes []string) ([][]byte, error) {
	raws, err := t.blocksRaw(ctx, hashes, 0)
	if err != nil {
		return nil, err
	}
	blocks := make([][]byte, len(hashes))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		var blockHex string
		if err := json.Unmarshal(raw, &blockHex); err != nil {
			return nil, fmt.Errorf("unmarshal raw block %s: %w", hashes[i], err)
		}
		b, err := hex.DecodeString(blockHex)
		if err != nil {
			return nil, fmt.Errorf("decode raw block %s: %w", hashes[i], err)
		}
		blocks[i] = b
	}
	return blocks, nil
}

func (t *Transport) BlocksByHashes(ctx context.Context, hashes []string, verbosity int) ([]*universal.Block, error) {
	if verbosity == 0 {
		raw, err := t.RawBlocksByHashes(ctx, hashes)
		if err != nil {
			return nil, err
		}
		blocks := make([]*universal.Block, len(hashes))
		for i, b := range raw {
			if b == nil {
				continue
			}
			block, err := codec.ParseBlock(b, t.net, nil)
			if err != nil {
				return nil, fmt.Errorf("parse block %s: %w", hashes[i], err)
			}
			blocks[i] = block
		}
		return blocks, nil
	}

	raws, err := t.blocksRaw(ctx, hashes, verbosity)
	if err != nil {
		return nil, err
	}
	blocks := make([]*universal.Block, len(hashes))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		block, err := universal.BlockFromRaw(raw, t.net.CurrencyDecimals)
		if err != nil {
			return nil, err
		}
		blocks[i] = block
	}
	return blocks, nil
}

func (t *Transport) BlocksByHeights(ctx context.Context, heights []uint32, verbosity int) ([]*universal.Block, error) {
	hashes, err := t.BlockHashesByHeights(ctx, heights)
	if err != nil {
		return nil, err
	}
	// Unknown heights become "" hashes; compact them out for the fetch and
	// re-expand afterwards so results[i] still lines up with heights[i].
	present := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h != "" {
			present = append(present, h)
		}
	}
	fetched, err := t.BlocksByHashes(ctx, present, verbosity)
	if err != nil {
		return nil, err
	}
	blocks := make([]*universal.Block, len(heights))
	j := 0
	for i, h := range hashes {
		if h == "" {
			continue
		}
		if b := fetched[j]; b != nil {
			if b.Height == nil {
				b.SetHeight(heights[i])
			}
			blocks[i] = b
		}
		j++
	}
	return blocks, nil
}

func (t *Transport) blocksRaw(ctx context.Context, hashes []string, verbosity int) ([]json.RawMessage, error) {
	calls := make([]call, len(hashes))
	for i, h := range hashes {
		calls[i] = call{Method: "getblock", Params: []any{h, verbosity}}
	}
	return t.callBatch(ctx, calls)
}

func (t *Transport) TransactionsByTxids(ctx context.Context, txids []string) ([]*universal.Transaction, error) {
	calls := make([]call, len(txids))
	for i, id := range txids {
		calls[i] = call{Method: "getrawtransaction", Params: []any{id, true}}
	}
	raws, err := t.callBatch(ctx, calls)
	if err != nil {
		return nil, err
	}
	txs := make([]*universal.Transaction, len(txids))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		tx, err := universal.TransactionFromRaw(raw, t.net.CurrencyDecimals)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return txs, nil
}

func (t *Transport) RawTransactionsByTxids(ctx context.Context, txids []string) ([]string, error) {
	calls := make([]call, len(txids))
	for i, id := range txids {
		calls[i] = call{Method: "getrawtransaction", Params: []any{id, false}}
	}
	raws, err := t.callBatch(ctx, calls)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(txids))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			return nil, fmt.Errorf("unmarshal raw transaction %s: %w", txids[i], err)
		}
	}
	return out, nil
}

func (t *Transport) BlockStatsByHashes(ctx context.Context, hashes []string) ([]*universal.BlockStats, error) {
	calls := make([]call, len(hashes))
	for i, h := range hashes {
		calls[i] = call{Method: "getblockstats", Params: []any{h}}
	}
	raws, err := t.callBatch(ctx, calls)
	if err != nil {
		return nil, err
	}
	stats := make([]*universal.BlockStats, len(hashes))
	for i, raw := range raws {
		if raw == nil {
			if hashes[i] == t.net.GenesisHash {
				stats[i] = t.genesisStats(ctx)
			}
			continue
		}
		s, err := universal.BlockStatsFromRaw(raw, t.net.CurrencyDecimals)
		if err != nil {
			return nil, err
		}
		stats[i] = s
	}
	return stats, nil
}

func (t *Transport) BlockStatsByHeights(ctx context.Context, heights []uint32) ([]*universal.BlockStats, error) {
	calls := make([]call, 0, len(heights))
	for _, h := range heights {
		if h == 0 {
			continue
		}
		calls = append(calls, call{Method: "getblockstats", Params: []any{h}})
	}
	raws, err := t.callBatch(ctx, calls)
	if err != nil {
		return nil, err
	}
	stats := make([]*universal.BlockStats, len(heights))
	j := 0
	for i, h := range heights {
		if h == 0 {
			stats[i] = t.genesisStats(ctx)
			continue
		}
		raw := raws[j]
		j++
		if raw == nil {
			continue
		}
		s, err := universal.BlockStatsFromRaw(raw, t.net.CurrencyDecimals)
		if err != nil {
			return nil, err
		}
		stats[i] = s
	}
	return stats, nil
}

// genesisStats builds the height-0 record nodes refuse to serve. The genesis
// timestamp is read from the block itself when the node answers; hash comes
// from the network parameters.
func (t *Transport) genesisStats(ctx context.Context) *universal.BlockStats {
	var blockTime int64
	if raw, err := t.callOne(ctx, "getblock", []any{t.net.GenesisHash, 1}); err == nil {
		var gb struct {
			Time int64 `json:"time"`
		}
		if json.Unmarshal(raw, &gb) == nil {
			blockTime = gb.Time
		}
	}
	return universal.GenesisBlockStats(t.net.GenesisHash, blockTime, genesisSubsidy)
}

func (t *Transport) BlockchainInfo(ctx context.Context) (*universal.BlockchainInfo, error) {
	raw, err := t.callOne(ctx, "getblockchaininfo", nil)
	if err != nil {
		return nil, err
	}
	var info universal.BlockchainInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("unmarshal getblockchaininfo result: %w", err)
	}
	return &info, nil
}

func (t *Transport) NetworkInfo(ctx context.Context) (*universal.NetworkInfo, error) {
	raw, err := t.callOne(ctx, "getnetworkinfo", nil)
	if err != nil {
		return nil, err
	}
	return universal.NetworkInfoFromRaw(raw, t.net.CurrencyDecimals)
}

func (t *Transport) MempoolInfo(ctx context.Context) (*universal.MempoolInfo, error) {
	raw, err := t.callOne(ctx, "getmempoolinfo", nil)
	if err != nil {
		return nil, err
	}
	return universal.MempoolInfoFromRaw(raw, t.net.CurrencyDecimals)
}

func (t *Transport) RawMempool(ctx context.Context) ([]string, error) {
	raw, err := t.callOne(ctx, "getrawmempool", []any{false})
	if err != nil {
		return nil, err
	}
	var txids []string
	if err := json.Unmarshal(raw, &txids); err != nil {
		return nil, fmt.Errorf("unmarshal getrawmempool result: %w", err)
	}
	return txids, nil
}

func (t *Transport) MempoolEntries(ctx context.Context, txids []string) ([]*universal.MempoolTransaction, error) {
	calls := make([]call, len(txids))
	for i, id := range txids {
		calls[i] = call{Method: "getmempoolentry", Params: []any{id}}
	}
	raws, err := t.callBatch(ctx, calls)
	if err != nil {
		return nil, err
	}
	// Mempool entries evaporate between listing and lookup; a missing entry
	// is a nil slot, not a failure.
	entries := make([]*universal.MempoolTransaction, len(txids))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		e, err := universal.MempoolEntryFromRaw(txids[i], raw, t.net.CurrencyDecimals)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

func (t *Transport) EstimateSmartFee(ctx context.Context, confTarget int64, mode string) (*universal.SmartFeeEstimate, error) {
	params := []any{confTarget}
	if mode != "" {
		params = append(params, mode)
	}
	raw, err := t.callOne(ctx, "estimatesmartfee", params)
	if err != nil {
		return nil, err
	}
	return universal.SmartFeeFromRaw(raw, t.net.CurrencyDecimals)
}
