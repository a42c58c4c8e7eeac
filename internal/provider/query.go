package provider

import (
	"context"
	"encoding/hex"

	"github.com/easylayer/blockchain-provider/internal/codec"
	"github.com/easylayer/blockchain-provider/internal/merkle"
	"github.com/easylayer/blockchain-provider/internal/transport"
	"github.com/easylayer/blockchain-provider/internal/universal"
)

func (p *Provider) BlockHeight(ctx context.Context) (uint32, error) {
	var height uint32
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		h, err := t.BlockHeight(ctx)
		if err != nil {
			return err
		}
		height = h
		return nil
	})
	return height, err
}

func (p *Provider) BlockHashesByHeights(ctx context.Context, heights []uint32) ([]string, error) {
	var hashes []string
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.BlockHashesByHeights(ctx, heights)
		if err != nil {
			return err
		}
		hashes = out
		return nil
	})
	return hashes, err
}

func (p *Provider) RawBlocksByHashes(ctx context.Context, hashes []string) ([][]byte, error) {
	var raw [][]byte
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.RawBlocksByHashes(ctx, hashes)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	return raw, err
}

// BlocksHexByHashes is the hex-string convenience over the raw fetch. The
// Merkle check still applies: payloads are decoded and verified before any
// hex leaves the provider.
func (p *Provider) BlocksHexByHashes(ctx context.Context, hashes []string) ([]string, error) {
	raw, err := p.RawBlocksByHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	if err := p.verifyRawBlocks(raw); err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, b := range raw {
		if b != nil {
			out[i] = hex.EncodeToString(b)
		}
	}
	return out, nil
}

func (p *Provider) BlocksHexByHeights(ctx context.Context, heights []uint32) ([]string, error) {
	hashes, err := p.BlockHashesByHeights(ctx, heights)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(heights))
	present := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h != "" {
			present = append(present, h)
		}
	}
	fetched, err := p.BlocksHexByHashes(ctx, present)
	if err != nil {
		return nil, err
	}
	j := 0
	for i, h := range hashes {
		if h == "" {
			continue
		}
		out[i] = fetched[j]
		j++
	}
	return out, nil
}

func (p *Provider) BlocksByHashes(ctx context.Context, hashes []string, verbosity int) ([]*universal.Block, error) {
	var blocks []*universal.Block
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.BlocksByHashes(ctx, hashes, verbosity)
		if err != nil {
			return err
		}
		blocks = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := p.verifyBlocks(blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (p *Provider) BlocksByHeights(ctx context.Context, heights []uint32, verbosity int) ([]*universal.Block, error) {
	var blocks []*universal.Block
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.BlocksByHeights(ctx, heights, verbosity)
		if err != nil {
			return err
		}
		blocks = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := p.verifyBlocks(blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// verifyBlocks runs Merkle verification on every block that carries enough
// transaction data to recompute the root. Verification failure fails the
// call; the tainted payload is never returned.
func (p *Provider) verifyBlocks(blocks []*universal.Block) error {
	if !p.opts.VerifyMerkle {
		return nil
	}
	for _, b := range blocks {
		if b == nil || (len(b.TxIDs) == 0 && len(b.Txs) == 0) {
			continue
		}
		if err := merkle.VerifyBlockRoot(b, p.net.HasSegWit); err != nil {
			return err
		}
	}
	return nil
}

// verifyRawBlocks decodes consensus-serialized payloads far enough to
// recompute their Merkle roots. Nil entries (blocks the transport could not
// resolve) are skipped.
func (p *Provider) verifyRawBlocks(raws [][]byte) error {
	if !p.opts.VerifyMerkle {
		return nil
	}
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		block, err := codec.ParseBlock(raw, p.net, nil)
		if err != nil {
			return err
		}
		if err := merkle.VerifyBlockRoot(block, p.net.HasSegWit); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TransactionsByTxids(ctx context.Context, txids []string) ([]*universal.Transaction, error) {
	var txs []*universal.Transaction
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.TransactionsByTxids(ctx, txids)
		if err != nil {
			return err
		}
		txs = out
		return nil
	})
	return txs, err
}

func (p *Provider) RawTransactionsByTxids(ctx context.Context, txids []string) ([]string, error) {
	var out []string
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		res, err := t.RawTransactionsByTxids(ctx, txids)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (p *Provider) BlockStatsByHashes(ctx context.Context, hashes []string) ([]*universal.BlockStats, error) {
	var stats []*universal.BlockStats
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.BlockStatsByHashes(ctx, hashes)
		if err != nil {
			return err
		}
		stats = out
		return nil
	})
	return stats, err
}

func (p *Provider) BlockStatsByHeights(ctx context.Context, heights []uint32) ([]*universal.BlockStats, error) {
	var stats []*universal.BlockStats
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.BlockStatsByHeights(ctx, heights)
		if err != nil {
			return err
		}
		stats = out
		return nil
	})
	return stats, err
}

func (p *Provider) BlockchainInfo(ctx context.Context) (*universal.BlockchainInfo, error) {
	var info *universal.BlockchainInfo
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.BlockchainInfo(ctx)
		if err != nil {
			return err
		}
		info = out
		return nil
	})
	return info, err
}

func (p *Provider) NetworkInfo(ctx context.Context) (*universal.NetworkInfo, error) {
	var info *universal.NetworkInfo
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.NetworkInfo(ctx)
		if err != nil {
			return err
		}
		info = out
		return nil
	})
	return info, err
}

func (p *Provider) MempoolInfo(ctx context.Context) (*universal.MempoolInfo, error) {
	var info *universal.MempoolInfo
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.MempoolInfo(ctx)
		if err != nil {
			return err
		}
		info = out
		return nil
	})
	return info, err
}

func (p *Provider) RawMempool(ctx context.Context) ([]string, error) {
	var txids []string
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.RawMempool(ctx)
		if err != nil {
			return err
		}
		txids = out
		return nil
	})
	return txids, err
}

func (p *Provider) MempoolEntries(ctx context.Context, txids []string) ([]*universal.MempoolTransaction, error) {
	var entries []*universal.MempoolTransaction
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.MempoolEntries(ctx, txids)
		if err != nil {
			return err
		}
		entries = out
		return nil
	})
	return entries, err
}

func (p *Provider) EstimateSmartFee(ctx context.Context, confTarget int64, mode string) (*universal.SmartFeeEstimate, error) {
	var est *universal.SmartFeeEstimate
	err := p.executeWithRetry(ctx, func(t transport.Transport) error {
		out, err := t.EstimateSmartFee(ctx, confTarget, mode)
		if err != nil {
			return err
		}
		est = out
		return nil
	})
	return est, err
}
