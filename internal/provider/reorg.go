package provider

import (
	"context"
	"errors"

	"github.com/easylayer/blockchain-provider/pkg/common/logger"
)

// HistoricalSource answers "which block did we record at this height" from
// local storage; the badger-backed blockstore implements it.
type HistoricalSource interface {
	// BlockHashByHeight returns the locally recorded hash at height, or
	// ok=false when that height was never recorded.
	BlockHashByHeight(ctx context.Context, height uint32) (hash string, ok bool, err error)
}

// ErrForkPointNotFound means the walkback exhausted local history without
// finding a height where the local and remote chains agree.
var ErrForkPointNotFound = errors.New("no common ancestor found in local history")

// FindForkPoint walks backwards from startHeight comparing local records
// against the node's chain, and returns the highest height where both agree.
// Heights missing on either side are skipped; running out of heights is
// terminal.
func (p *Provider) FindForkPoint(ctx context.Context, source HistoricalSource, startHeight uint32) (uint32, error) {
	for h := startHeight; ; h-- {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		local, ok, err := source.BlockHashByHeight(ctx, h)
		if err != nil {
			return 0, err
		}
		if ok {
			remote, err := p.BlockHashesByHeights(ctx, []uint32{h})
			if err != nil {
				return 0, err
			}
			if remote[0] != "" && remote[0] == local {
				logger.Info("Fork point located", "height", h, "hash", local)
				return h, nil
			}
			if remote[0] != "" {
				logger.Debug("Chain mismatch during walkback",
					"height", h, "local", local, "remote", remote[0])
			}
		}

		if h == 0 {
			return 0, ErrForkPointNotFound
		}
	}
}
