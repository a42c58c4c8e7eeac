// Package transport defines the contract both node transports satisfy.
// All batch operations are order-preserving: results[i] always corresponds
// to keys[i], with a nil/zero entry standing in for an item that was
// unavailable — except where an implementation's documented contract is
// strict (the P2P raw block fetch).
package transport

import (
	"context"

	"github.com/easylayer/blockchain-provider/internal/universal"
)

type Kind string

const (
	KindRPC Kind = "rpc"
	KindP2P Kind = "p2p"
)

// Subscription is a handle to an active new-block subscription.
type Subscription interface {
	Unsubscribe()
}

type BlockHandler func(*universal.Block)
type ErrorHandler func(error)

// Transport is the uniform operation surface over a node connection.
//
// RPC-only operations (stats, mempool, fee estimation, node info) must be
// rejected by other transports with an UnsupportedOperationError — never a
// silent no-op.
type Transport interface {
	Kind() Kind
	Endpoint() string

	// Connect establishes connectivity; it fails with a ConnectionError
	// when the node or peer pool is unreachable within the configured
	// timeout.
	Connect(ctx context.Context) error
	// Disconnect is idempotent and releases every held resource. Pending
	// operations are rejected with errs.ErrDisconnecting, never left
	// hanging.
	Disconnect(ctx context.Context) error
	// Healthcheck is a lightweight liveness probe; it never fails, it
	// answers.
	Healthcheck(ctx context.Context) bool

	BlockHeight(ctx context.Context) (uint32, error)
	// BlockHashesByHeights is order-preserving and null-tolerant; a missing
	// height yields "".
	BlockHashesByHeights(ctx context.Context, heights []uint32) ([]string, error)
	// RawBlocksByHashes returns consensus-serialized blocks. The RPC
	// transport tolerates per-item misses (nil entries); the P2P transport
	// is strict and fails the whole call when any requested block is
	// missing.
	RawBlocksByHashes(ctx context.Context, hashes []string) ([][]byte, error)

	// BlocksByHashes / BlocksByHeights fetch normalized blocks.
	// Verbosity 0 decodes raw bytes through the codec (hex retained),
	// 1 carries txid lists, 2 carries full transactions.
	BlocksByHashes(ctx context.Context, hashes []string, verbosity int) ([]*universal.Block, error)
	BlocksByHeights(ctx context.Context, heights []uint32, verbosity int) ([]*universal.Block, error)

	TransactionsByTxids(ctx context.Context, txids []string) ([]*universal.Transaction, error)
	RawTransactionsByTxids(ctx context.Context, txids []string) ([]string, error)

	BlockStatsByHashes(ctx context.Context, hashes []string) ([]*universal.BlockStats, error)
	BlockStatsByHeights(ctx context.Context, heights []uint32) ([]*universal.BlockStats, error)

	BlockchainInfo(ctx context.Context) (*universal.BlockchainInfo, error)
	NetworkInfo(ctx context.Context) (*universal.NetworkInfo, error)
	MempoolInfo(ctx context.Context) (*universal.MempoolInfo, error)
	RawMempool(ctx context.Context) ([]string, error)
	MempoolEntries(ctx context.Context, txids []string) ([]*universal.MempoolTransaction, error)
	EstimateSmartFee(ctx context.Context, confTarget int64, mode string) (*universal.SmartFeeEstimate, error)

	// SubscribeToNewBlocks supports many concurrent subscribers. One
	// subscriber's failure is routed to its own onError and never blocks
	// delivery to the others.
	SubscribeToNewBlocks(onBlock BlockHandler, onError ErrorHandler) (Subscription, error)
}
