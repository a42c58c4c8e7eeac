// Package blockstore persists the recently processed chain segment in an
// embedded Badger database. It backs reorg detection: the provider's fork
// walkback asks it which hash was recorded at a height.
package blockstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/easylayer/blockchain-provider/pkg/common/logger"
)

const tipKey = "tip"

// Record is what the store keeps per processed block.
type Record struct {
	Height            uint32 `json:"height"`
	Hash              string `json:"hash"`
	PreviousBlockHash string `json:"previousblockhash,omitempty"`
	Time              int64  `json:"time,omitempty"`
}

type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path. InMemory is for tests.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open blockstore: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Heights are zero-padded so lexicographic key order equals numeric order;
// PruneAbove iterates on that.
func blockKey(height uint32) []byte {
	return []byte(fmt.Sprintf("block/%010d", height))
}

// PutBlock records a processed block and advances the tip when the height
// is the new highest.
func (s *Store) PutBlock(ctx context.Context, rec Record) error {
	if rec.Hash == "" {
		return errors.New("blockstore: record needs a hash")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blockKey(rec.Height), data); err != nil {
			return err
		}
		tip, ok, err := tipInTxn(txn)
		if err != nil {
			return err
		}
		if !ok || rec.Height > tip {
			return txn.Set([]byte(tipKey), []byte(fmt.Sprintf("%d", rec.Height)))
		}
		return nil
	})
}

// BlockByHeight returns the recorded block at height.
func (s *Store) BlockByHeight(ctx context.Context, height uint32) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, found, err
}

// BlockHashByHeight satisfies the provider's historical-source contract.
func (s *Store) BlockHashByHeight(ctx context.Context, height uint32) (string, bool, error) {
	rec, ok, err := s.BlockByHeight(ctx, height)
	if err != nil || !ok {
		return "", false, err
	}
	return rec.Hash, true, nil
}

// TipHeight returns the highest recorded height.
func (s *Store) TipHeight(ctx context.Context) (uint32, bool, error) {
	var tip uint32
	ok := false
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		tip, ok, err = tipInTxn(txn)
		return err
	})
	return tip, ok, err
}

func tipInTxn(txn *badger.Txn) (uint32, bool, error) {
	item, err := txn.Get([]byte(tipKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var tip uint32
	err = item.Value(func(val []byte) error {
		_, err := fmt.Sscanf(string(val), "%d", &tip)
		return err
	})
	return tip, err == nil, err
}

// PruneAbove deletes every record above height and resets the tip there;
// called after a fork point is located to drop the stale branch.
func (s *Store) PruneAbove(ctx context.Context, height uint32) error {
	tip, ok, err := s.TipHeight(ctx)
	if err != nil {
		return err
	}
	if !ok || tip <= height {
		return nil
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for h := height + 1; h <= tip; h++ {
			if err := txn.Delete(blockKey(h)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Set([]byte(tipKey), []byte(fmt.Sprintf("%d", height)))
	})
	if err != nil {
		return err
	}
	logger.Info("Pruned stale branch", "from", height+1, "to", tip)
	return nil
}
