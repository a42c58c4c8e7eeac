package p2p

import (
	"sync/atomic"
	"time"

	"github.com/easylayer/blockchain-provider/internal/codec"
	"github.com/easylayer/blockchain-provider/pkg/common/logger"
)

const (
	syncUninitialized = int32(iota)
	syncSyncing
	syncSynced
)

const (
	headersResponseTimeout = 30 * time.Second
	headersRetryLimit      = 3
)

// headerSync pages the peer's header chain into the tracker with repeated
// getheaders requests. It is best effort: a peer that stops answering
// leaves the index partially filled, and lookups simply miss beyond it.
type headerSync struct {
	t     *Transport
	phase atomic.Int32
}

func newHeaderSync(t *Transport) *headerSync {
	return &headerSync{t: t}
}

func (s *headerSync) state() string {
	switch s.phase.Load() {
	case syncSyncing:
		return "syncing"
	case syncSynced:
		return "synced"
	default:
		return "uninitialized"
	}
}

func (s *headerSync) reset() { s.phase.Store(syncUninitialized) }

func (s *headerSync) run(closing chan struct{}) {
	s.phase.Store(syncSyncing)
	start := time.Now()
	retries := 0

	for {
		select {
		case <-closing:
			return
		default:
		}

		payload, err := buildGetHeaders(s.locator())
		if err != nil {
			logger.Warn("Header sync aborted", "peer", s.t.Endpoint(), "err", err)
			return
		}
		if err := s.t.send(cmdGetHeaders, payload); err != nil {
			logger.Warn("Header sync aborted", "peer", s.t.Endpoint(), "err", err)
			return
		}

		var headers [][]byte
		select {
		case headers = <-s.t.headersCh:
			retries = 0
		case <-time.After(headersResponseTimeout):
			retries++
			if retries >= headersRetryLimit {
				logger.Warn("Header sync stalled, giving up",
					"peer", s.t.Endpoint(), "synced_to", s.tip())
				return
			}
			continue
		case <-closing:
			return
		}

		page := headers
		truncated := false
		if limit := s.batchSize(); len(page) > limit {
			page = page[:limit]
			truncated = true
		}
		added, reachedCeiling := s.apply(page)
		if reachedCeiling || (!truncated && len(headers) < maxHeadersPerMsg) {
			s.phase.Store(syncSynced)
			logger.Info("Header sync complete",
				"peer", s.t.Endpoint(), "tip", s.tip(), "elapsed", time.Since(start))
			return
		}
		logger.Debug("Header sync progress",
			"peer", s.t.Endpoint(), "added", added, "tip", s.tip())
	}
}

// apply chains each header onto its tracked parent. Headers whose parent is
// unknown are skipped rather than guessed at.
func (s *headerSync) apply(headers [][]byte) (added int, reachedCeiling bool) {
	for _, raw := range headers {
		h, err := codec.ParseHeader(raw)
		if err != nil {
			logger.Warn("Skipping undecodable header", "peer", s.t.Endpoint(), "err", err)
			continue
		}
		prevHeight, ok := s.t.tracker.HeightOfHash(h.PreviousBlockHash)
		if !ok {
			continue
		}
		height := prevHeight + 1
		if s.t.cfg.MaxHeight > 0 && height > s.t.cfg.MaxHeight {
			return added, true
		}
		s.t.tracker.Add(height, h.Hash)
		added++
	}
	return added, false
}

// locator walks back from the tip with exponentially growing strides, so a
// peer on a different branch can find the common ancestor in one round trip.
// The genesis hash always anchors the list.
func (s *headerSync) locator() []string {
	var locator []string
	tip, ok := s.t.tracker.TipHeight()
	if ok {
		step := uint32(1)
		h := tip
		for len(locator) < maxLocatorEntries-1 {
			if hash, ok := s.t.tracker.HashAtHeight(h); ok {
				locator = append(locator, hash)
			}
			if h == 0 {
				break
			}
			if len(locator) >= 10 {
				step *= 2
			}
			if h < step {
				h = 0
			} else {
				h -= step
			}
		}
	}
	if len(locator) == 0 || locator[len(locator)-1] != s.t.net.GenesisHash {
		locator = append(locator, s.t.net.GenesisHash)
	}
	return locator
}

// batchSize caps how many headers are applied per round. The wire protocol
// fixes the page a peer may send at 2000; the configured batch only throttles
// how much of each page is consumed before the next request, the remainder is
// re-requested via the advanced locator.
func (s *headerSync) batchSize() int {
	n := s.t.cfg.HeaderSyncBatchSize
	if n <= 0 || n > maxHeadersPerMsg {
		return maxHeadersPerMsg
	}
	return n
}

func (s *headerSync) tip() uint32 {
	tip, _ := s.t.tracker.TipHeight()
	return tip
}
