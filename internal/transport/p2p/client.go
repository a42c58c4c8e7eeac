package p2p

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/easylayer/blockchain-provider/internal/chaintracker"
	"github.com/easylayer/blockchain-provider/internal/codec"
	"github.com/easylayer/blockchain-provider/internal/network"
	"github.com/easylayer/blockchain-provider/internal/transport"
	"github.com/easylayer/blockchain-provider/internal/universal"
	"github.com/easylayer/blockchain-provider/pkg/common/errs"
	"github.com/easylayer/blockchain-provider/pkg/common/logger"
)

const (
	defaultConnectionTimeout = 10 * time.Second
	handshakeTimeout         = 15 * time.Second
	pingInterval             = 2 * time.Minute

	// Block fetch deadline scales with the request size but never exceeds
	// the hard cap.
	fetchTimeoutBase    = 10 * time.Second
	fetchTimeoutPerItem = 500 * time.Millisecond
	fetchTimeoutMax     = 120 * time.Second
)

type Config struct {
	// Peers are tried in order until one completes the handshake.
	Peers             []string
	ConnectionTimeout time.Duration
	// MaxHeight caps header sync; 0 means no ceiling.
	MaxHeight         uint32
	HeaderSyncEnabled bool
	// HeaderSyncBatchSize caps headers applied per sync round; 0 or
	// anything above the protocol page size means the full page.
	HeaderSyncBatchSize int
}

// Transport speaks the wire protocol to a single peer at a time. All reads
// flow through one demultiplexing loop; concurrent writers serialize on a
// write lock.
type Transport struct {
	cfg     Config
	net     network.Params
	tracker *chaintracker.Tracker
	fanout  *transport.Fanout
	sync    *headerSync

	wmu sync.Mutex // serializes frame writes

	mu         sync.Mutex
	conn       net.Conn
	endpoint   string
	peer       *versionInfo
	closing    chan struct{}
	loopDone   chan struct{}
	waiters    map[uint64]*blockWaiter
	nextWaiter uint64
	headersCh  chan [][]byte
}

func New(cfg Config, p network.Params) *Transport {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = defaultConnectionTimeout
	}
	t := &Transport{
		cfg:     cfg,
		net:     p,
		tracker: chaintracker.New(),
		fanout:  transport.NewFanout(),
		waiters: make(map[uint64]*blockWaiter),
	}
	t.sync = newHeaderSync(t)
	return t
}

func (t *Transport) Kind() transport.Kind { return transport.KindP2P }

func (t *Transport) Endpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.endpoint != "" {
		return t.endpoint
	}
	if len(t.cfg.Peers) > 0 {
		return t.cfg.Peers[0]
	}
	return ""
}

// Tracker exposes the height index for read-only inspection.
func (t *Transport) Tracker() *chaintracker.Tracker { return t.tracker }

// SyncState reports header sync progress: uninitialized, syncing or synced.
func (t *Transport) SyncState() string { return t.sync.state() }

// Connect dials the configured peers in order and completes the
// version/verack handshake with the first one that answers. The tracker is
// seeded with the genesis block so header heights can chain from it.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if len(t.cfg.Peers) == 0 {
		return &errs.ConnectionError{Endpoint: "", Err: fmt.Errorf("no peers configured")}
	}

	var lastErr error
	for _, addr := range t.cfg.Peers {
		conn, info, err := t.dial(ctx, addr)
		if err != nil {
			logger.Warn("Peer handshake failed", "peer", addr, "err", err)
			lastErr = err
			continue
		}
		t.attach(addr, conn, info)
		logger.Info("Peer connected",
			"peer", addr, "agent", info.UserAgent, "peer_height", info.StartHeight)
		return nil
	}
	return &errs.ConnectionError{Endpoint: t.cfg.Peers[0], Err: lastErr}
}

func (t *Transport) dial(ctx context.Context, addr string) (net.Conn, *versionInfo, error) {
	d := net.Dialer{Timeout: t.cfg.ConnectionTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	deadline := time.Now().Add(handshakeTimeout)
	_ = conn.SetDeadline(deadline)

	var nonce uint64
	var nb [8]byte
	_, _ = rand.Read(nb[:])
	nonce = binary.LittleEndian.Uint64(nb[:])

	if err := writeMessage(conn, t.net.MagicBytes, cmdVersion, buildVersion(nonce, 0)); err != nil {
		conn.Close()
		return nil, nil, err
	}

	var info *versionInfo
	gotVerack := false
	for info == nil || !gotVerack {
		command, payload, err := readMessage(conn, t.net.MagicBytes)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		switch command {
		case cmdVersion:
			info, err = parseVersion(payload)
			if err != nil {
				conn.Close()
				return nil, nil, err
			}
			if err := writeMessage(conn, t.net.MagicBytes, cmdVerack, nil); err != nil {
				conn.Close()
				return nil, nil, err
			}
		case cmdVerack:
			gotVerack = true
		default:
			// Peers may interleave other traffic before verack; ignore it.
		}
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, info, nil
}

func (t *Transport) attach(addr string, conn net.Conn, info *versionInfo) {
	t.mu.Lock()
	t.conn = conn
	t.endpoint = addr
	t.peer = info
	t.closing = make(chan struct{})
	t.loopDone = make(chan struct{})
	t.headersCh = make(chan [][]byte, 1)
	t.mu.Unlock()

	t.tracker.Add(0, t.net.GenesisHash)

	go t.readLoop(conn, t.closing, t.loopDone)
	go t.pingLoop(t.closing)
	if t.cfg.HeaderSyncEnabled {
		go t.sync.run(t.closing)
	}
}

// Disconnect tears the connection down, rejects every pending fetch with a
// disconnecting error and clears the height index (it describes a session
// with one peer, not durable state). Idempotent.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	closing := t.closing
	done := t.loopDone
	t.conn = nil
	t.peer = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(closing)
	conn.Close()
	<-done
	t.tracker.Clear()
	t.sync.reset()
	logger.Info("Peer disconnected", "peer", t.Endpoint())
	return nil
}

// Healthcheck reports whether the session is alive.
func (t *Transport) Healthcheck(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *Transport) send(command string, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	endpoint := t.endpoint
	t.mu.Unlock()
	if conn == nil {
		return &errs.ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("not connected")}
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return writeMessage(conn, t.net.MagicBytes, command, payload)
}

// --- demux read loop ---

func (t *Transport) readLoop(conn net.Conn, closing chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		command, payload, err := readMessage(conn, t.net.MagicBytes)
		if err != nil {
			select {
			case <-closing:
			default:
				endpoint := t.Endpoint()
				logger.Warn("Peer connection lost", "peer", endpoint, "err", err)
				t.fanout.PublishError(&errs.ConnectionError{Endpoint: endpoint, Err: err})
			}
			t.rejectWaiters()
			return
		}

		switch command {
		case cmdPing:
			if nonce, err := parseNonce(payload); err == nil {
				_ = t.send(cmdPong, buildPing(nonce))
			}
		case cmdPong:
			// liveness acknowledged; nothing to correlate
		case cmdBlock:
			t.handleBlock(payload)
		case cmdHeaders:
			if headers, err := parseHeaders(payload); err == nil {
				select {
				case t.headersCh <- headers:
				default:
				}
			} else {
				logger.Warn("Dropping malformed headers message", "peer", t.Endpoint(), "err", err)
			}
		case cmdInv:
			t.handleInv(payload)
		}
	}
}

func (t *Transport) pingLoop(closing chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			var nb [8]byte
			_, _ = rand.Read(nb[:])
			_ = t.send(cmdPing, buildPing(binary.LittleEndian.Uint64(nb[:])))
		case <-closing:
			return
		}
	}
}

// handleInv requests announced blocks we have not seen; the resulting block
// messages flow through handleBlock and feed both the tracker and live
// subscribers.
func (t *Transport) handleInv(payload []byte) {
	vectors, err := parseInvPayload(payload)
	if err != nil {
		logger.Warn("Dropping malformed inv message", "peer", t.Endpoint(), "err", err)
		return
	}
	var want []invVector
	for _, v := range vectors {
		if v.Type&^invWitnessFlag != invTypeBlock {
			continue
		}
		if _, known := t.tracker.HeightOfHash(v.DisplayHash()); known {
			continue
		}
		want = append(want, invVector{Type: invTypeWitnessBlock, Hash: v.Hash})
	}
	if len(want) == 0 {
		return
	}
	_ = t.send(cmdGetData, buildInvPayload(want))
}

// handleBlock routes a block message either to a pending fetch or, when
// unsolicited, to the live path: height assignment, tracker update and
// fan-out to subscribers.
func (t *Transport) handleBlock(payload []byte) {
	header, err := codec.ParseHeader(payload)
	if err != nil {
		logger.Warn("Dropping undecodable block message", "peer", t.Endpoint(), "err", err)
		return
	}

	t.mu.Lock()
	var claimed bool
	for _, w := range t.waiters {
		if w.offer(header.Hash, payload) {
			claimed = true
			break
		}
	}
	t.mu.Unlock()
	if claimed {
		return
	}

	// Height from the parent when the parent is tracked; otherwise assume
	// the block extends the current tip, but only when its embedded
	// timestamp is recent enough to plausibly be a fresh tip block. Old
	// blocks replayed out of band stay unplaced.
	var height *uint32
	if prevH, ok := t.tracker.HeightOfHash(header.PreviousBlockHash); ok {
		h := prevH + 1
		height = &h
	} else if tip, ok := t.tracker.TipHeight(); ok && timestampNearNow(header.Time) {
		h := tip + 1
		height = &h
	}
	if height != nil {
		t.tracker.Add(*height, header.Hash)
	}

	block, err := codec.ParseBlock(payload, t.net, height)
	if err != nil {
		t.fanout.PublishError(err)
		return
	}
	t.fanout.Publish(block)
}

// maxUnsolicitedDrift bounds the tip+1 height fallback for blocks whose
// parent is not tracked: a block genuinely extending the tip carries a
// near-current timestamp.
const maxUnsolicitedDrift = 2 * time.Hour

func timestampNearNow(blockTime uint32) bool {
	d := time.Since(time.Unix(int64(blockTime), 0))
	if d < 0 {
		d = -d
	}
	return d <= maxUnsolicitedDrift
}

// --- block fetch ---

// blockWaiter collects the blocks one RawBlocksByHashes call is waiting for.
// A hash repeated in the request shares one delivery, fanned into every
// position that asked for it.
type blockWaiter struct {
	mu        sync.Mutex
	want      map[string][]int
	raws      [][]byte
	remaining int
	done      chan struct{}
	failed    chan struct{}
}

func newBlockWaiter(hashes []string) *blockWaiter {
	w := &blockWaiter{
		want:      make(map[string][]int, len(hashes)),
		raws:      make([][]byte, len(hashes)),
		remaining: len(hashes),
		done:      make(chan struct{}),
		failed:    make(chan struct{}),
	}
	for i, h := range hashes {
		w.want[h] = append(w.want[h], i)
	}
	return w
}

// offer claims a block for this waiter. Duplicate deliveries are ignored.
func (w *blockWaiter) offer(hash string, raw []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	slots, ok := w.want[hash]
	if !ok || w.raws[slots[0]] != nil {
		return false
	}
	for _, i := range slots {
		w.raws[i] = raw
		w.remaining--
	}
	if w.remaining == 0 {
		close(w.done)
	}
	return true
}

func (w *blockWaiter) missing() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remaining
}

// rejectWaiters fails every pending fetch; called when the read loop dies.
func (t *Transport) rejectWaiters() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.waiters {
		close(w.failed)
	}
	t.waiters = make(map[uint64]*blockWaiter)
}

func fetchTimeout(count int) time.Duration {
	d := fetchTimeoutBase + time.Duration(count)*fetchTimeoutPerItem
	if d > fetchTimeoutMax {
		return fetchTimeoutMax
	}
	return d
}

// RawBlocksByHashes fetches consensus-serialized blocks via getdata. The
// contract is strict: if any requested block does not arrive before the
// deadline, the whole call fails.
func (t *Transport) RawBlocksByHashes(ctx context.Context, hashes []string) ([][]byte, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	t.mu.Lock()
	endpoint := t.endpoint
	if t.conn == nil {
		t.mu.Unlock()
		return nil, &errs.ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("not connected")}
	}
	closing := t.closing
	w := newBlockWaiter(hashes)
	id := t.nextWaiter
	t.nextWaiter++
	t.waiters[id] = w
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.waiters, id)
		t.mu.Unlock()
	}()

	// Repeated hashes collapse into one getdata vector; the waiter fans the
	// single delivery back into every requested position.
	seen := make(map[string]struct{}, len(hashes))
	vectors := make([]invVector, 0, len(hashes))
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		raw, err := internalHash(h)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, invVector{Type: invTypeWitnessBlock, Hash: raw})
	}
	if err := t.send(cmdGetData, buildInvPayload(vectors)); err != nil {
		return nil, err
	}

	timeout := fetchTimeout(len(hashes))
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return w.raws, nil
	case <-timer.C:
		return nil, &errs.TimeoutError{
			Op:       fmt.Sprintf("block fetch (%d of %d outstanding)", w.missing(), len(hashes)),
			Endpoint: endpoint,
			After:    timeout,
		}
	case <-w.failed:
		return nil, &errs.ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("peer connection lost mid-fetch")}
	case <-closing:
		return nil, errs.ErrDisconnecting
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) BlockHeight(ctx context.Context) (uint32, error) {
	if tip, ok := t.tracker.TipHeight(); ok && tip > 0 {
		return tip, nil
	}
	t.mu.Lock()
	peer := t.peer
	endpoint := t.endpoint
	t.mu.Unlock()
	if peer == nil {
		return 0, &errs.ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("not connected")}
	}
	if peer.StartHeight < 0 {
		return 0, nil
	}
	return uint32(peer.StartHeight), nil
}

// BlockHashesByHeights resolves heights against the header index. Heights
// beyond what has been synced yield "".
func (t *Transport) BlockHashesByHeights(ctx context.Context, heights []uint32) ([]string, error) {
	hashes := make([]string, len(heights))
	for i, h := range heights {
		if hash, ok := t.tracker.HashAtHeight(h); ok {
			hashes[i] = hash
		}
	}
	return hashes, nil
}

func (t *Transport) BlocksByHashes(ctx context.Context, hashes []string, verbosity int) ([]*universal.Block, error) {
	raws, err := t.RawBlocksByHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	blocks := make([]*universal.Block, len(hashes))
	for i, raw := range raws {
		var height *uint32
		if h, ok := t.tracker.HeightOfHash(hashes[i]); ok {
			height = &h
		}
		block, err := codec.ParseBlock(raw, t.net, height)
		if err != nil {
			return nil, fmt.Errorf("parse block %s: %w", hashes[i], err)
		}
		shapeForVerbosity(block, verbosity)
		blocks[i] = block
	}
	return blocks, nil
}

// shapeForVerbosity trims a fully decoded block down to what the requested
// verbosity exposes.
func shapeForVerbosity(b *universal.Block, verbosity int) {
	switch {
	case verbosity <= 0:
		// raw shape keeps hex and full transactions
	case verbosity == 1:
		b.Hex = ""
		b.TxIDs = make([]string, len(b.Txs))
		for i, tx := range b.Txs {
			b.TxIDs[i] = tx.TxID
		}
		b.Txs = nil
	default:
		b.Hex = ""
	}
}

func (t *Transport) BlocksByHeights(ctx context.Context, heights []uint32, verbosity int) ([]*universal.Block, error) {
	hashes, err := t.BlockHashesByHeights(ctx, heights)
	if err != nil {
		return nil, err
	}
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

// --- operations outside wire-protocol capability ---

func (t *Transport) unsupported(op string) error {
	return &errs.UnsupportedOperationError{Op: op, Transport: string(transport.KindP2P)}
}

func (t *Transport) TransactionsByTxids(ctx context.Context, txids []string) ([]*universal.Transaction, error) {
	return nil, t.unsupported("transactions by txid")
}

func (t *Transport) RawTransactionsByTxids(ctx context.Context, txids []string) ([]string, error) {
	return nil, t.unsupported("raw transactions by txid")
}

func (t *Transport) BlockStatsByHashes(ctx context.Context, hashes []string) ([]*universal.BlockStats, error) {
	return nil, t.unsupported("block stats")
}

func (t *Transport) BlockStatsByHeights(ctx context.Context, heights []uint32) ([]*universal.BlockStats, error) {
	return nil, t.unsupported("block stats")
}

func (t *Transport) BlockchainInfo(ctx context.Context) (*universal.BlockchainInfo, error) {
	return nil, t.unsupported("blockchain info")
}

func (t *Transport) NetworkInfo(ctx context.Context) (*universal.NetworkInfo, error) {
	return nil, t.unsupported("network info")
}

func (t *Transport) MempoolInfo(ctx context.Context) (*universal.MempoolInfo, error) {
	return nil, t.unsupported("mempool info")
}

func (t *Transport) RawMempool(ctx context.Context) ([]string, error) {
	return nil, t.unsupported("raw mempool")
}

func (t *Transport) MempoolEntries(ctx context.Context, txids []string) ([]*universal.MempoolTransaction, error) {
	return nil, t.unsupported("mempool entries")
}

func (t *Transport) EstimateSmartFee(ctx context.Context, confTarget int64, mode string) (*universal.SmartFeeEstimate, error) {
	return nil, t.unsupported("fee estimation")
}

// SubscribeToNewBlocks delivers blocks the peer announces via inv. The
// subscription is backed by the shared read loop; no extra connection is
// opened.
func (t *Transport) SubscribeToNewBlocks(onBlock transport.BlockHandler, onError transport.ErrorHandler) (transport.Subscription, error) {
	return t.fanout.Add(onBlock, onError), nil
}
