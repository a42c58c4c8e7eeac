package rpc

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-zeromq/zmq4"

	"github.com/easylayer/blockchain-provider/internal/codec"
	"github.com/easylayer/blockchain-provider/internal/network"
	"github.com/easylayer/blockchain-provider/internal/transport"
	"github.com/easylayer/blockchain-provider/pkg/common/logger"
)

const (
	topicRawBlock  = "rawblock"
	topicHashBlock = "hashblock"

	reconnectInitialInterval = time.Second
	reconnectMaxInterval     = 30 * time.Second

	hashblockFetchTimeout = 30 * time.Second
)

// blockListener consumes the node's raw-block push channel and fans decoded
// blocks out to subscribers. The socket is opened lazily on the first
// subscriber and torn down when the last one leaves, so an idle transport
// holds no push connection.
type blockListener struct {
	endpoint string
	net      network.Params
	fanout   *transport.Fanout
	// fetchRaw resolves a hashblock notification (hash only) into the raw
	// block bytes over the owning transport.
	fetchRaw func(ctx context.Context, hash string) ([]byte, error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func newBlockListener(endpoint string, p network.Params, fetchRaw func(ctx context.Context, hash string) ([]byte, error)) *blockListener {
	l := &blockListener{
		endpoint: endpoint,
		net:      p,
		fetchRaw: fetchRaw,
		fanout:   transport.NewFanout(),
	}
	l.fanout.SetOnEmpty(l.pause)
	return l
}

func (l *blockListener) subscribe(onBlock transport.BlockHandler, onError transport.ErrorHandler) transport.Subscription {
	sub := l.fanout.Add(onBlock, onError)
	l.ensureRunning()
	return sub
}

func (l *blockListener) ensureRunning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

// pause stops the socket loop when nobody is listening; a later subscriber
// restarts it.
func (l *blockListener) pause() {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// stop shuts the listener down for good; used on transport disconnect.
func (l *blockListener) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.pause()
}

// run owns the subscribe socket. Any receive or dial failure tears the
// socket down and reconnects with capped exponential backoff; a successful
// receive resets the backoff so a flaky link does not converge to the cap.
func (l *blockListener) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitialInterval
	bo.MaxInterval = reconnectMaxInterval
	bo.MaxElapsedTime = 0 // retry forever

	for {
		if ctx.Err() != nil {
			return
		}
		err := l.consume(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Block push channel dropped, reconnecting",
			"endpoint", l.endpoint, "err", err)
		l.fanout.PublishError(err)

		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return
		}
	}
}

func (l *blockListener) consume(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	sock := zmq4.NewSub(ctx)
	defer sock.Close()

	if err := sock.Dial(l.endpoint); err != nil {
		return err
	}
	for _, topic := range []string{topicRawBlock, topicHashBlock} {
		if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			return err
		}
	}
	logger.Info("Listening for block notifications", "endpoint", l.endpoint)

	// A node configured with both topics announces every block twice;
	// whichever frame arrives first wins.
	lastPublished := ""
	for {
		msg, err := sock.Recv()
		if err != nil {
			return err
		}
		bo.Reset()

		if len(msg.Frames) < 2 {
			continue
		}
		var raw []byte
		switch string(msg.Frames[0]) {
		case topicRawBlock:
			raw = msg.Frames[1]
		case topicHashBlock:
			raw, err = l.resolveHash(ctx, msg.Frames[1])
			if err != nil {
				logger.Warn("Resolving announced block failed",
					"endpoint", l.endpoint, "err", err)
				l.fanout.PublishError(err)
				continue
			}
		default:
			continue
		}

		block, err := codec.ParseBlock(raw, l.net, nil)
		if err != nil {
			logger.Warn("Dropping undecodable pushed block",
				"endpoint", l.endpoint, "err", err)
			l.fanout.PublishError(err)
			continue
		}
		if block.Hash == lastPublished {
			continue
		}
		lastPublished = block.Hash
		l.fanout.Publish(block)
	}
}

// resolveHash turns a 32-byte hashblock frame into raw block bytes via the
// owning transport.
func (l *blockListener) resolveHash(ctx context.Context, frame []byte) ([]byte, error) {
	if len(frame) != 32 {
		return nil, fmt.Errorf("hashblock frame is %d bytes, want 32", len(frame))
	}
	if l.fetchRaw == nil {
		return nil, fmt.Errorf("no block fetcher wired for hashblock notifications")
	}
	rev := make([]byte, 32)
	for i, c := range frame {
		rev[31-i] = c
	}
	fetchCtx, cancel := context.WithTimeout(ctx, hashblockFetchTimeout)
	defer cancel()
	return l.fetchRaw(fetchCtx, hex.EncodeToString(rev))
}
