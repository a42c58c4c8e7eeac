// Package events forwards new-block notifications to a NATS message queue
// so downstream consumers (indexers, accounting, alerting) can react
// without holding a node connection themselves.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/easylayer/blockchain-provider/internal/universal"
	"github.com/easylayer/blockchain-provider/pkg/common/logger"
)

const (
	SubjectNewBlock = "blocks.new"
	SubjectReorg    = "blocks.reorg"
)

// BlockEvent is the envelope published for every new block.
type BlockEvent struct {
	Network   string  `json:"network"`
	Hash      string  `json:"hash"`
	Height    *uint32 `json:"height,omitempty"`
	Time      uint32  `json:"time"`
	NTx       uint32  `json:"nTx"`
	Timestamp int64   `json:"timestamp"`
}

// ReorgEvent is published when a fork point was located and the stale
// branch dropped.
type ReorgEvent struct {
	Network    string `json:"network"`
	ForkHeight uint32 `json:"fork_height"`
	ForkHash   string `json:"fork_hash"`
	Timestamp  int64  `json:"timestamp"`
}

type Emitter interface {
	EmitBlock(network string, block *universal.Block) error
	EmitReorg(network string, forkHeight uint32, forkHash string) error
	Close()
}

type emitter struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewEmitter wraps an established NATS connection. subjectPrefix namespaces
// the subjects ("myapp" -> "myapp.blocks.new"); empty means no prefix.
func NewEmitter(conn *nats.Conn, subjectPrefix string) Emitter {
	return &emitter{conn: conn, subjectPrefix: subjectPrefix}
}

func (e *emitter) subject(s string) string {
	if e.subjectPrefix == "" {
		return s
	}
	return e.subjectPrefix + "." + s
}

func (e *emitter) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.conn.Publish(e.subject(subject), data)
}

func (e *emitter) EmitBlock(network string, block *universal.Block) error {
	return e.publish(SubjectNewBlock, BlockEvent{
		Network:   network,
		Hash:      block.Hash,
		Height:    block.Height,
		Time:      block.Time,
		NTx:       block.NTx,
		Timestamp: time.Now().UTC().Unix(),
	})
}

func (e *emitter) EmitReorg(network string, forkHeight uint32, forkHash string) error {
	return e.publish(SubjectReorg, ReorgEvent{
		Network:    network,
		ForkHeight: forkHeight,
		ForkHash:   forkHash,
		Timestamp:  time.Now().UTC().Unix(),
	})
}

func (e *emitter) Close() {
	if err := e.conn.Drain(); err != nil {
		logger.Warn("NATS drain failed", "err", err)
		e.conn.Close()
	}
}

// Connect dials NATS with the reconnect policy the emitter expects: retry
// forever, log transitions.
func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	return nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("Disconnected from NATS", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
}
