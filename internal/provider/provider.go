package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/easylayer/blockchain-provider/internal/network"
	"github.com/easylayer/blockchain-provider/internal/transport"
	"github.com/easylayer/blockchain-provider/pkg/common/errs"
	"github.com/easylayer/blockchain-provider/pkg/common/logger"
	"github.com/easylayer/blockchain-provider/pkg/retry"
)

// ErrNoEligibleNodes is returned when every configured node is blacklisted
// or rejected the operation.
var ErrNoEligibleNodes = errors.New("no eligible nodes for operation")

type Options struct {
	// VerifyMerkle recomputes Merkle roots on fetched blocks that carry
	// transaction data and rejects mismatches.
	VerifyMerkle bool
	// RetryAttempts is the number of full failover passes before giving up.
	RetryAttempts int
	RetryInterval time.Duration
	// HealthcheckInterval drives the background monitor started by
	// StartMonitoring.
	HealthcheckInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 2
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 2 * time.Second
	}
	if o.HealthcheckInterval <= 0 {
		o.HealthcheckInterval = 30 * time.Second
	}
	return o
}

// Provider multiplexes queries over an ordered list of node transports.
// Earlier nodes are preferred; later ones are failover targets.
type Provider struct {
	nodes []*Node
	net   network.Params
	opts  Options
}

func New(p network.Params, opts Options, transports ...transport.Transport) (*Provider, error) {
	if len(transports) == 0 {
		return nil, errors.New("provider needs at least one transport")
	}
	nodes := make([]*Node, len(transports))
	for i, t := range transports {
		nodes[i] = newNode(t)
	}
	return &Provider{nodes: nodes, net: p, opts: opts.withDefaults()}, nil
}

// Network returns the network descriptor the provider operates on.
func (p *Provider) Network() network.Params { return p.net }

// Nodes exposes the node list for inspection (state reporting, CLI output).
func (p *Provider) Nodes() []*Node { return p.nodes }

// Connect brings up every transport; it succeeds when at least one node is
// reachable, recording failures on the rest.
func (p *Provider) Connect(ctx context.Context) error {
	connected := 0
	merr := &errs.MultiError{}
	for _, n := range p.nodes {
		if err := n.Transport.Connect(ctx); err != nil {
			n.markFailure()
			merr.Add(err)
			continue
		}
		n.markSuccess()
		connected++
	}
	if connected == 0 {
		return fmt.Errorf("no node reachable: %w", merr.ErrorOrNil())
	}
	logger.Info("Provider connected", "nodes", len(p.nodes), "reachable", connected)
	return nil
}

// Disconnect tears down every transport. Idempotent.
func (p *Provider) Disconnect(ctx context.Context) error {
	merr := &errs.MultiError{}
	for _, n := range p.nodes {
		if err := n.Transport.Disconnect(ctx); err != nil {
			merr.Add(err)
		}
	}
	return merr.ErrorOrNil()
}

// execute runs op against the first node that accepts it, walking the
// ordered list. Transport-level failures mark the node and move on; an
// UnsupportedOperationError skips the node without penalty; any other error
// is the node's authoritative answer and propagates.
func (p *Provider) execute(ctx context.Context, op func(transport.Transport) error) error {
	var lastErr error
	tried := 0
	for _, n := range p.nodes {
		if !n.eligible() {
			continue
		}
		tried++
		err := op(n.Transport)
		if err == nil {
			n.markSuccess()
			return nil
		}
		var unsupported *errs.UnsupportedOperationError
		if errors.As(err, &unsupported) {
			lastErr = err
			continue
		}
		if errs.IsConnection(err) || errs.IsTimeout(err) || errors.Is(err, errs.ErrDisconnecting) {
			n.markFailure()
			lastErr = err
			continue
		}
		return err
	}
	if tried == 0 {
		return ErrNoEligibleNodes
	}
	return lastErr
}

// executeWithRetry wraps execute in constant-interval retry passes, so a
// transient full outage does not immediately fail the caller.
func (p *Provider) executeWithRetry(ctx context.Context, op func(transport.Transport) error) error {
	return retry.Constant(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.execute(ctx, op)
	}, p.opts.RetryInterval, p.opts.RetryAttempts)
}

// StartMonitoring probes every node periodically until ctx is cancelled,
// recovering nodes that answer and penalizing ones that do not.
func (p *Provider) StartMonitoring(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.opts.HealthcheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, n := range p.nodes {
					if n.Transport.Healthcheck(ctx) {
						n.markSuccess()
					} else {
						n.markFailure()
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SubscribeToNewBlocks subscribes on the first node that supports push
// delivery.
func (p *Provider) SubscribeToNewBlocks(onBlock transport.BlockHandler, onError transport.ErrorHandler) (transport.Subscription, error) {
	merr := &errs.MultiError{}
	for _, n := range p.nodes {
		if !n.eligible() {
			continue
		}
		sub, err := n.Transport.SubscribeToNewBlocks(onBlock, onError)
		if err != nil {
			merr.Add(err)
			continue
		}
		return sub, nil
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return nil, ErrNoEligibleNodes
}
