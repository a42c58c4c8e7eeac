// Package provider selects among configured node transports, tracks their
// health, fails queries over between them and verifies block integrity
// before handing results to callers.
package provider

import (
	"sync"
	"time"

	"github.com/easylayer/blockchain-provider/internal/transport"
	"github.com/easylayer/blockchain-provider/pkg/common/logger"
)

type State string

const (
	StateHealthy     State = "healthy"
	StateDegraded    State = "degraded"
	StateUnhealthy   State = "unhealthy"
	StateBlacklisted State = "blacklisted"
)

const (
	degradedThreshold  = 1
	unhealthyThreshold = 3
	blacklistThreshold = 5
	blacklistCooldown  = 30 * time.Second
)

// Node wraps a transport with failure accounting. Consecutive failures walk
// it through degraded and unhealthy into a timed blacklist; one success
// resets it to healthy.
type Node struct {
	Transport transport.Transport

	mu            sync.Mutex
	failures      int
	blacklistedAt time.Time
}

func newNode(t transport.Transport) *Node {
	return &Node{Transport: t}
}

func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stateLocked()
}

func (n *Node) stateLocked() State {
	switch {
	case n.failures >= blacklistThreshold:
		if time.Since(n.blacklistedAt) > blacklistCooldown {
			return StateUnhealthy // cooldown over, eligible again
		}
		return StateBlacklisted
	case n.failures >= unhealthyThreshold:
		return StateUnhealthy
	case n.failures >= degradedThreshold:
		return StateDegraded
	default:
		return StateHealthy
	}
}

// eligible reports whether the node may serve requests right now.
func (n *Node) eligible() bool {
	return n.State() != StateBlacklisted
}

func (n *Node) markSuccess() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		logger.Debug("Node recovered", "endpoint", n.Transport.Endpoint())
	}
	n.failures = 0
}

func (n *Node) markFailure() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures++
	state := n.stateLocked()
	if n.failures == blacklistThreshold {
		n.blacklistedAt = time.Now()
	}
	logger.Warn("Node failure recorded",
		"endpoint", n.Transport.Endpoint(), "failures", n.failures, "state", state)
}
