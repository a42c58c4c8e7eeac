// Package config loads and validates the application configuration from
// YAML. Durations are written in Go notation ("30s", "500ms").
package config

import (
	"encoding/hex"
	"fmt"

	"github.com/easylayer/blockchain-provider/internal/network"
)

type Config struct {
	Network     NetworkConfig     `yaml:"network"`
	RPC         []RPCNodeConfig   `yaml:"rpc"`
	P2P         *P2PConfig        `yaml:"p2p,omitempty"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Provider    ProviderConfig    `yaml:"provider"`
	Blockstore  BlockstoreConfig  `yaml:"blockstore"`
	Events      EventsConfig      `yaml:"events"`
}

// NetworkConfig names a built-in network descriptor and optionally
// overrides individual traits (other BTC-family chains differ in decimals,
// magic and feature flags).
type NetworkConfig struct {
	Name             string  `yaml:"name" validate:"required"`
	HasSegWit        *bool   `yaml:"has_segwit,omitempty"`
	HasTaproot       *bool   `yaml:"has_taproot,omitempty"`
	HasRBF           *bool   `yaml:"has_rbf,omitempty"`
	CurrencyDecimals *int32  `yaml:"native_currency_decimals,omitempty"`
	MagicBytes       string  `yaml:"magic_bytes,omitempty"` // 8 hex chars
	DefaultPort      *uint16 `yaml:"default_port,omitempty"`
}

// Params resolves the descriptor with overrides applied.
func (n NetworkConfig) Params() (network.Params, error) {
	p := network.ByName(n.Name)
	if n.HasSegWit != nil {
		p.HasSegWit = *n.HasSegWit
	}
	if n.HasTaproot != nil {
		p.HasTaproot = *n.HasTaproot
	}
	if n.HasRBF != nil {
		p.HasRBF = *n.HasRBF
	}
	if n.CurrencyDecimals != nil {
		p.CurrencyDecimals = *n.CurrencyDecimals
	}
	if n.MagicBytes != "" {
		raw, err := hex.DecodeString(n.MagicBytes)
		if err != nil || len(raw) != 4 {
			return p, fmt.Errorf("magic_bytes must be 8 hex chars, got %q", n.MagicBytes)
		}
		copy(p.MagicBytes[:], raw)
	}
	if n.DefaultPort != nil {
		p.DefaultPort = *n.DefaultPort
	}
	return p, nil
}

type RPCNodeConfig struct {
	BaseURL         string   `yaml:"base_url"         validate:"required,url"`
	ResponseTimeout Duration `yaml:"response_timeout"`
	PushEndpoint    string   `yaml:"push_endpoint,omitempty"`
}

type P2PConfig struct {
	Peers               []string `yaml:"peers"              validate:"min=1,dive,hostname_port"`
	MaxPeers            int      `yaml:"max_peers"`
	ConnectionTimeout   Duration `yaml:"connection_timeout"`
	MaxHeight           uint32   `yaml:"max_height"`
	HeaderSyncEnabled   bool     `yaml:"header_sync_enabled"`
	HeaderSyncBatchSize int      `yaml:"header_sync_batch_size" validate:"gte=0"`
}

type RateLimiterConfig struct {
	MaxConcurrentRequests int      `yaml:"max_concurrent_requests" validate:"gte=0"`
	MaxBatchSize          int      `yaml:"max_batch_size"          validate:"gte=0"`
	RequestDelay          Duration `yaml:"request_delay"`
}

type ProviderConfig struct {
	VerifyMerkle        bool     `yaml:"verify_merkle"`
	RetryAttempts       int      `yaml:"retry_attempts"       validate:"gte=0"`
	RetryInterval       Duration `yaml:"retry_interval"`
	HealthcheckInterval Duration `yaml:"healthcheck_interval"`
}

type BlockstoreConfig struct {
	Path string `yaml:"path"`
}

type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NatsURL       string `yaml:"nats_url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}
