// Package errs defines the error taxonomy shared by the codec, the
// transports and the provider layer. Callers are expected to branch with
// errors.As / errors.Is rather than string matching.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// ErrDisconnecting rejects operations that were still pending when a
// transport began tearing down. Pending calls must fail with this rather
// than hang.
var ErrDisconnecting = errors.New("transport is disconnecting")

// DecodeError reports malformed binary input to the codec. It is never
// recovered automatically.
type DecodeError struct {
	Msg    string
	Offset int // byte offset where decoding failed, -1 when unknown
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("decode error at byte %d: %s", e.Offset, e.Msg)
	}
	return "decode error: " + e.Msg
}

// NewDecodeError builds a DecodeError without offset information.
func NewDecodeError(format string, args ...any) *DecodeError {
	return &DecodeError{Msg: fmt.Sprintf(format, args...), Offset: -1}
}

// ConnectionError reports that a transport cannot reach its node or peer.
// The endpoint is included so operators and failover logic can act on it.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError is surfaced distinctly from ConnectionError so callers can
// tell "slow" from "down".
type TimeoutError struct {
	Op       string
	Endpoint string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s to %s timed out after %s", e.Op, e.Endpoint, e.After)
}

// MerkleVerificationError reports a payload integrity failure. It always
// names both roots and is never silently swallowed.
type MerkleVerificationError struct {
	BlockHash string
	Expected  string
	Computed  string
}

func (e *MerkleVerificationError) Error() string {
	return fmt.Sprintf("merkle root mismatch for block %s: expected %s, computed %s",
		e.BlockHash, e.Expected, e.Computed)
}

// UnsupportedOperationError rejects operations outside a transport's
// capability, e.g. mempool queries over P2P.
type UnsupportedOperationError struct {
	Op        string
	Transport string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("operation %q is not supported by the %s transport", e.Op, e.Transport)
}

// IsTimeout reports whether err carries a TimeoutError anywhere in its chain.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsConnection reports whether err carries a ConnectionError in its chain.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
