// Package p2p implements the Transport contract by speaking the Bitcoin
// wire protocol directly to a peer: version/verack handshake, getheaders
// header sync, inv/getdata block fetch and ping liveness.
package p2p

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/easylayer/blockchain-provider/internal/codec"
	"github.com/easylayer/blockchain-provider/pkg/common/errs"
)

const (
	protocolVersion = int32(70016)
	userAgent       = "/blockchain-provider:0.1.0/"

	commandSize    = 12
	headerSize     = 24
	maxPayloadSize = 32 * 1024 * 1024 // consensus MAX_SIZE

	// Block inventory type; the witness flag asks the peer for full segwit
	// serialization so wtxids can be recomputed locally.
	invTypeBlock        = uint32(2)
	invWitnessFlag      = uint32(1 << 30)
	invTypeWitnessBlock = invTypeBlock | invWitnessFlag

	// A headers page is capped by the protocol at 2000 entries; a shorter
	// page means the peer has no more to give.
	maxHeadersPerMsg = 2000

	maxLocatorEntries = 32
)

const (
	cmdVersion    = "version"
	cmdVerack     = "verack"
	cmdPing       = "ping"
	cmdPong       = "pong"
	cmdGetHeaders = "getheaders"
	cmdHeaders    = "headers"
	cmdInv        = "inv"
	cmdGetData    = "getdata"
	cmdBlock      = "block"
)

// checksum is the first four bytes of the double-SHA256 of the payload.
func checksum(payload []byte) [4]byte {
	var c [4]byte
	copy(c[:], chainhash.DoubleHashB(payload)[:4])
	return c
}

// writeMessage frames and writes one wire message:
// magic | command (zero-padded) | payload length | checksum | payload.
func writeMessage(w io.Writer, magic [4]byte, command string, payload []byte) error {
	if len(command) > commandSize {
		return fmt.Errorf("command %q exceeds %d bytes", command, commandSize)
	}
	hdr := make([]byte, headerSize)
	copy(hdr[0:4], magic[:])
	copy(hdr[4:4+commandSize], command)
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(payload)))
	c := checksum(payload)
	copy(hdr[20:24], c[:])

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readMessage reads one framed message, validating magic and checksum.
func readMessage(r io.Reader, magic [4]byte) (string, []byte, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return "", nil, err
	}
	if !bytes.Equal(hdr[0:4], magic[:]) {
		return "", nil, errs.NewDecodeError("wire magic mismatch: got %x", hdr[0:4])
	}
	command := string(bytes.TrimRight(hdr[4:4+commandSize], "\x00"))
	length := binary.LittleEndian.Uint32(hdr[16:20])
	if length > maxPayloadSize {
		return "", nil, errs.NewDecodeError("message %q payload of %d bytes exceeds limit", command, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}
	c := checksum(payload)
	if !bytes.Equal(hdr[20:24], c[:]) {
		return "", nil, errs.NewDecodeError("checksum mismatch on %q message", command)
	}
	return command, payload, nil
}

// --- hash byte-order helpers ---

// internalHash converts a display-order hex hash into wire byte order.
func internalHash(displayHex string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(displayHex)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("bad block hash %q", displayHex)
	}
	for i, b := range raw {
		out[31-i] = b
	}
	return out, nil
}

// --- version handshake ---

type versionInfo struct {
	Protocol    int32
	UserAgent   string
	StartHeight int32
}

func buildVersion(nonce uint64, startHeight int32) []byte {
	buf := make([]byte, 0, 86+len(userAgent))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(protocolVersion))
	buf = binary.LittleEndian.AppendUint64(buf, 0) // services: none
	buf = binary.LittleEndian.AppendUint64(buf, uint64(time.Now().Unix()))
	buf = appendNetAddr(buf) // addr_recv
	buf = appendNetAddr(buf) // addr_from
	buf = binary.LittleEndian.AppendUint64(buf, nonce)
	buf = codec.AppendVarInt(buf, uint64(len(userAgent)))
	buf = append(buf, userAgent...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(startHeight))
	buf = append(buf, 0) // relay: no unsolicited txs
	return buf
}

// appendNetAddr writes the 26-byte address block used inside version
// messages (services + IPv6-mapped zero address + port).
func appendNetAddr(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, 0)
	buf = append(buf, make([]byte, 18)...)
	return buf
}

func parseVersion(payload []byte) (*versionInfo, error) {
	if len(payload) < 80 {
		return nil, errs.NewDecodeError("version payload too short: %d bytes", len(payload))
	}
	info := &versionInfo{
		Protocol: int32(binary.LittleEndian.Uint32(payload[0:4])),
	}
	// services(8) timestamp(8) addr_recv(26) addr_from(26) nonce(8)
	pos := 4 + 8 + 8 + 26 + 26 + 8
	uaLen, n, err := codec.ReadVarInt(payload[pos:])
	if err != nil {
		return nil, err
	}
	pos += n
	if pos+int(uaLen)+4 > len(payload) {
		return nil, errs.NewDecodeError("version payload truncated in user agent")
	}
	info.UserAgent = string(payload[pos : pos+int(uaLen)])
	pos += int(uaLen)
	info.StartHeight = int32(binary.LittleEndian.Uint32(payload[pos : pos+4]))
	return info, nil
}

// --- ping / pong ---

func buildPing(nonce uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, nonce)
}

func parseNonce(payload []byte) (uint64, error) {
	if len(payload) < 8 {
		return 0, errs.NewDecodeError("ping payload too short: %d bytes", len(payload))
	}
	return binary.LittleEndian.Uint64(payload[:8]), nil
}

// --- getheaders / headers ---

// buildGetHeaders builds a getheaders payload from locator hashes in
// display order (newest first) and an all-zero stop hash.
func buildGetHeaders(locator []string) ([]byte, error) {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(protocolVersion))
	buf = codec.AppendVarInt(buf, uint64(len(locator)))
	for _, h := range locator {
		raw, err := internalHash(h)
		if err != nil {
			return nil, err
		}
		buf = append(buf, raw[:]...)
	}
	buf = append(buf, make([]byte, 32)...) // hash_stop: as many as possible
	return buf, nil
}

// parseHeaders returns the raw 80-byte headers from a headers payload; each
// entry's trailing transaction count varint is always zero on the wire.
func parseHeaders(payload []byte) ([][]byte, error) {
	count, pos, err := codec.ReadVarInt(payload)
	if err != nil {
		return nil, err
	}
	if count > maxHeadersPerMsg {
		return nil, errs.NewDecodeError("headers message carries %d entries, max is %d", count, maxHeadersPerMsg)
	}
	headers := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos+codec.HeaderSize > len(payload) {
			return nil, errs.NewDecodeError("headers payload truncated at entry %d", i)
		}
		headers = append(headers, payload[pos:pos+codec.HeaderSize])
		pos += codec.HeaderSize
		_, n, err := codec.ReadVarInt(payload[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
	}
	if pos != len(payload) {
		return nil, errs.NewDecodeError("%d trailing bytes after headers payload", len(payload)-pos)
	}
	return headers, nil
}

// --- inv / getdata ---

type invVector struct {
	Type uint32
	Hash [32]byte // wire byte order
}

// DisplayHash returns the hash in display order.
func (v invVector) DisplayHash() string {
	var rev [32]byte
	for i, b := range v.Hash {
		rev[31-i] = b
	}
	return hex.EncodeToString(rev[:])
}

func buildInvPayload(vectors []invVector) []byte {
	buf := codec.AppendVarInt(nil, uint64(len(vectors)))
	for _, v := range vectors {
		buf = binary.LittleEndian.AppendUint32(buf, v.Type)
		buf = append(buf, v.Hash[:]...)
	}
	return buf
}

func parseInvPayload(payload []byte) ([]invVector, error) {
	count, pos, err := codec.ReadVarInt(payload)
	if err != nil {
		return nil, err
	}
	if count > 50000 {
		return nil, errs.NewDecodeError("inv message carries %d entries", count)
	}
	vectors := make([]invVector, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos+36 > len(payload) {
			return nil, errs.NewDecodeError("inv payload truncated at entry %d", i)
		}
		v := invVector{Type: binary.LittleEndian.Uint32(payload[pos : pos+4])}
		copy(v.Hash[:], payload[pos+4:pos+36])
		vectors = append(vectors, v)
		pos += 36
	}
	return vectors, nil
}
