// Package universal holds the transport-agnostic block and transaction
// model. Both transports normalize their outputs into these types, so the
// rest of the application never sees JSON-RPC or wire-level shapes.
package universal

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Block is the normalized block representation.
//
// Exactly one of TxIDs and Txs is populated, depending on the verbosity the
// block was fetched with. Hex is set only when the block was reconstructed
// from raw bytes.
type Block struct {
	Hash         string  `json:"hash"`
	Height       *uint32 `json:"height,omitempty"`
	StrippedSize uint32  `json:"strippedsize"`
	Size         uint32  `json:"size"`
	Weight       uint64  `json:"weight"`
	VSize        uint32  `json:"vsize,omitempty"`
	Version      int32   `json:"version"`
	VersionHex   string  `json:"versionHex,omitempty"`
	MerkleRoot   string  `json:"merkleroot"`
	Time         uint32  `json:"time"`
	MedianTime   uint32  `json:"mediantime,omitempty"`
	Nonce        uint32  `json:"nonce"`
	Bits         string  `json:"bits"`
	// Difficulty is a decimal integer string; it can exceed the 64-bit range.
	Difficulty        string         `json:"difficulty,omitempty"`
	ChainWork         string         `json:"chainwork,omitempty"`
	PreviousBlockHash string         `json:"previousblockhash,omitempty"`
	NextBlockHash     string         `json:"nextblockhash,omitempty"`
	TxIDs             []string       `json:"-"`
	Txs               []*Transaction `json:"-"`
	Hex               string         `json:"hex,omitempty"`
	NTx               uint32         `json:"nTx"`
}

// HeightValue returns the block height or 0 when it is not yet known.
func (b *Block) HeightValue() uint32 {
	if b.Height == nil {
		return 0
	}
	return *b.Height
}

// SetHeight fills in the height after the fact, e.g. from the chain tracker.
func (b *Block) SetHeight(h uint32) {
	b.Height = &h
}

// Transaction is the normalized transaction representation.
type Transaction struct {
	TxID     string `json:"txid"`
	Hash     string `json:"hash,omitempty"` // witness hash
	WTxID    string `json:"wtxid,omitempty"`
	Version  int32  `json:"version"`
	Size     uint32 `json:"size"`
	VSize    uint32 `json:"vsize"`
	Weight   uint64 `json:"weight"`
	LockTime uint32 `json:"locktime"`
	Vin      []Vin  `json:"vin"`
	Vout     []Vout `json:"vout"`

	BlockHash string `json:"blockhash,omitempty"`
	Time      int64  `json:"time,omitempty"`
	BlockTime int64  `json:"blocktime,omitempty"`
	// Fee is in the smallest currency unit (satoshis).
	Fee               int64    `json:"fee,omitempty"`
	Depends           []string `json:"depends,omitempty"`
	SpentBy           []string `json:"spentby,omitempty"`
	BIP125Replaceable *bool    `json:"bip125-replaceable,omitempty"`
	Hex               string   `json:"hex,omitempty"`
}

// IsCoinbase reports whether the transaction is a coinbase transaction.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Vin) == 1 && t.Vin[0].Coinbase != ""
}

// Vin is a transaction input. A coinbase input has Coinbase set and carries
// no TxID/Vout reference; a regular input has TxID, Vout and ScriptSig.
type Vin struct {
	Coinbase  string     `json:"coinbase,omitempty"`
	TxID      string     `json:"txid,omitempty"`
	Vout      uint32     `json:"vout"`
	ScriptSig *ScriptSig `json:"scriptSig,omitempty"`
	Sequence  uint32     `json:"sequence"`
	Witness   []string   `json:"txinwitness,omitempty"`
}

// Vout is a transaction output. Value is denominated in whole coins
// (satoshis / 10^decimals).
type Vout struct {
	Value        decimal.Decimal `json:"value"`
	N            uint32          `json:"n"`
	ScriptPubKey ScriptPubKey    `json:"scriptPubKey"`
}

type ScriptSig struct {
	Asm string `json:"asm"`
	Hex string `json:"hex"`
}

type ScriptPubKey struct {
	Asm       string   `json:"asm"`
	Hex       string   `json:"hex"`
	Type      string   `json:"type"`
	Addresses []string `json:"addresses,omitempty"`
}

// BlockStats is the flat aggregate record from getblockstats. All fee fields
// are normalized to the smallest currency unit.
type BlockStats struct {
	BlockHash    string `json:"blockhash"`
	Height       uint32 `json:"height"`
	Time         int64  `json:"time"`
	MedianTime   int64  `json:"mediantime"`
	Txs          uint32 `json:"txs"`
	TotalSize    uint64 `json:"total_size"`
	TotalWeight  uint64 `json:"total_weight"`
	TotalOut     int64  `json:"total_out"`
	TotalFee     int64  `json:"totalfee"`
	AvgFee       int64  `json:"avgfee"`
	AvgFeeRate   int64  `json:"avgfeerate"`
	MinFee       int64  `json:"minfee"`
	MaxFee       int64  `json:"maxfee"`
	MedianFee    int64  `json:"medianfee"`
	Subsidy      int64  `json:"subsidy"`
	Ins          uint32 `json:"ins"`
	Outs         uint32 `json:"outs"`
	UTXOIncrease int64  `json:"utxo_increase"`
	UTXOSizeInc  int64  `json:"utxo_size_inc"`
	SegWitTxs    uint32 `json:"swtxs"`
	SegWitSize   uint64 `json:"swtotal_size"`
	SegWitWeight uint64 `json:"swtotal_weight"`
}

// MempoolTransaction is the flat record from getmempoolentry /
// getrawmempool(verbose). Fee fields are in the smallest currency unit.
type MempoolTransaction struct {
	TxID              string   `json:"txid,omitempty"`
	WTxID             string   `json:"wtxid"`
	VSize             uint32   `json:"vsize"`
	Weight            uint64   `json:"weight"`
	Time              int64    `json:"time"`
	Height            uint32   `json:"height"`
	BaseFee           int64    `json:"fee"`
	ModifiedFee       int64    `json:"modifiedfee"`
	AncestorFee       int64    `json:"ancestorfee"`
	DescendantFee     int64    `json:"descendantfee"`
	AncestorCount     uint32   `json:"ancestorcount"`
	AncestorSize      uint64   `json:"ancestorsize"`
	DescendantCount   uint32   `json:"descendantcount"`
	DescendantSize    uint64   `json:"descendantsize"`
	Depends           []string `json:"depends,omitempty"`
	SpentBy           []string `json:"spentby,omitempty"`
	BIP125Replaceable bool     `json:"bip125-replaceable"`
	Unbroadcast       bool     `json:"unbroadcast,omitempty"`
}

// MempoolInfo is the flat record from getmempoolinfo. Fee rates are in the
// smallest currency unit per kvB.
type MempoolInfo struct {
	Loaded        bool   `json:"loaded"`
	Size          uint64 `json:"size"`
	Bytes         uint64 `json:"bytes"`
	Usage         uint64 `json:"usage"`
	MaxMempool    uint64 `json:"maxmempool"`
	MempoolMinFee int64  `json:"mempoolminfee"`
	MinRelayTxFee int64  `json:"minrelaytxfee"`
	FullRBF       bool   `json:"fullrbf,omitempty"`
}

// BlockchainInfo mirrors getblockchaininfo with the fields the application
// consumes.
type BlockchainInfo struct {
	Chain                string      `json:"chain"`
	Blocks               uint64      `json:"blocks"`
	Headers              uint64      `json:"headers"`
	BestBlockHash        string      `json:"bestblockhash"`
	Difficulty           json.Number `json:"difficulty"`
	MedianTime           int64       `json:"mediantime"`
	VerificationProgress float64     `json:"verificationprogress"`
	InitialBlockDownload bool        `json:"initialblockdownload"`
	ChainWork            string      `json:"chainwork"`
	Pruned               bool        `json:"pruned"`
}

// NetworkInfo mirrors getnetworkinfo with the fields the application
// consumes.
type NetworkInfo struct {
	Version         int64  `json:"version"`
	Subversion      string `json:"subversion"`
	ProtocolVersion int64  `json:"protocolversion"`
	Connections     int64  `json:"connections"`
	NetworkActive   bool   `json:"networkactive"`
	RelayFee        int64  `json:"relayfee"` // smallest unit per kvB
}

// SmartFeeEstimate is the normalized estimatesmartfee result.
type SmartFeeEstimate struct {
	FeeRate int64    `json:"feerate"` // smallest unit per kvB, 0 when unavailable
	Errors  []string `json:"errors,omitempty"`
	Blocks  int64    `json:"blocks"`
}
