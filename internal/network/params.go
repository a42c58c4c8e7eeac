// Package network describes the consensus-level traits of a
// Bitcoin-protocol-compatible network that the codec and transports need:
// feature flags, currency precision, wire magic and difficulty bounds.
package network

import "math/big"

// Params is the network descriptor handed to the codec and both transports.
type Params struct {
	Network          string // "bitcoin", "testnet", "litecoin", ...
	HasSegWit        bool
	HasTaproot       bool
	HasRBF           bool
	CurrencyDecimals int32 // 8 for BTC-family chains
	MagicBytes       [4]byte
	DefaultPort      uint16
	GenesisHash      string // display byte-order hex
	// MaxTarget is the highest allowed proof-of-work target; difficulty is
	// MaxTarget/target.
	MaxTarget *big.Int
}

var btcMaxTarget = mustTarget("00000000ffff0000000000000000000000000000000000000000000000000000")

// Mainnet returns the descriptor for the Bitcoin main network.
func Mainnet() Params {
	return Params{
		Network:          "bitcoin",
		HasSegWit:        true,
		HasTaproot:       true,
		HasRBF:           true,
		CurrencyDecimals: 8,
		MagicBytes:       [4]byte{0xf9, 0xbe, 0xb4, 0xd9},
		DefaultPort:      8333,
		GenesisHash:      "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f",
		MaxTarget:        btcMaxTarget,
	}
}

// Testnet returns the descriptor for the Bitcoin test network (testnet3).
func Testnet() Params {
	return Params{
		Network:          "testnet",
		HasSegWit:        true,
		HasTaproot:       true,
		HasRBF:           true,
		CurrencyDecimals: 8,
		MagicBytes:       [4]byte{0x0b, 0x11, 0x09, 0x07},
		DefaultPort:      18333,
		GenesisHash:      "000000000933ea01ad0ee984209779baaec3ced90fa3f408719526f8d77f4943",
		MaxTarget:        btcMaxTarget,
	}
}

// Regtest returns the descriptor for a local regression-test network.
func Regtest() Params {
	return Params{
		Network:          "regtest",
		HasSegWit:        true,
		HasTaproot:       true,
		HasRBF:           true,
		CurrencyDecimals: 8,
		MagicBytes:       [4]byte{0xfa, 0xbf, 0xb5, 0xda},
		DefaultPort:      18444,
		GenesisHash:      "0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206",
		MaxTarget:        mustTarget("7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	}
}

// ByName resolves a descriptor from its configured name. Unknown names fall
// back to mainnet semantics with the given name kept for logging.
func ByName(name string) Params {
	switch name {
	case "testnet", "testnet3":
		return Testnet()
	case "regtest":
		return Regtest()
	case "", "bitcoin", "mainnet":
		return Mainnet()
	default:
		p := Mainnet()
		p.Network = name
		return p
	}
}

func mustTarget(hexStr string) *big.Int {
	n, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		panic("network: bad target constant " + hexStr)
	}
	return n
}
