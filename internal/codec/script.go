package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Script opcode values the classifier and disassembler care about.
const (
	op0             = 0x00
	opPushData1     = 0x4c
	opPushData2     = 0x4d
	opPushData4     = 0x4e
	op1Negate       = 0x4f
	op1             = 0x51
	op16            = 0x60
	opReturn        = 0x6a
	opDup           = 0x76
	opEqual         = 0x87
	opEqualVerify   = 0x88
	opHash160       = 0xa9
	opCheckSig      = 0xac
	opCheckMultiSig = 0xae
)

// Script type names follow the verbose RPC vocabulary so universal objects
// look the same regardless of which transport produced them.
const (
	ScriptTypeP2PKH       = "pubkeyhash"
	ScriptTypeP2SH        = "scripthash"
	ScriptTypeP2WPKH      = "witness_v0_keyhash"
	ScriptTypeP2WSH       = "witness_v0_scripthash"
	ScriptTypeP2TR        = "witness_v1_taproot"
	ScriptTypePubKey      = "pubkey"
	ScriptTypeMultisig    = "multisig"
	ScriptTypeNullData    = "nulldata"
	ScriptTypeNonStandard = "nonstandard"
	ScriptTypeUnknown     = "unknown"
)

// ClassifyScript pattern-matches the fixed byte layouts of standard output
// scripts. Anything that disassembles but matches no template is
// "nonstandard"; anything that does not disassemble at all is "unknown".
func ClassifyScript(script []byte) string {
	n := len(script)
	switch {
	case n == 25 && script[0] == opDup && script[1] == opHash160 && script[2] == 20 &&
		script[23] == opEqualVerify && script[24] == opCheckSig:
		return ScriptTypeP2PKH
	case n == 23 && script[0] == opHash160 && script[1] == 20 && script[22] == opEqual:
		return ScriptTypeP2SH
	case n == 22 && script[0] == op0 && script[1] == 20:
		return ScriptTypeP2WPKH
	case n == 34 && script[0] == op0 && script[1] == 32:
		return ScriptTypeP2WSH
	case n == 34 && script[0] == op1 && script[1] == 32:
		return ScriptTypeP2TR
	case (n == 35 && script[0] == 33 || n == 67 && script[0] == 65) && script[n-1] == opCheckSig:
		return ScriptTypePubKey
	case n > 0 && script[0] == opReturn:
		return ScriptTypeNullData
	case n > 0 && script[n-1] == opCheckMultiSig:
		return ScriptTypeMultisig
	}
	if _, err := DisassembleScript(script); err != nil {
		return ScriptTypeUnknown
	}
	return ScriptTypeNonStandard
}

// DisassembleScript renders a script as space-separated opcode/push tokens.
// It fails on truncated pushes; callers treat that as a best-effort miss and
// fall back to an empty ASM string rather than failing the whole parse.
func DisassembleScript(script []byte) (string, error) {
	var sb strings.Builder
	i := 0
	for i < len(script) {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		op := script[i]
		i++

		switch {
		case op == op0:
			sb.WriteString("0")
		case op >= 1 && op < opPushData1:
			n := int(op)
			if i+n > len(script) {
				return "", fmt.Errorf("script: truncated push of %d bytes at %d", n, i-1)
			}
			sb.WriteString(hex.EncodeToString(script[i : i+n]))
			i += n
		case op == opPushData1 || op == opPushData2 || op == opPushData4:
			width := map[byte]int{opPushData1: 1, opPushData2: 2, opPushData4: 4}[op]
			if i+width > len(script) {
				return "", fmt.Errorf("script: truncated pushdata length at %d", i-1)
			}
			n := 0
			for j := width - 1; j >= 0; j-- {
				n = n<<8 | int(script[i+j])
			}
			i += width
			if i+n > len(script) {
				return "", fmt.Errorf("script: truncated pushdata of %d bytes at %d", n, i)
			}
			sb.WriteString(hex.EncodeToString(script[i : i+n]))
			i += n
		case op == op1Negate:
			sb.WriteString("-1")
		case op >= op1 && op <= op16:
			fmt.Fprintf(&sb, "%d", op-op1+1)
		default:
			name, ok := opcodeNames[op]
			if !ok {
				name = fmt.Sprintf("OP_UNKNOWN_%#02x", op)
			}
			sb.WriteString(name)
		}
	}
	return sb.String(), nil
}

// disassembleOrEmpty is the lenient variant used while building universal
// objects: ASM is informational only and must not fail the parse.
func disassembleOrEmpty(script []byte) string {
	asm, err := DisassembleScript(script)
	if err != nil {
		return ""
	}
	return asm
}

var opcodeNames = map[byte]string{
	0x61: "OP_NOP",
	0x63: "OP_IF",
	0x64: "OP_NOTIF",
	0x67: "OP_ELSE",
	0x68: "OP_ENDIF",
	0x69: "OP_VERIFY",
	0x6a: "OP_RETURN",
	0x6b: "OP_TOALTSTACK",
	0x6c: "OP_FROMALTSTACK",
	0x74: "OP_DEPTH",
	0x75: "OP_DROP",
	0x76: "OP_DUP",
	0x7c: "OP_SWAP",
	0x82: "OP_SIZE",
	0x87: "OP_EQUAL",
	0x88: "OP_EQUALVERIFY",
	0x8b: "OP_1ADD",
	0x8c: "OP_1SUB",
	0x93: "OP_ADD",
	0x94: "OP_SUB",
	0x9a: "OP_BOOLAND",
	0x9b: "OP_BOOLOR",
	0xa6: "OP_RIPEMD160",
	0xa7: "OP_SHA1",
	0xa8: "OP_SHA256",
	0xa9: "OP_HASH160",
	0xaa: "OP_HASH256",
	0xab: "OP_CODESEPARATOR",
	0xac: "OP_CHECKSIG",
	0xad: "OP_CHECKSIGVERIFY",
	0xae: "OP_CHECKMULTISIG",
	0xaf: "OP_CHECKMULTISIGVERIFY",
	0xb1: "OP_CHECKLOCKTIMEVERIFY",
	0xb2: "OP_CHECKSEQUENCEVERIFY",
}
