// Package identity normalizes caller identities handed over by the edge
// authenticator before they reach a bounded context.
package identity

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Canonicalize trims raw and rewrites hex wallet addresses to their EIP-55
// checksummed form, so "0xabc..." and "0xABC..." name the same voter. Any
// other identity string is returned trimmed and otherwise untouched.
func Canonicalize(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if common.IsHexAddress(value) {
		return common.HexToAddress(value).Hex()
	}
	return value
}
