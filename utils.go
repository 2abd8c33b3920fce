package ivxp

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	addressRegex    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	txHashRegex     = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	privateKeyRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	contentHashRe   = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// ZeroAddress is never a valid payment target.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// IsValidAddress reports whether s is a 20-byte hex address.
func IsValidAddress(s string) bool {
	return addressRegex.MatchString(s)
}

// IsValidPaymentAddress additionally rejects the zero address.
func IsValidPaymentAddress(s string) bool {
	return IsValidAddress(s) && !strings.EqualFold(s, ZeroAddress)
}

// IsValidTxHash reports whether s is a 32-byte hex transaction hash.
func IsValidTxHash(s string) bool {
	return txHashRegex.MatchString(s)
}

// IsValidPrivateKey reports whether s is 0x followed by 64 hex chars.
func IsValidPrivateKey(s string) bool {
	return privateKeyRegex.MatchString(s)
}

// IsValidContentHash reports whether s is 64 lowercase hex chars.
func IsValidContentHash(s string) bool {
	return contentHashRe.MatchString(s)
}

// IsValidOrderID rejects empty ids and ids containing the pipe character,
// which would break the canonical signed message format.
func IsValidOrderID(id string) bool {
	return id != "" && !strings.Contains(id, "|")
}

// FormatUSDC renders amount as a fixed-point decimal with exactly 6
// fractional digits, the only USDC representation used on the wire.
func FormatUSDC(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 6, 64)
}

// ToMicroUSDC converts a decimal USDC string to integer micro-units.
// Budget comparisons happen in micro-units to avoid float drift.
func ToMicroUSDC(amount string) (int64, error) {
	f, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid USDC amount %q: %w", amount, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid USDC amount %q", amount)
	}
	return int64(math.Round(f * 1e6)), nil
}

// IsValidUSDCAmount reports whether s parses as a non-negative decimal with
// at most 6 fractional digits.
func IsValidUSDCAmount(s string) bool {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) == 2 && len(parts[1]) > 6 {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}
