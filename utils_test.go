package ivxp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidAddress(t *testing.T) {
	assert.True(t, IsValidAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	assert.True(t, IsValidAddress(ZeroAddress))

	assert.False(t, IsValidAddress(""))
	assert.False(t, IsValidAddress("833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	assert.False(t, IsValidAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA0291"))
	assert.False(t, IsValidAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA029133"))
	assert.False(t, IsValidAddress("0xZZ3589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
}

func TestIsValidPaymentAddress(t *testing.T) {
	assert.True(t, IsValidPaymentAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	assert.False(t, IsValidPaymentAddress(ZeroAddress))
	assert.False(t, IsValidPaymentAddress(strings.ToUpper(ZeroAddress)))
}

func TestIsValidTxHash(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)
	assert.True(t, IsValidTxHash(hash))
	assert.True(t, IsValidTxHash("0x"+strings.ToUpper(hash[2:])), "mixed case is valid")

	assert.False(t, IsValidTxHash(""))
	assert.False(t, IsValidTxHash(hash[:64]))
	assert.False(t, IsValidTxHash(hash+"ff"))
	assert.False(t, IsValidTxHash(strings.Repeat("ab", 32)))
}

func TestIsValidOrderID(t *testing.T) {
	assert.True(t, IsValidOrderID("ivxp-550e8400-e29b-41d4-a716-446655440000"))
	assert.True(t, IsValidOrderID("legacy-id"))

	assert.False(t, IsValidOrderID(""))
	assert.False(t, IsValidOrderID("ivxp-abc|def"))
}

func TestIsValidContentHash(t *testing.T) {
	assert.True(t, IsValidContentHash(strings.Repeat("a1", 32)))
	assert.False(t, IsValidContentHash(strings.Repeat("A1", 32)))
	assert.False(t, IsValidContentHash(strings.Repeat("a1", 31)))
	assert.False(t, IsValidContentHash("0x"+strings.Repeat("a1", 31)))
}

func TestFormatUSDC(t *testing.T) {
	assert.Equal(t, "10.500000", FormatUSDC(10.5))
	assert.Equal(t, "0.000001", FormatUSDC(0.000001))
	assert.Equal(t, "0.000000", FormatUSDC(0))
	assert.Equal(t, "1000000.000000", FormatUSDC(1_000_000))
}

func TestToMicroUSDC(t *testing.T) {
	cases := []struct {
		input string
		want  int64
	}{
		{"10.500000", 10_500_000},
		{"0.000001", 1},
		{"0", 0},
		{"0.1", 100_000},
	}
	for _, tc := range cases {
		got, err := ToMicroUSDC(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}

	_, err := ToMicroUSDC("not-a-number")
	assert.Error(t, err)
}

func TestIsValidUSDCAmount(t *testing.T) {
	assert.True(t, IsValidUSDCAmount("10.500000"))
	assert.True(t, IsValidUSDCAmount("0"))
	assert.True(t, IsValidUSDCAmount("0.1"))

	assert.False(t, IsValidUSDCAmount("10.1234567"), "more than 6 fractional digits")
	assert.False(t, IsValidUSDCAmount("-1"))
	assert.False(t, IsValidUSDCAmount("NaN"))
	assert.False(t, IsValidUSDCAmount("Inf"))
	assert.False(t, IsValidUSDCAmount("abc"))
}
