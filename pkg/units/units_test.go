package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"2", 6, "2000000"},
		{"10", 6, "10000000"},
		{"2.5", 6, "2500000"},
		{"0.000001", 6, "1"},
		{"1", 18, "1000000000000000000"},
		{" 3 ", 0, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := ParseUnits(tt.amount, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseUnits_Rejects(t *testing.T) {
	_, err := ParseUnits("abc", 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseUnits("-1", 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseUnits("0.0000001", 6)
	assert.ErrorIs(t, err, ErrTooPrecise)

	_, err = ParseUnits("1", 78)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "2", FormatUnits(big.NewInt(2_000_000), 6))
	assert.Equal(t, "2.5", FormatUnits(big.NewInt(2_500_000), 6))
	assert.Equal(t, "0.000001", FormatUnits(big.NewInt(1), 6))
	assert.Equal(t, "0", FormatUnits(nil, 6))
}

func TestParseBaseUnits(t *testing.T) {
	v, err := ParseBaseUnits("2000000")
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), v.Int64())

	_, err = ParseBaseUnits("1.5")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
