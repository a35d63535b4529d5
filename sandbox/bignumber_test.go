// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBigNumberArithmetic(t *testing.T) {
	require := require.New(t)

	a := newBigNumber("0.1")
	b := newBigNumber("0.2")
	require.Equal("0.3", a.plus(b).String())
	require.Equal("-0.1", a.minus(b).String())
	require.Equal("0.02", a.times(b).String())
	require.Equal("0.5", a.dividedBy(b).String())
	require.Equal("0.33333333333333333333", newBigNumber("1").dividedBy(newBigNumber("3")).String())

	require.True(newBigNumber("1").dividedBy(newBigNumber("0")).nan)
	require.True(newBigNumber("abc").nan)
	require.True(newBigNumber("abc").plus(a).nan)
	require.Equal("NaN", nan.String())
	require.Equal("8", newBigNumber("2").pow(newBigNumber("3")).String())
	require.True(newBigNumber("2").pow(newBigNumber("0.5")).nan)
}

func TestBigNumberRounding(t *testing.T) {
	tests := []struct {
		value    string
		mode     int
		expected string
	}{
		{"1.235", RoundUp, "1.24"},
		{"-1.231", RoundUp, "-1.24"},
		{"1.239", RoundDown, "1.23"},
		{"-1.239", RoundDown, "-1.23"},
		{"-1.231", RoundCeil, "-1.23"},
		{"1.231", RoundFloor, "1.23"},
		{"1.235", RoundHalfUp, "1.24"},
		{"1.235", RoundHalfDown, "1.23"},
		{"1.2351", RoundHalfDown, "1.24"},
		{"1.245", RoundHalfEven, "1.24"},
		{"1.255", RoundHalfEven, "1.26"},
	}
	for _, test := range tests {
		n := newBigNumber(test.value).round(2, test.mode)
		require.Equal(t, test.expected, n.String(), "%s mode %d", test.value, test.mode)
	}
}

func TestBigNumberDecimalPlaces(t *testing.T) {
	require := require.New(t)

	require.Equal(0, newBigNumber("100").decimalPlaces())
	require.Equal(1, newBigNumber("1.50").decimalPlaces())
	require.Equal(3, newBigNumber("0.001").decimalPlaces())
	require.True(newBigNumber("3.000").isInteger())
	require.False(newBigNumber("3.001").isInteger())
}
