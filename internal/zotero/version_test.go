package zotero

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	testCases := []struct {
		a, b     string
		expected int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0", "1.0.0", 0},
		{"6.999", "7", -1},
		{"7.*", "7.1", 0},
		{"*", "123", 0},
		{"6.0.27", "6.0.3", 1},
		{"1.0.0-beta", "1.0.0", -1},
		{"5.0.96.999", "5.0.96", 1},
		{"4.0", "6.*", -1},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, Compare(tc.a, tc.b), "Compare(%q, %q)", tc.a, tc.b)
	}
}

func TestCheckVersion(t *testing.T) {
	v, err := CheckVersion("6")
	require.NoError(t, err)
	require.Equal(t, "6.*", v)

	v, err = CheckVersion("7")
	require.NoError(t, err)
	require.Equal(t, "7.*", v)

	_, err = CheckVersion("5")
	require.Error(t, err)
	_, err = CheckVersion("")
	require.Error(t, err)
}

func TestCompatible(t *testing.T) {
	testCases := []struct {
		min, max, check string
		expected        bool
	}{
		{"4.0", "6.*", "6.*", true},
		{"4.0", "6.*", "7.*", false},
		{"6.999", "7.*", "7.*", true},
		{"6.999", "7.*", "6.*", true},
		{"7.0", "7.*", "6.*", false},
		{"*", "*", "7.*", true},
		{"*", "6.*", "7.*", false},
		{"5.0", "5.0.96.999", "6.*", false},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, Compatible(tc.min, tc.max, tc.check),
			"Compatible(%q, %q, %q)", tc.min, tc.max, tc.check)
	}
}
