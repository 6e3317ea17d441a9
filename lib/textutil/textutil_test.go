package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeToken(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{input: "AB12CD", expected: "AB12CD"},
		{input: "  ab12cd Gennady Korotkevich", expected: "AB12CD"},
		{input: "ab-12_cd!", expected: "AB12CD"},
		{input: "", expected: ""},
		{input: "   ", expected: ""},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, NormalizeToken(test.input), test.input)
	}
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "gennadykorotkevich", NormalizeName(" Gennady \n Korotkevich "))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "héllo", Truncate("héllo world", 5))
	require.Equal(t, "short", Truncate("short", 120))
}
