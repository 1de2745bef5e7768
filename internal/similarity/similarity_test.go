package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"paypal", "paypa1", 1},
		{"amazon", "arnazon", 2},
		{"café", "cafe", 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Levenshtein(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
}

func TestRatioEdgeCases(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("", ""))
	assert.Equal(t, 0.0, Ratio("abc", ""))
	assert.Equal(t, 1.0, Ratio("paypal", "paypal"))
	assert.InDelta(t, 5.0/6.0, Ratio("paypal", "paypa1"), 1e-9)
}

func TestRatioSymmetricAndBounded(t *testing.T) {
	words := []string{"", "a", "paypal", "paypa1", "pay-pal", "google", "g00gle", "microsoft", "rnicrosoft", "日本", "日本語"}
	for _, a := range words {
		assert.Equal(t, 1.0, Ratio(a, a))
		for _, b := range words {
			ab, ba := Ratio(a, b), Ratio(b, a)
			assert.Equal(t, ab, ba, "%q/%q", a, b)
			assert.GreaterOrEqual(t, ab, 0.0)
			assert.LessOrEqual(t, ab, 1.0)
		}
	}
}
