package holdings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  RELIANCE INDUSTRIES  ", "RELIANCE INDUSTRIES"},
		{"..M/S. SHAH & CO.", "M/S. SHAH & CO"},
		{". . ACME LTD . .", "ACME LTD"},
		{"\t J.P. ASSOCIATES \n", "J.P. ASSOCIATES"},
		{"", ""},
		{"...", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeName(c.in), "%q", c.in)
	}
}

func TestNormalizeNameIdempotent(t *testing.T) {
	inputs := []string{"  .A.B.C.  ", "..X..", "plain", " dotted. ", "| weird |"}
	for _, s := range inputs {
		once := NormalizeName(s)
		assert.Equal(t, once, NormalizeName(once), "%q", s)
	}
}

func TestTrailingDotVariantsMergeToOneIdentity(t *testing.T) {
	a := NewIdentity("IN300123", "C001", "SHAH BROTHERS.")
	b := NewIdentity("IN300123 ", " C001", "  SHAH BROTHERS ")
	assert.Equal(t, a, b)

	m := map[Identity]int{a: 1}
	m[b]++
	assert.Len(t, m, 1)
}

func TestIdentityKeyEscapesSeparator(t *testing.T) {
	id := NewIdentity("IN|300", "C|1", "A|B")
	key := id.Key()
	assert.Equal(t, "IN¦300|C¦1|A¦B", key)

	other := NewIdentity("IN", "300|C", "1|A|B")
	assert.NotEqual(t, key, other.Key())
}
