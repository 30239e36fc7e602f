package refresh

import (
	"strings"
	"testing"
)

// FuzzValidFormat feeds arbitrary strings to the format check. Accepted inputs
// must be exactly the lowercase canonical v4 shape.
func FuzzValidFormat(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("!!!not-a-token!!!")
	if tok, err := New(); err == nil {
		f.Add(tok)
		f.Add(strings.ToUpper(tok))
		f.Add("{" + tok + "}")
	}

	f.Fuzz(func(t *testing.T, input string) {
		if !ValidFormat(input) {
			return
		}
		if len(input) != canonicalLength {
			t.Fatalf("accepted token of length %d", len(input))
		}
		if input != strings.ToLower(input) {
			t.Fatalf("accepted non-lowercase token %q", input)
		}
		if input[14] != '4' {
			t.Fatalf("accepted non-v4 token %q", input)
		}
	})
}
