package markov

import (
	"strings"
	"testing"
)

// repeatWords returns n copies of each word, in blocks.
func repeatWords(pairs ...any) []string {
	var out []string
	for i := 0; i < len(pairs); i += 2 {
		word := pairs[i].(string)
		n := pairs[i+1].(int)
		for j := 0; j < n; j++ {
			out = append(out, word)
		}
	}
	return out
}

func TestInferCapitalization(t *testing.T) {
	testCases := []struct {
		name      string
		tokens    []string
		threshold float64
		word      string
		want      bool
	}{
		{
			name:      "Mostly capitalized",
			tokens:    repeatWords("Paris", 95, "paris", 5),
			threshold: 0.9,
			word:      "paris",
			want:      true,
		},
		{
			name:      "Evenly split",
			tokens:    repeatWords("Apple", 50, "apple", 50),
			threshold: 0.9,
			word:      "apple",
			want:      false,
		},
		{
			name:      "Never lowercase",
			tokens:    repeatWords("NASA", 1),
			threshold: 0.9,
			word:      "nasa",
			want:      true,
		},
		{
			name:      "Never capitalized",
			tokens:    repeatWords("dog", 10),
			threshold: 0.9,
			word:      "dog",
			want:      false,
		},
		{
			name:      "Lower threshold",
			tokens:    repeatWords("Rome", 3, "rome", 1),
			threshold: 0.5,
			word:      "rome",
			want:      true,
		},
		{
			name:      "Inner capital counts",
			tokens:    repeatWords("iPhone", 4),
			threshold: 0.9,
			word:      "iphone",
			want:      true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			set := InferCapitalization(tc.tokens, tc.threshold)
			if _, got := set[tc.word]; got != tc.want {
				t.Errorf("%q in capitalization set = %v, want %v", tc.word, got, tc.want)
			}
			for word := range set {
				if word != strings.ToLower(word) {
					t.Errorf("capitalization set holds non-lowercased word %q", word)
				}
			}
		})
	}
}

func TestCapitalize(t *testing.T) {
	testCases := map[string]string{
		"hello":  "Hello",
		"Hello":  "Hello",
		"iphone": "Iphone",
		"élan":   "Élan",
		"42":     "42",
		".":      ".",
		"":       "",
	}
	for in, want := range testCases {
		if got := capitalize(in); got != want {
			t.Errorf("capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}
