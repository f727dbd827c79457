package textproc

import (
	"reflect"
	"strings"
	"testing"
)

func TestWords(t *testing.T) {
	got := Words("Go, the language! Go-routines: 42x")
	want := []string{"Go", "the", "language", "Go", "routines", "42x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Words = %v, want %v", got, want)
	}
}

func TestWordsDropsOverlongRuns(t *testing.T) {
	long := strings.Repeat("z", MaxWordLength+1)
	got := Words("keep " + long + " " + strings.Repeat("y", MaxWordLength))
	if len(got) != 2 || got[0] != "keep" || len(got[1]) != MaxWordLength {
		t.Errorf("Words kept %d words: %.20q", len(got), got)
	}
	if terms := Terms(long); len(terms) != 0 {
		t.Errorf("Terms(long) = %.20q, want none", terms)
	}
}

func TestTerms(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"Java Spring", []string{"java", "spring"}},
		{"the Java and the spring java", []string{"java", "spring"}},
		{"to be or not", []string{"to", "be", "or", "not"}},
		{"   ", nil},
		{"C++ & Go", []string{"c", "go"}},
	}
	for _, tt := range tests {
		if got := Terms(tt.query); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Terms(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"One. Two. Three. Four.", "One. Two. Three."},
		{"Only one sentence", "Only one sentence."},
		{"  spaced\n\nout.  text . ", "spaced out. text."},
		{"", ""},
		{"...", ""},
	}
	for _, tt := range tests {
		if got := Snippet(tt.text); got != tt.want {
			t.Errorf("Snippet(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func BenchmarkWords(b *testing.B) {
	text := "Distributed systems replicate state across nodes so that a single failure does not lose data. "
	for i := 0; i < b.N; i++ {
		Words(text)
	}
}
