package splitter

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"trim and collapse", "  a  \t b  ", "a b"},
		{"keeps single newline", "line one\nline two", "line one\nline two"},
		{"collapses blank lines", "p1\n\n\n\n p2", "p1\n\np2"},
		{"crlf", "a\r\nb\r\n\r\nc", "a\nb\n\nc"},
		{"trailing spaces before newline", "a   \nb", "a\nb"},
		{"only whitespace", " \n\t\n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
