package scriptbridge

import "testing"

func TestUnescapeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"a+b", "a b"},
		{"%41", "A"},
		{"%4a", "J"},
		{"%4A", "J"},
		{"caf%C3%A9", "café"},
		{"%", "%"},          // bare trailing percent
		{"%4", "%4"},        // truncated escape
		{"%G1", "%G1"},      // non-hex first digit passes through
		{"%4G", "%4G"},      // non-hex second digit passes through
		{"%%41", "%A"},      // recovery resumes scanning at the second percent
		{"a%2Bb", "a+b"},
		{"100%25", "100%"},
	}
	for _, tt := range tests {
		if got := unescapeURL(tt.in); got != tt.want {
			t.Errorf("unescapeURL(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
