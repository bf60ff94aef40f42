package destcat

import "testing"

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "plain text untouched",
			input:    "Just a plain synopsis.",
			expected: "Just a plain synopsis.",
		},
		{
			name:     "simple tags",
			input:    "<p>Hello <b class=\"x\">world</b></p>",
			expected: "Hello world",
		},
		{
			name:     "angle bracket inside quoted attribute",
			input:    `<a href="a>b">link</a>`,
			expected: "link",
		},
		{
			name:     "self closing tag",
			input:    "line one<br/>line two",
			expected: "line oneline two",
		},
		{
			name:     "unterminated tag drops the rest",
			input:    "before <em unclosed",
			expected: "before ",
		},
		{
			name:     "entities pass through",
			input:    "<p>Fish &amp; Chips</p>",
			expected: "Fish &amp; Chips",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.input); got != tt.expected {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
