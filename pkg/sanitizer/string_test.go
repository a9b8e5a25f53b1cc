package sanitizer

import "testing"

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "trim spaces",
			input: "  Team standup  ",
			want:  "Team standup",
		},
		{
			name:  "multiple spaces between words",
			input: "Team    standup",
			want:  "Team standup",
		},
		{
			name:  "tabs and newlines",
			input: "Team\t\nstandup",
			want:  "Team standup",
		},
		{
			name:  "control characters",
			input: "Team\x00 stand\x07up",
			want:  "Team standup",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "only whitespace",
			input: "   \t\n  ",
			want:  "",
		},
		{
			name:  "preserve special characters",
			input: " Café & Spa™ ",
			want:  "Café & Spa™",
		},
		{
			name:  "hebrew characters",
			input: " תספורת יוסי ",
			want:  "תספורת יוסי",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTitle(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if again := NormalizeTitle(got); again != got {
				t.Errorf("NormalizeTitle is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestTrimAndNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a  b", "a b"},
		{"\ta\n", "a"},
		{"a   b", "a b"},
	}

	for _, tt := range tests {
		if got := TrimAndNormalize(tt.input); got != tt.want {
			t.Errorf("TrimAndNormalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
