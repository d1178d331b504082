package crawl

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// splitAlternation splits on '|' that is not escaped with a backslash.
func splitAlternation(pattern string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '|':
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	return append(parts, cur.String())
}

func TestBuildRejectPatternFragments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		lines []string
		want  []string
	}{
		{
			name: "no user lines keeps built-ins",
			want: []string{`.+/feed/?$`, `.+/wp-json/?(.+)?$`},
		},
		{
			name:  "delimited and literal",
			lines: []string{`#/page/\d+/#`, "plain-substring"},
			want:  []string{`.+/feed/?$`, `.+/wp-json/?(.+)?$`, `/page/\d+/`, "plain-substring"},
		},
		{
			name:  "flags are stripped",
			lines: []string{`#pattern#i`, `~/tag/.*~imsx`},
			want:  []string{`.+/feed/?$`, `.+/wp-json/?(.+)?$`, "pattern", `/tag/.*`},
		},
		{
			name:  "single delimiter occurrence is literal",
			lines: []string{`#only-one`, `/page/2`},
			want:  []string{`.+/feed/?$`, `.+/wp-json/?(.+)?$`, "#only-one", "/page/2"},
		},
		{
			name:  "alphanumeric first character is literal",
			lines: []string{"abca"},
			want:  []string{`.+/feed/?$`, `.+/wp-json/?(.+)?$`, "abca"},
		},
		{
			name:  "blank lines and empty bodies are skipped",
			lines: []string{"", "   ", "##"},
			want:  []string{`.+/feed/?$`, `.+/wp-json/?(.+)?$`},
		},
		{
			name:  "escaped alternation stays in one fragment",
			lines: []string{`#a\|b#`},
			want:  []string{`.+/feed/?$`, `.+/wp-json/?(.+)?$`, `a\|b`},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, splitAlternation(BuildRejectPattern(tt.lines)))
		})
	}
}

func TestDelimitedLineRoundTrips(t *testing.T) {
	t.Parallel()

	body, ok := delimitedBody("#pattern#flags")
	require.True(t, ok)
	require.Equal(t, "pattern", body)

	_, ok = delimitedBody("#pattern")
	require.False(t, ok)

	_, ok = delimitedBody(`#pattern#1`)
	require.False(t, ok)
}

func TestPresetsCompile(t *testing.T) {
	t.Parallel()

	var lines []string
	for _, p := range Presets() {
		lines = append(lines, p.Pattern)
	}
	re, err := regexp.Compile(BuildRejectPattern(lines))
	require.NoError(t, err)
	require.True(t, re.MatchString("https://example.com/page/3/"))
	require.True(t, re.MatchString("https://example.com/feed/"))
	require.False(t, re.MatchString("https://example.com/about/"))
}
