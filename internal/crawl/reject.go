package crawl

import (
	"strings"
	"unicode"
)

// builtinRejectPatterns are always excluded: feeds and the JSON API never
// belong in a static copy.
var builtinRejectPatterns = []string{
	`.+/feed/?$`,
	`.+/wp-json/?(.+)?$`,
}

// Preset is a ready-made exclusion line offered to operators.
type Preset struct {
	Label   string `json:"label"`
	Pattern string `json:"pattern"`
}

// Presets returns the exclusion lines operators commonly add.
func Presets() []Preset {
	return []Preset{
		{Label: "Pagination", Pattern: `#/page/\d+/#`},
		{Label: "Year archives", Pattern: `#/\d{4}/(?:$|page/\d+/)#`},
		{Label: "Search (query)", Pattern: `#[?&]s=#`},
		{Label: "Admin paths", Pattern: `/wp-admin/`},
		{Label: "JSON API", Pattern: `#/wp-json(?:/.*)?$#`},
		{Label: "Uploads", Pattern: `#/wp-content/uploads/#`},
	}
}

// BuildRejectPattern compiles exclusion lines into a single alternation.
// The built-in patterns always come first. A line written as a delimited
// regex (same opening and closing character, optional trailing flag letters)
// contributes its body; any other line is used verbatim.
func BuildRejectPattern(lines []string) string {
	fragments := append([]string(nil), builtinRejectPatterns...)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if body, ok := delimitedBody(line); ok {
			if body != "" {
				fragments = append(fragments, body)
			}
			continue
		}
		fragments = append(fragments, line)
	}
	return strings.Join(fragments, "|")
}

// delimitedBody extracts the body of a line shaped like #body#flags. The
// delimiter is the first character and must be punctuation; the closing
// delimiter is its last occurrence and may only be followed by letters.
func delimitedBody(line string) (string, bool) {
	if len(line) < 2 {
		return "", false
	}
	delim := rune(line[0])
	if delim > unicode.MaxASCII || !isDelimiter(delim) {
		return "", false
	}
	end := strings.LastIndexByte(line, line[0])
	if end == 0 {
		return "", false
	}
	for _, r := range line[end+1:] {
		if !unicode.IsLetter(r) {
			return "", false
		}
	}
	return line[1:end], true
}

func isDelimiter(r rune) bool {
	return r != '\\' && (unicode.IsPunct(r) || unicode.IsSymbol(r))
}
