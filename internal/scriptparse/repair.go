// internal/scriptparse/repair.go
package scriptparse

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"
)

// RepairMode selects the single relaxed-recovery pass run after a failed strict parse.
type RepairMode int

const (
	// RepairTokenized walks the candidate once and only rewrites quotes and
	// control characters where they are structural.
	RepairTokenized RepairMode = iota
	// RepairLegacy replaces every newline and tab with a space and every
	// single quote with a double quote. Apostrophes inside values are corrupted.
	RepairLegacy
)

func (m RepairMode) String() string {
	switch m {
	case RepairTokenized:
		return "tokenized"
	case RepairLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

var legacyReplacer = strings.NewReplacer(
	"\n", " ",
	"\t", " ",
	"'", `"`,
)

func repairLegacy(s string) string {
	return legacyReplacer.Replace(s)
}

// quoteClosers maps an opening quote that may start a string outside of one
// to the quote that ends it.
var quoteClosers = map[rune]rune{
	'\'': '\'',
	'“':  '”',
	'”':  '”',
	'„':  '”',
	'‟':  '”',
	'「':  '」',
	'『':  '』',
	'﹁':  '﹂',
}

func repairTokenized(s string) string {
	src := []rune(s)
	out := make([]byte, 0, len(s)+16)

	inString := false
	escaped := false
	var closing rune

	for i := 0; i < len(src); i++ {
		r := src[i]

		if inString {
			if escaped {
				escaped = false
				if r == '\'' {
					// \' is not a JSON escape; keep the quote, drop the backslash
					out[len(out)-1] = '\''
					continue
				}
				out = utf8.AppendRune(out, r)
				continue
			}
			switch {
			case r == '\\':
				escaped = true
				out = append(out, '\\')
			case closing == '"' && r == '"':
				inString = false
				out = append(out, '"')
			case closing == '\'' && r == '\'':
				if closesSingleQuoted(src, i+1) {
					inString = false
					out = append(out, '"')
				} else {
					out = append(out, '\'')
				}
			case closing != '"' && closing != '\'' && (r == closing || r == '"'):
				inString = false
				out = append(out, '"')
			case r == '"':
				// bare double quote inside a string that was not opened with one
				out = append(out, '\\', '"')
			case r == '\n' || r == '\r' || r == '\t':
				out = append(out, ' ')
			default:
				out = utf8.AppendRune(out, r)
			}
			continue
		}

		if r == '"' {
			inString = true
			closing = '"'
			out = append(out, '"')
			continue
		}
		if closer, ok := quoteClosers[r]; ok {
			inString = true
			closing = closer
			out = append(out, '"')
			continue
		}

		r = foldStructural(r)
		switch r {
		case '\n', '\r', '\t':
			out = append(out, ' ')
		case '}', ']':
			out = append(dropTrailingComma(out), byte(r))
		default:
			out = utf8.AppendRune(out, r)
		}
	}

	return string(out)
}

// closesSingleQuoted reports whether a ' at position i-1 ends the string:
// only when the next significant rune is structural or the input ends.
// This keeps apostrophes such as "don't" inside single-quoted values.
func closesSingleQuoted(src []rune, i int) bool {
	for ; i < len(src); i++ {
		r := foldStructural(src[i])
		if unicode.IsSpace(r) {
			continue
		}
		switch r {
		case ',', ':', '}', ']':
			return true
		}
		return false
	}
	return true
}

// foldStructural narrows full-width JSON punctuation (｛ ｝ ［ ］ ： ，) to ASCII.
func foldStructural(r rune) rune {
	if r < utf8.RuneSelf {
		return r
	}
	p := width.LookupRune(r)
	if p.Kind() != width.EastAsianFullwidth {
		return r
	}
	switch n := p.Narrow(); n {
	case '{', '}', '[', ']', ':', ',':
		return n
	}
	return r
}

func dropTrailingComma(out []byte) []byte {
	end := len(out)
	for end > 0 && (out[end-1] == ' ' || out[end-1] == '\n' || out[end-1] == '\r' || out[end-1] == '\t') {
		end--
	}
	if end > 0 && out[end-1] == ',' {
		return out[:end-1]
	}
	return out
}
