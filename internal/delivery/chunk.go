// Package delivery splits long results into message-sized segments and
// sends them through a reply channel in order.
package delivery

import (
	"unicode"
)

// DefaultMaxLength is the default per-message character limit.
const DefaultMaxLength = 4000

// separators are tried in order before falling back to any whitespace.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
}

// Chunk splits text into segments of at most maxLength characters (runes).
// Each cut prefers the latest paragraph break inside the window, then line
// break, then any other whitespace, and falls back to a hard cut. Whitespace at a cut is
// dropped from both sides.
func Chunk(text string, maxLength int) []string {
	rest := trimLeft([]rune(text))
	if len(rest) == 0 {
		return nil
	}
	if maxLength <= 0 {
		return []string{string(trimRight(rest))}
	}

	var out []string
	for len(rest) > 0 {
		if len(rest) <= maxLength {
			if seg := trimRight(rest); len(seg) > 0 {
				out = append(out, string(seg))
			}
			break
		}

		cut, skip := boundary(rest, maxLength)
		seg := trimRight(rest[:cut])
		if len(seg) > 0 {
			out = append(out, string(seg))
		}
		rest = trimLeft(rest[cut+skip:])
	}
	return out
}

// boundary returns the cut index and separator length. The cut is always
// within (0, maxLength].
func boundary(rs []rune, maxLength int) (cut, skip int) {
	for _, sep := range separators {
		for i := maxLength; i > 0; i-- {
			if i+len(sep) > len(rs) {
				continue
			}
			if hasAt(rs, i, sep) {
				return i, len(sep)
			}
		}
	}
	for i := min(maxLength, len(rs)-1); i > 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i, 1
		}
	}
	return maxLength, 0
}

func hasAt(rs []rune, i int, sep []rune) bool {
	for j, r := range sep {
		if rs[i+j] != r {
			return false
		}
	}
	return true
}

func trimLeft(rs []rune) []rune {
	i := 0
	for i < len(rs) && unicode.IsSpace(rs[i]) {
		i++
	}
	return rs[i:]
}

func trimRight(rs []rune) []rune {
	i := len(rs)
	for i > 0 && unicode.IsSpace(rs[i-1]) {
		i--
	}
	return rs[:i]
}
