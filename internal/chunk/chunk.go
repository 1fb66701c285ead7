// Package chunk splits long text into pieces that fit a transport limit.
package chunk

import (
	"strings"
	"unicode/utf16"
)

// Split cuts text into ordered pieces of at most size UTF-16 code units,
// the unit Telegram counts message length in. Runes are never split, so a
// surrogate pair stays in one piece.
// A piece ends after the last newline in its window when that newline lies
// past the window's midpoint; otherwise it is cut hard at the limit.
// Joining the pieces yields text unchanged.
func Split(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size < 1 {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		cut, units, nl := 0, 0, -1
		for cut < len(runes) {
			w := Units(runes[cut])
			if units+w > size && cut > 0 {
				break
			}
			units += w
			cut++
			if runes[cut-1] == '\n' && units > size/2 {
				nl = cut
			}
		}
		if cut < len(runes) && nl > 0 {
			cut = nl
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

// Units returns the UTF-16 length of r.
func Units(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

// Len returns the UTF-16 length of s.
func Len(s string) int {
	n := 0
	for _, r := range s {
		n += Units(r)
	}
	return n
}

// Windows cuts text into consecutive fixed windows of size runes, the last
// one possibly shorter. Blank-only windows are kept so numbering follows
// the source position.
func Windows(text string, size int) []string {
	if text == "" || size < 1 {
		return nil
	}
	runes := []rune(text)
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

// Prefix returns the first n runes of s.
func Prefix(s string, n int) string {
	return Slice(s, 0, n)
}

// Slice returns runes [from, to) of s, clamped to its length.
func Slice(s string, from, to int) string {
	runes := []rune(s)
	from = max(0, min(from, len(runes)))
	to = max(from, min(to, len(runes)))
	return string(runes[from:to])
}

// Compact collapses runs of whitespace into single spaces.
func Compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
