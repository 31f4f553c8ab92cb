package channels

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage cuts text into chunks of at most limit runes. It prefers to
// break after a newline, then after a space, and only cuts inside a word
// when a chunk has neither.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= limit {
			chunks = append(chunks, text)
			break
		}
		cut := byteOffset(text, limit)
		head := text[:cut]
		if i := strings.LastIndexByte(head, '\n'); i > 0 {
			cut = i + 1
		} else if i := strings.LastIndexByte(head, ' '); i > 0 {
			cut = i + 1
		}
		chunk := strings.TrimRight(text[:cut], " \n")
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = text[cut:]
	}
	return chunks
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for n > 0 && i < len(s) {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n--
	}
	return i
}
