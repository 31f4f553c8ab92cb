package channels

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessageShortText(t *testing.T) {
	if got := SplitMessage("hello", 10); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected chunks %q", got)
	}
	if got := SplitMessage("", 10); got != nil {
		t.Fatalf("expected no chunks for empty text, got %q", got)
	}
}

func TestSplitMessagePrefersBoundaries(t *testing.T) {
	text := "first line\nsecond line that is long"
	got := SplitMessage(text, 15)
	if got[0] != "first line" {
		t.Fatalf("expected newline break, got %q", got)
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 15 {
			t.Fatalf("chunk %q exceeds limit", c)
		}
	}
	if strings.Join(got, " ") != "first line second line that is long" {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	text := strings.Repeat("a", 4500)
	got := SplitMessage(text, 1999)
	if len(got) != 3 || len(got[0]) != 1999 || len(got[2]) != 502 {
		t.Fatalf("unexpected chunk sizes %d", len(got))
	}
}

func TestSplitMessageKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("é", 10)
	got := SplitMessage(text, 4)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for _, c := range got {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %q is not valid UTF-8", c)
		}
	}
}
