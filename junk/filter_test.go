package junk

import (
	"strings"
	"testing"

	"github.com/kagami/dmail/mlog"
	"github.com/kagami/dmail/store"
)

var pkglog = mlog.New("junk")

func TestWordFilter(t *testing.T) {
	f := NewWordFilter(Params{Words: []string{"viagra", "casino"}, MinHits: 2, MaxLinks: 3})

	classify := func(title, body string) bool {
		t.Helper()
		return f.Classify(pkglog, store.Message{FromID: 1, ToID: 2, Title: title, Body: body}, store.User{ID: 1})
	}

	if classify("hello", "how are you") {
		t.Fatalf("plain message classified as spam")
	}
	// One hit is not enough.
	if classify("cheap viagra", "limited offer") {
		t.Fatalf("single word hit classified as spam")
	}
	// Hits across title and body count together, case-insensitive.
	if !classify("cheap VIAGRA", "visit our Casino") {
		t.Fatalf("two word hits not classified as spam")
	}
	// Punctuation does not hide words.
	if !classify("viagra!", "casino, tonight") {
		t.Fatalf("punctuated word hits not classified as spam")
	}
	// A word containing a spam word is not a hit.
	if classify("viagraville", "casinos are fun") {
		t.Fatalf("word substrings counted as hits")
	}

	// Too many links.
	links := strings.Repeat("see https://example.com/x ", 4)
	if !classify("hi", links) {
		t.Fatalf("link-stuffed message not classified as spam")
	}
	if classify("hi", "see https://example.com/x") {
		t.Fatalf("single link classified as spam")
	}
}

func TestWordFilterDisabled(t *testing.T) {
	// No words and no link limit never flags.
	f := NewWordFilter(Params{MinHits: 1})
	spam := f.Classify(pkglog, store.Message{Title: "viagra", Body: strings.Repeat("https://x ", 100)}, store.User{})
	if spam {
		t.Fatalf("disabled filter classified message as spam")
	}
}
