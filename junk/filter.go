// Package junk decides whether a candidate message should be flagged as spam.
//
// Classification is a pure function over the message content and a snapshot
// of the sender: no I/O, deterministic for the same inputs. The exact
// heuristic is pluggable through the Classifier interface so deployments can
// swap in their own and tests can force a result.
package junk

import (
	"strings"
	"unicode"

	"github.com/kagami/dmail/mlog"
	"github.com/kagami/dmail/store"
)

// Classifier reports whether a candidate message from sender is spam. Must be
// side-effect free and deterministic given the same message and sender
// snapshot.
type Classifier interface {
	Classify(log *mlog.Log, m store.Message, sender store.User) bool
}

// Params holds tuning for the default word filter.
type Params struct {
	Words    []string `sconf:"optional" sconf-doc:"Words counting towards the spam score. Matched case-insensitively against title and body."`
	MinHits  int      `sconf-doc:"Number of word hits after which a message is flagged as spam. E.g. 3."`
	MaxLinks int      `sconf:"optional" sconf-doc:"Number of links in the body after which a message is flagged as spam. 0 disables the check."`
}

// WordFilter is the default classifier: a message is spam when it contains
// enough configured spam words, or too many links.
type WordFilter struct {
	Params

	words map[string]bool
}

// NewWordFilter returns a word filter for the given parameters.
func NewWordFilter(p Params) *WordFilter {
	words := make(map[string]bool, len(p.Words))
	for _, w := range p.Words {
		words[strings.ToLower(w)] = true
	}
	return &WordFilter{Params: p, words: words}
}

// Classify implements Classifier.
func (f *WordFilter) Classify(log *mlog.Log, m store.Message, sender store.User) bool {
	text := strings.ToLower(m.Title + " " + m.Body)

	links := strings.Count(text, "http://") + strings.Count(text, "https://")
	if f.MaxLinks > 0 && links > f.MaxLinks {
		log.Debug("spam by link count", mlog.Field("links", links), mlog.Field("from", m.FromID))
		return true
	}

	if len(f.words) == 0 {
		return false
	}
	hits := 0
	for _, w := range tokenize(text) {
		if f.words[w] {
			hits++
		}
	}
	if hits >= f.MinHits {
		log.Debug("spam by word hits", mlog.Field("hits", hits), mlog.Field("from", m.FromID))
		return true
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
