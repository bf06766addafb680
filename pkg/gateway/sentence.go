package gateway

import "strings"

// sentenceTerminators are the characters that close a sentence (§4.5 /
// GLOSSARY "Sentence terminator").
var sentenceTerminators = map[rune]bool{
	'。': true,
	'！': true,
	'？': true,
	'\n': true,
}

// SentenceSplitter buffers LLM token deltas and emits complete sentences
// (terminator included, then trimmed) as soon as a terminator is seen. Any
// trailing fragment is returned by Flush at stream end.
type SentenceSplitter struct {
	buf strings.Builder
}

// Feed appends one token delta and returns zero or more sentences completed
// by it, in order.
func (s *SentenceSplitter) Feed(token string) []string {
	var sentences []string
	for _, r := range token {
		s.buf.WriteRune(r)
		if sentenceTerminators[r] {
			sentence := strings.TrimSpace(s.buf.String())
			s.buf.Reset()
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
		}
	}
	return sentences
}

// Flush returns the trailing unterminated fragment, if any, and clears it.
func (s *SentenceSplitter) Flush() (string, bool) {
	remainder := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if remainder == "" {
		return "", false
	}
	return remainder, true
}
