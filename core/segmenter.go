package orchestration

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const sentenceEndMarks = ".!?;。！？；"

func isSentenceEnd(r rune) bool {
	return strings.ContainsRune(sentenceEndMarks, r)
}

// sentenceSegmenter splits streamed text into sentences. A sentence closes
// after a run of sentence-ending marks, the whitespace after it belongs to
// the next sentence.
type sentenceSegmenter struct {
	pending string
}

// Push adds delta and returns every sentence it completed.
func (s *sentenceSegmenter) Push(delta string) []string {
	text := s.pending + delta

	var sentences []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if !isSentenceEnd(r) {
			continue
		}
		for i < len(text) {
			r, size := utf8.DecodeRuneInString(text[i:])
			if !isSentenceEnd(r) {
				break
			}
			i += size
		}

		if sentence := text[start:i]; isSpeakable(sentence) {
			sentences = append(sentences, sentence)
		}
		start = i
	}

	s.pending = text[start:]
	return sentences
}

// Flush returns the unterminated remainder, if there is anything to speak in
// it, and resets the segmenter.
func (s *sentenceSegmenter) Flush() string {
	remainder := s.pending
	s.pending = ""
	if !isSpeakable(remainder) {
		return ""
	}
	return remainder
}

func isSpeakable(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsNumber(r)
	}) >= 0
}
