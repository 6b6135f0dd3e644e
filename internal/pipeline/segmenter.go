package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"secure-rag-go/internal/model"
)

// runesPerWord converts an overlap length into a trailing word count.
const runesPerWord = 5

var sentencePattern = regexp.MustCompile(`[^.!?。！？]+(?:[.!?。！？]+|$)`)

// Segmenter splits text into sentence-aligned chunks of at most chunkSize
// runes, seeding each chunk after the first with the tail words of its
// predecessor. It holds no state between calls.
type Segmenter struct {
	chunkSize    int
	chunkOverlap int
}

func NewSegmenter(chunkSize, chunkOverlap int) *Segmenter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Segmenter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Segment returns the chunks of text in document order. Every chunk after the
// first starts with the overlap seed, so a chunk may exceed the size by at most
// its seed. A sentence longer than the chunk size is never split.
func (s *Segmenter) Segment(text string, metadata map[string]interface{}) []model.TextChunk {
	units := splitSentences(text)
	if len(units) == 0 {
		return nil
	}

	var chunks []model.TextChunk
	emit := func(t string) {
		chunks = append(chunks, model.TextChunk{
			Index:    len(chunks),
			Text:     t,
			Metadata: model.CopyMetadata(metadata),
		})
	}

	buf := ""
	for _, unit := range units {
		switch {
		case buf == "":
			buf = unit
		case s.fits(buf, unit):
			buf += " " + unit
		default:
			emit(buf)
			if seed := s.overlapTail(buf); seed != "" {
				buf = seed + " " + unit
			} else {
				buf = unit
			}
		}
	}
	emit(buf)
	return chunks
}

func (s *Segmenter) fits(buf, unit string) bool {
	return utf8.RuneCountInString(buf)+1+utf8.RuneCountInString(unit) <= s.chunkSize
}

// overlapTail returns the last max(1, overlap/runesPerWord) words of chunk.
func (s *Segmenter) overlapTail(chunk string) string {
	if s.chunkOverlap <= 0 {
		return ""
	}
	n := s.chunkOverlap / runesPerWord
	if n < 1 {
		n = 1
	}
	words := strings.Fields(chunk)
	if n >= len(words) {
		return ""
	}
	return strings.Join(words[len(words)-n:], " ")
}

// splitSentences cuts on terminal punctuation and normalizes whitespace. A
// trailing fragment without punctuation is kept as a unit.
func splitSentences(text string) []string {
	var units []string
	for _, m := range sentencePattern.FindAllString(text, -1) {
		if u := strings.Join(strings.Fields(m), " "); u != "" {
			units = append(units, u)
		}
	}
	return units
}
