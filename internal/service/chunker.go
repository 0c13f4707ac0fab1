package service

import (
	"regexp"
	"strings"
)

var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?\n])`)

// TextChunk is one slice of a document, with the sentences surrounding it
// kept as window context for answer assembly.
type TextChunk struct {
	Idx    int
	Text   string
	Window string
}

// Chunker splits document text into sentence-aligned chunks.
type Chunker struct {
	maxChars int
	overlap  int
}

// NewChunker creates a chunker. maxChars bounds chunk size in runes and
// overlap is the number of trailing sentences repeated in the next chunk.
func NewChunker(maxChars, overlap int) *Chunker {
	if maxChars <= 0 {
		maxChars = 800
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}
}

// splitSentences splits text into trimmed sentences. Text without sentence
// terminators comes back as a single element.
func splitSentences(text string) []string {
	indexes := sentenceRe.FindAllStringIndex(text, -1)
	sentences := make([]string, 0, len(indexes))
	consumed := 0
	for _, idx := range indexes {
		if s := strings.TrimSpace(text[idx[0]:idx[1]]); s != "" {
			sentences = append(sentences, s)
		}
		consumed = idx[1]
	}
	// Trailing text without a terminator still belongs to the document
	if rest := strings.TrimSpace(text[consumed:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// Chunk splits text into chunks. Every chunk holds at least one sentence, so
// a single oversized sentence becomes its own chunk rather than being lost.
func (c *Chunker) Chunk(text string) []TextChunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []TextChunk
	start := 0
	for start < len(sentences) {
		end := start
		size := 0
		for end < len(sentences) {
			next := len([]rune(sentences[end]))
			if end > start && size+next > c.maxChars {
				break
			}
			size += next + 1
			end++
		}

		chunkText := strings.Join(sentences[start:end], " ")
		chunks = append(chunks, TextChunk{
			Idx:    len(chunks),
			Text:   chunkText,
			Window: c.window(sentences, start, end),
		})

		if end >= len(sentences) {
			break
		}
		nextStart := end - c.overlap
		if nextStart <= start {
			nextStart = start + 1
		}
		start = nextStart
	}

	return chunks
}

// window returns the sentences immediately before and after a chunk.
func (c *Chunker) window(sentences []string, start, end int) string {
	var parts []string
	if start > 0 {
		parts = append(parts, sentences[start-1])
	}
	if end < len(sentences) {
		parts = append(parts, sentences[end])
	}
	return strings.Join(parts, " ")
}
