// Package chunker splits long text into overlapping, token-bounded chunks.
//
// Token counts are estimated at four characters per token, so boundaries are
// approximate. Text is split on blank lines first; a paragraph that alone
// exceeds the limit is split into sentences. A paragraph without sentence
// punctuation is kept whole even when it is larger than the limit.
package chunker

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	// DefaultMaxTokens is the chunk size used when none is configured.
	DefaultMaxTokens = 1000
	// DefaultOverlapTokens is the overlap used when none is configured.
	DefaultOverlapTokens = 200

	charsPerToken = 4
)

var (
	paragraphBreak = regexp.MustCompile(`\n\n+`)
	sentenceEnd    = regexp.MustCompile(`[.!?]\s+`)
)

// Chunk is one window of the input text.
type Chunk struct {
	Content string `json:"content"`
	Index   int    `json:"index"`
	Hash    string `json:"hash"`
}

// Chunker splits text into chunks.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxTokens sets the target chunk size. Non-positive values are ignored.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithOverlapTokens sets how much trailing text is repeated at the start of
// the next chunk. Negative values are ignored.
func WithOverlapTokens(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapTokens = n
		}
	}
}

// New creates a Chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxTokens:     DefaultMaxTokens,
		overlapTokens: DefaultOverlapTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlapTokens >= c.maxTokens {
		c.overlapTokens = c.maxTokens / 5
	}
	return c
}

// MaxTokens returns the configured chunk size.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// OverlapTokens returns the configured overlap.
func (c *Chunker) OverlapTokens() int { return c.overlapTokens }

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// Hash is a cheap 32-bit string hash (h*31 + c over UTF-16 code units)
// rendered in base 36. It only serves to spot identical chunks.
func Hash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	return strconv.FormatInt(int64(h), 36)
}

// Split splits text into ordered chunks. Empty input yields no chunks.
func (c *Chunker) Split(text string) []Chunk {
	var (
		chunks  []Chunk
		current string
	)

	for _, paragraph := range paragraphs(text) {
		if EstimateTokens(paragraph) <= c.maxTokens {
			current = c.add(&chunks, current, paragraph, "\n\n")
			continue
		}

		// An oversized paragraph starts a fresh chunk without overlap.
		chunks = appendChunk(chunks, current)
		current = ""
		for _, sentence := range sentences(paragraph) {
			current = c.add(&chunks, current, sentence, " ")
		}
	}

	return appendChunk(chunks, current)
}

// add appends unit to current, closing the chunk first when unit would push
// it past the limit.
func (c *Chunker) add(chunks *[]Chunk, current, unit, sep string) string {
	if current != "" && EstimateTokens(current+sep+unit) > c.maxTokens {
		*chunks = appendChunk(*chunks, current)
		current = c.overlap(current)
		if current != "" && EstimateTokens(current+sep+unit) > c.maxTokens {
			current = ""
		}
	}
	if current == "" {
		return unit
	}
	return current + sep + unit
}

// overlap returns the trailing words of text, sized as the overlap/max
// fraction of its word count.
func (c *Chunker) overlap(text string) string {
	words := strings.Fields(text)
	n := len(words) * c.overlapTokens / c.maxTokens
	if n <= 0 {
		return ""
	}
	return strings.Join(words[len(words)-n:], " ")
}

func appendChunk(chunks []Chunk, content string) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return chunks
	}
	return append(chunks, Chunk{
		Content: content,
		Index:   len(chunks),
		Hash:    Hash(content),
	})
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// sentences cuts after each run of '.', '!' or '?' that is followed by
// whitespace, keeping the punctuation and dropping the whitespace.
func sentences(paragraph string) []string {
	var (
		out  []string
		prev int
	)
	for _, loc := range sentenceEnd.FindAllStringIndex(paragraph, -1) {
		if s := paragraph[prev : loc[0]+1]; strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
		prev = loc[1]
	}
	if s := paragraph[prev:]; strings.TrimSpace(s) != "" {
		out = append(out, s)
	}
	return out
}
