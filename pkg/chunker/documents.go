package chunker

import (
	"fmt"
	"strings"

	"github.com/barekit/vitrine/pkg/knowledge"
)

// sections are matched against a page URL, first hit wins.
var sections = []string{
	"product", "collection", "catalog", "care", "warranty", "shipping",
	"return", "certificate", "compliance", "blog", "article", "news",
	"about", "contact", "b2b",
}

// Section classifies a page by its URL, "general" when nothing matches.
func Section(url string) string {
	lower := strings.ToLower(url)
	for _, s := range sections {
		if strings.Contains(lower, s) {
			return s
		}
	}
	return "general"
}

// Slug lowercases s and replaces every run of non-alphanumeric characters with '-'.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Documents splits text and wraps each chunk as a content document keyed
// by "<slug(url)>-chunk-<index>". base supplies URL, title, heading and
// language; chunk position and section are filled in.
func (c *Chunker) Documents(base knowledge.ChunkMetadata, text string) []knowledge.Document[knowledge.ChunkMetadata] {
	chunks := c.Split(text)
	if len(chunks) == 0 {
		return nil
	}

	section := base.Section
	if section == "" {
		section = Section(base.URL)
	}
	prefix := Slug(base.URL)
	if prefix == "" {
		prefix = Slug(base.Title)
	}

	docs := make([]knowledge.Document[knowledge.ChunkMetadata], len(chunks))
	for i, chunk := range chunks {
		meta := base
		meta.Section = section
		meta.ChunkIndex = chunk.Index
		meta.TotalChunks = len(chunks)
		docs[i] = knowledge.Document[knowledge.ChunkMetadata]{
			ID:       fmt.Sprintf("%s-chunk-%d", prefix, chunk.Index),
			Content:  chunk.Content,
			Metadata: meta,
		}
	}
	return docs
}
