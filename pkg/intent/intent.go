// Package intent classifies raw user text with keyword tables.
//
// The classifiers are pure: the same text and tables always give the same
// result. They favor recall; a false positive only costs an extra lookup.
package intent

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var nonWord = regexp.MustCompile(`[^\w\s]`)

// ProductIntent is the result of DetectProduct.
type ProductIntent struct {
	HasProductIntent bool   `json:"hasProductIntent"`
	SearchTerm       string `json:"searchTerm,omitempty"`
	Category         string `json:"category,omitempty"`
	Collection       string `json:"collection,omitempty"`
}

// AestheticParams lists every facet value found in the text.
type AestheticParams struct {
	Colors  []string `json:"colors"`
	Style   []string `json:"style"`
	Mood    []string `json:"mood"`
	Setting []string `json:"setting"`
	Finish  []string `json:"finish"`
}

// AestheticIntent is the result of ExtractAesthetic.
type AestheticIntent struct {
	HasAestheticIntent bool             `json:"hasAestheticIntent"`
	Query              string           `json:"query,omitempty"`
	Params             *AestheticParams `json:"params,omitempty"`
}

// VisualParams lists visual facets found in the text.
type VisualParams struct {
	AestheticStyle      []string `json:"aestheticStyle"`
	CulturalInspiration []string `json:"culturalInspiration"`
	Mood                []string `json:"mood"`
	Finish              []string `json:"finish"`
	CulinaryStyle       []string `json:"culinaryStyle"`
	PriceSegment        string   `json:"priceSegment,omitempty"`
}

// VisualIntent is the result of ExtractVisual.
type VisualIntent struct {
	HasVisualIntent bool          `json:"hasVisualIntent"`
	Query           string        `json:"query,omitempty"`
	Params          *VisualParams `json:"params,omitempty"`
}

// Classifier applies a set of keyword tables.
type Classifier struct {
	tables    Tables
	stopWords map[string]struct{}
}

// New creates a Classifier over tables.
func New(tables Tables) *Classifier {
	stop := make(map[string]struct{}, len(tables.Product.StopWords))
	for _, w := range tables.Product.StopWords {
		stop[w] = struct{}{}
	}
	return &Classifier{tables: tables, stopWords: stop}
}

var defaultClassifier = New(DefaultTables())

// Default returns the classifier over DefaultTables.
func Default() *Classifier {
	return defaultClassifier
}

// DefaultTerm is the product search term used when nothing else matches.
func (c *Classifier) DefaultTerm() string {
	return c.tables.Product.DefaultTerm
}

// DetectProductIntent runs DetectProduct with the default tables.
func DetectProductIntent(text string) ProductIntent {
	return defaultClassifier.DetectProduct(text)
}

// ExtractAestheticQuery runs ExtractAesthetic with the default tables.
func ExtractAestheticQuery(text string) AestheticIntent {
	return defaultClassifier.ExtractAesthetic(text)
}

// ExtractVisualQuery runs ExtractVisual with the default tables.
func ExtractVisualQuery(text string) VisualIntent {
	return defaultClassifier.ExtractVisual(text)
}

// DetectProduct reports whether text asks about products. A known collection
// takes priority over a category; otherwise the first two meaningful words
// become the search term, falling back to the default term.
func (c *Classifier) DetectProduct(text string) ProductIntent {
	lower := strings.ToLower(text)
	t := c.tables.Product

	if !containsAny(lower, t.Keywords) {
		return ProductIntent{}
	}

	collection := firstContained(lower, t.Collections)
	category := firstContained(lower, t.Categories)

	var term string
	switch {
	case collection != "":
		term = collection
	case category != "":
		term = category
	default:
		term = c.fallbackTerm(lower)
	}

	return ProductIntent{
		HasProductIntent: true,
		SearchTerm:       term,
		Category:         category,
		Collection:       collection,
	}
}

func (c *Classifier) fallbackTerm(lower string) string {
	var words []string
	for _, w := range strings.Fields(nonWord.ReplaceAllString(lower, " ")) {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		if _, stop := c.stopWords[w]; stop {
			continue
		}
		words = append(words, w)
		if len(words) == 2 {
			break
		}
	}
	if len(words) == 0 {
		return c.tables.Product.DefaultTerm
	}
	return strings.Join(words, " ")
}

// ExtractAesthetic reports whether text describes a look or feel, and which
// facet values it names. Facets are independent of each other.
func (c *Classifier) ExtractAesthetic(text string) AestheticIntent {
	lower := strings.ToLower(text)
	t := c.tables.Aesthetic

	if !containsAny(lower, t.Keywords) {
		return AestheticIntent{}
	}

	return AestheticIntent{
		HasAestheticIntent: true,
		Query:              text,
		Params: &AestheticParams{
			Colors:  mapped(lower, t.Colors),
			Style:   contained(lower, t.Style),
			Mood:    contained(lower, t.Mood),
			Setting: contained(lower, t.Setting),
			Finish:  contained(lower, t.Finish),
		},
	}
}

// ExtractVisual reports whether text asks for visual qualities that the
// image-derived profiles describe.
func (c *Classifier) ExtractVisual(text string) VisualIntent {
	lower := strings.ToLower(text)
	t := c.tables.Visual

	if !containsAny(lower, t.Keywords) {
		return VisualIntent{}
	}

	params := &VisualParams{
		AestheticStyle:      mapped(lower, t.Styles),
		CulturalInspiration: mapped(lower, t.Cultures),
		Finish:              contained(lower, t.Finish),
		Mood:                contained(lower, t.Mood),
		CulinaryStyle:       contained(lower, t.Cuisine),
	}
	switch {
	case containsAny(lower, t.Luxury):
		params.PriceSegment = "Luxury"
	case containsAny(lower, t.Budget):
		params.PriceSegment = "Budget"
	}

	return VisualIntent{
		HasVisualIntent: true,
		Query:           text,
		Params:          params,
	}
}

func containsAny(s string, keywords []string) bool {
	return firstContained(s, keywords) != ""
}

func firstContained(s string, keywords []string) string {
	for _, k := range keywords {
		if k != "" && strings.Contains(s, k) {
			return k
		}
	}
	return ""
}

func contained(s string, keywords []string) []string {
	out := []string{}
	for _, k := range keywords {
		if k != "" && strings.Contains(s, k) {
			out = append(out, k)
		}
	}
	return out
}

// mapped returns the values of matching keywords, without duplicates, in table order.
func mapped(s string, table []Mapping) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, m := range table {
		if m.Keyword == "" || !strings.Contains(s, m.Keyword) || seen[m.Value] {
			continue
		}
		seen[m.Value] = true
		out = append(out, m.Value)
	}
	return out
}
