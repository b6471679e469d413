package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/barekit/vitrine/pkg/catalog"
	"github.com/barekit/vitrine/pkg/chunker"
	"github.com/barekit/vitrine/pkg/knowledge"
)

const (
	// DefaultAestheticLimit caps how many products get aesthetic profiles.
	DefaultAestheticLimit = 1000
	// DefaultVisualLimit caps how many products are sent to the vision model.
	DefaultVisualLimit = 100
	// DefaultContentLimit caps how many product pages are synced into the
	// content index.
	DefaultContentLimit = 500
	// DefaultConcurrency bounds parallel vision calls.
	DefaultConcurrency = 3

	minProductContent = 50
)

// Products lists catalog rows to build profiles from.
type Products interface {
	PublishedProducts(ctx context.Context, limit int) ([]catalog.Product, error)
	RecentlyUpdated(ctx context.Context, limit int) ([]catalog.Product, error)
}

// Report summarizes one build.
type Report struct {
	Index    string        `json:"index"`
	Products int           `json:"products"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Builder fills the profile and product-content indexes from the catalog.
type Builder struct {
	products    Products
	embedder    knowledge.Embedder
	aesthetic   knowledge.VectorStore[AestheticMetadata]
	visual      knowledge.VectorStore[VisualMetadata]
	content     knowledge.VectorStore[knowledge.ChunkMetadata]
	analyzer    *Analyzer
	chunker     *chunker.Chunker
	baseURL     string
	concurrency int
	logger      *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithAestheticStore sets the aesthetic profile index.
func WithAestheticStore(s knowledge.VectorStore[AestheticMetadata]) BuilderOption {
	return func(b *Builder) { b.aesthetic = s }
}

// WithVisualStore sets the visual profile index and the analyzer that feeds it.
func WithVisualStore(s knowledge.VectorStore[VisualMetadata], a *Analyzer) BuilderOption {
	return func(b *Builder) {
		b.visual = s
		b.analyzer = a
	}
}

// WithContentStore sets the content index that receives product pages.
func WithContentStore(s knowledge.VectorStore[knowledge.ChunkMetadata], c *chunker.Chunker) BuilderOption {
	return func(b *Builder) {
		b.content = s
		b.chunker = c
	}
}

// WithBaseURL sets the storefront base used for product page links.
func WithBaseURL(u string) BuilderOption {
	return func(b *Builder) { b.baseURL = u }
}

// WithConcurrency bounds parallel vision calls.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder creates a Builder.
func NewBuilder(products Products, embedder knowledge.Embedder, opts ...BuilderOption) *Builder {
	b := &Builder{
		products:    products,
		embedder:    embedder,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.chunker == nil {
		b.chunker = chunker.New()
	}
	return b
}

// BuildAesthetic derives aesthetic profiles for up to limit products and
// upserts them.
func (b *Builder) BuildAesthetic(ctx context.Context, limit int) (Report, error) {
	report := Report{Index: "aesthetic"}
	if b.aesthetic == nil {
		return report, errors.New("aesthetic store not configured")
	}
	start := time.Now()

	products, err := b.products.PublishedProducts(ctx, orDefault(limit, DefaultAestheticLimit))
	if err != nil {
		return report, err
	}
	report.Products = len(products)

	docs := make([]knowledge.Document[AestheticMetadata], len(products))
	for i, p := range products {
		docs[i] = AestheticDocument(p)
	}

	b.logger.Info("building aesthetic profiles", "products", len(products))
	if err := knowledge.NewKnowledgeBase(b.embedder, b.aesthetic).Ingest(ctx, docs); err != nil {
		return report, fmt.Errorf("failed to index aesthetic profiles: %w", err)
	}
	report.Indexed = len(docs)
	report.Duration = time.Since(start)
	b.logger.Info("aesthetic profiles built", "indexed", report.Indexed, "duration", report.Duration)
	return report, nil
}

// BuildVisual analyzes product photos with the vision model, at most
// concurrency at a time, and upserts the resulting profiles. Products without
// an image are skipped; failed analyses are logged and counted.
func (b *Builder) BuildVisual(ctx context.Context, limit int) (Report, error) {
	report := Report{Index: "visual"}
	if b.visual == nil || b.analyzer == nil {
		return report, errors.New("visual store not configured")
	}
	start := time.Now()

	products, err := b.products.PublishedProducts(ctx, orDefault(limit, DefaultVisualLimit))
	if err != nil {
		return report, err
	}
	report.Products = len(products)

	var (
		docs    = make([]*knowledge.Document[VisualMetadata], len(products))
		skipped atomic.Int64
		failed  atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, p := range products {
		g.Go(func() error {
			analysis, imageURL, err := b.analyzer.Analyze(gctx, p)
			switch {
			case errors.Is(err, ErrNoImage):
				skipped.Add(1)
				return nil
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				b.logger.Warn("vision analysis failed", "product_id", p.ID, "error", err)
				return nil
			}
			doc := VisualDocument(p, imageURL, *analysis)
			docs[i] = &doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	ready := make([]knowledge.Document[VisualMetadata], 0, len(docs))
	for _, d := range docs {
		if d != nil {
			ready = append(ready, *d)
		}
	}
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())

	if err := knowledge.NewKnowledgeBase(b.embedder, b.visual).Ingest(ctx, ready); err != nil {
		return report, fmt.Errorf("failed to index visual profiles: %w", err)
	}
	report.Indexed = len(ready)
	report.Duration = time.Since(start)
	b.logger.Info("visual profiles built",
		"indexed", report.Indexed, "skipped", report.Skipped, "failed", report.Failed, "duration", report.Duration)
	return report, nil
}

// SyncContent chunks the product pages of the most recently updated products
// into the content index.
func (b *Builder) SyncContent(ctx context.Context, limit int) (Report, error) {
	report := Report{Index: "content"}
	if b.content == nil {
		return report, errors.New("content store not configured")
	}
	start := time.Now()

	products, err := b.products.RecentlyUpdated(ctx, orDefault(limit, DefaultContentLimit))
	if err != nil {
		return report, err
	}
	report.Products = len(products)

	var docs []knowledge.Document[knowledge.ChunkMetadata]
	for _, p := range products {
		pageDocs := ProductPageDocuments(b.chunker, b.baseURL, p)
		if len(pageDocs) == 0 {
			report.Skipped++
			continue
		}
		docs = append(docs, pageDocs...)
	}

	if err := knowledge.NewKnowledgeBase(b.embedder, b.content).Ingest(ctx, docs); err != nil {
		return report, fmt.Errorf("failed to index product pages: %w", err)
	}
	report.Indexed = len(docs)
	report.Duration = time.Since(start)
	b.logger.Info("product pages synced", "products", report.Products, "chunks", report.Indexed, "duration", report.Duration)
	return report, nil
}

// ProductPageText renders the product facts that go into the content index.
func ProductPageText(p catalog.Product) string {
	code := p.ProductCode
	if code == "" {
		code = "N/A"
	}

	lines := []string{
		"Product: " + p.ProductName,
		"Code: " + code,
	}
	if p.Material != "" {
		lines = append(lines, "Material: "+p.Material)
	}
	if p.Shape != "" {
		lines = append(lines, "Shape: "+p.Shape)
	}
	if p.Capacity != "" {
		lines = append(lines, "Capacity: "+p.Capacity)
	}
	var features []string
	if p.IsMicrowaveSafe {
		features = append(features, "Microwave safe")
	}
	if p.IsDishwasherSafe {
		features = append(features, "Dishwasher safe")
	}
	if len(features) > 0 {
		lines = append(lines, "Features: "+strings.Join(features, ", "))
	}
	lines = append(lines,
		"Description: "+p.DisplayDescription(),
		"Specifications: "+p.Specifications,
	)
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ProductPageDocuments chunks a product page into content documents with
// ids "product-<id>-chunk-<index>". Pages with too little text yield nothing.
func ProductPageDocuments(c *chunker.Chunker, baseURL string, p catalog.Product) []knowledge.Document[knowledge.ChunkMetadata] {
	text := ProductPageText(p)
	if len(text) < minProductContent {
		return nil
	}

	chunks := c.Split(text)
	docs := make([]knowledge.Document[knowledge.ChunkMetadata], len(chunks))
	for i, ch := range chunks {
		docs[i] = knowledge.Document[knowledge.ChunkMetadata]{
			ID:      fmt.Sprintf("product-%d-chunk-%d", p.ID, ch.Index),
			Content: ch.Content,
			Metadata: knowledge.ChunkMetadata{
				URL:         catalog.ProductURL(baseURL, p),
				Title:       p.ProductName,
				Heading:     "Product Information",
				Section:     "product",
				Lang:        p.Locale,
				ChunkIndex:  ch.Index,
				TotalChunks: len(chunks),
			},
		}
	}
	return docs
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
