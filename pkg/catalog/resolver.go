package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
)

const (
	// DefaultBaseURL is the storefront that product links point to.
	DefaultBaseURL = "https://www.rakporcelain.com"
	// DefaultLimit is the number of products shown per answer.
	DefaultLimit = 5

	defaultLocale = "us-en"
)

// ProductResult is a product as shown next to an answer.
type ProductResult struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	ProductURL  string `json:"productUrl"`
	Collection  string `json:"collection,omitempty"`
	Category    string `json:"category,omitempty"`
	Material    string `json:"material,omitempty"`
	Shape       string `json:"shape,omitempty"`
}

// Source is the data access the Resolver needs. *Repository implements it.
type Source interface {
	SearchProducts(ctx context.Context, term string, limit int) ([]Product, error)
	FindCategory(ctx context.Context, name string) (*Category, error)
	FindCollection(ctx context.Context, name string) (*Collection, error)
	ProductsInCategory(ctx context.Context, categoryID uint, limit int) ([]Product, error)
	ProductsInCollection(ctx context.Context, collectionID uint, limit int) ([]Product, error)
	ProductsByIDs(ctx context.Context, ids []uint) ([]Product, error)
}

// Resolver turns names and ids into ProductResults. It never returns an
// error: data access failures are logged and yield fewer (or no) products.
type Resolver struct {
	source  Source
	baseURL string
	logger  *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithBaseURL sets the storefront base for product links.
func WithBaseURL(u string) ResolverOption {
	return func(r *Resolver) {
		if u != "" {
			r.baseURL = u
		}
	}
}

// WithLogger sets the logger for absorbed errors.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver. A nil source means no catalog is
// configured and every lookup returns nothing.
func NewResolver(source Source, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source:  source,
		baseURL: DefaultBaseURL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether a catalog is configured.
func (r *Resolver) Enabled() bool {
	return r != nil && r.source != nil
}

// SearchProducts returns products matching term.
func (r *Resolver) SearchProducts(ctx context.Context, term string, limit int) []ProductResult {
	if !r.Enabled() {
		return nil
	}
	products, err := r.source.SearchProducts(ctx, term, normalizeLimit(limit))
	if err != nil {
		r.logger.Error("product search failed", "term", term, "error", err)
		return nil
	}
	return r.results(products, "", "")
}

// ProductsByCategory returns products of the category matching name. When no
// such category exists, or the lookup fails, it searches for name instead.
func (r *Resolver) ProductsByCategory(ctx context.Context, name string, limit int) []ProductResult {
	if !r.Enabled() {
		return nil
	}
	limit = normalizeLimit(limit)

	category, err := r.source.FindCategory(ctx, name)
	if err != nil {
		r.logger.Error("category lookup failed", "category", name, "error", err)
		return r.SearchProducts(ctx, name, limit)
	}
	if category == nil {
		return r.SearchProducts(ctx, name, limit)
	}

	products, err := r.source.ProductsInCategory(ctx, category.ID, limit)
	if err != nil {
		r.logger.Error("category products failed", "category", name, "error", err)
		return r.SearchProducts(ctx, name, limit)
	}
	return r.results(products, "", name)
}

// ProductsByCollection returns products of the collection matching name,
// falling back to a search for name like ProductsByCategory.
func (r *Resolver) ProductsByCollection(ctx context.Context, name string, limit int) []ProductResult {
	if !r.Enabled() {
		return nil
	}
	limit = normalizeLimit(limit)

	collection, err := r.source.FindCollection(ctx, name)
	if err != nil {
		r.logger.Error("collection lookup failed", "collection", name, "error", err)
		return r.SearchProducts(ctx, name, limit)
	}
	if collection == nil {
		return r.SearchProducts(ctx, name, limit)
	}

	products, err := r.source.ProductsInCollection(ctx, collection.ID, limit)
	if err != nil {
		r.logger.Error("collection products failed", "collection", name, "error", err)
		return r.SearchProducts(ctx, name, limit)
	}
	return r.results(products, name, "")
}

// ProductsByIDs returns the displayable products among ids, in the order of
// ids. Unknown ids are skipped.
func (r *Resolver) ProductsByIDs(ctx context.Context, ids []uint) []ProductResult {
	if !r.Enabled() || len(ids) == 0 {
		return nil
	}
	products, err := r.source.ProductsByIDs(ctx, ids)
	if err != nil {
		r.logger.Error("product lookup by id failed", "count", len(ids), "error", err)
		return nil
	}

	byID := make(map[uint]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	ordered := make([]Product, 0, len(products))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
			delete(byID, id)
		}
	}
	return r.results(ordered, "", "")
}

// Result converts a single product.
func (r *Resolver) Result(p Product) ProductResult {
	return ProductResult{
		ID:          p.ID,
		Name:        p.ProductName,
		Code:        p.ProductCode,
		Description: p.DisplayDescription(),
		ImageURL:    ExtractImageURL(p.ProductImages),
		ProductURL:  r.ProductURL(p),
		Material:    p.Material,
		Shape:       p.Shape,
	}
}

// ProductURL is the storefront page of p.
func (r *Resolver) ProductURL(p Product) string {
	base := ""
	if r != nil {
		base = r.baseURL
	}
	return ProductURL(base, p)
}

// ProductURL builds the storefront link of p under base, addressed by product
// code when it has one. An empty base uses DefaultBaseURL.
func ProductURL(base string, p Product) string {
	if base == "" {
		base = DefaultBaseURL
	}
	locale := p.Locale
	if locale == "" {
		locale = defaultLocale
	}
	ref := p.ProductCode
	if ref == "" {
		ref = strconv.FormatUint(uint64(p.ID), 10)
	}
	return fmt.Sprintf("%s/%s/products/%s", base, locale, ref)
}

func (r *Resolver) results(products []Product, collection, category string) []ProductResult {
	if len(products) == 0 {
		return nil
	}
	out := make([]ProductResult, len(products))
	for i, p := range products {
		out[i] = r.Result(p)
		out[i].Collection = collection
		out[i].Category = category
	}
	return out
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
