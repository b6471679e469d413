package catalog

import (
	"context"

	"github.com/barekit/vitrine/pkg/intent"
)

// Strategy is one way of finding products.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) []ProductResult
}

// Chain tries strategies in order until one finds products.
type Chain []Strategy

// Resolve runs the chain and returns the first non-empty result together
// with the name of the strategy that produced it. Nothing found yields
// (nil, "").
func (c Chain) Resolve(ctx context.Context) ([]ProductResult, string) {
	for _, s := range c {
		if ctx.Err() != nil {
			return nil, ""
		}
		if products := s.Run(ctx); len(products) > 0 {
			return products, s.Name
		}
	}
	return nil, ""
}

// Names lists the strategy names in order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name
	}
	return names
}

// Strategy names used by ChainFor.
const (
	StrategyCollection = "collection"
	StrategyCategory   = "category"
	StrategySearch     = "search"
	StrategyDefault    = "default"
)

// ChainFor builds the keyword fallback chain for a detected product intent:
// collection, then category, then the extracted search term, then
// defaultTerm. Steps with empty input are left out, as is a default search
// for the term the search step already used. A category or collection that
// resolves to no products still falls through to the default search.
func (r *Resolver) ChainFor(in intent.ProductIntent, limit int, defaultTerm string) Chain {
	var (
		chain    Chain
		searched string
	)

	if name := in.Collection; name != "" {
		chain = append(chain, Strategy{
			Name: StrategyCollection,
			Run: func(ctx context.Context) []ProductResult {
				return r.ProductsByCollection(ctx, name, limit)
			},
		})
	}
	if name := in.Category; name != "" {
		chain = append(chain, Strategy{
			Name: StrategyCategory,
			Run: func(ctx context.Context) []ProductResult {
				return r.ProductsByCategory(ctx, name, limit)
			},
		})
	}
	if term := in.SearchTerm; term != "" && term != in.Category && term != in.Collection {
		searched = term
		chain = append(chain, Strategy{
			Name: StrategySearch,
			Run: func(ctx context.Context) []ProductResult {
				return r.SearchProducts(ctx, term, limit)
			},
		})
	}
	if defaultTerm != "" && defaultTerm != searched {
		chain = append(chain, Strategy{
			Name: StrategyDefault,
			Run: func(ctx context.Context) []ProductResult {
				return r.SearchProducts(ctx, defaultTerm, limit)
			},
		})
	}
	return chain
}
