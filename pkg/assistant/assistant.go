// Package assistant answers one customer turn: it retrieves grounding
// passages and candidate products, asks the completion provider for a reply
// and caches the result.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/barekit/vitrine/pkg/analytics"
	"github.com/barekit/vitrine/pkg/cache"
	"github.com/barekit/vitrine/pkg/catalog"
	"github.com/barekit/vitrine/pkg/intent"
	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/barekit/vitrine/pkg/llm"
	"github.com/barekit/vitrine/pkg/observability"
	"github.com/barekit/vitrine/pkg/profile"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1000
	DefaultTopK        = 5
	DefaultTimeout     = 30 * time.Second
	// MaxSources caps the source links returned with an answer.
	MaxSources = 3

	// StrategyProfile names the aesthetic/visual profile path in results.
	StrategyProfile = "profile"
)

// Answer is the reply to one turn.
type Answer struct {
	Message  string                  `json:"message"`
	Sources  []string                `json:"sources"`
	Products []catalog.ProductResult `json:"products,omitempty"`
	Usage    *llm.Usage              `json:"usage,omitempty"`
	Cached   bool                    `json:"cached"`
}

// Assistant is safe for concurrent use. Construct one per process.
type Assistant struct {
	provider   llm.Provider
	embedder   knowledge.Embedder
	content    knowledge.VectorStore[knowledge.ChunkMetadata]
	aesthetic  knowledge.VectorStore[profile.AestheticMetadata]
	visual     knowledge.VectorStore[profile.VisualMetadata]
	resolver   *catalog.Resolver
	classifier *intent.Classifier
	cache      cache.Store
	recorder   analytics.Recorder
	logger     *slog.Logger

	systemPrompt string
	model        string
	visionModel  string
	temperature  float64
	maxTokens    int
	topK         int
	productLimit int
	timeout      time.Duration

	seedDocs []knowledge.Document[knowledge.ChunkMetadata]
	seedMu   sync.Mutex
	seeded   atomic.Bool
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithProfileStores enables the aesthetic-first product path. Either store
// may be nil.
func WithProfileStores(aesthetic knowledge.VectorStore[profile.AestheticMetadata], visual knowledge.VectorStore[profile.VisualMetadata]) Option {
	return func(a *Assistant) {
		a.aesthetic = aesthetic
		a.visual = visual
	}
}

// WithResolver sets the product catalog.
func WithResolver(r *catalog.Resolver) Option {
	return func(a *Assistant) {
		if r != nil {
			a.resolver = r
		}
	}
}

// WithClassifier replaces the default intent tables.
func WithClassifier(c *intent.Classifier) Option {
	return func(a *Assistant) {
		if c != nil {
			a.classifier = c
		}
	}
}

// WithCache sets the response cache.
func WithCache(c cache.Store) Option {
	return func(a *Assistant) {
		if c != nil {
			a.cache = c
		}
	}
}

// WithRecorder sets where turn analytics go.
func WithRecorder(r analytics.Recorder) Option {
	return func(a *Assistant) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(a *Assistant) {
		if p != "" {
			a.systemPrompt = p
		}
	}
}

// WithModel sets the chat model.
func WithModel(m string) Option {
	return func(a *Assistant) {
		if m != "" {
			a.model = m
		}
	}
}

// WithVisionModel sets the model used by MatchImage.
func WithVisionModel(m string) Option {
	return func(a *Assistant) {
		if m != "" {
			a.visionModel = m
		}
	}
}

// WithTemperature sets the completion temperature.
func WithTemperature(t float64) Option {
	return func(a *Assistant) {
		if t >= 0 {
			a.temperature = t
		}
	}
}

// WithMaxTokens sets the completion token limit.
func WithMaxTokens(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithTopK sets how many passages ground an answer.
func WithTopK(k int) Option {
	return func(a *Assistant) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithProductLimit sets how many products accompany an answer.
func WithProductLimit(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.productLimit = n
		}
	}
}

// WithTimeout sets the per-turn deadline.
func WithTimeout(d time.Duration) Option {
	return func(a *Assistant) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithSeedDocuments makes the first turn write docs to an empty content
// store. Without it the store is used as found.
func WithSeedDocuments(docs []knowledge.Document[knowledge.ChunkMetadata]) Option {
	return func(a *Assistant) {
		a.seedDocs = docs
	}
}

// New creates an Assistant. provider, embedder and content are required.
func New(provider llm.Provider, embedder knowledge.Embedder, content knowledge.VectorStore[knowledge.ChunkMetadata], opts ...Option) (*Assistant, error) {
	switch {
	case provider == nil:
		return nil, newError(CodeConfiguration, fmt.Errorf("%w: completion provider is required", ErrConfiguration))
	case embedder == nil:
		return nil, newError(CodeConfiguration, fmt.Errorf("%w: embedder is required", ErrConfiguration))
	case content == nil:
		return nil, newError(CodeConfiguration, fmt.Errorf("%w: content store is required", ErrConfiguration))
	}

	a := &Assistant{
		provider:     provider,
		embedder:     embedder,
		content:      content,
		classifier:   intent.Default(),
		recorder:     analytics.Nop{},
		logger:       slog.Default(),
		systemPrompt: DefaultSystemPrompt,
		model:        DefaultModel,
		visionModel:  profile.DefaultVisionModel,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
		topK:         DefaultTopK,
		productLimit: catalog.DefaultLimit,
		timeout:      DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.resolver == nil {
		a.resolver = catalog.NewResolver(nil, catalog.WithLogger(a.logger))
	}
	if a.cache == nil {
		a.cache = cache.NewMemory(cache.WithLogger(a.logger))
	}
	return a, nil
}

// Cache returns the response cache.
func (a *Assistant) Cache() cache.Store { return a.cache }

// turn collects what one Answer call found, for tracing and analytics.
type turn struct {
	passages int
	products int
	strategy string
	cached   bool
	usage    llm.Usage
}

// Answer replies to query given the earlier turns of the conversation.
// history must not contain query itself. Every failure is an *Error.
func (a *Assistant) Answer(ctx context.Context, history []llm.Message, query string) (ans *Answer, err error) {
	start := time.Now()
	page := analytics.PageFrom(ctx)
	var t turn

	ctx, span := observability.StartAnswerSpan(ctx, page, len(history))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("answer panicked", "panic", r, "stack", string(debug.Stack()))
			ans, err = nil, newError(CodeInternal, fmt.Errorf("panic: %v", r))
		}
		observability.RecordTurn(span, t.cached, t.passages, t.products, t.strategy)
		observability.RecordError(span, err)
		a.record(ctx, page, query, start, t, err)
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, newError(CodeInvalidRequest, errors.New("empty query"))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if entry, ok := a.cache.Get(ctx, query); ok {
		t.cached = true
		t.products = len(entry.Products)
		a.logger.Info("serving cached answer", "query", query, "hits", entry.Hits)
		return &Answer{
			Message:  entry.Message,
			Sources:  entry.Sources,
			Products: entry.Products,
			Cached:   true,
		}, nil
	}

	if err := a.EnsureSeeded(ctx); err != nil {
		return nil, providerError(ctx, err)
	}

	var (
		embedding []float32
		productIn intent.ProductIntent
		styleIn   intent.AestheticIntent
		visualIn  intent.VisualIntent
	)
	g, gctx := errgroup.WithContext(ctx)
	goSafe(g, func() error {
		v, err := knowledge.EmbedOne(gctx, a.embedder, query)
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		embedding = v
		return nil
	})
	goSafe(g, func() error {
		productIn = a.classifier.DetectProduct(query)
		return nil
	})
	goSafe(g, func() error {
		styleIn = a.classifier.ExtractAesthetic(query)
		visualIn = a.classifier.ExtractVisual(query)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, turnError(ctx, err)
	}

	var (
		passages []knowledge.Match[knowledge.ChunkMetadata]
		products []catalog.ProductResult
	)
	g, gctx = errgroup.WithContext(ctx)
	goSafe(g, func() error {
		rctx, rspan := observability.StartRetrievalSpan(gctx, "content", a.topK)
		defer rspan.End()
		matches, err := a.content.Query(rctx, embedding, a.topK)
		if err != nil {
			observability.RecordError(rspan, err)
			return fmt.Errorf("failed to query content store: %w", err)
		}
		passages = matches
		return nil
	})
	goSafe(g, func() error {
		products, t.strategy = a.findProducts(gctx, embedding, productIn, styleIn, visualIn)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, turnError(ctx, err)
	}
	t.passages = len(passages)

	if len(passages) == 0 {
		a.logger.Info("no grounding passages", "query", query)
		return &Answer{Message: InsufficientMessage, Sources: []string{}}, nil
	}
	t.products = len(products)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt})
	messages = append(messages, llm.Conversation(history)...)
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: ContextPrompt(query, passages) + ProductPrompt(products),
	})

	lctx, lspan := observability.StartLLMSpan(ctx, a.model)
	resp, err := a.provider.Chat(lctx, messages, llm.Options{
		Model:       a.model,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		observability.RecordError(lspan, err)
		lspan.End()
		return nil, providerError(ctx, fmt.Errorf("completion failed: %w", err))
	}
	observability.RecordUsage(lspan, resp.Usage)
	lspan.End()
	t.usage = resp.Usage

	ans = &Answer{
		Message:  strings.TrimSpace(resp.Message.Content),
		Sources:  sourceURLs(passages),
		Products: products,
		Usage:    &resp.Usage,
	}
	if ans.Message == "" {
		ans.Message = FallbackMessage
		return ans, nil
	}

	if err := a.cache.Set(ctx, query, cache.Entry{
		Message:  ans.Message,
		Sources:  ans.Sources,
		Products: ans.Products,
	}); err != nil {
		a.logger.Warn("failed to cache answer", "query", query, "error", err)
	}
	return ans, nil
}

var errPanic = errors.New("panic")

// goSafe runs fn on g, turning a panic into an error.
func goSafe(g *errgroup.Group, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v\n%s", errPanic, r, debug.Stack())
			}
		}()
		return fn()
	})
}

func turnError(ctx context.Context, err error) *Error {
	if errors.Is(err, errPanic) {
		return newError(CodeInternal, err)
	}
	return providerError(ctx, err)
}

// findProducts runs the profile path when the query reads as a style
// request and otherwise, or when that finds nothing, the keyword chain.
// It never fails.
func (a *Assistant) findProducts(ctx context.Context, embedding []float32, productIn intent.ProductIntent, styleIn intent.AestheticIntent, visualIn intent.VisualIntent) ([]catalog.ProductResult, string) {
	if !a.resolver.Enabled() {
		return nil, ""
	}

	if styleIn.HasAestheticIntent || visualIn.HasVisualIntent {
		ids := a.profileMatches(ctx, embedding)
		if len(ids) > 0 {
			if products := a.resolver.ProductsByIDs(ctx, ids); len(products) > 0 {
				return products, StrategyProfile
			}
		}
	}

	if !productIn.HasProductIntent {
		return nil, ""
	}
	return a.resolver.ChainFor(productIn, a.productLimit, a.classifier.DefaultTerm()).Resolve(ctx)
}

// profileMatches queries the aesthetic and visual stores together and
// returns product ids by best score across both, at most productLimit.
func (a *Assistant) profileMatches(ctx context.Context, embedding []float32) []uint {
	var (
		mu   sync.Mutex
		best = make(map[uint]float64)
	)
	keep := func(id uint, score float64) {
		mu.Lock()
		defer mu.Unlock()
		if s, ok := best[id]; !ok || score > s {
			best[id] = score
		}
	}

	var g errgroup.Group
	if a.aesthetic != nil {
		goSafe(&g, func() error {
			rctx, span := observability.StartRetrievalSpan(ctx, "aesthetic", a.productLimit)
			defer span.End()
			matches, err := a.aesthetic.Query(rctx, embedding, a.productLimit)
			if err != nil {
				a.logger.Warn("aesthetic search failed", "error", err)
				return nil
			}
			for _, m := range matches {
				keep(m.Metadata.ProductID, m.Score)
			}
			return nil
		})
	}
	if a.visual != nil {
		goSafe(&g, func() error {
			rctx, span := observability.StartRetrievalSpan(ctx, "visual", a.productLimit)
			defer span.End()
			matches, err := a.visual.Query(rctx, embedding, a.productLimit)
			if err != nil {
				a.logger.Warn("visual search failed", "error", err)
				return nil
			}
			for _, m := range matches {
				keep(m.Metadata.ProductID, m.Score)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Error("profile search failed", "error", err)
	}

	return rankIDs(best, a.productLimit)
}

// rankIDs orders ids by descending score, ties by ascending id.
func rankIDs(scores map[uint]float64, limit int) []uint {
	ids := make([]uint, 0, len(scores))
	for id := range scores {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := scores[ids[i]], scores[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// sourceURLs returns the distinct passage URLs in rank order, at most
// MaxSources.
func sourceURLs(passages []knowledge.Match[knowledge.ChunkMetadata]) []string {
	seen := make(map[string]bool)
	urls := []string{}
	for _, p := range passages {
		u := p.Metadata.URL
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		if len(urls) == MaxSources {
			break
		}
	}
	return urls
}

// EnsureSeeded writes the seed documents to the content store if it is
// empty. Concurrent callers wait for the first; a failed attempt is retried
// by the next call. A snapshot write failure does not count as a failure.
func (a *Assistant) EnsureSeeded(ctx context.Context) error {
	if len(a.seedDocs) == 0 || a.seeded.Load() {
		return nil
	}

	a.seedMu.Lock()
	defer a.seedMu.Unlock()
	if a.seeded.Load() {
		return nil
	}

	n, err := a.content.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count content documents: %w", err)
	}
	if n > 0 {
		a.logger.Info("content store already seeded", "documents", n)
		a.seeded.Store(true)
		return nil
	}

	docs := make([]knowledge.Document[knowledge.ChunkMetadata], len(a.seedDocs))
	copy(docs, a.seedDocs)

	a.logger.Info("seeding content store", "documents", len(docs))
	kb := knowledge.NewKnowledgeBase(a.embedder, a.content)
	if err := kb.Ingest(ctx, docs); err != nil {
		if !errors.Is(err, knowledge.ErrPersistence) {
			return fmt.Errorf("failed to seed content store: %w", err)
		}
		a.logger.Warn("seeded content store without snapshot", "error", err)
	}
	a.seeded.Store(true)
	return nil
}

func (a *Assistant) record(ctx context.Context, page, query string, start time.Time, t turn, err error) {
	e := analytics.Event{
		Page:          page,
		Query:         query,
		LatencyMs:     time.Since(start).Milliseconds(),
		RetrievedDocs: t.passages,
		Model:         a.model,
		TokensUsed:    t.usage.TotalTokens,
		Success:       err == nil,
		Cached:        t.cached,
	}
	if err != nil {
		e.ErrorCode = string(CodeOf(err))
		a.logger.Error("answer failed", "query", query, "code", e.ErrorCode, "error", err)
	}
	if rerr := a.recorder.Record(context.WithoutCancel(ctx), e); rerr != nil {
		a.logger.Warn("failed to record analytics", "error", rerr)
	}
}
