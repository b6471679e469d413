package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/barekit/vitrine/pkg/analytics"
	"github.com/barekit/vitrine/pkg/catalog"
	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/barekit/vitrine/pkg/knowledge/memory"
	"github.com/barekit/vitrine/pkg/llm"
	"github.com/barekit/vitrine/pkg/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocabulary = []string{"care", "plate", "ease", "minimalist", "matte", "shipping", "dining"}

// vocabEmbedder maps text to word counts over a small vocabulary plus a
// constant component, so related texts score close and no vector is zero.
type vocabEmbedder struct {
	calls atomic.Int32
	err   error
}

func embedText(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(vocabulary)+1)
	for i, w := range vocabulary {
		v[i] = float32(strings.Count(lower, w))
	}
	v[len(vocabulary)] = 0.1
	return v
}

func (e *vocabEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   [][]llm.Message
	opts    []llm.Options
	respond func(ctx context.Context, messages []llm.Message) (*llm.Response, error)
}

func replyWith(content string) *fakeProvider {
	return &fakeProvider{respond: func(context.Context, []llm.Message) (*llm.Response, error) {
		return &llm.Response{
			Message: llm.Message{Role: llm.RoleAssistant, Content: content},
			Usage:   llm.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
		}, nil
	}}
}

func (p *fakeProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, messages)
	p.opts = append(p.opts, opts)
	p.mu.Unlock()
	return p.respond(ctx, messages)
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// fakeCatalog is an in-memory catalog.Source.
type fakeCatalog struct {
	products    map[uint]catalog.Product
	collections map[string][]uint
	fail        bool
}

var errCatalog = errors.New("catalog unavailable")

func newCatalog() *fakeCatalog {
	imgs := func(u string) *string { s := `["` + u + `"]`; return &s }
	return &fakeCatalog{
		products: map[uint]catalog.Product{
			1: {ID: 1, ProductName: "Ease Dinner Plate", ProductCode: "EAS001", Locale: "us-en", ProductImages: imgs("https://cdn/1.jpg")},
			2: {ID: 2, ProductName: "Shale Bowl", ProductCode: "SHA002", Locale: "us-en", ProductImages: imgs("https://cdn/2.jpg")},
			3: {ID: 3, ProductName: "Karbon Plate", ProductCode: "KAR003", Locale: "us-en", ProductImages: imgs("https://cdn/3.jpg")},
		},
		collections: map[string][]uint{"ease": {1}},
	}
}

func (c *fakeCatalog) SearchProducts(_ context.Context, term string, limit int) ([]catalog.Product, error) {
	if c.fail {
		return nil, errCatalog
	}
	var out []catalog.Product
	for id := uint(1); id <= uint(len(c.products)); id++ {
		if p, ok := c.products[id]; ok && strings.Contains(strings.ToLower(p.ProductName), strings.ToLower(term)) {
			out = append(out, p)
		}
	}
	return out[:min(limit, len(out))], nil
}

func (c *fakeCatalog) FindCategory(context.Context, string) (*catalog.Category, error) {
	if c.fail {
		return nil, errCatalog
	}
	return nil, nil
}

func (c *fakeCatalog) FindCollection(_ context.Context, name string) (*catalog.Collection, error) {
	if c.fail {
		return nil, errCatalog
	}
	if _, ok := c.collections[name]; !ok {
		return nil, nil
	}
	return &catalog.Collection{ID: 1, CollectionName: name}, nil
}

func (c *fakeCatalog) ProductsInCategory(context.Context, uint, int) ([]catalog.Product, error) {
	return nil, errCatalog
}

func (c *fakeCatalog) ProductsInCollection(_ context.Context, _ uint, limit int) ([]catalog.Product, error) {
	if c.fail {
		return nil, errCatalog
	}
	var out []catalog.Product
	for _, id := range c.collections["ease"] {
		out = append(out, c.products[id])
	}
	return out[:min(limit, len(out))], nil
}

func (c *fakeCatalog) ProductsByIDs(_ context.Context, ids []uint) ([]catalog.Product, error) {
	if c.fail {
		return nil, errCatalog
	}
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (l *eventLog) Record(_ context.Context, e analytics.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func contentStore(t *testing.T) *memory.Store[knowledge.ChunkMetadata] {
	t.Helper()
	store := memory.New[knowledge.ChunkMetadata]("")
	docs := []knowledge.Document[knowledge.ChunkMetadata]{
		{ID: "care-0", Content: "Care: every plate is dishwasher safe. Care tips for daily use.",
			Metadata: knowledge.ChunkMetadata{URL: "https://shop/care", Title: "Care", TotalChunks: 2}},
		{ID: "care-1", Content: "More care advice for porcelain.",
			Metadata: knowledge.ChunkMetadata{URL: "https://shop/care", Title: "Care", ChunkIndex: 1, TotalChunks: 2}},
		{ID: "shipping-0", Content: "Shipping takes 5-7 business days.",
			Metadata: knowledge.ChunkMetadata{URL: "https://shop/shipping", Title: "Shipping", TotalChunks: 1}},
	}
	require.NoError(t, knowledge.NewKnowledgeBase(&vocabEmbedder{}, store).Ingest(context.Background(), docs))
	return store
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, &vocabEmbedder{}, memory.New[knowledge.ChunkMetadata](""))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, CodeConfiguration, CodeOf(err))

	_, err = New(replyWith("hi"), nil, memory.New[knowledge.ChunkMetadata](""))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(replyWith("hi"), &vocabEmbedder{}, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAnswer_GroundedWithKeywordProducts(t *testing.T) {
	provider := replyWith("Great question! Rinse and stack carefully.")
	events := &eventLog{}
	a, err := New(provider, &vocabEmbedder{}, contentStore(t),
		WithResolver(catalog.NewResolver(newCatalog())),
		WithRecorder(events))
	require.NoError(t, err)

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "Hi"},
		{Role: llm.RoleAssistant, Content: "Hello! How can I help?"},
		{Role: llm.RoleSystem, Content: "ignored"},
	}
	ctx := analytics.WithPage(context.Background(), "/care")
	ans, err := a.Answer(ctx, history, "How should I care for my Ease plates?")
	require.NoError(t, err)

	assert.Equal(t, "Great question! Rinse and stack carefully.", ans.Message)
	assert.False(t, ans.Cached)
	assert.Equal(t, []string{"https://shop/care", "https://shop/shipping"}, ans.Sources)
	require.Len(t, ans.Products, 1)
	assert.Equal(t, "Ease Dinner Plate", ans.Products[0].Name)
	assert.Equal(t, "ease", ans.Products[0].Collection)
	assert.Equal(t, "https://cdn/1.jpg", ans.Products[0].ImageURL)
	require.NotNil(t, ans.Usage)
	assert.Equal(t, 150, ans.Usage.TotalTokens)

	require.Equal(t, 1, provider.callCount())
	msgs := provider.calls[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, DefaultSystemPrompt, msgs[0].Content)
	assert.Equal(t, history[:2], msgs[1:3])
	assert.Equal(t, llm.RoleUser, msgs[3].Role)
	assert.True(t, strings.HasPrefix(msgs[3].Content, "Context from RAK Porcelain website:\n\n[Source 1]\nURL: https://shop/care\n"))
	assert.Contains(t, msgs[3].Content, "User Question: How should I care for my Ease plates?")
	assert.Contains(t, msgs[3].Content, "- Ease Dinner Plate (EAS001), collection: ease")
	assert.Equal(t, llm.Options{Model: DefaultModel, Temperature: 0.3, MaxTokens: 1000}, provider.opts[0])

	require.Len(t, events.events, 1)
	e := events.events[0]
	assert.Equal(t, "/care", e.Page)
	assert.True(t, e.Success)
	assert.Equal(t, 3, e.RetrievedDocs)
	assert.Equal(t, 150, e.TokensUsed)
	assert.Equal(t, DefaultModel, e.Model)
}

func TestAnswer_RepeatedQueryServedFromCache(t *testing.T) {
	provider := replyWith("Shipping takes about a week.")
	embedder := &vocabEmbedder{}
	a, err := New(provider, embedder, contentStore(t), WithResolver(catalog.NewResolver(newCatalog())))
	require.NoError(t, err)

	ctx := context.Background()
	first, err := a.Answer(ctx, nil, "How long does shipping take?")
	require.NoError(t, err)
	embedCalls := embedder.calls.Load()

	second, err := a.Answer(ctx, nil, "how long does shipping take")
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Message, second.Message)
	assert.Equal(t, first.Sources, second.Sources)
	assert.Equal(t, first.Products, second.Products)
	assert.Equal(t, embedCalls, embedder.calls.Load(), "cached answer must not embed")
	assert.Equal(t, 1, provider.callCount())
}

func TestAnswer_EmptyContentStoreIsInsufficient(t *testing.T) {
	provider := replyWith("should not be called")
	embedder := &vocabEmbedder{}
	a, err := New(provider, embedder, memory.New[knowledge.ChunkMetadata](""))
	require.NoError(t, err)

	ans, err := a.Answer(context.Background(), nil, "Do you ship to Canada?")
	require.NoError(t, err)
	assert.Equal(t, InsufficientMessage, ans.Message)
	assert.Empty(t, ans.Sources)
	assert.NotNil(t, ans.Sources)
	assert.Equal(t, 0, provider.callCount())

	// not cached: a second ask embeds again
	before := embedder.calls.Load()
	ans, err = a.Answer(context.Background(), nil, "Do you ship to Canada?")
	require.NoError(t, err)
	assert.False(t, ans.Cached)
	assert.Greater(t, embedder.calls.Load(), before)
}

func TestAnswer_EmptyCompletionUsesFallback(t *testing.T) {
	a, err := New(replyWith("   "), &vocabEmbedder{}, contentStore(t))
	require.NoError(t, err)

	ans, err := a.Answer(context.Background(), nil, "care tips?")
	require.NoError(t, err)
	assert.Equal(t, FallbackMessage, ans.Message)

	_, cached := a.Cache().Get(context.Background(), "care tips?")
	assert.False(t, cached)
}

func TestAnswer_ProfilePathTakesPriority(t *testing.T) {
	aesthetic := memory.New[profile.AestheticMetadata]("")
	visual := memory.New[profile.VisualMetadata]("")
	ctx := context.Background()
	require.NoError(t, aesthetic.Upsert(ctx, []knowledge.Document[profile.AestheticMetadata]{
		{ID: "aesthetic-2", Embedding: embedText("minimalist"), Metadata: profile.AestheticMetadata{ProductID: 2}},
		{ID: "aesthetic-3", Embedding: embedText("minimalist matte plate"), Metadata: profile.AestheticMetadata{ProductID: 3}},
	}))
	require.NoError(t, visual.Upsert(ctx, []knowledge.Document[profile.VisualMetadata]{
		{ID: "visual-2", Embedding: embedText("minimalist matte plate dining"), Metadata: profile.VisualMetadata{ProductID: 2}},
	}))

	provider := replyWith("Here are some pieces.")
	a, err := New(provider, &vocabEmbedder{}, contentStore(t),
		WithResolver(catalog.NewResolver(newCatalog())),
		WithProfileStores(aesthetic, visual),
		WithProductLimit(2))
	require.NoError(t, err)

	ans, err := a.Answer(ctx, nil, "Show me minimalist matte plates for fine dining")
	require.NoError(t, err)

	// product 2 scores best through its visual profile
	require.Len(t, ans.Products, 2)
	assert.Equal(t, uint(2), ans.Products[0].ID)
	assert.Equal(t, uint(3), ans.Products[1].ID)
	for _, p := range ans.Products {
		assert.Empty(t, p.Collection, "keyword path must not run")
	}
}

func TestAnswer_ProfilePathFallsBackToKeywords(t *testing.T) {
	a, err := New(replyWith("ok"), &vocabEmbedder{}, contentStore(t),
		WithResolver(catalog.NewResolver(newCatalog())),
		WithProfileStores(memory.New[profile.AestheticMetadata](""), nil))
	require.NoError(t, err)

	ans, err := a.Answer(context.Background(), nil, "Elegant Ease plates please")
	require.NoError(t, err)
	require.Len(t, ans.Products, 1)
	assert.Equal(t, "ease", ans.Products[0].Collection)
}

func TestAnswer_ProductFailuresDegrade(t *testing.T) {
	source := newCatalog()
	source.fail = true
	a, err := New(replyWith("Still answering."), &vocabEmbedder{}, contentStore(t),
		WithResolver(catalog.NewResolver(source)))
	require.NoError(t, err)

	ans, err := a.Answer(context.Background(), nil, "Show me your Ease collection plates")
	require.NoError(t, err)
	assert.Equal(t, "Still answering.", ans.Message)
	assert.Empty(t, ans.Products)
}

func TestAnswer_ProviderErrors(t *testing.T) {
	t.Run("completion", func(t *testing.T) {
		provider := &fakeProvider{respond: func(context.Context, []llm.Message) (*llm.Response, error) {
			return nil, errors.New("quota exceeded: sk-secret")
		}}
		events := &eventLog{}
		a, err := New(provider, &vocabEmbedder{}, contentStore(t), WithRecorder(events))
		require.NoError(t, err)

		_, err = a.Answer(context.Background(), nil, "care?")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProvider)

		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, CodeProvider, e.Code)
		assert.NotContains(t, e.Message, "sk-secret")

		require.Len(t, events.events, 1)
		assert.False(t, events.events[0].Success)
		assert.Equal(t, string(CodeProvider), events.events[0].ErrorCode)
	})

	t.Run("embedding", func(t *testing.T) {
		provider := replyWith("unused")
		a, err := New(provider, &vocabEmbedder{err: errors.New("network down")}, memory.New[knowledge.ChunkMetadata](""))
		require.NoError(t, err)

		_, err = a.Answer(context.Background(), nil, "care?")
		assert.Equal(t, CodeProvider, CodeOf(err))
		assert.Equal(t, 0, provider.callCount())
	})
}

func TestAnswer_Timeout(t *testing.T) {
	provider := &fakeProvider{respond: func(ctx context.Context, _ []llm.Message) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	a, err := New(provider, &vocabEmbedder{}, contentStore(t), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = a.Answer(context.Background(), nil, "care?")
	assert.Equal(t, CodeTimeout, CodeOf(err))
}

func TestAnswer_PanicBecomesInternalError(t *testing.T) {
	provider := &fakeProvider{respond: func(context.Context, []llm.Message) (*llm.Response, error) {
		panic("unexpected nil")
	}}
	a, err := New(provider, &vocabEmbedder{}, contentStore(t))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_, err = a.Answer(context.Background(), nil, "care?")
	})
	assert.Equal(t, CodeInternal, CodeOf(err))
}

func TestAnswer_EmptyQuery(t *testing.T) {
	a, err := New(replyWith("x"), &vocabEmbedder{}, contentStore(t))
	require.NoError(t, err)

	_, err = a.Answer(context.Background(), nil, "   ")
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))
}

func TestEnsureSeeded_OnceUnderConcurrency(t *testing.T) {
	store := memory.New[knowledge.ChunkMetadata]("")
	embedder := &vocabEmbedder{}
	a, err := New(replyWith("x"), embedder, store, WithSeedDocuments(DefaultSeedDocuments()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.EnsureSeeded(context.Background()))
		}()
	}
	wg.Wait()

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, int32(1), embedder.calls.Load())

	doc, ok := store.Get("rak-care-instructions")
	require.True(t, ok)
	assert.Equal(t, "care", doc.Metadata.Section)
	assert.NotEmpty(t, doc.Embedding)
}

func TestEnsureSeeded_RetriesAfterFailure(t *testing.T) {
	store := memory.New[knowledge.ChunkMetadata]("")
	embedder := &vocabEmbedder{err: errors.New("unavailable")}
	a, err := New(replyWith("x"), embedder, store, WithSeedDocuments(DefaultSeedDocuments()))
	require.NoError(t, err)

	assert.Error(t, a.EnsureSeeded(context.Background()))
	embedder.err = nil
	assert.NoError(t, a.EnsureSeeded(context.Background()))

	n, _ := store.Count(context.Background())
	assert.Equal(t, 7, n)
}

func TestEnsureSeeded_SkipsNonEmptyStore(t *testing.T) {
	embedder := &vocabEmbedder{}
	store := contentStore(t)
	a, err := New(replyWith("x"), embedder, store, WithSeedDocuments(DefaultSeedDocuments()))
	require.NoError(t, err)

	require.NoError(t, a.EnsureSeeded(context.Background()))
	n, _ := store.Count(context.Background())
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(0), embedder.calls.Load())
}

func TestSourceURLs(t *testing.T) {
	match := func(u string) knowledge.Match[knowledge.ChunkMetadata] {
		return knowledge.Match[knowledge.ChunkMetadata]{Metadata: knowledge.ChunkMetadata{URL: u}}
	}
	got := sourceURLs([]knowledge.Match[knowledge.ChunkMetadata]{
		match("a"), match("a"), match(""), match("b"), match("c"), match("d"),
	})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRankIDs(t *testing.T) {
	got := rankIDs(map[uint]float64{4: 0.5, 2: 0.9, 7: 0.5, 0: 1}, 2)
	assert.Equal(t, []uint{2, 4}, got)
}

func TestContextPrompt(t *testing.T) {
	prompt := ContextPrompt("Is it oven safe?", []knowledge.Match[knowledge.ChunkMetadata]{
		{Content: "Oven safe to 250C.", Metadata: knowledge.ChunkMetadata{URL: "https://shop/care", Title: "Care"}},
		{Content: "Ships in a week.", Metadata: knowledge.ChunkMetadata{URL: "https://shop/shipping", Title: "Shipping"}},
	})
	assert.Equal(t, "Context from RAK Porcelain website:\n\n"+
		"[Source 1]\nURL: https://shop/care\nTitle: Care\nContent: Oven safe to 250C.\n"+
		"\n---\n"+
		"[Source 2]\nURL: https://shop/shipping\nTitle: Shipping\nContent: Ships in a week.\n"+
		"\n\n---\n\nUser Question: Is it oven safe?\n\n"+
		"Please answer based on the context above. If the context doesn't contain the answer, say you don't have that information.",
		prompt)
	assert.Empty(t, ProductPrompt(nil))
}

func TestMatchImage(t *testing.T) {
	visual := memory.New[profile.VisualMetadata]("")
	ctx := context.Background()
	require.NoError(t, visual.Upsert(ctx, []knowledge.Document[profile.VisualMetadata]{
		{ID: "visual-3", Embedding: embedText("matte plate"), Metadata: profile.VisualMetadata{ProductID: 3}},
	}))

	provider := &fakeProvider{respond: func(context.Context, []llm.Message) (*llm.Response, error) {
		return &llm.Response{Message: llm.Message{Content: `{"summary":"A dark plate","aestheticStyle":["Minimalist","Industrial"],"searchQuery":"matte black plate"}`}}, nil
	}}
	a, err := New(provider, &vocabEmbedder{}, memory.New[knowledge.ChunkMetadata](""),
		WithResolver(catalog.NewResolver(newCatalog())),
		WithProfileStores(nil, visual))
	require.NoError(t, err)

	match, err := a.MatchImage(ctx, "data:image/png;base64,AAAA")
	require.NoError(t, err)
	assert.Equal(t, []string{"Minimalist", "Industrial"}, match.Analysis.AestheticStyle)
	require.Len(t, match.Products, 1)
	assert.Equal(t, "Karbon Plate", match.Products[0].Name)
	assert.Equal(t, "Based on your image, I found 1 similar products that match the Minimalist and Industrial style you're looking for.", match.Message)

	require.Equal(t, 1, provider.callCount())
	assert.Equal(t, "data:image/png;base64,AAAA", provider.calls[0][0].Attachments[0].URL)
	assert.True(t, provider.opts[0].JSON)

	_, err = a.MatchImage(ctx, "")
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))
}
