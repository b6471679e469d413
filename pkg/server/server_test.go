package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/barekit/vitrine/pkg/analytics"
	"github.com/barekit/vitrine/pkg/assistant"
	"github.com/barekit/vitrine/pkg/cache"
	"github.com/barekit/vitrine/pkg/catalog"
	"github.com/barekit/vitrine/pkg/llm"
	"github.com/barekit/vitrine/pkg/memory/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	history []llm.Message
	query   string
	page    string
}

type fakeAssistant struct {
	mu    sync.Mutex
	calls []call
	err   error
	image string
}

func (f *fakeAssistant) Answer(ctx context.Context, history []llm.Message, query string) (*assistant.Answer, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{history: history, query: query, page: analytics.PageFrom(ctx)})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &assistant.Answer{
		Message:  "answer to " + query,
		Sources:  []string{"https://shop/care"},
		Products: []catalog.ProductResult{{ID: 1, Name: "Ease Plate"}},
		Usage:    &llm.Usage{TotalTokens: 42},
	}, nil
}

func (f *fakeAssistant) MatchImage(_ context.Context, imageURL string) (*assistant.ImageMatch, error) {
	f.image = imageURL
	if f.err != nil {
		return nil, f.err
	}
	return &assistant.ImageMatch{
		Analysis: assistant.ImageAnalysis{AestheticStyle: []string{"Minimalist"}},
		Products: []catalog.ProductResult{},
		Message:  "I analyzed your image and found it has a Minimalist aesthetic. Let me search for similar products for you.",
	}, nil
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestChat_UsesLastUserMessage(t *testing.T) {
	fa := &fakeAssistant{}
	h := New(fa).Handler()

	rec := post(t, h, "/api/chat", `{"page":"/products","messages":[
		{"role":"user","content":"Hi"},
		{"role":"assistant","content":"Hello!"},
		{"role":"user","content":"Are your plates oven safe?"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "answer to Are your plates oven safe?", body["message"])
	assert.Equal(t, []any{"https://shop/care"}, body["sources"])
	assert.Equal(t, false, body["cached"])
	assert.NotContains(t, body, "sessionId")

	require.Len(t, fa.calls, 1)
	assert.Equal(t, "Are your plates oven safe?", fa.calls[0].query)
	assert.Len(t, fa.calls[0].history, 2)
	assert.Equal(t, "/products", fa.calls[0].page)
}

func TestChat_RejectsBadRequests(t *testing.T) {
	h := New(&fakeAssistant{}).Handler()

	tests := []struct {
		name, body, want string
	}{
		{"malformed", `{`, "Invalid request body"},
		{"no messages", `{"messages":[]}`, "Messages array is required"},
		{"no user message", `{"messages":[{"role":"assistant","content":"hi"}]}`, "No user message found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, "/api/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeBody[errorResponse](t, rec).Error)
		})
	}
}

func TestChat_ErrorStatus(t *testing.T) {
	tests := []struct {
		code   assistant.Code
		status int
	}{
		{assistant.CodeInvalidRequest, http.StatusBadRequest},
		{assistant.CodeTimeout, http.StatusGatewayTimeout},
		{assistant.CodeProvider, http.StatusBadGateway},
		{assistant.CodeConfiguration, http.StatusInternalServerError},
		{assistant.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			fa := &fakeAssistant{err: &assistant.Error{Code: tt.code, Message: "shown to users", Err: errors.New("secret cause")}}
			rec := post(t, New(fa).Handler(), "/api/chat", `{"messages":[{"role":"user","content":"q"}]}`)

			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody[errorResponse](t, rec)
			assert.Equal(t, "shown to users", body.Error)
			assert.Equal(t, string(tt.code), body.Code)
			assert.NotContains(t, rec.Body.String(), "secret cause")
		})
	}
}

func TestChat_Sessions(t *testing.T) {
	fa := &fakeAssistant{}
	sessions := inmemory.New(0, 0)
	h := New(fa, WithSessions(sessions, 3)).Handler()

	rec := post(t, h, "/api/chat", `{"messages":[{"role":"user","content":"first"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody[chatResponse](t, rec).SessionID
	require.NotEmpty(t, id)

	rec = post(t, h, "/api/chat", `{"sessionId":"`+id+`","messages":[{"role":"user","content":"second"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeBody[chatResponse](t, rec).SessionID)

	require.Len(t, fa.calls, 2)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "answer to first"},
	}, fa.calls[1].history)

	rec = post(t, h, "/api/chat", `{"sessionId":"`+id+`","messages":[{"role":"user","content":"third"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	// four stored turns, trimmed to the limit
	assert.Len(t, fa.calls[2].history, 3)
	assert.Equal(t, "answer to first", fa.calls[2].history[0].Content)

	stored, err := sessions.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, stored, 6)
}

func TestChat_SessionIgnoresClientTranscript(t *testing.T) {
	fa := &fakeAssistant{}
	h := New(fa, WithSessions(inmemory.New(0, 0), 20)).Handler()

	rec := post(t, h, "/api/chat", `{"messages":[{"role":"user","content":"first"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody[chatResponse](t, rec).SessionID

	rec = post(t, h, "/api/chat", `{"sessionId":"`+id+`","messages":[`+
		`{"role":"user","content":"first"},`+
		`{"role":"assistant","content":"answer to first"},`+
		`{"role":"user","content":"second"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, fa.calls, 2)
	assert.Equal(t, "second", fa.calls[1].query)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "answer to first"},
	}, fa.calls[1].history)
}

func TestChat_UnknownSessionKeepsClientHistory(t *testing.T) {
	fa := &fakeAssistant{}
	h := New(fa, WithSessions(inmemory.New(0, 0), 20)).Handler()

	rec := post(t, h, "/api/chat", `{"sessionId":"expired","messages":[`+
		`{"role":"user","content":"hello"},`+
		`{"role":"assistant","content":"hi"},`+
		`{"role":"user","content":"plates?"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "expired", decodeBody[chatResponse](t, rec).SessionID)

	require.Len(t, fa.calls, 1)
	assert.Len(t, fa.calls[0].history, 2)
}

func TestAnalyzeImage(t *testing.T) {
	fa := &fakeAssistant{}
	h := New(fa).Handler()

	rec := post(t, h, "/api/analyze-image", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No image provided", decodeBody[errorResponse](t, rec).Error)

	rec = post(t, h, "/api/analyze-image", `{"image":"data:image/jpeg;base64,AAAA"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", fa.image)

	match := decodeBody[assistant.ImageMatch](t, rec)
	assert.Equal(t, []string{"Minimalist"}, match.Analysis.AestheticStyle)
	assert.NotNil(t, match.Products)
}

func TestCacheEndpoints(t *testing.T) {
	c := cache.NewMemory(cache.WithMaxSize(10))
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "What is RAK?", cache.Entry{Message: "a"}))

	h := New(&fakeAssistant{}, WithCache(c)).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[cacheStatsResponse](t, rec)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 10, stats.MaxSize)
	require.Len(t, stats.Entries, 1)
	assert.Equal(t, "what is rak", stats.Entries[0].Query)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/cache", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, c.Len())

	// without a cache the endpoints are absent
	rec = httptest.NewRecorder()
	New(&fakeAssistant{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	health := NewHealth("1.0.0")
	health.RegisterCheck("content", CountChecker(func(context.Context) (int, error) { return 7, nil }))
	health.RegisterCheck("visual", CountChecker(func(context.Context) (int, error) { return 0, nil }))
	h := New(&fakeAssistant{}, WithHealth(health)).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, HealthStatusDegraded, resp.Status)
	require.Len(t, resp.Checks, 2)
	assert.Equal(t, "content", resp.Checks[0].Name)
	assert.Equal(t, "7", resp.Checks[0].Details["documents"])

	health.RegisterCheck("catalog", PingChecker(func(context.Context) error { return errors.New("refused") }))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type panicking struct{ fakeAssistant }

func (*panicking) Answer(context.Context, []llm.Message, string) (*assistant.Answer, error) {
	panic("boom")
}

func TestRecoversFromPanics(t *testing.T) {
	rec := post(t, New(&panicking{}).Handler(), "/api/chat", `{"messages":[{"role":"user","content":"q"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	rec := httptest.NewRecorder()
	New(&fakeAssistant{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/chat", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
