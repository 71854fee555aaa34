package narrative

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profilescrape-engine/internal/domain"
)

type fakeGemini struct {
	mu      sync.Mutex
	prompts []string
	status  int
	body    string
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, ":generateContent") {
		http.NotFound(w, r)
		return
	}
	b, _ := io.ReadAll(r.Body)
	var req struct {
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	_ = json.Unmarshal(b, &req)
	f.mu.Lock()
	if len(req.Contents) > 0 && len(req.Contents[0].Parts) > 0 {
		f.prompts = append(f.prompts, req.Contents[0].Parts[0].Text)
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = io.WriteString(w, f.body)
}

func newGenerator(t *testing.T, srv *fakeGemini, key string) *Generator {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return New(Options{
		Model:   "gemini-test",
		APIKey:  func() string { return key },
		BaseURL: ts.URL,
	})
}

var jane = domain.ProfileRecord{
	CandidateName: "Jane Doe",
	Experience:    []domain.Item{{"Position": "Staff Engineer"}},
}

func TestDescribeReturnsGeneratedText(t *testing.T) {
	srv := &fakeGemini{body: `{"candidates":[{"content":{"role":"model","parts":[{"text":"  **Name:** Jane Doe\n"}]}}]}`}
	g := newGenerator(t, srv, "test-key")

	got := g.Describe(context.Background(), jane)
	assert.Equal(t, "**Name:** Jane Doe", got)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.prompts, 1)
	assert.Contains(t, srv.prompts[0], "Overview, About, Experience, Education, and Skills")
	assert.Contains(t, srv.prompts[0], `"candidate_name": "Jane Doe"`)
}

func TestDescribeWithoutKey(t *testing.T) {
	srv := &fakeGemini{}
	g := newGenerator(t, srv, "  ")

	assert.Equal(t, MissingKeyText, g.Describe(context.Background(), jane))
	_, err := g.Generate(context.Background(), jane)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Empty(t, srv.prompts)
}

func TestDescribeTransportFailure(t *testing.T) {
	srv := &fakeGemini{
		status: http.StatusBadRequest,
		body:   `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`,
	}
	g := newGenerator(t, srv, "bad-key")

	got := g.Describe(context.Background(), jane)
	assert.True(t, strings.HasPrefix(got, "Error generating description: "), got)

	_, err := g.Generate(context.Background(), jane)
	var te *TransportError
	assert.ErrorAs(t, err, &te)
}

func TestDescribeEmptyResponse(t *testing.T) {
	srv := &fakeGemini{body: `{"candidates":[{"content":{"role":"model","parts":[{"text":"   "}]}}]}`}
	g := newGenerator(t, srv, "test-key")

	assert.Equal(t, EmptyResponseText, g.Describe(context.Background(), jane))
}

func TestPromptOmitsUnknownFields(t *testing.T) {
	rec := jane
	rec.Extra = map[string]json.RawMessage{"session_cookie": json.RawMessage(`"secret"`)}
	p, err := Prompt(rec)
	require.NoError(t, err)
	assert.NotContains(t, p, "session_cookie")
	assert.Contains(t, p, `"skills": []`)
}
