package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	dims  int
	calls atomic.Int32
	seen  atomic.Int32
}

func (p *countingProvider) Name() string    { return "counting" }
func (p *countingProvider) Dimensions() int { return p.dims }
func (p *countingProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	p.calls.Add(1)
	p.seen.Add(int32(len(inputs)))
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v := make([]float32, p.dims)
		v[0] = float32(len(in))
		v[p.dims-1] = 1
		out[i] = v
	}
	return out, nil
}

func TestWrapToDims(t *testing.T) {
	base := &countingProvider{dims: 6}
	assert.Same(t, Provider(base), WrapToDims(base, 6, ""))

	p := WrapToDims(base, 4, "")
	require.Equal(t, 4, p.Dimensions())
	vecs, err := p.Embed(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.Len(t, vecs[0], 4)

	grow := WrapToDims(base, 8, AdaptPadOrTruncate)
	vecs, err = grow.Embed(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0, 0, 0, 0, 1, 0, 0}, vecs[0])

	_, err = WrapToDims(base, 4, AdaptPad).Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
	_, err = WrapToDims(base, 8, AdaptTruncate).Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestCachedProviderReusesVectors(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	defer db.Close()

	base := &countingProvider{dims: 4}
	c := NewCachedProvider(base, db)

	first, err := c.Embed(context.Background(), []string{"Stripe", "PaySecure"})
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), []string{"PaySecure", "Stripe", "Acme"})
	require.NoError(t, err)

	assert.Equal(t, first[0], second[1])
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, int32(2), base.calls.Load())
	// only "Acme" reached the base provider the second time
	assert.Equal(t, int32(3), base.seen.Load())
	assert.Equal(t, "counting", c.Name())
	assert.NoError(t, c.Close())
}

func TestCachedProviderReturnsVectorsWhenCacheWriteFails(t *testing.T) {
	dir := t.TempDir()
	w, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	// a read-only handle refuses every Set in the write-back
	ro, err := badger.Open(badger.DefaultOptions(dir).WithReadOnly(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	defer ro.Close()

	base := &countingProvider{dims: 4}
	c := NewCachedProvider(base, ro)
	out, err := c.Embed(context.Background(), []string{"Stripe", "PaySecure", "Acme"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, v := range out {
		require.Len(t, v, 4, "input %d", i)
	}
	assert.Equal(t, float32(len("PaySecure")), out[1][0])
	assert.Equal(t, int32(3), base.seen.Load())
}

func TestOpenAICompatEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float64{0, 1}},
				{"index": 0, "embedding": []float64{1, 0}},
			},
		})
	}))
	defer srv.Close()

	t.Setenv("EMBEDDINGS_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("OPENAI_BASE_URL", srv.URL+"/v1")
	p := NewFromEnv()
	require.NotNil(t, p)
	assert.Equal(t, "openai", p.Name())

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOpenAICompatEmbedErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	t.Setenv("EMBEDDINGS_PROVIDER", "localai")
	t.Setenv("LOCALAI_BASE_URL", srv.URL)
	p := NewFromEnv()
	require.NotNil(t, p)
	_, err := p.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.5, 0.5}}})
	}))
	defer srv.Close()

	t.Setenv("EMBEDDINGS_PROVIDER", "ollama")
	t.Setenv("OLLAMA_HOST", srv.URL)
	p := NewFromEnv()
	require.NotNil(t, p)
	vecs, err := p.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.5}}, vecs)
}

func TestNewFromEnvDisabled(t *testing.T) {
	t.Setenv("EMBEDDINGS_PROVIDER", "")
	assert.Nil(t, NewFromEnv())
}
