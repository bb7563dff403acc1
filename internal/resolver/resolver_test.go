package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/vectorindex"
)

type memStore struct {
	vecs      map[string][]float32
	neighbors map[string][]apptype.Neighbor
}

func (m *memStore) EmbeddingDims() int { return 2 }
func (m *memStore) UpsertEmbedding(context.Context, string, string, []float32) error {
	return nil
}
func (m *memStore) DeleteEmbedding(context.Context, string, string) error { return nil }
func (m *memStore) NearestEmbeddings(_ context.Context, typeID string, _ []float32, k int) ([]apptype.Neighbor, error) {
	n := m.neighbors[typeID]
	if len(n) > k {
		n = n[:k]
	}
	return n, nil
}

type textProvider struct{}

func (textProvider) Name() string    { return "text" }
func (textProvider) Dimensions() int { return 2 }
func (textProvider) Embed(_ context.Context, in []string) ([][]float32, error) {
	out := make([][]float32, len(in))
	for i := range in {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func newResolver(t testing.TB, neighbors []apptype.Neighbor, cfg Config) *Resolver {
	t.Helper()
	store := &memStore{neighbors: map[string][]apptype.Neighbor{"t-data": neighbors}}
	r, err := New(vectorindex.New(store, textProvider{}), cfg)
	require.NoError(t, err)
	return r
}

func TestResolveSurfacesCloseMatch(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := newResolver(t, []apptype.Neighbor{
		{EntityID: "full-name", Name: "Full Name", CreatedAt: t0, Distance: 0.11},
		{EntityID: "ip", Name: "IP Address", CreatedAt: t0, Distance: 0.6},
	}, Config{TopK: 5, Threshold: 0.75})

	res, err := r.Resolve(context.Background(), "t-data", apptype.Candidate{RawName: "user names"})
	require.NoError(t, err)
	require.False(t, res.NoMatch())
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "full-name", res.Matches[0].EntityID)
	assert.InDelta(t, 0.89, res.Matches[0].Score, 1e-6)
}

func TestResolveTieGoesToEarliest(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := newResolver(t, []apptype.Neighbor{
		{EntityID: "z-old", CreatedAt: t0, Distance: 0.05},
		{EntityID: "a-new", CreatedAt: t0.Add(time.Minute), Distance: 0.05},
	}, Config{TopK: 5, Threshold: 0.75})

	for i := 0; i < 3; i++ {
		res, err := r.Resolve(context.Background(), "t-data", apptype.Candidate{RawName: "Stripe"})
		require.NoError(t, err)
		require.Len(t, res.Matches, 2)
		assert.Equal(t, "z-old", res.Matches[0].EntityID)
	}
}

func TestResolveNoMatch(t *testing.T) {
	r := newResolver(t, nil, Config{TopK: 5, Threshold: 0.75})
	res, err := r.Resolve(context.Background(), "t-data", apptype.Candidate{RawName: "Nothing"})
	require.NoError(t, err)
	assert.True(t, res.NoMatch())
}

func TestConfig(t *testing.T) {
	t.Setenv("RESOLVER_TOP_K", "3")
	t.Setenv("RESOLVER_THRESHOLD", "0.8")
	cfg := NewConfigFromEnv()
	assert.Equal(t, Config{TopK: 3, Threshold: 0.8}, cfg)
	assert.NoError(t, cfg.Validate())

	assert.Error(t, Config{TopK: 0, Threshold: 0.5}.Validate())
	assert.Error(t, Config{TopK: 1, Threshold: 0}.Validate())
	assert.Error(t, Config{TopK: 1, Threshold: 1.2}.Validate())
	assert.NoError(t, Config{TopK: 1, Threshold: 1}.Validate())
}

func BenchmarkResolve(b *testing.B) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	neighbors := make([]apptype.Neighbor, 50)
	for i := range neighbors {
		neighbors[i] = apptype.Neighbor{EntityID: string(rune('a' + i%26)), CreatedAt: t0, Distance: float64(i) / 100}
	}
	r := newResolver(b, neighbors, Config{TopK: 5, Threshold: 0.75})
	ctx := context.Background()
	c := apptype.Candidate{RawName: "Stripe", RawDescription: "payment processor"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Resolve(ctx, "t-data", c); err != nil {
			b.Fatal(err)
		}
	}
}
