package vectorindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

type fakeStore struct {
	dims      int
	neighbors []apptype.Neighbor
	upserts   map[string][]float32
	lastK     int
}

func (f *fakeStore) EmbeddingDims() int { return f.dims }

func (f *fakeStore) UpsertEmbedding(_ context.Context, _, entityID string, vec []float32) error {
	if f.upserts == nil {
		f.upserts = map[string][]float32{}
	}
	f.upserts[entityID] = vec
	return nil
}

func (f *fakeStore) DeleteEmbedding(_ context.Context, _, entityID string) error {
	if _, ok := f.upserts[entityID]; !ok {
		return apperr.NotFound("embedding", "no embedding for %s", entityID)
	}
	delete(f.upserts, entityID)
	return nil
}

func (f *fakeStore) NearestEmbeddings(_ context.Context, _ string, _ []float32, k int) ([]apptype.Neighbor, error) {
	f.lastK = k
	if len(f.neighbors) > k {
		return f.neighbors[:k], nil
	}
	return f.neighbors, nil
}

type fixedProvider struct {
	vec []float32
	err error
}

func (p fixedProvider) Name() string    { return "fixed" }
func (p fixedProvider) Dimensions() int { return len(p.vec) }
func (p fixedProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = p.vec
	}
	return out, nil
}

func TestQueryFiltersAndOrders(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{dims: 2, neighbors: []apptype.Neighbor{
		{EntityID: "b", Name: "Newer", CreatedAt: t0.Add(time.Hour), Distance: 0.1},
		{EntityID: "a", Name: "Older", CreatedAt: t0, Distance: 0.1},
		{EntityID: "c", Name: "Weak", CreatedAt: t0, Distance: 0.4},
	}}
	ix := New(store, fixedProvider{vec: []float32{1, 0}})

	matches, err := ix.Query(context.Background(), "t", "Stripe", 5, 0.75)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].EntityID)
	assert.Equal(t, "b", matches[1].EntityID)
	assert.InDelta(t, 0.9, matches[0].Score, 1e-9)
	assert.Equal(t, 5, store.lastK)
}

func TestEmbedFailuresAreUnavailable(t *testing.T) {
	store := &fakeStore{dims: 3}

	_, err := New(store, nil).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, apperr.ErrServiceUnavailable)

	_, err = New(store, fixedProvider{err: errors.New("timeout")}).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, apperr.ErrServiceUnavailable)

	_, err = New(store, fixedProvider{vec: []float32{1, 0}}).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, apperr.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "expects 3")
}

func TestUpsertAndDelete(t *testing.T) {
	store := &fakeStore{dims: 2}
	ix := New(store, fixedProvider{vec: []float32{0.6, 0.8}})
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "t", "e1", Text("Stripe", "payments")))
	assert.Equal(t, []float32{0.6, 0.8}, store.upserts["e1"])
	require.NoError(t, ix.Delete(ctx, "t", "e1"))
	assert.ErrorIs(t, ix.Delete(ctx, "t", "e1"), apperr.ErrNotFound)
}

func TestScoreAndText(t *testing.T) {
	assert.Equal(t, 1.0, Score(-0.1))
	assert.Equal(t, 0.0, Score(1.5))
	assert.InDelta(t, 0.89, Score(0.11), 1e-9)
	assert.Equal(t, "Stripe", Text(" Stripe ", "  "))
	assert.Equal(t, "Stripe\npayments", Text("Stripe", "payments"))
}
