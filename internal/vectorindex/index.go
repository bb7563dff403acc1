// Package vectorindex is the per-type similarity index over entity embeddings.
package vectorindex

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/embeddings"
)

// Store persists vectors keyed by entity and partitioned by entity type.
type Store interface {
	EmbeddingDims() int
	UpsertEmbedding(ctx context.Context, typeID, entityID string, vec []float32) error
	DeleteEmbedding(ctx context.Context, typeID, entityID string) error
	NearestEmbeddings(ctx context.Context, typeID string, vec []float32, k int) ([]apptype.Neighbor, error)
}

// Index pairs a vector store with the embedding provider that fills it.
type Index struct {
	store    Store
	provider embeddings.Provider
}

// New returns an index. A nil provider is allowed; every operation that
// needs an embedding then fails with ServiceUnavailable.
func New(store Store, provider embeddings.Provider) *Index {
	return &Index{store: store, provider: provider}
}

// Text is the string embedded for an entity or candidate.
func Text(name, description string) string {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if description == "" {
		return name
	}
	return name + "\n" + description
}

// Embed computes the vector of text with the store's dimensionality.
func (ix *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	if ix.provider == nil {
		return nil, apperr.Unavailable(nil, "no embeddings provider configured")
	}
	vecs, err := ix.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, apperr.Unavailable(err, "embeddings provider %s failed", ix.provider.Name())
	}
	if len(vecs) != 1 {
		return nil, apperr.Unavailable(nil, "embeddings provider %s returned %d vectors for 1 input", ix.provider.Name(), len(vecs))
	}
	if want := ix.store.EmbeddingDims(); len(vecs[0]) != want {
		return nil, apperr.Unavailable(nil, "embeddings provider %s returned %d dimensions, index expects %d",
			ix.provider.Name(), len(vecs[0]), want)
	}
	return vecs[0], nil
}

// Upsert embeds text and stores it for an existing entity.
func (ix *Index) Upsert(ctx context.Context, typeID, entityID, text string) error {
	vec, err := ix.Embed(ctx, text)
	if err != nil {
		return err
	}
	return ix.store.UpsertEmbedding(ctx, typeID, entityID, vec)
}

// Delete removes an entity from the index.
func (ix *Index) Delete(ctx context.Context, typeID, entityID string) error {
	return ix.store.DeleteEmbedding(ctx, typeID, entityID)
}

// Query returns up to topK entities of typeID whose similarity to text is at
// least minScore, best first. Equal scores are ordered oldest first, then by id.
func (ix *Index) Query(ctx context.Context, typeID, text string, topK int, minScore float64) ([]apptype.Match, error) {
	if topK <= 0 {
		return []apptype.Match{}, nil
	}
	vec, err := ix.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	neighbors, err := ix.store.NearestEmbeddings(ctx, typeID, vec, topK)
	if err != nil {
		return nil, err
	}

	out := make([]apptype.Match, 0, len(neighbors))
	for _, n := range neighbors {
		score := Score(n.Distance)
		if score < minScore {
			continue
		}
		out = append(out, apptype.Match{
			EntityID:    n.EntityID,
			Name:        n.Name,
			Description: n.Description,
			CreatedAt:   n.CreatedAt,
			Score:       score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

// Score converts a cosine distance into a similarity in [0, 1].
func Score(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	s := 1 - distance
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
