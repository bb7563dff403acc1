package database

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

func setupBenchDB(b *testing.B) (*DBManager, map[string]string) {
	b.Helper()
	cfg := NewConfig()
	cfg.URL = "file:" + b.TempDir() + "/bench.db"
	cfg.EmbeddingDims = 4
	db, err := NewDBManager(cfg)
	if err != nil {
		b.Fatalf("db: %v", err)
	}
	b.Cleanup(func() { _ = db.Close() })

	types, rels := testTypes()
	if _, err := db.ApplyOntology(context.Background(), types, rels); err != nil {
		b.Fatalf("ontology: %v", err)
	}
	stored, err := db.GetEntityTypes(context.Background())
	if err != nil {
		b.Fatalf("types: %v", err)
	}
	ids := map[string]string{}
	for _, t := range stored {
		ids[t.Name] = t.ID
	}
	return db, ids
}

func randVec(r *rand.Rand) []float32 {
	return []float32{r.Float32() + 0.01, r.Float32(), r.Float32(), r.Float32()}
}

func BenchmarkNearestEmbeddings(b *testing.B) {
	db, ids := setupBenchDB(b)
	ctx := context.Background()
	r := rand.New(rand.NewSource(1))

	cs := &apptype.ChangeSet{SessionID: "seed"}
	for i := 0; i < 500; i++ {
		cs.NewEntities = append(cs.NewEntities, newEntity(
			fmt.Sprintf("a%d", i), ids["Asset"], fmt.Sprintf("Asset %d", i), nil, randVec(r)))
	}
	if _, err := db.ApplyChangeSet(ctx, cs); err != nil {
		b.Fatalf("seed: %v", err)
	}

	q := randVec(r)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.NearestEmbeddings(ctx, ids["Asset"], q, 5); err != nil {
			b.Fatalf("search: %v", err)
		}
	}
}

func BenchmarkApplyChangeSet(b *testing.B) {
	db, ids := setupBenchDB(b)
	ctx := context.Background()
	r := rand.New(rand.NewSource(2))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src := fmt.Sprintf("asset-%d", i)
		dst := fmt.Sprintf("vendor-%d", i)
		_, err := db.ApplyChangeSet(ctx, &apptype.ChangeSet{
			SessionID: fmt.Sprintf("s%d", i),
			NewEntities: []apptype.NewEntity{
				newEntity(src, ids["Asset"], src, map[string]any{"hosting_location": "eu"}, randVec(r)),
				newEntity(dst, ids["Vendor"], dst, map[string]any{"contact_email": "a@b.io"}, randVec(r)),
			},
			Relationships: []apptype.Relationship{{SourceID: src, TargetID: dst, Label: "TRANSFERS_TO"}},
		})
		if err != nil {
			b.Fatalf("commit: %v", err)
		}
	}
}
