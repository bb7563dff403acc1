package construction

import (
	"context"
	"errors"
	"hash/fnv"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/ontology"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/resolver"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/vectorindex"
)

const testDims = 4

// stubProvider returns fixed vectors for known texts and a hash-derived
// vector for anything else.
type stubProvider struct {
	mu      sync.Mutex
	vectors map[string][]float32
	down    bool
}

func (p *stubProvider) Name() string    { return "stub" }
func (p *stubProvider) Dimensions() int { return testDims }

func (p *stubProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return nil, errors.New("connection refused")
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if v, ok := p.vectors[in]; ok {
			out[i] = v
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(in))
		sum := h.Sum64()
		v := make([]float32, testDims)
		for d := range v {
			v[d] = float32(int8(sum>>(8*d))) / 128
		}
		v[0] += 0.01
		out[i] = v
	}
	return out, nil
}

func (p *stubProvider) setDown(down bool) {
	p.mu.Lock()
	p.down = down
	p.mu.Unlock()
}

type recordingPublisher struct {
	mu        sync.Mutex
	manifests []*apptype.Manifest
	err       error
}

func (r *recordingPublisher) Publish(_ context.Context, m *apptype.Manifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests = append(r.manifests, m)
	return r.err
}

type harness struct {
	db       *database.DBManager
	provider *stubProvider
	index    *vectorindex.Index
	audit    *recordingPublisher
	co       *Coordinator
	types    map[string]apptype.EntityType
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9]+`)

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	cfg := database.NewConfig()
	cfg.URL = "file:" + unsafeName.ReplaceAllString(t.Name(), "_") + "?mode=memory&cache=shared"
	cfg.EmbeddingDims = testDims
	db, err := database.NewDBManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	applyDocument(t, db, ontology.Default())

	h := &harness{
		db:       db,
		provider: &stubProvider{vectors: map[string][]float32{}},
		audit:    &recordingPublisher{},
	}
	h.index = vectorindex.New(db, h.provider)
	res, err := resolver.New(h.index, resolver.Config{TopK: 5, Threshold: 0.75})
	require.NoError(t, err)
	h.co = New(Options{
		Ontology:   db,
		Resolver:   res,
		Embedder:   h.index,
		Repository: db,
		Publisher:  h.audit,
		Threshold:  0.75,
	})

	types, err := db.GetEntityTypes(ctx)
	require.NoError(t, err)
	h.types = map[string]apptype.EntityType{}
	for _, et := range types {
		h.types[et.Name] = et
	}
	return h
}

func applyDocument(t *testing.T, db *database.DBManager, doc *ontology.Document) {
	t.Helper()
	_, err := db.ApplyOntology(context.Background(), doc.Types(), doc.Relationships())
	require.NoError(t, err)
}

// seedEntity writes an existing canonical entity with a fixed vector.
func (h *harness) seedEntity(t *testing.T, typeName, name string, props map[string]any, vec []float32) string {
	t.Helper()
	id := "seed-" + unsafeName.ReplaceAllString(name, "-")
	_, err := h.db.ApplyChangeSet(context.Background(), &apptype.ChangeSet{
		SessionID: "seed",
		NewEntities: []apptype.NewEntity{{
			Entity:    apptype.Entity{ID: id, TypeID: h.types[typeName].ID, Name: name, Properties: props},
			Embedding: vec,
		}},
	})
	require.NoError(t, err)
	return id
}

func (h *harness) count(t *testing.T, typeName string) int {
	t.Helper()
	counts, err := h.db.CountEntities(context.Background())
	require.NoError(t, err)
	return counts[h.types[typeName].ID]
}

func itemState(st *apptype.SessionStatus, ref string) apptype.ItemStatus {
	for _, it := range st.Items {
		if it.Ref == ref {
			return it
		}
	}
	return apptype.ItemStatus{}
}
