package database

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9]+`)

func setupTestDB(t *testing.T) (*DBManager, func()) {
	config := NewConfig()
	// Use an in-memory database for testing.
	// The `cache=shared` is crucial for sharing the connection across different
	// calls to `sql.Open` within the same process; the test name keeps tests
	// from seeing each other's rows.
	config.URL = "file:" + unsafeName.ReplaceAllString(t.Name(), "_") + "?mode=memory&cache=shared"
	config.EmbeddingDims = 4
	db, err := NewDBManager(config)
	require.NoError(t, err)

	cleanup := func() {
		err := db.Close()
		assert.NoError(t, err)
	}

	return db, cleanup
}

func testTypes() ([]apptype.EntityType, []apptype.RelationshipType) {
	types := []apptype.EntityType{
		{Name: "Vendor", Properties: []apptype.PropertyDef{
			{Name: "contact_email", DataType: apptype.DataTypeEmail, Required: true},
			{Name: "dpa_signed", DataType: apptype.DataTypeBoolean},
		}},
		{Name: "Asset", Description: "A system", Properties: []apptype.PropertyDef{
			{Name: "hosting_location", DataType: apptype.DataTypeString},
		}},
		{Name: "DataElement", SeededOnly: true},
	}
	rels := []apptype.RelationshipType{
		{SourceType: "Asset", TargetType: "Vendor", Label: "TRANSFERS_TO"},
		{SourceType: "Asset", TargetType: "DataElement", Label: "CONTAINS"},
	}
	return types, rels
}

// seedOntology applies testTypes and returns type ids by name.
func seedOntology(t *testing.T, db *DBManager) map[string]string {
	t.Helper()
	types, rels := testTypes()
	_, err := db.ApplyOntology(context.Background(), types, rels)
	require.NoError(t, err)
	stored, err := db.GetEntityTypes(context.Background())
	require.NoError(t, err)
	ids := map[string]string{}
	for _, et := range stored {
		ids[et.Name] = et.ID
	}
	return ids
}

func newEntity(id, typeID, name string, props map[string]any, vec []float32) apptype.NewEntity {
	return apptype.NewEntity{
		Entity:    apptype.Entity{ID: id, TypeID: typeID, Name: name, Properties: props},
		Embedding: vec,
	}
}

func TestApplyOntologyAndReads(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	types, rels := testTypes()
	res, err := db.ApplyOntology(ctx, types, rels)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TypesCreated)
	assert.Equal(t, 2, res.RelationshipTypes)

	stored, err := db.GetEntityTypes(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	// ordered by name
	assert.Equal(t, []string{"Asset", "DataElement", "Vendor"}, []string{stored[0].Name, stored[1].Name, stored[2].Name})
	assert.True(t, stored[1].SeededOnly)
	assert.Empty(t, stored[1].Properties)
	vendor := stored[2]
	require.Len(t, vendor.Properties, 2)
	assert.Equal(t, "contact_email", vendor.Properties[0].Name)
	assert.True(t, vendor.Properties[0].Required)

	props, err := db.GetEntityProperties(ctx, vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, vendor.Properties, props)

	_, err = db.GetEntityProperties(ctx, "no-such-type")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	edges, err := db.GetRelationshipTypes(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, "Asset", e.SourceType)
	}

	// Re-applying keeps ids and replaces the property list.
	types[0].Properties = types[0].Properties[:1]
	res, err = db.ApplyOntology(ctx, types, rels[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, res.TypesCreated)
	assert.Equal(t, 3, res.TypesUpdated)
	props, err = db.GetEntityProperties(ctx, vendor.ID)
	require.NoError(t, err)
	assert.Len(t, props, 1)
	edges, err = db.GetRelationshipTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestApplyOntologyUnknownEdgeTypeRollsBack(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	types, _ := testTypes()
	_, err := db.ApplyOntology(ctx, types, []apptype.RelationshipType{
		{SourceType: "Robot", TargetType: "Asset", Label: "OPERATES"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stored, err := db.GetEntityTypes(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestGetEntityNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := db.GetEntity(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFindEntityByNameUsesNameKey(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ids := seedOntology(t, db)

	_, err := db.ApplyChangeSet(ctx, &apptype.ChangeSet{SessionID: "s", NewEntities: []apptype.NewEntity{
		newEntity("v1", ids["Vendor"], "Stripe", map[string]any{"contact_email": "a@stripe.com"}, []float32{1, 0, 0, 0}),
	}})
	require.NoError(t, err)

	e, err := db.FindEntityByName(ctx, ids["Vendor"], "  STRIPE ")
	require.NoError(t, err)
	assert.Equal(t, "v1", e.ID)
	assert.Equal(t, "Stripe", e.Name)

	_, err = db.FindEntityByName(ctx, ids["Asset"], "Stripe")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = db.FindEntityByName(ctx, ids["Vendor"], "Adyen")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplyChangeSetWritesEverything(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ids := seedOntology(t, db)

	cs := &apptype.ChangeSet{
		SessionID: "s1",
		NewEntities: []apptype.NewEntity{
			newEntity("a1", ids["Asset"], "Billing DB", map[string]any{"hosting_location": "eu-west-1"}, []float32{1, 0, 0, 0}),
			newEntity("v1", ids["Vendor"], "PaySecure", map[string]any{"contact_email": "x@paysecure.com"}, []float32{0, 1, 0, 0}),
		},
		Relationships: []apptype.Relationship{{SourceID: "a1", TargetID: "v1", Label: "TRANSFERS_TO"}},
	}
	res, err := db.ApplyChangeSet(ctx, cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "v1"}, res.CreatedEntityIDs)
	require.Len(t, res.CreatedRelationships, 1)
	assert.Empty(t, res.ExistingRelationships)

	e, err := db.GetEntity(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "PaySecure", e.Name)
	assert.Equal(t, "x@paysecure.com", e.Properties["contact_email"])
	assert.False(t, e.CreatedAt.IsZero())

	vec, err := db.GetEmbedding(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)

	rels, err := db.GetRelationshipsForEntity(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "a1", rels[0].SourceID)

	// The same edge again is reported, not rewritten; merges update properties.
	res, err = db.ApplyChangeSet(ctx, &apptype.ChangeSet{
		SessionID:     "s2",
		Merges:        []apptype.PropertyMerge{{EntityID: "v1", Properties: map[string]any{"dpa_signed": true}}},
		Relationships: []apptype.Relationship{{SourceID: "a1", TargetID: "v1", Label: "TRANSFERS_TO"}},
	})
	require.NoError(t, err)
	assert.Empty(t, res.CreatedRelationships)
	assert.Len(t, res.ExistingRelationships, 1)
	assert.Equal(t, []string{"v1"}, res.MergedEntityIDs)
	e, err = db.GetEntity(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, true, e.Properties["dpa_signed"])
	assert.Equal(t, "x@paysecure.com", e.Properties["contact_email"])

	counts, err := db.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[ids["Asset"]])
	assert.Equal(t, 1, counts[ids["Vendor"]])

	listed, err := db.ListEntities(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestApplyChangeSetConflicts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ids := seedOntology(t, db)

	_, err := db.ApplyChangeSet(ctx, &apptype.ChangeSet{SessionID: "seed", NewEntities: []apptype.NewEntity{
		newEntity("v1", ids["Vendor"], "Stripe", map[string]any{"contact_email": "a@stripe.com"}, []float32{1, 1, 0, 0}),
	}})
	require.NoError(t, err)

	tests := []struct {
		name string
		cs   *apptype.ChangeSet
		rule string
	}{
		{
			name: "duplicate name key",
			cs: &apptype.ChangeSet{SessionID: "dup", NewEntities: []apptype.NewEntity{
				newEntity("v2", ids["Vendor"], "  stripe ", map[string]any{"contact_email": "b@stripe.com"}, []float32{1, 0, 1, 0}),
			}},
			rule: "unique_entity:Vendor:stripe",
		},
		{
			name: "missing required property",
			cs: &apptype.ChangeSet{SessionID: "req", NewEntities: []apptype.NewEntity{
				newEntity("v3", ids["Vendor"], "Adyen", nil, []float32{1, 0, 1, 0}),
			}},
			rule: "required_property:contact_email",
		},
		{
			name: "edge outside the ontology",
			cs: &apptype.ChangeSet{SessionID: "edge", NewEntities: []apptype.NewEntity{
				newEntity("a9", ids["Asset"], "Ledger", nil, []float32{0, 0, 1, 0}),
			}, Relationships: []apptype.Relationship{{SourceID: "v1", TargetID: "a9", Label: "HOSTS"}}},
			rule: "ontology:Vendor->Asset:HOSTS",
		},
		{
			name: "merge into missing entity",
			cs: &apptype.ChangeSet{SessionID: "merge", Merges: []apptype.PropertyMerge{
				{EntityID: "gone", Properties: map[string]any{"x": 1}},
			}},
			rule: "entity_exists:gone",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.ApplyChangeSet(ctx, tt.cs)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrConflict)
			assert.Equal(t, tt.rule, apperr.RuleOf(err))
		})
	}

	// Nothing from the failed change sets was persisted.
	counts, err := db.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[ids["Vendor"]])
	assert.Equal(t, 0, counts[ids["Asset"]])
}

func TestApplyChangeSetHookRollsBack(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ids := seedOntology(t, db)

	boom := errors.New("injected fault")
	db.SetCommitHook(func(context.Context, *apptype.ChangeSet) error { return boom })
	_, err := db.ApplyChangeSet(ctx, &apptype.ChangeSet{SessionID: "s", NewEntities: []apptype.NewEntity{
		newEntity("a1", ids["Asset"], "CRM", nil, []float32{1, 0, 0, 0}),
	}})
	require.ErrorIs(t, err, boom)

	_, err = db.GetEntity(ctx, "a1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = db.GetEmbedding(ctx, "a1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	db.SetCommitHook(nil)
	_, err = db.ApplyChangeSet(ctx, &apptype.ChangeSet{SessionID: "s", NewEntities: []apptype.NewEntity{
		newEntity("a1", ids["Asset"], "CRM", nil, []float32{1, 0, 0, 0}),
	}})
	require.NoError(t, err)
}

func TestApplyChangeSetRejectsBadEmbedding(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ids := seedOntology(t, db)

	_, err := db.ApplyChangeSet(context.Background(), &apptype.ChangeSet{SessionID: "s", NewEntities: []apptype.NewEntity{
		newEntity("a1", ids["Asset"], "CRM", nil, []float32{1, 0}),
	}})
	require.Error(t, err)
	assert.Equal(t, "embedding", apperr.RuleOf(err))
}

func TestConcurrentCreatesOfSameNameConflict(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ids := seedOntology(t, db)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = db.ApplyChangeSet(ctx, &apptype.ChangeSet{SessionID: "s", NewEntities: []apptype.NewEntity{
				newEntity([]string{"x1", "x2"}[i], ids["Vendor"], "Stripe", map[string]any{"contact_email": "a@stripe.com"}, []float32{1, 0, 0, 0}),
			}})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, apperr.ErrConflict)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestNearestEmbeddingsOrdering(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ids := seedOntology(t, db)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"Older", "Newer", "Far"} {
		at := base.Add(time.Duration(i) * time.Hour)
		db.now = func() time.Time { return at }
		vec := []float32{1, 0, 0, 0}
		if name == "Far" {
			vec = []float32{0, 1, 0, 0}
		}
		_, err := db.ApplyChangeSet(ctx, &apptype.ChangeSet{SessionID: name, NewEntities: []apptype.NewEntity{
			newEntity("id-"+name, ids["Asset"], name, nil, vec),
		}})
		require.NoError(t, err)
	}

	got, err := db.NearestEmbeddings(ctx, ids["Asset"], []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Older", got[0].Name)
	assert.Equal(t, "Newer", got[1].Name)
	assert.Equal(t, "Far", got[2].Name)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.InDelta(t, 1, got[2].Distance, 1e-6)

	none, err := db.NearestEmbeddings(ctx, ids["Vendor"], []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpsertAndDeleteEmbedding(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ids := seedOntology(t, db)

	_, err := db.ApplyChangeSet(ctx, &apptype.ChangeSet{SessionID: "s", NewEntities: []apptype.NewEntity{
		newEntity("a1", ids["Asset"], "CRM", nil, []float32{1, 0, 0, 0}),
	}})
	require.NoError(t, err)

	require.NoError(t, db.UpsertEmbedding(ctx, ids["Asset"], "a1", []float32{0, 0, 1, 0}))
	vec, err := db.GetEmbedding(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 0}, vec)

	err = db.UpsertEmbedding(ctx, ids["Vendor"], "a1", []float32{0, 0, 1, 0})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	err = db.UpsertEmbedding(ctx, ids["Asset"], "a1", []float32{0, 0, 0, 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	require.NoError(t, db.DeleteEmbedding(ctx, ids["Asset"], "a1"))
	assert.ErrorIs(t, db.DeleteEmbedding(ctx, ids["Asset"], "a1"), apperr.ErrNotFound)
}

func TestEmbeddingDimsAdoptedFromExistingStore(t *testing.T) {
	path := "file:" + t.TempDir() + "/dims.db"
	cfg := NewConfig()
	cfg.URL = path
	cfg.EmbeddingDims = 8
	db, err := NewDBManager(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfg2 := NewConfig()
	cfg2.URL = path
	cfg2.EmbeddingDims = 4
	db2, err := NewDBManager(cfg2)
	require.NoError(t, err)
	defer db2.Close()
	assert.Equal(t, 8, db2.EmbeddingDims())
}

func TestInvalidEmbeddingDims(t *testing.T) {
	cfg := NewConfig()
	cfg.URL = "file:baddims?mode=memory&cache=shared"
	cfg.EmbeddingDims = 0
	_, err := NewDBManager(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_EMBEDDING_DIMS")
}

func TestCapabilitiesReportVectorSearch(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	caps := db.Capabilities()
	assert.True(t, caps["vector_distance_cos"])
	assert.NotContains(t, caps, "vector_top_k")
	require.NoError(t, db.requireVectorSearch())

	var n int
	require.NoError(t, db.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_entity_embeddings_vec'").Scan(&n))
	assert.Equal(t, 0, n)

	db.caps = capFlags{checked: true}
	_, err := db.NearestEmbeddings(context.Background(), "any", []float32{1, 0, 0, 0}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector_distance_cos")
}
