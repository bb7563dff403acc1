// Package ontograph is the library entry point: it opens the libSQL store,
// wires embeddings, resolution and auditing, and exposes construction
// sessions without the MCP transport.
package ontograph

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/audit"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/construction"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/embeddings"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/ontology"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/resolver"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/server"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/vectorindex"
)

// Option customises NewService.
type Option func(*Service)

// WithProvider replaces the provider selected by EMBEDDINGS_PROVIDER.
func WithProvider(p embeddings.Provider) Option {
	return func(s *Service) { s.provider = p }
}

// WithAuditSink replaces the sinks selected by AUDIT_SINK. A nil sink
// disables auditing.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) {
		s.sink = sink
		s.sinkSet = true
	}
}

// Service provides a library-first API for graph construction.
type Service struct {
	cfg      *Config
	db       *database.DBManager
	provider embeddings.Provider
	index    *vectorindex.Index
	resolver *resolver.Resolver
	co       *construction.Coordinator
	sink     audit.Sink
	sinkSet  bool
}

// NewService opens the store and wires the engine. The ontology tables are
// created empty; load one with ApplyOntology.
func NewService(ctx context.Context, cfg *Config, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	rc := cfg.resolverConfig()
	if err := rc.Validate(); err != nil {
		return nil, err
	}

	dm, err := database.NewDBManager(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	s.db = dm

	if s.provider == nil {
		s.provider = embeddings.NewFromEnv()
	}
	if s.provider == nil {
		log.Printf("Warning: no embeddings provider configured; candidates cannot be resolved until EMBEDDINGS_PROVIDER is set")
	} else if s.provider.Dimensions() != dm.EmbeddingDims() && cfg.AdaptMode != "" {
		s.provider = embeddings.WrapToDims(s.provider, dm.EmbeddingDims(), cfg.AdaptMode)
	}

	if !s.sinkSet {
		sink, err := audit.NewFromEnv(ctx)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to configure audit sink: %w", err)
		}
		s.sink = sink
	}

	s.index = vectorindex.New(dm, s.provider)
	s.resolver, err = resolver.New(s.index, rc)
	if err != nil {
		s.Close()
		return nil, err
	}
	var pub construction.Publisher
	if s.sink != nil {
		pub = s.sink
	}
	s.co = construction.New(construction.Options{
		Ontology:   dm,
		Resolver:   s.resolver,
		Embedder:   s.index,
		Repository: dm,
		Publisher:  pub,
		Threshold:  rc.Threshold,
		Retention:  cfg.SessionRetention,
	})
	return s, nil
}

// Close releases resources.
func (s *Service) Close() error {
	if c, ok := s.provider.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("Warning: failed to close embeddings provider: %v", err)
		}
	}
	return s.db.Close()
}

// ProviderName names the configured embeddings provider, or "none".
func (s *Service) ProviderName() string {
	if s.provider == nil {
		return "none"
	}
	return s.provider.Name()
}

// Serve runs the MCP tool surface over stdio until ctx ends.
func (s *Service) Serve(ctx context.Context) error {
	if err := metrics.InitFromEnv(); err != nil {
		log.Printf("Warning: metrics disabled: %v", err)
	}
	srv := server.NewMCPServer(s.db, s.co, server.Options{
		EmbeddingsProvider: s.ProviderName(),
		Resolver:           s.resolver.Config(),
	})
	return srv.Run(ctx)
}

// ApplyOntology loads a seed document through the administrative write path.
func (s *Service) ApplyOntology(ctx context.Context, doc *ontology.Document) (*database.ApplyResult, error) {
	return s.db.ApplyOntology(ctx, doc.Types(), doc.Relationships())
}

// ApplyOntologyFile parses and loads a YAML seed document.
func (s *Service) ApplyOntologyFile(ctx context.Context, path string) (*database.ApplyResult, error) {
	doc, err := ontology.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return s.ApplyOntology(ctx, doc)
}

// WatchOntology re-applies the seed document at path whenever it changes,
// until ctx ends.
func (s *Service) WatchOntology(ctx context.Context, path string) error {
	return ontology.Watch(ctx, path, func(ctx context.Context, doc *ontology.Document) error {
		res, err := s.ApplyOntology(ctx, doc)
		if err != nil {
			return err
		}
		log.Printf("Reloaded ontology from %s: %d types created, %d updated, %d relationship types",
			path, res.TypesCreated, res.TypesUpdated, res.RelationshipTypes)
		return nil
	})
}

// Reindex recomputes the stored embedding of every entity, or of the
// entities of one type when typeName is non-empty. It returns how many
// entities were re-embedded.
func (s *Service) Reindex(ctx context.Context, typeName string) (int, error) {
	catalog, err := ontology.Load(ctx, s.db)
	if err != nil {
		return 0, err
	}
	types := catalog.Types()
	if typeName != "" {
		t, err := catalog.TypeByName(typeName)
		if err != nil {
			return 0, err
		}
		types = []apptype.EntityType{t}
	}
	n := 0
	for _, t := range types {
		ents, err := s.db.ListEntities(ctx, t.ID, math.MaxInt32)
		if err != nil {
			return n, err
		}
		for _, e := range ents {
			if err := s.index.Upsert(ctx, t.ID, e.ID, vectorindex.Text(e.Name, e.Description)); err != nil {
				return n, fmt.Errorf("failed to reindex %s %q: %w", t.Name, e.Name, err)
			}
			n++
		}
	}
	return n, nil
}

// Ontology reads

func (s *Service) EntityTypes(ctx context.Context) ([]apptype.EntityType, error) {
	return s.db.GetEntityTypes(ctx)
}

func (s *Service) EntityProperties(ctx context.Context, typeID string) ([]apptype.PropertyDef, error) {
	return s.db.GetEntityProperties(ctx, typeID)
}

func (s *Service) RelationshipTypes(ctx context.Context) ([]apptype.RelationshipType, error) {
	return s.db.GetRelationshipTypes(ctx)
}

// Repository reads

func (s *Service) GetEntity(ctx context.Context, id string) (*apptype.Entity, error) {
	return s.db.GetEntity(ctx, id)
}

func (s *Service) ListEntities(ctx context.Context, typeID string, limit int) ([]apptype.Entity, error) {
	return s.db.ListEntities(ctx, typeID, limit)
}

func (s *Service) RelationshipsOf(ctx context.Context, entityID string) ([]apptype.Relationship, error) {
	return s.db.GetRelationshipsForEntity(ctx, entityID)
}

// Construction sessions

// Run drives a whole session with d answering every prompt.
func (s *Service) Run(ctx context.Context, req apptype.SessionRequest, d construction.Decider) (*apptype.Manifest, error) {
	return construction.Run(ctx, s.co, req, d)
}

func (s *Service) Begin(ctx context.Context, req apptype.SessionRequest) (*apptype.SessionStatus, error) {
	return s.co.Begin(ctx, req)
}

func (s *Service) Next(ctx context.Context, id string) (*apptype.Prompt, error) {
	return s.co.Next(ctx, id)
}

func (s *Service) Status(ctx context.Context, id string) (*apptype.SessionStatus, error) {
	return s.co.Status(ctx, id)
}

func (s *Service) Decide(ctx context.Context, id, ref string, d apptype.Decision) (*apptype.SessionStatus, error) {
	return s.co.Decide(ctx, id, ref, d)
}

func (s *Service) SupplyProperty(ctx context.Context, id, ref, name string, value any) (*apptype.SessionStatus, error) {
	return s.co.SupplyProperty(ctx, id, ref, name, value)
}

func (s *Service) Approve(ctx context.Context, id, ref string, a apptype.Approval) (*apptype.SessionStatus, error) {
	return s.co.Approve(ctx, id, ref, a)
}

func (s *Service) Resume(ctx context.Context, id string) (*apptype.SessionStatus, error) {
	return s.co.Resume(ctx, id)
}

func (s *Service) Plan(ctx context.Context, id string) (*apptype.PlanSummary, error) {
	return s.co.Plan(ctx, id)
}

func (s *Service) Commit(ctx context.Context, id string) (*apptype.Manifest, error) {
	return s.co.Commit(ctx, id)
}

func (s *Service) Retry(ctx context.Context, id string) (*apptype.SessionStatus, error) {
	return s.co.Retry(ctx, id)
}

func (s *Service) Cancel(ctx context.Context, id string) (*apptype.SessionStatus, error) {
	return s.co.Cancel(ctx, id)
}
