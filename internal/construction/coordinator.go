// Package construction drives construction sessions: candidates are resolved
// against the canonical graph, confirmed by an external decision source,
// completed with required properties, and committed together with their
// relationships in one atomic change set.
package construction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/ontology"
)

// Resolver finds existing entities similar to a candidate.
type Resolver interface {
	Resolve(ctx context.Context, typeID string, c apptype.Candidate) (apptype.Resolution, error)
}

// Embedder computes the vector staged with a new entity.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Repository is the canonical entity store.
type Repository interface {
	GetEntity(ctx context.Context, id string) (*apptype.Entity, error)
	FindEntityByName(ctx context.Context, typeID, name string) (*apptype.Entity, error)
	ApplyChangeSet(ctx context.Context, cs *apptype.ChangeSet) (*apptype.CommitResult, error)
}

// Publisher receives the manifest of every committed session.
type Publisher interface {
	Publish(ctx context.Context, m *apptype.Manifest) error
}

// DefaultRetention is how long committed and cancelled sessions stay
// readable before the coordinator forgets them.
const DefaultRetention = 30 * time.Minute

// Options wires a Coordinator. Publisher is optional.
type Options struct {
	Ontology   ontology.Reader
	Resolver   Resolver
	Embedder   Embedder
	Repository Repository
	Publisher  Publisher
	// Threshold is the resolver's similarity threshold, used to grade signals.
	Threshold float64
	// Retention bounds how long finished sessions are kept. Zero means
	// DefaultRetention; a negative value keeps them for the process lifetime.
	Retention time.Duration
}

// Coordinator owns all in-flight sessions.
type Coordinator struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session

	now func() time.Time
}

// New returns a coordinator.
func New(opts Options) *Coordinator {
	if opts.Retention == 0 {
		opts.Retention = DefaultRetention
	}
	return &Coordinator{opts: opts, sessions: make(map[string]*Session), now: time.Now}
}

// evictFinished drops committed and cancelled sessions that finished more
// than the retention window ago.
func (co *Coordinator) evictFinished() {
	if co.opts.Retention < 0 {
		return
	}
	cutoff := co.now().Add(-co.opts.Retention)
	co.mu.Lock()
	defer co.mu.Unlock()
	for id, s := range co.sessions {
		s.mu.Lock()
		expired := !s.finishedAt.IsZero() && s.finishedAt.Before(cutoff)
		s.mu.Unlock()
		if expired {
			delete(co.sessions, id)
		}
	}
}

func (co *Coordinator) session(id string) (*Session, error) {
	co.mu.RLock()
	s, ok := co.sessions[id]
	co.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("session", "session %q not found", id)
	}
	return s, nil
}

// Begin starts a session for req and advances it to its first prompt.
// Candidates of unknown types are rejected individually. If the embedding
// service is unavailable the session is still created in the blocked state:
// its status is returned together with the error and Resume continues it.
func (co *Coordinator) Begin(ctx context.Context, req apptype.SessionRequest) (*apptype.SessionStatus, error) {
	s, err := newSession(uuid.New().String(), req)
	if err != nil {
		return nil, err
	}
	catalog, err := ontology.Load(ctx, co.opts.Ontology)
	if err != nil {
		return nil, err
	}
	s.catalog = catalog

	co.evictFinished()
	co.mu.Lock()
	co.sessions[s.id] = s
	co.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	err = co.advance(ctx, s)
	return s.status(co.opts.Threshold), err
}

// Next returns the session's current prompt.
func (co *Coordinator) Next(_ context.Context, id string) (*apptype.Prompt, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt(co.opts.Threshold), nil
}

// Status returns a snapshot of the session. Similarity scores never appear in it.
func (co *Coordinator) Status(_ context.Context, id string) (*apptype.SessionStatus, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status(co.opts.Threshold), nil
}

// Resume continues a blocked session.
func (co *Coordinator) Resume(ctx context.Context, id string) (*apptype.SessionStatus, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return s.status(co.opts.Threshold), err
	}
	err = co.advance(ctx, s)
	return s.status(co.opts.Threshold), err
}

// Cancel discards everything staged by the session. Nothing has been written,
// so cancelling has no persisted side effects.
func (co *Coordinator) Cancel(_ context.Context, id string) (*apptype.SessionStatus, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case SessionCommitted:
		return s.status(co.opts.Threshold), apperr.Validation("session_state", "session %s is already committed", s.id)
	case SessionCancelled:
		return s.status(co.opts.Threshold), nil
	}
	for _, c := range s.candidates {
		c.props, c.merge, c.embedding, c.pending = nil, nil, nil, nil
	}
	s.state = SessionCancelled
	s.finishedAt = co.now()
	s.lastErr = nil
	metrics.Default().IncSession(string(SessionCancelled))
	return s.status(co.opts.Threshold), nil
}

// Retry restarts a conflicted session from scratch against a fresh ontology
// snapshot and fresh resolutions. Nothing from the failed attempt is replayed.
func (co *Coordinator) Retry(ctx context.Context, id string) (*apptype.SessionStatus, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case SessionCancelled:
		return s.status(co.opts.Threshold), apperr.Cancelled("session %s was cancelled", s.id)
	case SessionConflicted:
	default:
		return s.status(co.opts.Threshold), apperr.Validation("session_state", "only a conflicted session can be retried; session %s is %s", s.id, s.state)
	}

	catalog, err := ontology.Load(ctx, co.opts.Ontology)
	if err != nil {
		return s.status(co.opts.Threshold), err
	}
	s.catalog = catalog
	for _, c := range s.candidates {
		c.reset()
	}
	for _, r := range s.relationships {
		r.reset()
	}
	s.attempt++
	s.state = SessionActive
	s.lastErr = nil
	err = co.advance(ctx, s)
	return s.status(co.opts.Threshold), err
}

// advance runs every automatic transition until the session needs input,
// is ready to commit, or is blocked on the embedding service.
func (co *Coordinator) advance(ctx context.Context, s *Session) error {
	for _, c := range s.candidates {
		switch c.state {
		case CandidateDiscovered:
			if !co.classify(s, c) {
				continue
			}
			c.state = CandidateResolving
			fallthrough
		case CandidateResolving:
			res, err := co.opts.Resolver.Resolve(ctx, c.typ.ID, c.in)
			if err != nil {
				return s.block(err)
			}
			c.matches = res.Matches
			if err := co.surfaceSameName(ctx, c); err != nil {
				return s.block(err)
			}
			c.state = CandidateAwaitingDecision
		case CandidateCreatingNew:
			if err := co.stage(ctx, s, c); err != nil {
				return err
			}
		}
	}
	if !s.allCandidatesTerminal() {
		s.state = SessionActive
		return nil
	}

	co.validateRelationships(s)
	if !s.allRelationshipsTerminal() {
		s.state = SessionActive
		return nil
	}
	s.state = SessionReady
	return nil
}

// surfaceSameName adds an existing entity with the candidate's type and name
// key to the matches, however dissimilar its embedding. The unique name index
// would refuse creating it a second time.
func (co *Coordinator) surfaceSameName(ctx context.Context, c *candidateItem) error {
	e, err := co.opts.Repository.FindEntityByName(ctx, c.typ.ID, c.name())
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	for _, m := range c.matches {
		if m.EntityID == e.ID {
			return nil
		}
	}
	same := apptype.Match{EntityID: e.ID, Name: e.Name, Description: e.Description, CreatedAt: e.CreatedAt, Score: 1}
	c.matches = append([]apptype.Match{same}, c.matches...)
	return nil
}

// classify binds a discovered candidate to its entity type, rejecting it when
// the candidate is malformed or names an unknown type.
func (co *Coordinator) classify(s *Session, c *candidateItem) bool {
	if c.name() == "" {
		rejectCandidate(c, apperr.Validation("raw_name", "candidate %s has no name", c.ref))
		return false
	}
	t, err := s.catalog.TypeByName(c.in.TypeName)
	if err != nil {
		rejectCandidate(c, err)
		return false
	}
	c.typ = t
	return true
}

// stage completes a creating_new candidate: it waits for missing required
// properties, then computes the embedding and marks the entity staged.
func (co *Coordinator) stage(ctx context.Context, s *Session, c *candidateItem) error {
	if len(c.pending) > 0 {
		c.state = CandidateAwaitingProperty
		return nil
	}
	if c.sibling == "" {
		vec, err := co.opts.Embedder.Embed(ctx, entityText(c))
		if err != nil {
			return s.block(err)
		}
		c.embedding = vec
	}
	c.state = CandidateCommitted
	return nil
}

// block records a failure that stops the whole session. Only a missing
// embedding service is expected here; anything else is reported as is.
func (s *Session) block(err error) error {
	s.state = SessionBlocked
	s.lastErr = err
	if apperr.KindOf(err) == apperr.KindServiceUnavailable {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Cancelled("session %s interrupted: %v", s.id, err)
	}
	return fmt.Errorf("failed to advance session %s: %w", s.id, err)
}

func rejectCandidate(c *candidateItem, err error) {
	c.state = CandidateRejected
	c.reason = reasonOf(err)
	c.errKind = apperr.KindOf(err)
	c.rule = apperr.RuleOf(err)
	c.props, c.merge, c.embedding, c.pending = nil, nil, nil, nil
	metrics.Default().IncRejection(rejectionKind(c.errKind))
}

func rejectRelationship(r *relationshipItem, err error) {
	r.state = RelationshipRejected
	r.reason = reasonOf(err)
	r.errKind = apperr.KindOf(err)
	r.rule = apperr.RuleOf(err)
	metrics.Default().IncRejection(rejectionKind(r.errKind))
}

func reasonOf(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func rejectionKind(k apperr.Kind) string {
	if k == "" {
		return "reviewer"
	}
	return string(k)
}
