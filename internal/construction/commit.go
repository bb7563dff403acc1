package construction

import (
	"context"
	"log"
	"time"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
)

// Plan summarises what Commit would write. It is available once every item
// of the session has settled.
func (co *Coordinator) Plan(_ context.Context, id string) (*apptype.PlanSummary, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	if s.state != SessionReady {
		return nil, apperr.Validation("session_state", "session %s is %s; the plan is available once every item is decided", s.id, s.state)
	}
	return s.plan(), nil
}

// Commit writes the session's staged entities, property merges and
// relationships in one transaction. A conflict leaves nothing persisted and
// marks the session conflicted; Retry starts it over.
func (co *Coordinator) Commit(ctx context.Context, id string) (*apptype.Manifest, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	if s.state != SessionReady {
		return nil, apperr.Validation("session_state", "session %s is %s and cannot be committed yet", s.id, s.state)
	}

	res, err := co.opts.Repository.ApplyChangeSet(ctx, s.changeSet())
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			s.state = SessionConflicted
			s.lastErr = err
			metrics.Default().IncSession(string(SessionConflicted))
		}
		return nil, err
	}

	m := s.manifestFor(res)
	s.state = SessionCommitted
	s.finishedAt = co.now()
	s.manifest = m
	metrics.Default().IncSession(string(SessionCommitted))

	if co.opts.Publisher != nil {
		if err := co.opts.Publisher.Publish(ctx, m); err != nil {
			log.Printf("Warning: failed to publish manifest for session %s: %v", s.id, err)
		}
	}
	return m, nil
}

func (s *Session) changeSet() *apptype.ChangeSet {
	cs := &apptype.ChangeSet{SessionID: s.id}
	for _, c := range s.candidates {
		if c.state != CandidateCommitted {
			continue
		}
		switch {
		case c.isNew && c.sibling == "":
			cs.NewEntities = append(cs.NewEntities, apptype.NewEntity{
				Entity: apptype.Entity{
					ID:          c.entityID,
					TypeID:      c.typ.ID,
					Name:        c.name(),
					Description: c.view().Description,
					Properties:  c.props,
				},
				Embedding: c.embedding,
			})
		case !c.isNew && len(c.merge) > 0:
			cs.Merges = append(cs.Merges, apptype.PropertyMerge{EntityID: c.entityID, Properties: c.merge})
		}
	}
	for _, r := range s.relationships {
		if r.state != RelationshipCommitted {
			continue
		}
		cs.Relationships = append(cs.Relationships, apptype.Relationship{
			SourceID:   r.src.entityID,
			TargetID:   r.tgt.entityID,
			Label:      r.in.Label,
			Properties: r.in.Properties,
		})
	}
	return cs
}

func (s *Session) manifestFor(res *apptype.CommitResult) *apptype.Manifest {
	m := &apptype.Manifest{
		SessionID:             s.id,
		Attempt:               s.attempt,
		CommittedAt:           res.CommittedAt.UTC().Format(time.RFC3339Nano),
		CreatedEntityIDs:      res.CreatedEntityIDs,
		ReusedEntityIDs:       []string{},
		CreatedRelationships:  res.CreatedRelationships,
		ExistingRelationships: res.ExistingRelationships,
		RejectedItems:         s.rejected(),
	}
	seen := map[string]bool{}
	for _, c := range s.candidates {
		if c.state == CandidateCommitted && !c.isNew && !seen[c.entityID] {
			seen[c.entityID] = true
			m.ReusedEntityIDs = append(m.ReusedEntityIDs, c.entityID)
		}
	}
	return m
}

// Manifest returns the manifest of a committed session.
func (co *Coordinator) Manifest(_ context.Context, id string) (*apptype.Manifest, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest == nil {
		return nil, apperr.NotFound("manifest", "session %s has not been committed", s.id)
	}
	return s.manifest, nil
}
