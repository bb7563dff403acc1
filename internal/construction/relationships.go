package construction

import (
	"context"
	"errors"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

// validateRelationships checks every proposed relationship once all
// candidates have settled. Endpoints must be accepted candidates, and the
// endpoint types and label must match a permitted edge shape exactly.
func (co *Coordinator) validateRelationships(s *Session) {
	seen := make(map[apptype.RelationshipKey]string)
	for _, r := range s.relationships {
		switch r.state {
		case RelationshipProposed:
		case RelationshipAwaitingApproval, RelationshipCommitted:
			seen[r.key()] = r.ref
			continue
		default:
			continue
		}

		r.state = RelationshipValidatingOntology
		src, srcErr := s.candidate(r.in.SourceCandidateRef)
		tgt, tgtErr := s.candidate(r.in.TargetCandidateRef)
		switch {
		case srcErr != nil:
			rejectRelationship(r, srcErr)
			continue
		case tgtErr != nil:
			rejectRelationship(r, tgtErr)
			continue
		}
		r.src, r.tgt = src, tgt
		if src.state == CandidateRejected {
			rejectRelationship(r, apperr.Validation("endpoint_rejected:"+src.ref,
				"source candidate %s (%s) was rejected", src.ref, src.name()))
			continue
		}
		if tgt.state == CandidateRejected {
			rejectRelationship(r, apperr.Validation("endpoint_rejected:"+tgt.ref,
				"target candidate %s (%s) was rejected", tgt.ref, tgt.name()))
			continue
		}

		if err := s.catalog.CheckEdge(src.typ.ID, tgt.typ.ID, r.in.Label); err != nil {
			r.state = RelationshipInvalid
			rejectRelationship(r, err)
			continue
		}
		r.state = RelationshipValid

		if first, dup := seen[r.key()]; dup {
			rejectRelationship(r, apperr.Validation("duplicate_relationship:"+first,
				"relationship %s duplicates %s: %s -[%s]-> %s", r.ref, first, src.name(), r.in.Label, tgt.name()))
			continue
		}
		seen[r.key()] = r.ref
		r.state = RelationshipAwaitingApproval
	}
}

// Approve records the confirmation collaborator's verdict on a validated
// relationship.
func (co *Coordinator) Approve(ctx context.Context, id, ref string, a apptype.Approval) (*apptype.SessionStatus, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return s.status(co.opts.Threshold), err
	}
	r, err := s.relationship(ref)
	if err != nil {
		return s.status(co.opts.Threshold), err
	}
	if r.state != RelationshipAwaitingApproval {
		return s.status(co.opts.Threshold), apperr.Validation("relationship_state:"+ref,
			"relationship %s is %s, not awaiting approval", ref, r.state)
	}
	if a.Approve {
		r.state = RelationshipCommitted
	} else {
		rejectRelationship(r, errors.New("denied by reviewer"))
	}
	err = co.advance(ctx, s)
	return s.status(co.opts.Threshold), err
}
