package construction

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/vectorindex"
)

func entityText(c *candidateItem) string {
	return vectorindex.Text(c.name(), c.in.RawDescription)
}

// Decide applies the confirmation collaborator's verdict on a candidate that
// is awaiting a match decision. Invalid decisions leave the candidate waiting
// and return a ValidationError naming the problem.
func (co *Coordinator) Decide(ctx context.Context, id, ref string, d apptype.Decision) (*apptype.SessionStatus, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return s.status(co.opts.Threshold), err
	}
	c, err := s.candidate(ref)
	if err != nil {
		return s.status(co.opts.Threshold), err
	}
	if c.state != CandidateAwaitingDecision {
		return s.status(co.opts.Threshold), apperr.Validation("candidate_state:"+ref,
			"candidate %s is %s, not awaiting a decision", ref, c.state)
	}

	switch d.Action {
	case apptype.ActionUseExisting:
		err = co.useExisting(ctx, c, d)
	case apptype.ActionCreateNew:
		err = co.createNew(ctx, s, c, d)
	case apptype.ActionReject:
		rejectCandidate(c, errors.New("rejected by reviewer"))
	default:
		err = apperr.Validation("decision_action", "unknown decision action %q; expected use_existing, create_new or reject", d.Action)
	}
	if err != nil {
		if apperr.IsItemScoped(err) {
			c.problem = reasonOf(err)
		}
		return s.status(co.opts.Threshold), err
	}
	c.problem = ""
	err = co.advance(ctx, s)
	return s.status(co.opts.Threshold), err
}

func (co *Coordinator) useExisting(ctx context.Context, c *candidateItem, d apptype.Decision) error {
	var match *apptype.Match
	for i := range c.matches {
		if c.matches[i].EntityID == d.EntityID {
			match = &c.matches[i]
			break
		}
	}
	if match == nil {
		return apperr.Validation("decision:use_existing",
			"entity %q is not one of the suggestions for %s %q", d.EntityID, c.typ.Name, c.name())
	}
	merge, err := validateSupplied(c.typ, d.PropertyValues)
	if err != nil {
		return err
	}
	if _, err := co.opts.Repository.GetEntity(ctx, d.EntityID); err != nil {
		return err
	}
	c.state = CandidateUsingExisting
	c.entityID = d.EntityID
	c.isNew = false
	if len(merge) > 0 {
		c.merge = merge
	}
	// An existing entity keeps its embedding: only name and description feed it.
	c.state = CandidateCommitted
	return nil
}

func (co *Coordinator) createNew(ctx context.Context, s *Session, c *candidateItem, d apptype.Decision) error {
	if c.typ.SeededOnly {
		return apperr.Validation("seeded_only:"+c.typ.Name,
			"%s is a curated type; new entities cannot be created, choose an existing entity or reject", c.typ.Name)
	}
	schema, err := co.opts.Ontology.GetEntityProperties(ctx, c.typ.ID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			rejectCandidate(c, err)
			return nil
		}
		return err
	}
	typ := c.typ
	typ.Properties = schema

	props, discarded, err := gatherProperties(typ, c.in.ProposedProperties, c.in.RawDescription, d.PropertyValues)
	if err != nil {
		return err
	}
	c.typ = typ
	c.props = props
	c.discarded = discarded
	c.pending = missingRequired(typ, props)
	c.isNew = true
	c.state = CandidateCreatingNew

	if sib := s.stagedSibling(c); sib != nil {
		c.sibling = sib.ref
		c.entityID = sib.entityID
		c.pending = nil
		return nil
	}
	c.entityID = uuid.New().String()
	return nil
}

// stagedSibling finds another candidate of the session, decided earlier in
// any input order, that already creates an entity of the same type and name.
// c then refers to it instead of creating a duplicate.
func (s *Session) stagedSibling(c *candidateItem) *candidateItem {
	key := apptype.NameKey(c.name())
	for _, o := range s.candidates {
		if o == c {
			continue
		}
		if o.isNew && o.sibling == "" && o.entityID != "" && o.typ.ID == c.typ.ID &&
			o.state != CandidateRejected && apptype.NameKey(o.name()) == key {
			return o
		}
	}
	return nil
}

// SupplyProperty provides a value for a property of a candidate being
// created. The value is checked against the property's declared type; on
// failure the property is requested again.
func (co *Coordinator) SupplyProperty(ctx context.Context, id, ref, name string, value any) (*apptype.SessionStatus, error) {
	s, err := co.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return s.status(co.opts.Threshold), err
	}
	c, err := s.candidate(ref)
	if err != nil {
		return s.status(co.opts.Threshold), err
	}
	if c.state != CandidateAwaitingProperty {
		return s.status(co.opts.Threshold), apperr.Validation("candidate_state:"+ref,
			"candidate %s is %s, not awaiting a property", ref, c.state)
	}
	def, ok := c.typ.Property(name)
	if !ok {
		err := apperr.Validation("property:"+name, "entity type %s has no property %q", c.typ.Name, name)
		c.problem = err.Message
		return s.status(co.opts.Threshold), err
	}
	v, err := validateValue(def, value)
	if err != nil {
		c.problem = reasonOf(err)
		return s.status(co.opts.Threshold), err
	}

	c.problem = ""
	c.props[name] = v
	remaining := c.pending[:0]
	for _, p := range c.pending {
		if p != name {
			remaining = append(remaining, p)
		}
	}
	c.pending = remaining
	if len(c.pending) > 0 {
		return s.status(co.opts.Threshold), nil
	}
	c.state = CandidateCreatingNew
	err = co.advance(ctx, s)
	return s.status(co.opts.Threshold), err
}
