package construction

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/ontology"
)

type candidateItem struct {
	ref   string
	in    apptype.Candidate
	typ   apptype.EntityType
	state CandidateState

	matches  []apptype.Match
	entityID string
	isNew    bool
	sibling  string

	props     map[string]any
	merge     map[string]any
	pending   []string
	embedding []float32
	discarded []string

	problem string
	reason  string
	errKind apperr.Kind
	rule    string
}

func (c *candidateItem) name() string { return strings.TrimSpace(c.in.RawName) }

func (c *candidateItem) view() apptype.CandidateView {
	typeName := c.typ.Name
	if typeName == "" {
		typeName = c.in.TypeName
	}
	return apptype.CandidateView{
		Ref:         c.ref,
		TypeName:    typeName,
		Name:        c.name(),
		Description: strings.TrimSpace(c.in.RawDescription),
	}
}

func (c *candidateItem) reset() {
	*c = candidateItem{ref: c.ref, in: c.in, state: CandidateDiscovered}
}

type relationshipItem struct {
	ref   string
	in    apptype.ProposedRelationship
	state RelationshipState

	src, tgt *candidateItem

	reason  string
	errKind apperr.Kind
	rule    string
}

func (r *relationshipItem) reset() {
	*r = relationshipItem{ref: r.ref, in: r.in, state: RelationshipProposed}
}

func (r *relationshipItem) key() apptype.RelationshipKey {
	return apptype.RelationshipKey{SourceID: r.src.entityID, TargetID: r.tgt.entityID, Label: r.in.Label}
}

// Session is one construction run. All fields are guarded by mu.
type Session struct {
	mu sync.Mutex

	id      string
	state   SessionState
	attempt int
	catalog *ontology.Catalog

	candidates    []*candidateItem
	byRef         map[string]*candidateItem
	relationships []*relationshipItem

	lastErr    error
	manifest   *apptype.Manifest
	finishedAt time.Time
}

func newSession(id string, req apptype.SessionRequest) (*Session, error) {
	if len(req.Candidates) == 0 {
		return nil, apperr.Validation("session_request", "a session needs at least one candidate")
	}
	s := &Session{
		id:      id,
		state:   SessionActive,
		attempt: 1,
		byRef:   make(map[string]*candidateItem, len(req.Candidates)),
	}
	for i, c := range req.Candidates {
		ref := strings.TrimSpace(c.Ref)
		if ref == "" {
			ref = fmt.Sprintf("c%d", i+1)
		}
		if _, dup := s.byRef[ref]; dup {
			return nil, apperr.Validation("candidate_ref:"+ref, "candidate ref %q is used more than once", ref)
		}
		item := &candidateItem{ref: ref, in: c, state: CandidateDiscovered}
		item.in.Ref = ref
		s.candidates = append(s.candidates, item)
		s.byRef[ref] = item
	}
	relRefs := make(map[string]bool, len(req.Relationships))
	for i, r := range req.Relationships {
		ref := strings.TrimSpace(r.Ref)
		if ref == "" {
			ref = fmt.Sprintf("r%d", i+1)
		}
		if relRefs[ref] || s.byRef[ref] != nil {
			return nil, apperr.Validation("relationship_ref:"+ref, "relationship ref %q is used more than once", ref)
		}
		relRefs[ref] = true
		item := &relationshipItem{ref: ref, in: r, state: RelationshipProposed}
		item.in.Ref = ref
		s.relationships = append(s.relationships, item)
	}
	return s, nil
}

// usable reports an error for operations on sessions that can no longer change.
func (s *Session) usable() error {
	switch s.state {
	case SessionCancelled:
		return apperr.Cancelled("session %s was cancelled", s.id)
	case SessionCommitted:
		return apperr.Validation("session_state", "session %s is already committed", s.id)
	case SessionConflicted:
		return apperr.Validation("session_state", "session %s failed to commit; retry it to start over", s.id)
	}
	return nil
}

func (s *Session) candidate(ref string) (*candidateItem, error) {
	c, ok := s.byRef[ref]
	if !ok {
		return nil, apperr.NotFound("candidate_ref:"+ref, "session %s has no candidate %q", s.id, ref)
	}
	return c, nil
}

func (s *Session) relationship(ref string) (*relationshipItem, error) {
	for _, r := range s.relationships {
		if r.ref == ref {
			return r, nil
		}
	}
	return nil, apperr.NotFound("relationship_ref:"+ref, "session %s has no relationship %q", s.id, ref)
}

func (s *Session) allCandidatesTerminal() bool {
	for _, c := range s.candidates {
		if !c.state.terminal() {
			return false
		}
	}
	return true
}

func (s *Session) allRelationshipsTerminal() bool {
	for _, r := range s.relationships {
		if !r.state.terminal() {
			return false
		}
	}
	return true
}

func (s *Session) rejected() []apptype.RejectedItem {
	out := []apptype.RejectedItem{}
	for _, c := range s.candidates {
		if c.state == CandidateRejected {
			out = append(out, apptype.RejectedItem{Ref: c.ref, Kind: "candidate", ErrorKind: string(c.errKind), Rule: c.rule, Reason: c.reason})
		}
	}
	for _, r := range s.relationships {
		if r.state == RelationshipRejected {
			out = append(out, apptype.RejectedItem{Ref: r.ref, Kind: "relationship", ErrorKind: string(r.errKind), Rule: r.rule, Reason: r.reason})
		}
	}
	return out
}

func (s *Session) status(threshold float64) *apptype.SessionStatus {
	st := &apptype.SessionStatus{
		SessionID: s.id,
		State:     string(s.state),
		Attempt:   s.attempt,
		Items:     make([]apptype.ItemStatus, 0, len(s.candidates)+len(s.relationships)),
	}
	for _, c := range s.candidates {
		v := c.view()
		item := apptype.ItemStatus{
			Ref:       c.ref,
			Kind:      "candidate",
			Label:     v.TypeName + ": " + v.Name,
			State:     string(c.state),
			EntityID:  c.entityID,
			Reason:    c.reason,
			Discarded: c.discarded,
		}
		if c.sibling != "" && item.Reason == "" {
			item.Reason = "same entity as " + c.sibling
		}
		st.Items = append(st.Items, item)
	}
	for _, r := range s.relationships {
		st.Items = append(st.Items, apptype.ItemStatus{
			Ref:    r.ref,
			Kind:   "relationship",
			Label:  fmt.Sprintf("%s -[%s]-> %s", r.in.SourceCandidateRef, r.in.Label, r.in.TargetCandidateRef),
			State:  string(r.state),
			Reason: r.reason,
		})
	}
	st.Prompt = s.prompt(threshold)
	return st
}

// prompt returns the next request to the confirmation collaborator. Candidates
// are handled in input order before any relationship.
func (s *Session) prompt(threshold float64) *apptype.Prompt {
	p := &apptype.Prompt{Kind: apptype.PromptNone, SessionID: s.id}
	switch s.state {
	case SessionBlocked:
		if s.lastErr != nil {
			p.Problem = s.lastErr.Error()
		}
		return p
	case SessionConflicted:
		if s.lastErr != nil {
			p.Problem = s.lastErr.Error()
		}
		return p
	case SessionCommitted, SessionCancelled:
		return p
	}

	for _, c := range s.candidates {
		switch c.state {
		case CandidateAwaitingDecision:
			p.Kind = apptype.PromptMatchDecision
			p.ItemRef = c.ref
			p.Problem = c.problem
			p.Match = &apptype.MatchPrompt{
				Candidate:        c.view(),
				Suggestions:      suggestions(c.matches, threshold),
				CreateNewAllowed: !c.typ.SeededOnly,
				Problem:          c.problem,
			}
			return p
		case CandidateAwaitingProperty:
			name := c.pending[0]
			def, _ := c.typ.Property(name)
			p.Kind = apptype.PromptPropertyRequest
			p.ItemRef = c.ref
			p.Problem = c.problem
			p.Property = &apptype.PropertyRequest{
				Candidate:   c.view(),
				Name:        name,
				DataType:    def.DataType,
				Description: def.Description,
				Remaining:   len(c.pending),
				Problem:     c.problem,
			}
			return p
		}
	}
	for _, r := range s.relationships {
		if r.state == RelationshipAwaitingApproval {
			rp := s.relationshipPrompt(r)
			p.Kind = apptype.PromptRelationshipApproval
			p.ItemRef = r.ref
			p.Relationship = &rp
			return p
		}
	}
	if s.state == SessionReady {
		p.Kind = apptype.PromptPlanConfirmation
		p.Plan = s.plan()
	}
	return p
}

func (s *Session) relationshipPrompt(r *relationshipItem) apptype.RelationshipPrompt {
	return apptype.RelationshipPrompt{
		Ref:        r.ref,
		SourceRef:  r.src.ref,
		SourceName: r.src.name(),
		SourceType: r.src.typ.Name,
		TargetRef:  r.tgt.ref,
		TargetName: r.tgt.name(),
		TargetType: r.tgt.typ.Name,
		Label:      r.in.Label,
	}
}

func (s *Session) plan() *apptype.PlanSummary {
	plan := &apptype.PlanSummary{
		SessionID:     s.id,
		Create:        []apptype.PlannedEntity{},
		Reuse:         []apptype.PlannedEntity{},
		Relationships: []apptype.RelationshipPrompt{},
		Rejected:      s.rejected(),
	}
	for _, c := range s.candidates {
		if c.state != CandidateCommitted {
			continue
		}
		pe := apptype.PlannedEntity{Ref: c.ref, TypeName: c.typ.Name, Name: c.name(), EntityID: c.entityID}
		if c.isNew && c.sibling == "" {
			plan.Create = append(plan.Create, pe)
		} else if !c.isNew {
			plan.Reuse = append(plan.Reuse, pe)
		}
	}
	for _, r := range s.relationships {
		if r.state == RelationshipCommitted {
			plan.Relationships = append(plan.Relationships, s.relationshipPrompt(r))
		}
	}
	return plan
}
