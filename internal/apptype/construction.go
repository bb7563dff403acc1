package apptype

// Candidate is an unresolved entity proposal from the extraction collaborator.
type Candidate struct {
	Ref                string         `json:"ref,omitempty" jsonschema:"Optional reference used by relationships. Defaults to c1, c2, ..."`
	TypeName           string         `json:"type_name" jsonschema:"Entity type name from the ontology."`
	RawName            string         `json:"raw_name" jsonschema:"Name as found in the source material."`
	RawDescription     string         `json:"raw_description,omitempty" jsonschema:"Free text description. Lines of the form key: value may carry property values."`
	ProposedProperties map[string]any `json:"proposed_properties,omitempty" jsonschema:"Property values proposed by extraction."`
}

// ProposedRelationship links two candidates of the same session by ref.
type ProposedRelationship struct {
	Ref                string         `json:"ref,omitempty" jsonschema:"Optional reference. Defaults to r1, r2, ..."`
	SourceCandidateRef string         `json:"source_candidate_ref" jsonschema:"Ref of the source candidate."`
	TargetCandidateRef string         `json:"target_candidate_ref" jsonschema:"Ref of the target candidate."`
	Label              string         `json:"label" jsonschema:"Relationship label from the ontology."`
	Properties         map[string]any `json:"properties,omitempty" jsonschema:"Optional edge properties."`
}

// SessionRequest is the ordered input of one construction session.
type SessionRequest struct {
	Candidates    []Candidate            `json:"candidates" jsonschema:"Ordered entity candidates."`
	Relationships []ProposedRelationship `json:"relationships,omitempty" jsonschema:"Proposed relationships between candidates."`
}

// DecisionAction is the confirmation collaborator's verdict on a match prompt.
type DecisionAction string

const (
	ActionUseExisting DecisionAction = "use_existing"
	ActionCreateNew   DecisionAction = "create_new"
	ActionReject      DecisionAction = "reject"
)

// Decision answers a match prompt.
type Decision struct {
	Action         DecisionAction `json:"action" jsonschema:"One of use_existing, create_new, reject."`
	EntityID       string         `json:"entity_id,omitempty" jsonschema:"Suggested entity id, required for use_existing."`
	PropertyValues map[string]any `json:"property_values,omitempty" jsonschema:"Property values supplied with the decision."`
}

// Approval answers a relationship prompt.
type Approval struct {
	Approve bool `json:"approve" jsonschema:"true to keep the relationship, false to deny it."`
}

// Signal is the qualitative, business-facing strength of a suggested match.
type Signal string

const (
	SignalStrongPossibleMatch Signal = "strong_possible_match"
	SignalPossibleMatch       Signal = "possible_match"
)

// Suggestion is a surfaced existing entity. It deliberately has no score.
type Suggestion struct {
	EntityID    string `json:"entity_id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Signal      Signal `json:"signal"`
}

// CandidateView is the candidate as shown to the confirmation collaborator.
type CandidateView struct {
	Ref         string `json:"ref"`
	TypeName    string `json:"type_name"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MatchPrompt asks whether a candidate is an existing entity or a new one.
type MatchPrompt struct {
	Candidate        CandidateView `json:"candidate"`
	Suggestions      []Suggestion  `json:"suggestions"`
	CreateNewAllowed bool          `json:"create_new_allowed"`
	Problem          string        `json:"problem,omitempty"`
}

// PropertyRequest asks for one missing required property.
type PropertyRequest struct {
	Candidate   CandidateView `json:"candidate"`
	Name        string        `json:"name"`
	DataType    DataType      `json:"data_type"`
	Description string        `json:"description,omitempty"`
	Remaining   int           `json:"remaining"`
	Problem     string        `json:"problem,omitempty"`
}

// RelationshipPrompt asks for approval of a validated relationship.
type RelationshipPrompt struct {
	Ref        string `json:"ref"`
	SourceRef  string `json:"source_ref"`
	SourceName string `json:"source_name"`
	SourceType string `json:"source_type"`
	TargetRef  string `json:"target_ref"`
	TargetName string `json:"target_name"`
	TargetType string `json:"target_type"`
	Label      string `json:"label"`
}

// PlannedEntity is an entity line of the plan summary.
type PlannedEntity struct {
	Ref      string `json:"ref"`
	TypeName string `json:"type_name"`
	Name     string `json:"name"`
	EntityID string `json:"entity_id,omitempty"`
}

// RejectedItem names a rejected candidate or relationship and why.
type RejectedItem struct {
	Ref       string `json:"ref"`
	Kind      string `json:"kind"`
	ErrorKind string `json:"error_kind,omitempty"`
	Rule      string `json:"rule,omitempty"`
	Reason    string `json:"reason"`
}

// PlanSummary is shown to the confirmation collaborator before commit.
type PlanSummary struct {
	SessionID     string               `json:"session_id"`
	Create        []PlannedEntity      `json:"create"`
	Reuse         []PlannedEntity      `json:"reuse"`
	Relationships []RelationshipPrompt `json:"relationships"`
	Rejected      []RejectedItem       `json:"rejected"`
}

// PromptKind says which prompt a session is waiting on.
type PromptKind string

const (
	PromptMatchDecision        PromptKind = "match_decision"
	PromptPropertyRequest      PromptKind = "property_request"
	PromptRelationshipApproval PromptKind = "relationship_approval"
	PromptPlanConfirmation     PromptKind = "plan_confirmation"
	PromptNone                 PromptKind = "none"
)

// Prompt is the next request a session makes of the confirmation collaborator.
type Prompt struct {
	Kind         PromptKind          `json:"kind"`
	SessionID    string              `json:"session_id"`
	ItemRef      string              `json:"item_ref,omitempty"`
	Problem      string              `json:"problem,omitempty"`
	Match        *MatchPrompt        `json:"match,omitempty"`
	Property     *PropertyRequest    `json:"property,omitempty"`
	Relationship *RelationshipPrompt `json:"relationship,omitempty"`
	Plan         *PlanSummary        `json:"plan,omitempty"`
}

// Manifest is published for audit after a successful commit.
type Manifest struct {
	SessionID             string            `json:"session_id"`
	Attempt               int               `json:"attempt"`
	CommittedAt           string            `json:"committed_at"`
	CreatedEntityIDs      []string          `json:"created_entity_ids"`
	ReusedEntityIDs       []string          `json:"reused_entity_ids"`
	CreatedRelationships  []RelationshipKey `json:"created_relationships"`
	ExistingRelationships []RelationshipKey `json:"existing_relationships"`
	RejectedItems         []RejectedItem    `json:"rejected_items"`
}

// ItemStatus reports one candidate or relationship of a session.
type ItemStatus struct {
	Ref       string   `json:"ref"`
	Kind      string   `json:"kind"`
	Label     string   `json:"label"`
	State     string   `json:"state"`
	EntityID  string   `json:"entity_id,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Discarded []string `json:"discarded,omitempty"`
}

// SessionStatus is a snapshot of a construction session.
type SessionStatus struct {
	SessionID string       `json:"session_id"`
	State     string       `json:"state"`
	Attempt   int          `json:"attempt"`
	Items     []ItemStatus `json:"items"`
	Prompt    *Prompt      `json:"prompt,omitempty"`
}
