package construction

// CandidateState is the lifecycle position of one candidate.
type CandidateState string

const (
	CandidateDiscovered       CandidateState = "discovered"
	CandidateResolving        CandidateState = "resolving"
	CandidateAwaitingDecision CandidateState = "awaiting_decision"
	CandidateUsingExisting    CandidateState = "using_existing"
	CandidateCreatingNew      CandidateState = "creating_new"
	CandidateAwaitingProperty CandidateState = "awaiting_property"
	CandidateCommitted        CandidateState = "committed"
	CandidateRejected         CandidateState = "rejected"
)

func (s CandidateState) terminal() bool {
	return s == CandidateCommitted || s == CandidateRejected
}

// RelationshipState is the lifecycle position of one proposed relationship.
type RelationshipState string

const (
	RelationshipProposed           RelationshipState = "proposed"
	RelationshipValidatingOntology RelationshipState = "validating_ontology"
	RelationshipValid              RelationshipState = "valid"
	RelationshipAwaitingApproval   RelationshipState = "awaiting_approval"
	RelationshipCommitted          RelationshipState = "committed"
	RelationshipInvalid            RelationshipState = "invalid"
	RelationshipRejected           RelationshipState = "rejected"
)

func (s RelationshipState) terminal() bool {
	return s == RelationshipCommitted || s == RelationshipRejected
}

// SessionState is the lifecycle position of a whole session.
type SessionState string

const (
	SessionActive     SessionState = "active"
	SessionBlocked    SessionState = "blocked"
	SessionReady      SessionState = "ready"
	SessionCommitted  SessionState = "committed"
	SessionConflicted SessionState = "conflicted"
	SessionCancelled  SessionState = "cancelled"
)
