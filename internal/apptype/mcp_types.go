package apptype

// GetEntityTypesArgs represents the arguments for the get_entity_types tool
type GetEntityTypesArgs struct{}

// EntityTypesResult lists the ontology's entity types.
type EntityTypesResult struct {
	EntityTypes []EntityType `json:"entity_types"`
}

// GetEntityPropertiesArgs represents the arguments for the get_entity_properties tool
type GetEntityPropertiesArgs struct {
	TypeID   string `json:"type_id,omitempty" jsonschema:"Entity type id. Either type_id or type_name is required."`
	TypeName string `json:"type_name,omitempty" jsonschema:"Entity type name, matched case-insensitively."`
}

// EntityPropertiesResult is the property schema of one entity type.
type EntityPropertiesResult struct {
	TypeID     string        `json:"type_id"`
	TypeName   string        `json:"type_name"`
	Properties []PropertyDef `json:"properties"`
}

// GetRelationshipTypesArgs represents the arguments for the get_relationship_types tool
type GetRelationshipTypesArgs struct{}

// RelationshipTypesResult lists every permitted edge shape.
type RelationshipTypesResult struct {
	RelationshipTypes []RelationshipType `json:"relationship_types"`
}

// GetEntityArgs represents the arguments for the get_entity tool
type GetEntityArgs struct {
	EntityID             string `json:"entity_id" jsonschema:"Id of a canonical entity."`
	IncludeRelationships bool   `json:"include_relationships,omitempty" jsonschema:"Also return edges touching the entity."`
}

// EntityResult is a canonical entity and, optionally, its edges.
type EntityResult struct {
	Entity        *Entity        `json:"entity"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// BeginSessionArgs represents the arguments for the begin_session tool
type BeginSessionArgs struct {
	Candidates    []Candidate            `json:"candidates" jsonschema:"Ordered entity candidates."`
	Relationships []ProposedRelationship `json:"relationships,omitempty" jsonschema:"Proposed relationships between candidates."`
}

// Request converts the arguments to a session request.
func (a BeginSessionArgs) Request() SessionRequest {
	return SessionRequest{Candidates: a.Candidates, Relationships: a.Relationships}
}

// SessionArgs addresses one construction session.
type SessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session id returned by begin_session."`
}

// SubmitDecisionArgs represents the arguments for the submit_decision tool
type SubmitDecisionArgs struct {
	SessionID      string         `json:"session_id" jsonschema:"Session id returned by begin_session."`
	Ref            string         `json:"ref" jsonschema:"Ref of the candidate the decision answers."`
	Action         DecisionAction `json:"action" jsonschema:"One of use_existing, create_new, reject."`
	EntityID       string         `json:"entity_id,omitempty" jsonschema:"Suggested entity id, required for use_existing."`
	PropertyValues map[string]any `json:"property_values,omitempty" jsonschema:"Property values supplied with the decision."`
}

// Decision extracts the decision part of the arguments.
func (a SubmitDecisionArgs) Decision() Decision {
	return Decision{Action: a.Action, EntityID: a.EntityID, PropertyValues: a.PropertyValues}
}

// SupplyPropertyArgs represents the arguments for the supply_property tool
type SupplyPropertyArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session id returned by begin_session."`
	Ref       string `json:"ref" jsonschema:"Ref of the candidate awaiting the property."`
	Name      string `json:"name" jsonschema:"Property name from the property request."`
	Value     any    `json:"value" jsonschema:"Property value, checked against the declared data type."`
}

// ApproveRelationshipArgs represents the arguments for the approve_relationship tool
type ApproveRelationshipArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session id returned by begin_session."`
	Ref       string `json:"ref" jsonschema:"Ref of the relationship awaiting approval."`
	Approve   bool   `json:"approve" jsonschema:"true to keep the relationship, false to deny it."`
}

// HealthArgs represents the arguments for the health_check tool
type HealthArgs struct{}

// HealthResult reports server identity and the engine's configuration.
type HealthResult struct {
	Name               string          `json:"name"`
	Version            string          `json:"version"`
	Revision           string          `json:"revision"`
	BuildDate          string          `json:"build_date"`
	EmbeddingDims      int             `json:"embedding_dims"`
	EmbeddingsProvider string          `json:"embeddings_provider"`
	ResolverTopK       int             `json:"resolver_top_k"`
	ResolverThreshold  float64         `json:"resolver_threshold"`
	Capabilities       map[string]bool `json:"capabilities"`
}
