package apptype

import (
	"fmt"
	"strings"
	"time"
)

// NameKey is the normalized form of an entity name used for uniqueness
// within a type: lower case with whitespace collapsed.
func NameKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Entity is a canonical entity. Its embedding is held by the embedding index.
type Entity struct {
	ID          string         `json:"id"`
	TypeID      string         `json:"type_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Properties  map[string]any `json:"properties"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Relationship is a directed, labelled edge between two canonical entities.
type Relationship struct {
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Key returns the relationship's identity.
func (r Relationship) Key() RelationshipKey {
	return RelationshipKey{SourceID: r.SourceID, TargetID: r.TargetID, Label: r.Label}
}

// RelationshipKey identifies at most one edge per label and ordered pair.
type RelationshipKey struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Label    string `json:"label"`
}

func (k RelationshipKey) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", k.SourceID, k.Label, k.TargetID)
}

// Neighbor is a raw nearest-neighbour row from the embedding store.
type Neighbor struct {
	EntityID    string
	Name        string
	Description string
	CreatedAt   time.Time
	Distance    float64
}

// Match is a scored similarity hit. Score is internal and never leaves the
// engine in a prompt payload.
type Match struct {
	EntityID    string
	Name        string
	Description string
	CreatedAt   time.Time
	Score       float64
}

// Resolution is the outcome of resolving one candidate.
type Resolution struct {
	Matches []Match
}

// NoMatch reports that no existing entity met the similarity threshold.
func (r Resolution) NoMatch() bool { return len(r.Matches) == 0 }

// NewEntity is a staged entity insert together with its embedding.
type NewEntity struct {
	Entity    Entity
	Embedding []float32
}

// PropertyMerge is a staged property update on an existing entity.
type PropertyMerge struct {
	EntityID   string
	Properties map[string]any
}

// ChangeSet holds every staged write of one session. It is applied in a
// single transaction or not at all.
type ChangeSet struct {
	SessionID     string
	NewEntities   []NewEntity
	Merges        []PropertyMerge
	Relationships []Relationship
}

// Empty reports whether the change set contains no writes.
func (c *ChangeSet) Empty() bool {
	return len(c.NewEntities) == 0 && len(c.Merges) == 0 && len(c.Relationships) == 0
}

// CommitResult reports what a committed change set wrote.
type CommitResult struct {
	CreatedEntityIDs      []string
	MergedEntityIDs       []string
	CreatedRelationships  []RelationshipKey
	ExistingRelationships []RelationshipKey
	CommittedAt           time.Time
}
