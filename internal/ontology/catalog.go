package ontology

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

// Reader is the read surface of the ontology store.
type Reader interface {
	GetEntityTypes(ctx context.Context) ([]apptype.EntityType, error)
	GetEntityProperties(ctx context.Context, typeID string) ([]apptype.PropertyDef, error)
	GetRelationshipTypes(ctx context.Context) ([]apptype.RelationshipType, error)
}

type shape struct {
	src, tgt, label string
}

// Catalog is an immutable snapshot of the ontology used for the lifetime of
// a construction session.
type Catalog struct {
	types  []apptype.EntityType
	byID   map[string]int
	byName map[string]int
	rels   []apptype.RelationshipType
	shapes map[shape]bool
}

// Load snapshots the ontology from r.
func Load(ctx context.Context, r Reader) (*Catalog, error) {
	types, err := r.GetEntityTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity types: %w", err)
	}
	rels, err := r.GetRelationshipTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationship types: %w", err)
	}
	return NewCatalog(types, rels), nil
}

// NewCatalog builds a catalog from already loaded definitions.
func NewCatalog(types []apptype.EntityType, rels []apptype.RelationshipType) *Catalog {
	c := &Catalog{
		types:  types,
		byID:   make(map[string]int, len(types)),
		byName: make(map[string]int, len(types)),
		rels:   rels,
		shapes: make(map[shape]bool, len(rels)),
	}
	for i, t := range types {
		c.byID[t.ID] = i
		c.byName[strings.ToLower(t.Name)] = i
	}
	for _, r := range rels {
		c.shapes[shape{r.SourceTypeID, r.TargetTypeID, r.Label}] = true
	}
	return c
}

// Types returns every entity type.
func (c *Catalog) Types() []apptype.EntityType { return c.types }

// Relationships returns every permitted edge shape.
func (c *Catalog) Relationships() []apptype.RelationshipType { return c.rels }

// TypeByName finds a type by case-insensitive name.
func (c *Catalog) TypeByName(name string) (apptype.EntityType, error) {
	i, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return apptype.EntityType{}, apperr.NotFound("entity_type:"+name, "entity type %q is not defined in the ontology", name)
	}
	return c.types[i], nil
}

// TypeByID finds a type by id.
func (c *Catalog) TypeByID(id string) (apptype.EntityType, error) {
	i, ok := c.byID[id]
	if !ok {
		return apptype.EntityType{}, apperr.NotFound("entity_type:"+id, "entity type %q not found", id)
	}
	return c.types[i], nil
}

// Allows reports whether the exact edge shape is permitted.
func (c *Catalog) Allows(srcTypeID, tgtTypeID, label string) bool {
	return c.shapes[shape{srcTypeID, tgtTypeID, label}]
}

// LabelsBetween lists the labels permitted from src to tgt, sorted.
func (c *Catalog) LabelsBetween(srcTypeID, tgtTypeID string) []string {
	var out []string
	for s := range c.shapes {
		if s.src == srcTypeID && s.tgt == tgtTypeID {
			out = append(out, s.label)
		}
	}
	sort.Strings(out)
	return out
}

// CheckEdge returns an OntologyViolation naming the disallowed shape, or nil.
func (c *Catalog) CheckEdge(srcTypeID, tgtTypeID, label string) error {
	if c.Allows(srcTypeID, tgtTypeID, label) {
		return nil
	}
	src, tgt := c.nameOf(srcTypeID), c.nameOf(tgtTypeID)
	rule := fmt.Sprintf("ontology:%s->%s:%s", src, tgt, label)
	permitted := c.LabelsBetween(srcTypeID, tgtTypeID)
	if len(permitted) == 0 {
		return apperr.OntologyViolation(rule, "relationship %s from %s to %s is not permitted; the ontology defines no relationship from %s to %s",
			label, src, tgt, src, tgt)
	}
	return apperr.OntologyViolation(rule, "relationship %s from %s to %s is not permitted; permitted labels for %s to %s: %s",
		label, src, tgt, src, tgt, strings.Join(permitted, ", "))
}

func (c *Catalog) nameOf(id string) string {
	if i, ok := c.byID[id]; ok {
		return c.types[i].Name
	}
	return id
}
