// Package ontology holds the read-only view of entity types and permitted
// relationship shapes, plus the seed document format used by the
// administrative load path.
package ontology

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

//go:embed default_ontology.yaml
var defaultDocument []byte

// Document is the YAML seed format of an ontology.
type Document struct {
	EntityTypes       []TypeSpec         `yaml:"entity_types"`
	RelationshipTypes []RelationshipSpec `yaml:"relationship_types"`
}

// TypeSpec declares one entity type.
type TypeSpec struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description,omitempty"`
	SeededOnly  bool                  `yaml:"seeded_only,omitempty"`
	Properties  []apptype.PropertyDef `yaml:"properties,omitempty"`
}

// RelationshipSpec declares one permitted edge shape by type name.
type RelationshipSpec struct {
	Source      string `yaml:"source"`
	Target      string `yaml:"target"`
	Label       string `yaml:"label"`
	Description string `yaml:"description,omitempty"`
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse ontology document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseFile reads and parses a YAML document from disk.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ontology file %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in privacy data map ontology.
func Default() *Document {
	doc, err := Parse(defaultDocument)
	if err != nil {
		panic(fmt.Sprintf("embedded ontology is invalid: %v", err))
	}
	return doc
}

// Validate checks names, data types and edge references.
func (d *Document) Validate() error {
	names := make(map[string]bool, len(d.EntityTypes))
	exact := make(map[string]bool, len(d.EntityTypes))
	for _, t := range d.EntityTypes {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("entity type name must be a non-empty string")
		}
		key := strings.ToLower(t.Name)
		if names[key] {
			return fmt.Errorf("duplicate entity type %q", t.Name)
		}
		names[key] = true
		exact[t.Name] = true

		props := make(map[string]bool, len(t.Properties))
		for _, p := range t.Properties {
			if strings.TrimSpace(p.Name) == "" {
				return fmt.Errorf("entity type %q has a property without a name", t.Name)
			}
			if props[p.Name] {
				return fmt.Errorf("entity type %q declares property %q twice", t.Name, p.Name)
			}
			props[p.Name] = true
			if !p.DataType.Valid() {
				return fmt.Errorf("property %s.%s has unsupported type %q", t.Name, p.Name, p.DataType)
			}
		}
	}

	shapes := make(map[string]bool, len(d.RelationshipTypes))
	for _, r := range d.RelationshipTypes {
		if strings.TrimSpace(r.Label) == "" {
			return fmt.Errorf("relationship %s -> %s has no label", r.Source, r.Target)
		}
		if !exact[r.Source] {
			return fmt.Errorf("relationship %s references unknown source type %q", r.Label, r.Source)
		}
		if !exact[r.Target] {
			return fmt.Errorf("relationship %s references unknown target type %q", r.Label, r.Target)
		}
		k := r.Source + "|" + r.Target + "|" + r.Label
		if shapes[k] {
			return fmt.Errorf("duplicate relationship %s -[%s]-> %s", r.Source, r.Label, r.Target)
		}
		shapes[k] = true
	}
	return nil
}

// Types converts the document to apptype values (without ids).
func (d *Document) Types() []apptype.EntityType {
	out := make([]apptype.EntityType, 0, len(d.EntityTypes))
	for _, t := range d.EntityTypes {
		props := make([]apptype.PropertyDef, len(t.Properties))
		copy(props, t.Properties)
		out = append(out, apptype.EntityType{
			Name:        t.Name,
			Description: t.Description,
			SeededOnly:  t.SeededOnly,
			Properties:  props,
		})
	}
	return out
}

// Relationships converts the document's edges, naming types rather than ids.
func (d *Document) Relationships() []apptype.RelationshipType {
	out := make([]apptype.RelationshipType, 0, len(d.RelationshipTypes))
	for _, r := range d.RelationshipTypes {
		out = append(out, apptype.RelationshipType{
			SourceType:  r.Source,
			TargetType:  r.Target,
			Label:       r.Label,
			Description: r.Description,
		})
	}
	return out
}
