package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
)

// ApplyResult summarises an administrative ontology load.
type ApplyResult struct {
	TypesCreated      int
	TypesUpdated      int
	RelationshipTypes int
}

// ApplyOntology is the administrative write path for the ontology. Entity
// types are upserted by name and keep their id; each type's property list and
// the full set of relationship types are replaced. Existing entities are never
// touched, so a schema change only constrains future writes.
func (dm *DBManager) ApplyOntology(ctx context.Context, types []apptype.EntityType, rels []apptype.RelationshipType) (*ApplyResult, error) {
	done := metrics.TimeOp("db_apply_ontology")
	success := false
	defer func() { done(success) }()

	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(dm.now())
	res := &ApplyResult{}
	for _, t := range types {
		var id string
		err := tx.QueryRowContext(ctx, "SELECT id FROM entity_types WHERE name = ?", t.Name).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id = uuid.New().String()
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO entity_types (id, name, description, seeded_only, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
				id, t.Name, t.Description, boolInt(t.SeededOnly), now, now); err != nil {
				return nil, fmt.Errorf("failed to insert entity type %q: %w", t.Name, err)
			}
			res.TypesCreated++
		case err != nil:
			return nil, fmt.Errorf("failed to look up entity type %q: %w", t.Name, err)
		default:
			if _, err := tx.ExecContext(ctx,
				"UPDATE entity_types SET description = ?, seeded_only = ?, updated_at = ? WHERE id = ?",
				t.Description, boolInt(t.SeededOnly), now, id); err != nil {
				return nil, fmt.Errorf("failed to update entity type %q: %w", t.Name, err)
			}
			res.TypesUpdated++
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM entity_type_properties WHERE type_id = ?", id); err != nil {
			return nil, fmt.Errorf("failed to clear properties of %q: %w", t.Name, err)
		}
		for i, p := range t.Properties {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO entity_type_properties (type_id, name, data_type, required, description, position) VALUES (?, ?, ?, ?, ?, ?)",
				id, p.Name, string(p.DataType), boolInt(p.Required), p.Description, i); err != nil {
				return nil, fmt.Errorf("failed to insert property %s.%s: %w", t.Name, p.Name, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM relationship_types"); err != nil {
		return nil, fmt.Errorf("failed to clear relationship types: %w", err)
	}
	for _, r := range rels {
		var srcID, tgtID string
		if err := tx.QueryRowContext(ctx, "SELECT id FROM entity_types WHERE name = ?", r.SourceType).Scan(&srcID); err != nil {
			return nil, apperr.NotFound("entity_type", "relationship %s references unknown source type %q", r.Label, r.SourceType)
		}
		if err := tx.QueryRowContext(ctx, "SELECT id FROM entity_types WHERE name = ?", r.TargetType).Scan(&tgtID); err != nil {
			return nil, apperr.NotFound("entity_type", "relationship %s references unknown target type %q", r.Label, r.TargetType)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO relationship_types (source_type_id, target_type_id, label, description) VALUES (?, ?, ?, ?)",
			srcID, tgtID, r.Label, r.Description); err != nil {
			return nil, fmt.Errorf("failed to insert relationship type %s -[%s]-> %s: %w", r.SourceType, r.Label, r.TargetType, err)
		}
		res.RelationshipTypes++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ontology: %w", err)
	}
	success = true
	return res, nil
}

// GetEntityTypes returns every entity type with its property schema, ordered by name.
func (dm *DBManager) GetEntityTypes(ctx context.Context) ([]apptype.EntityType, error) {
	done := metrics.TimeOp("db_get_entity_types")
	success := false
	defer func() { done(success) }()

	stmt, err := dm.getPreparedStmt(ctx, "SELECT id, name, description, seeded_only FROM entity_types ORDER BY name")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity types: %w", err)
	}
	defer rows.Close()

	var types []apptype.EntityType
	index := make(map[string]int)
	for rows.Next() {
		var t apptype.EntityType
		var seeded int
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &seeded); err != nil {
			return nil, fmt.Errorf("failed to scan entity type: %w", err)
		}
		t.SeededOnly = seeded != 0
		t.Properties = []apptype.PropertyDef{}
		index[t.ID] = len(types)
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity types: %w", err)
	}

	props, err := dm.queryProperties(ctx, "")
	if err != nil {
		return nil, err
	}
	for typeID, defs := range props {
		if i, ok := index[typeID]; ok {
			types[i].Properties = defs
		}
	}
	success = true
	return types, nil
}

// GetEntityProperties returns the property schema of one entity type.
func (dm *DBManager) GetEntityProperties(ctx context.Context, typeID string) ([]apptype.PropertyDef, error) {
	done := metrics.TimeOp("db_get_entity_properties")
	success := false
	defer func() { done(success) }()

	stmt, err := dm.getPreparedStmt(ctx, "SELECT 1 FROM entity_types WHERE id = ?")
	if err != nil {
		return nil, err
	}
	var one int
	if err := stmt.QueryRowContext(ctx, typeID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("entity_type", "entity type %q not found", typeID)
		}
		return nil, fmt.Errorf("failed to look up entity type: %w", err)
	}

	props, err := dm.queryProperties(ctx, typeID)
	if err != nil {
		return nil, err
	}
	success = true
	if defs, ok := props[typeID]; ok {
		return defs, nil
	}
	return []apptype.PropertyDef{}, nil
}

func (dm *DBManager) queryProperties(ctx context.Context, typeID string) (map[string][]apptype.PropertyDef, error) {
	q := "SELECT type_id, name, data_type, required, description FROM entity_type_properties"
	var args []any
	if typeID != "" {
		q += " WHERE type_id = ?"
		args = append(args, typeID)
	}
	q += " ORDER BY type_id, position"
	stmt, err := dm.getPreparedStmt(ctx, q)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity properties: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]apptype.PropertyDef)
	for rows.Next() {
		var tid, dataType string
		var required int
		var p apptype.PropertyDef
		if err := rows.Scan(&tid, &p.Name, &dataType, &required, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan entity property: %w", err)
		}
		p.DataType = apptype.DataType(dataType)
		p.Required = required != 0
		out[tid] = append(out[tid], p)
	}
	return out, rows.Err()
}

// GetRelationshipTypes returns every permitted edge shape.
func (dm *DBManager) GetRelationshipTypes(ctx context.Context) ([]apptype.RelationshipType, error) {
	done := metrics.TimeOp("db_get_relationship_types")
	success := false
	defer func() { done(success) }()

	stmt, err := dm.getPreparedStmt(ctx, `
		SELECT r.source_type_id, r.target_type_id, s.name, t.name, r.label, r.description
		FROM relationship_types r
		JOIN entity_types s ON s.id = r.source_type_id
		JOIN entity_types t ON t.id = r.target_type_id
		ORDER BY s.name, t.name, r.label`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationship types: %w", err)
	}
	defer rows.Close()

	rels := []apptype.RelationshipType{}
	for rows.Next() {
		var r apptype.RelationshipType
		if err := rows.Scan(&r.SourceTypeID, &r.TargetTypeID, &r.SourceType, &r.TargetType, &r.Label, &r.Description); err != nil {
			return nil, fmt.Errorf("failed to scan relationship type: %w", err)
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationship types: %w", err)
	}
	success = true
	return rels, nil
}

// requiredProperties returns the live required property names of a type within tx.
func requiredProperties(ctx context.Context, tx *sql.Tx, typeID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT name FROM entity_type_properties WHERE type_id = ? AND required = 1 ORDER BY position", typeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query required properties: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan required property: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func typeName(ctx context.Context, tx *sql.Tx, typeID string) string {
	var name string
	if err := tx.QueryRowContext(ctx, "SELECT name FROM entity_types WHERE id = ?", typeID).Scan(&name); err != nil {
		return typeID
	}
	return name
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") || strings.Contains(msg, "table is locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed: unique")
}
