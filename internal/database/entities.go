package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
)

const entityColumns = "id, type_id, name, description, properties, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (apptype.Entity, error) {
	var e apptype.Entity
	var props, created, updated string
	if err := row.Scan(&e.ID, &e.TypeID, &e.Name, &e.Description, &props, &created, &updated); err != nil {
		return e, err
	}
	e.Properties = map[string]any{}
	if props != "" {
		if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
			return e, fmt.Errorf("failed to decode properties of entity %s: %w", e.ID, err)
		}
	}
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	return e, nil
}

// GetEntity retrieves a single canonical entity by id
func (dm *DBManager) GetEntity(ctx context.Context, id string) (*apptype.Entity, error) {
	done := metrics.TimeOp("db_get_entity")
	success := false
	defer func() { done(success) }()

	stmt, err := dm.getPreparedStmt(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ?")
	if err != nil {
		return nil, err
	}
	e, err := scanEntity(stmt.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("entity", "entity %q not found", id)
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	success = true
	return &e, nil
}

// FindEntityByName returns the entity of a type whose name key matches name.
func (dm *DBManager) FindEntityByName(ctx context.Context, typeID, name string) (*apptype.Entity, error) {
	done := metrics.TimeOp("db_find_entity_by_name")
	success := false
	defer func() { done(success) }()

	stmt, err := dm.getPreparedStmt(ctx, "SELECT "+entityColumns+" FROM entities WHERE type_id = ? AND name_key = ?")
	if err != nil {
		return nil, err
	}
	e, err := scanEntity(stmt.QueryRowContext(ctx, typeID, apptype.NameKey(name)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("entity", "no entity named %q of type %q", name, typeID)
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	success = true
	return &e, nil
}

// ListEntities returns entities of a type, oldest first. An empty typeID lists all types.
func (dm *DBManager) ListEntities(ctx context.Context, typeID string, limit int) ([]apptype.Entity, error) {
	done := metrics.TimeOp("db_list_entities")
	success := false
	defer func() { done(success) }()

	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if typeID == "" {
		rows, err = dm.db.QueryContext(ctx,
			"SELECT "+entityColumns+" FROM entities ORDER BY created_at, id LIMIT ?", limit)
	} else {
		rows, err = dm.db.QueryContext(ctx,
			"SELECT "+entityColumns+" FROM entities WHERE type_id = ? ORDER BY created_at, id LIMIT ?", typeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	entities := []apptype.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			log.Printf("Warning: Failed to scan entity row: %v", err)
			continue
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	success = true
	return entities, nil
}

// CountEntities returns the number of canonical entities per type id.
func (dm *DBManager) CountEntities(ctx context.Context) (map[string]int, error) {
	rows, err := dm.db.QueryContext(ctx, "SELECT type_id, COUNT(*) FROM entities GROUP BY type_id")
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var typeID string
		var n int
		if err := rows.Scan(&typeID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan entity count: %w", err)
		}
		out[typeID] = n
	}
	return out, rows.Err()
}
