package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
)

// GetRelationshipsForEntity returns edges where the entity is source or target
func (dm *DBManager) GetRelationshipsForEntity(ctx context.Context, entityID string) ([]apptype.Relationship, error) {
	done := metrics.TimeOp("db_get_relationships")
	success := false
	defer func() { done(success) }()

	stmt, err := dm.getPreparedStmt(ctx, `
		SELECT source_id, target_id, label, properties, created_at, updated_at
		FROM relationships
		WHERE source_id = ? OR target_id = ?
		ORDER BY created_at, source_id, target_id, label`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	rels := []apptype.Relationship{}
	for rows.Next() {
		var r apptype.Relationship
		var props, created, updated string
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.Label, &props, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		if props != "" && props != "{}" {
			if err := json.Unmarshal([]byte(props), &r.Properties); err != nil {
				return nil, fmt.Errorf("failed to decode relationship properties: %w", err)
			}
		}
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}
	success = true
	return rels, nil
}
