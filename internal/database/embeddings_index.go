package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
)

// UpsertEmbedding stores the vector of an existing entity of the given type.
func (dm *DBManager) UpsertEmbedding(ctx context.Context, typeID, entityID string, vec []float32) error {
	done := metrics.TimeOp("db_upsert_embedding")
	success := false
	defer func() { done(success) }()

	vs, err := dm.vectorToString(vec)
	if err != nil {
		return apperr.Validation("embedding", "invalid embedding for entity %s: %v", entityID, err)
	}

	var one int
	err = dm.db.QueryRowContext(ctx, "SELECT 1 FROM entities WHERE id = ? AND type_id = ?", entityID, typeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("entity", "entity %q of type %q not found", entityID, typeID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up entity: %w", err)
	}

	if _, err := dm.db.ExecContext(ctx, `
		INSERT INTO entity_embeddings (entity_id, type_id, embedding, updated_at)
		VALUES (?, ?, vector32(?), ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			type_id = excluded.type_id,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		entityID, typeID, vs, formatTime(dm.now())); err != nil {
		return fmt.Errorf("failed to upsert embedding for entity %s: %w", entityID, err)
	}
	success = true
	return nil
}

// DeleteEmbedding removes an entity's vector from the index.
func (dm *DBManager) DeleteEmbedding(ctx context.Context, typeID, entityID string) error {
	done := metrics.TimeOp("db_delete_embedding")
	success := false
	defer func() { done(success) }()

	res, err := dm.db.ExecContext(ctx, "DELETE FROM entity_embeddings WHERE entity_id = ? AND type_id = ?", entityID, typeID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("embedding", "no embedding for entity %q of type %q", entityID, typeID)
	}
	success = true
	return nil
}

// GetEmbedding returns the stored vector of an entity.
func (dm *DBManager) GetEmbedding(ctx context.Context, entityID string) ([]float32, error) {
	var blob []byte
	err := dm.db.QueryRowContext(ctx, "SELECT embedding FROM entity_embeddings WHERE entity_id = ?", entityID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("embedding", "no embedding for entity %q", entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding: %w", err)
	}
	return dm.ExtractVector(blob)
}

// NearestEmbeddings returns up to k entities of a type ordered by ascending
// cosine distance to vec. Equal distances fall back to the oldest entity, then id.
func (dm *DBManager) NearestEmbeddings(ctx context.Context, typeID string, vec []float32, k int) ([]apptype.Neighbor, error) {
	done := metrics.TimeOp("db_nearest_embeddings")
	success := false
	defer func() { done(success) }()

	if k <= 0 {
		return []apptype.Neighbor{}, nil
	}
	if err := dm.requireVectorSearch(); err != nil {
		return nil, err
	}
	vs, err := dm.vectorToString(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to convert query embedding: %w", err)
	}

	stmt, err := dm.getPreparedStmt(ctx, `
		SELECT e.id, e.name, e.description, e.created_at,
			   vector_distance_cos(x.embedding, vector32(?)) AS distance
		FROM entity_embeddings x
		JOIN entities e ON e.id = x.entity_id
		WHERE x.type_id = ?
		ORDER BY distance ASC, e.created_at ASC, e.id ASC
		LIMIT ?`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, vs, typeID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	out := []apptype.Neighbor{}
	for rows.Next() {
		var n apptype.Neighbor
		var created string
		if err := rows.Scan(&n.EntityID, &n.Name, &n.Description, &created, &n.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result row: %w", err)
		}
		n.CreatedAt = parseTime(created)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	success = true
	return out, nil
}
