package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
)

// ApplyChangeSet writes every staged change of a session in one transaction.
// Uniqueness, required properties, endpoint existence and edge shapes are
// re-checked against live state inside the transaction; any violation rolls the
// whole change set back and is reported as a conflict. Relationships that
// already exist are reported, not rewritten.
func (dm *DBManager) ApplyChangeSet(ctx context.Context, cs *apptype.ChangeSet) (*apptype.CommitResult, error) {
	done := metrics.TimeOp("db_apply_changeset")
	success := false
	defer func() { done(success) }()

	dm.commitMu.Lock()
	defer dm.commitMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, apperr.Cancelled("commit of session %s aborted: %v", cs.SessionID, err)
	}

	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return nil, apperr.Conflict("database_busy", err, "database busy while committing session %s", cs.SessionID)
		}
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := dm.now()
	ts := formatTime(now)
	res := &apptype.CommitResult{
		CreatedEntityIDs:      []string{},
		MergedEntityIDs:       []string{},
		CreatedRelationships:  []apptype.RelationshipKey{},
		ExistingRelationships: []apptype.RelationshipKey{},
		CommittedAt:           now,
	}

	staged := make(map[string]string, len(cs.NewEntities))
	for _, ne := range cs.NewEntities {
		if err := dm.insertEntity(ctx, tx, ne, ts); err != nil {
			return nil, err
		}
		staged[ne.Entity.ID] = ne.Entity.TypeID
		res.CreatedEntityIDs = append(res.CreatedEntityIDs, ne.Entity.ID)
	}

	for _, m := range cs.Merges {
		if err := mergeProperties(ctx, tx, m, ts); err != nil {
			return nil, err
		}
		res.MergedEntityIDs = append(res.MergedEntityIDs, m.EntityID)
	}

	for _, r := range cs.Relationships {
		created, err := insertRelationship(ctx, tx, r, staged, ts)
		if err != nil {
			return nil, err
		}
		if created {
			res.CreatedRelationships = append(res.CreatedRelationships, r.Key())
		} else {
			res.ExistingRelationships = append(res.ExistingRelationships, r.Key())
		}
	}

	dm.hookMu.RLock()
	hook := dm.commitHook
	dm.hookMu.RUnlock()
	if hook != nil {
		if err := hook(ctx, cs); err != nil {
			return nil, fmt.Errorf("commit aborted before completion: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) || isUniqueViolation(err) {
			return nil, apperr.Conflict("serialization", err, "session %s lost a concurrent commit", cs.SessionID)
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	success = true
	return res, nil
}

func (dm *DBManager) insertEntity(ctx context.Context, tx *sql.Tx, ne apptype.NewEntity, ts string) error {
	e := ne.Entity
	tName := typeName(ctx, tx, e.TypeID)

	required, err := requiredProperties(ctx, tx, e.TypeID)
	if err != nil {
		return err
	}
	for _, name := range required {
		if v, ok := e.Properties[name]; !ok || v == nil {
			return apperr.Conflict("required_property:"+name,
				apperr.Validation("required_property:"+name, "missing required property %q", name),
				"%s %q is missing required property %q under the current schema", tName, e.Name, name)
		}
	}

	key := apptype.NameKey(e.Name)
	var existingID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM entities WHERE type_id = ? AND name_key = ?", e.TypeID, key).Scan(&existingID)
	switch {
	case err == nil:
		return apperr.Conflict("unique_entity:"+tName+":"+key, nil,
			"%s %q already exists as entity %s", tName, e.Name, existingID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check entity uniqueness: %w", err)
	}

	props := e.Properties
	if props == nil {
		props = map[string]any{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode properties of %q: %w", e.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO entities (id, type_id, name, name_key, description, properties, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.TypeID, e.Name, key, e.Description, string(propsJSON), ts, ts); err != nil {
		if isUniqueViolation(err) || isBusy(err) {
			return apperr.Conflict("unique_entity:"+tName+":"+key, err, "%s %q was created concurrently", tName, e.Name)
		}
		return fmt.Errorf("failed to insert entity %q: %w", e.Name, err)
	}

	vs, err := dm.vectorToString(ne.Embedding)
	if err != nil {
		return apperr.Validation("embedding", "entity %q has no valid embedding: %v", e.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO entity_embeddings (entity_id, type_id, embedding, updated_at) VALUES (?, ?, vector32(?), ?)",
		e.ID, e.TypeID, vs, ts); err != nil {
		return fmt.Errorf("failed to insert embedding for %q: %w", e.Name, err)
	}
	return nil
}

func mergeProperties(ctx context.Context, tx *sql.Tx, m apptype.PropertyMerge, ts string) error {
	var raw string
	err := tx.QueryRowContext(ctx, "SELECT properties FROM entities WHERE id = ?", m.EntityID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Conflict("entity_exists:"+m.EntityID,
			apperr.NotFound("entity", "entity %q not found", m.EntityID),
			"entity %s selected for reuse no longer exists", m.EntityID)
	}
	if err != nil {
		return fmt.Errorf("failed to read entity %s: %w", m.EntityID, err)
	}
	props := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return fmt.Errorf("failed to decode properties of %s: %w", m.EntityID, err)
		}
	}
	for k, v := range m.Properties {
		props[k] = v
	}
	b, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode properties of %s: %w", m.EntityID, err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE entities SET properties = ?, updated_at = ? WHERE id = ?", string(b), ts, m.EntityID); err != nil {
		return fmt.Errorf("failed to merge properties into %s: %w", m.EntityID, err)
	}
	return nil
}

func insertRelationship(ctx context.Context, tx *sql.Tx, r apptype.Relationship, staged map[string]string, ts string) (bool, error) {
	endpointType := func(id string) (string, error) {
		if t, ok := staged[id]; ok {
			return t, nil
		}
		var t string
		err := tx.QueryRowContext(ctx, "SELECT type_id FROM entities WHERE id = ?", id).Scan(&t)
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.Conflict("endpoint_exists:"+id,
				apperr.NotFound("entity", "entity %q not found", id),
				"relationship %s references missing entity %s", r.Key(), id)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read endpoint %s: %w", id, err)
		}
		return t, nil
	}
	srcType, err := endpointType(r.SourceID)
	if err != nil {
		return false, err
	}
	tgtType, err := endpointType(r.TargetID)
	if err != nil {
		return false, err
	}

	var one int
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM relationship_types WHERE source_type_id = ? AND target_type_id = ? AND label = ?",
		srcType, tgtType, r.Label).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		rule := fmt.Sprintf("ontology:%s->%s:%s", typeName(ctx, tx, srcType), typeName(ctx, tx, tgtType), r.Label)
		return false, apperr.Conflict(rule,
			apperr.OntologyViolation(rule, "edge shape is not in the ontology"),
			"relationship %s is not permitted by the current ontology", r.Key())
	}
	if err != nil {
		return false, fmt.Errorf("failed to check relationship type: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM relationships WHERE source_id = ? AND target_id = ? AND label = ?",
		r.SourceID, r.TargetID, r.Label).Scan(&one)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check relationship existence: %w", err)
	}

	props := r.Properties
	if props == nil {
		props = map[string]any{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return false, fmt.Errorf("failed to encode relationship properties: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO relationships (source_id, target_id, label, properties, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		r.SourceID, r.TargetID, r.Label, string(b), ts, ts); err != nil {
		if isUniqueViolation(err) || isBusy(err) {
			return false, apperr.Conflict("unique_relationship", err, "relationship %s was created concurrently", r.Key())
		}
		return false, fmt.Errorf("failed to insert relationship %s: %w", r.Key(), err)
	}
	return true, nil
}
