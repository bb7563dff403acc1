package database

import "fmt"

// dynamicSchema returns schema DDL using the configured embedding dimension
func dynamicSchema(embeddingDims int) []string {
	if embeddingDims <= 0 {
		embeddingDims = 4
	}
	return []string{
		// Ontology: entity types and their property schema
		`CREATE TABLE IF NOT EXISTS entity_types (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL UNIQUE,
        description TEXT NOT NULL DEFAULT '',
        seeded_only INTEGER NOT NULL DEFAULT 0,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    )`,
		`CREATE TABLE IF NOT EXISTS entity_type_properties (
        type_id TEXT NOT NULL,
        name TEXT NOT NULL,
        data_type TEXT NOT NULL,
        required INTEGER NOT NULL DEFAULT 0,
        description TEXT NOT NULL DEFAULT '',
        position INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (type_id, name),
        FOREIGN KEY (type_id) REFERENCES entity_types(id)
    )`,

		// Ontology: permitted edge shapes
		`CREATE TABLE IF NOT EXISTS relationship_types (
        source_type_id TEXT NOT NULL,
        target_type_id TEXT NOT NULL,
        label TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        PRIMARY KEY (source_type_id, target_type_id, label),
        FOREIGN KEY (source_type_id) REFERENCES entity_types(id),
        FOREIGN KEY (target_type_id) REFERENCES entity_types(id)
    )`,

		// Canonical entities
		`CREATE TABLE IF NOT EXISTS entities (
        id TEXT PRIMARY KEY,
        type_id TEXT NOT NULL,
        name TEXT NOT NULL,
        name_key TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        properties TEXT NOT NULL DEFAULT '{}',
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL,
        FOREIGN KEY (type_id) REFERENCES entity_types(id)
    )`,

		// Embedding index, one vector per entity
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entity_embeddings (
        entity_id TEXT PRIMARY KEY,
        type_id TEXT NOT NULL,
        embedding F32_BLOB(%d) NOT NULL,
        updated_at TEXT NOT NULL,
        FOREIGN KEY (entity_id) REFERENCES entities(id)
    )`, embeddingDims),

		// Directed typed edges
		`CREATE TABLE IF NOT EXISTS relationships (
        source_id TEXT NOT NULL,
        target_id TEXT NOT NULL,
        label TEXT NOT NULL,
        properties TEXT NOT NULL DEFAULT '{}',
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL,
        PRIMARY KEY (source_id, target_id, label),
        FOREIGN KEY (source_id) REFERENCES entities(id),
        FOREIGN KEY (target_id) REFERENCES entities(id)
    )`,

		// Create indexes
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_type_name_key ON entities(type_id, name_key)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_type_created ON entities(type_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_embeddings_type ON entity_embeddings(type_id)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_label_source ON relationships(label, source_id)`,

		// Nearest-neighbour search is an exact scan per type; stores created
		// with the approximate index drop it.
		`DROP INDEX IF EXISTS idx_entity_embeddings_vec`,
	}
}
