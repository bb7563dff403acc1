package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
)

// CommitHook runs inside the commit transaction after every staged write has
// been applied and before the transaction commits. A non-nil error aborts the
// transaction.
type CommitHook func(ctx context.Context, cs *apptype.ChangeSet) error

// DBManager owns the libSQL handle backing the ontology tables, the entity and
// relationship repositories and the embedding index.
type DBManager struct {
	config *Config
	db     *sql.DB

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt

	capMu sync.RWMutex
	caps  capFlags

	// commitMu orders commits issued from this process
	commitMu   sync.Mutex
	hookMu     sync.RWMutex
	commitHook CommitHook

	now func() time.Time
}

// NewDBManager creates a new database manager
func NewDBManager(config *Config) (*DBManager, error) {
	if config.EmbeddingDims <= 0 || config.EmbeddingDims > 65536 {
		return nil, fmt.Errorf("{\"error\":{\"code\":\"INVALID_EMBEDDING_DIMS\",\"message\":\"EMBEDDING_DIMS must be between 1 and 65536 inclusive\",\"value\":%d}}", config.EmbeddingDims)
	}
	manager := &DBManager{
		config:    config,
		stmtCache: make(map[string]*sql.Stmt),
		now:       func() time.Time { return time.Now().UTC() },
	}
	if err := manager.open(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return manager, nil
}

func (dm *DBManager) open() error {
	dbURL := dm.config.URL
	if !strings.HasPrefix(dbURL, "file:") && dm.config.AuthToken != "" {
		// Build URL safely and append/override the authToken parameter
		if u, perr := url.Parse(dbURL); perr == nil {
			q := u.Query()
			q.Set("authToken", dm.config.AuthToken)
			u.RawQuery = q.Encode()
			dbURL = u.String()
		} else if strings.Contains(dbURL, "?") {
			dbURL = dbURL + "&authToken=" + url.QueryEscape(dm.config.AuthToken)
		} else {
			dbURL = dbURL + "?authToken=" + url.QueryEscape(dm.config.AuthToken)
		}
	}

	db, err := sql.Open("libsql", dbURL)
	if err != nil {
		return fmt.Errorf("failed to create database connector: %w", err)
	}

	// Adopt the dimension of an existing store before DDL so the schema
	// statements match what is already on disk.
	if dbDims := detectDBEmbeddingDims(db); dbDims > 0 && dbDims != dm.config.EmbeddingDims {
		log.Printf("Embedding dims mismatch: DB=%d, Config=%d. Adopting DB dims to preserve compatibility.", dbDims, dm.config.EmbeddingDims)
		dm.config.EmbeddingDims = dbDims
	}

	if err := dm.initialize(db); err != nil {
		db.Close()
		return err
	}

	// Apply connection pool tuning from config
	if dm.config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(dm.config.MaxOpenConns)
	}
	if dm.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(dm.config.MaxIdleConns)
	}
	if dm.config.ConnMaxIdleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(dm.config.ConnMaxIdleSec) * time.Second)
	}
	if dm.config.ConnMaxLifeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(dm.config.ConnMaxLifeSec) * time.Second)
	}

	dm.db = db
	dm.detectCapabilities(context.Background())
	stats := db.Stats()
	metrics.Default().ObservePoolStats(stats.InUse, stats.Idle)
	return nil
}

// detectDBEmbeddingDims introspects the schema to infer the F32_BLOB size of the embedding index
func detectDBEmbeddingDims(db *sql.DB) int {
	var sqlText string
	_ = db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name='entity_embeddings'").Scan(&sqlText)
	if sqlText != "" {
		low := strings.ToLower(sqlText)
		idx := strings.Index(low, "f32_blob(")
		if idx >= 0 {
			rest := low[idx+len("f32_blob("):]
			end := strings.Index(rest, ")")
			if end > 0 {
				if n, err := strconv.Atoi(strings.TrimSpace(rest[:end])); err == nil && n > 0 {
					return n
				}
			}
		}
	}
	// Fall back to a sample row
	var blob []byte
	_ = db.QueryRow("SELECT embedding FROM entity_embeddings LIMIT 1").Scan(&blob)
	if len(blob) > 0 && len(blob)%4 == 0 {
		return len(blob) / 4
	}
	return 0
}

// initialize creates tables and indexes if they don't exist
func (dm *DBManager) initialize(db *sql.DB) error {
	done := metrics.TimeOp("db_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range dynamicSchema(dm.config.EmbeddingDims) {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// EmbeddingDims returns the vector dimension of the embedding index.
func (dm *DBManager) EmbeddingDims() int { return dm.config.EmbeddingDims }

// Config returns the active configuration.
func (dm *DBManager) Config() Config { return *dm.config }

// SetCommitHook installs a hook run just before every commit. Pass nil to remove it.
func (dm *DBManager) SetCommitHook(h CommitHook) {
	dm.hookMu.Lock()
	defer dm.hookMu.Unlock()
	dm.commitHook = h
}

// PoolStats returns connection pool usage.
func (dm *DBManager) PoolStats() (inUse, idle int) {
	s := dm.db.Stats()
	return s.InUse, s.Idle
}

// Ping verifies the database is reachable.
func (dm *DBManager) Ping(ctx context.Context) error {
	return dm.db.PingContext(ctx)
}

// Close closes the statement cache and the database handle
func (dm *DBManager) Close() error {
	dm.stmtMu.Lock()
	for k, stmt := range dm.stmtCache {
		_ = stmt.Close()
		delete(dm.stmtCache, k)
	}
	dm.stmtMu.Unlock()
	if err := dm.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
