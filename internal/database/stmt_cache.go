package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
)

// getPreparedStmt returns or prepares and caches a read statement
func (dm *DBManager) getPreparedStmt(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	dm.stmtMu.RLock()
	stmt, ok := dm.stmtCache[sqlText]
	dm.stmtMu.RUnlock()
	if ok {
		metrics.Default().IncStmtCacheHit("prepare")
		return stmt, nil
	}
	metrics.Default().IncStmtCacheMiss("prepare")

	stmt, err := dm.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	dm.stmtMu.Lock()
	if existing, ok := dm.stmtCache[sqlText]; ok {
		dm.stmtMu.Unlock()
		_ = stmt.Close()
		return existing, nil
	}
	dm.stmtCache[sqlText] = stmt
	dm.stmtMu.Unlock()
	return stmt, nil
}
