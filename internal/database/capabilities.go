package database

import (
	"context"
	"fmt"
	"time"
)

// capFlags records libSQL features detected on the handle
type capFlags struct {
	checked      bool
	vectorCosine bool
}

// detectCapabilities checks for vector_distance_cos, which similarity search
// is built on. Builds without libSQL vector support fail the query.
func (dm *DBManager) detectCapabilities(ctx context.Context) {
	dm.capMu.Lock()
	defer dm.capMu.Unlock()
	if dm.caps.checked {
		return
	}
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	unit := dm.vectorUnitString()
	var d float64
	err := dm.db.QueryRowContext(ctx2, "SELECT vector_distance_cos(vector32(?), vector32(?))", unit, unit).Scan(&d)
	dm.caps = capFlags{checked: true, vectorCosine: err == nil}
}

// requireVectorSearch fails fast when the handle cannot compute distances.
func (dm *DBManager) requireVectorSearch() error {
	dm.capMu.RLock()
	defer dm.capMu.RUnlock()
	if dm.caps.checked && !dm.caps.vectorCosine {
		return fmt.Errorf("libSQL at %s has no vector_distance_cos; vector search needs a libSQL build with vector support", dm.config.URL)
	}
	return nil
}

// Capabilities reports detected features for health output.
func (dm *DBManager) Capabilities() map[string]bool {
	dm.capMu.RLock()
	defer dm.capMu.RUnlock()
	return map[string]bool{"vector_distance_cos": dm.caps.vectorCosine}
}
