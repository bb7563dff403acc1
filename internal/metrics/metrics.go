// Package metrics is the instrumentation surface of the engine. The default
// recorder discards everything; a Prometheus recorder is installed by
// InitFromEnv when METRICS_PROMETHEUS is set.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"
)

// Recorder receives every measurement taken by the repository, the
// construction coordinator and the MCP handlers.
type Recorder interface {
	IncDBOpTotal(op string, success bool)
	ObserveDBOpSeconds(op string, success bool, seconds float64)
	IncToolTotal(tool string, success bool)
	ObserveToolSeconds(tool string, success bool, seconds float64)
	IncStmtCacheHit(kind string)
	IncStmtCacheMiss(kind string)
	ObservePoolStats(inUse, idle int)
	// IncSession counts sessions reaching committed, conflicted or cancelled.
	IncSession(outcome string)
	// IncResolution counts resolver outcomes: match or no_match.
	IncResolution(outcome string)
	IncRejection(kind string)
}

type discard struct{}

func (discard) IncDBOpTotal(string, bool)                {}
func (discard) ObserveDBOpSeconds(string, bool, float64) {}
func (discard) IncToolTotal(string, bool)                {}
func (discard) ObserveToolSeconds(string, bool, float64) {}
func (discard) IncStmtCacheHit(string)                   {}
func (discard) IncStmtCacheMiss(string)                  {}
func (discard) ObservePoolStats(int, int)                {}
func (discard) IncSession(string)                        {}
func (discard) IncResolution(string)                     {}
func (discard) IncRejection(string)                      {}

var (
	mu      sync.RWMutex
	current Recorder = discard{}
)

// Default returns the installed recorder.
func Default() Recorder {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// SetRecorder installs r. A nil r restores the discarding recorder.
func SetRecorder(r Recorder) {
	mu.Lock()
	defer mu.Unlock()
	if r == nil {
		r = discard{}
	}
	current = r
}

func stopwatch(name string, inc func(Recorder, string, bool), observe func(Recorder, string, bool, float64)) func(bool) {
	start := time.Now()
	return func(success bool) {
		r := Default()
		inc(r, name, success)
		observe(r, name, success, time.Since(start).Seconds())
	}
}

// TimeOp starts timing a repository operation. Call the returned func once
// with the outcome.
func TimeOp(op string) func(success bool) {
	return stopwatch(op, Recorder.IncDBOpTotal, Recorder.ObserveDBOpSeconds)
}

// TimeTool starts timing an MCP tool handler.
func TimeTool(tool string) func(success bool) {
	return stopwatch(tool, Recorder.IncToolTotal, Recorder.ObserveToolSeconds)
}

// InitFromEnv installs the Prometheus recorder when METRICS_PROMETHEUS is
// set and serves /metrics and /healthz on METRICS_ADDR (default :9090).
func InitFromEnv() error {
	if strings.TrimSpace(os.Getenv("METRICS_PROMETHEUS")) == "" {
		return nil
	}
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	return enablePrometheus(addr)
}
