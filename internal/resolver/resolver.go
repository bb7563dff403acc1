// Package resolver matches extracted candidates against existing canonical
// entities of the same type.
package resolver

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/vectorindex"
)

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.75
)

// Config tunes how many suggestions are surfaced and how similar they must be.
type Config struct {
	TopK      int
	Threshold float64
}

// NewConfigFromEnv reads RESOLVER_TOP_K and RESOLVER_THRESHOLD, falling back
// to the defaults for unset or unparsable values.
func NewConfigFromEnv() Config {
	cfg := Config{TopK: DefaultTopK, Threshold: DefaultThreshold}
	if v := strings.TrimSpace(os.Getenv("RESOLVER_TOP_K")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TopK = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RESOLVER_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Threshold = f
		}
	}
	return cfg
}

// Validate checks that TopK >= 1 and 0 < Threshold <= 1.
func (c Config) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("resolver top_k must be at least 1, got %d", c.TopK)
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("resolver threshold must be in (0, 1], got %g", c.Threshold)
	}
	return nil
}

// Index is the similarity search the resolver reads.
type Index interface {
	Query(ctx context.Context, typeID, text string, topK int, minScore float64) ([]apptype.Match, error)
}

// Resolver turns a candidate into ranked matches above the threshold.
type Resolver struct {
	index Index
	cfg   Config
}

// New validates cfg and returns a resolver over index.
func New(index Index, cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{index: index, cfg: cfg}, nil
}

// Config returns the active configuration.
func (r *Resolver) Config() Config { return r.cfg }

// Resolve searches existing entities of typeID for the candidate. Matches are
// ordered best first; an empty result means no match.
func (r *Resolver) Resolve(ctx context.Context, typeID string, c apptype.Candidate) (apptype.Resolution, error) {
	text := vectorindex.Text(c.RawName, c.RawDescription)
	matches, err := r.index.Query(ctx, typeID, text, r.cfg.TopK, r.cfg.Threshold)
	if err != nil {
		return apptype.Resolution{}, err
	}
	if len(matches) > r.cfg.TopK {
		matches = matches[:r.cfg.TopK]
	}
	outcome := "match"
	if len(matches) == 0 {
		outcome = "no_match"
	}
	metrics.Default().IncResolution(outcome)
	return apptype.Resolution{Matches: matches}, nil
}
