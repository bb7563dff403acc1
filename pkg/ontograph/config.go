package ontograph

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/resolver"
)

// Config exposes a stable wrapper for the engine configuration in package
// mode. Database fields map directly to internal/database.Config.
type Config struct {
	URL            string
	AuthToken      string
	EmbeddingDims  int
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int

	// AdaptMode pads or truncates provider vectors to EmbeddingDims
	// (pad_or_truncate, pad, truncate). Empty requires an exact match.
	AdaptMode string

	ResolverTopK      int
	ResolverThreshold float64

	// SessionRetention bounds how long finished sessions stay readable.
	// Zero uses the coordinator default.
	SessionRetention time.Duration
}

// NewConfigFromEnv reads LIBSQL_*, EMBEDDING_DIMS, DB_*,
// EMBEDDINGS_ADAPT_MODE, RESOLVER_* and SESSION_RETENTION from the environment.
func NewConfigFromEnv() *Config {
	db := database.NewConfig()
	rc := resolver.NewConfigFromEnv()
	return &Config{
		URL:               db.URL,
		AuthToken:         db.AuthToken,
		EmbeddingDims:     db.EmbeddingDims,
		MaxOpenConns:      db.MaxOpenConns,
		MaxIdleConns:      db.MaxIdleConns,
		ConnMaxIdleSec:    db.ConnMaxIdleSec,
		ConnMaxLifeSec:    db.ConnMaxLifeSec,
		AdaptMode:         strings.TrimSpace(os.Getenv("EMBEDDINGS_ADAPT_MODE")),
		ResolverTopK:      rc.TopK,
		ResolverThreshold: rc.Threshold,
		SessionRetention:  envDuration("SESSION_RETENTION"),
	}
}

func envDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: ignoring invalid %s=%q: %v", key, v, err)
		return 0
	}
	return d
}

func (c *Config) toInternal() *database.Config {
	return &database.Config{
		URL:            c.URL,
		AuthToken:      c.AuthToken,
		EmbeddingDims:  c.EmbeddingDims,
		MaxOpenConns:   c.MaxOpenConns,
		MaxIdleConns:   c.MaxIdleConns,
		ConnMaxIdleSec: c.ConnMaxIdleSec,
		ConnMaxLifeSec: c.ConnMaxLifeSec,
	}
}

func (c *Config) resolverConfig() resolver.Config {
	rc := resolver.Config{TopK: c.ResolverTopK, Threshold: c.ResolverThreshold}
	if rc.TopK == 0 {
		rc.TopK = resolver.DefaultTopK
	}
	if rc.Threshold == 0 {
		rc.Threshold = resolver.DefaultThreshold
	}
	return rc
}
