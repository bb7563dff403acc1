package database

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the database configuration
type Config struct {
	URL            string
	AuthToken      string
	EmbeddingDims  int
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int
}

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	url := os.Getenv("LIBSQL_URL")
	if url == "" {
		url = "file:./ontograph.db"
	}

	return &Config{
		URL:            url,
		AuthToken:      os.Getenv("LIBSQL_AUTH_TOKEN"),
		EmbeddingDims:  envInt("EMBEDDING_DIMS", 4),
		MaxOpenConns:   envInt("DB_MAX_OPEN_CONNS", 0),
		MaxIdleConns:   envInt("DB_MAX_IDLE_CONNS", 0),
		ConnMaxIdleSec: envInt("DB_CONN_MAX_IDLE_SEC", 0),
		ConnMaxLifeSec: envInt("DB_CONN_MAX_LIFETIME_SEC", 0),
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
