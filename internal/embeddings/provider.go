package embeddings

import (
	"context"
	"log"
	"os"
	"strings"
)

// Provider defines a simple embeddings provider interface.
// Implementations should be concurrency-safe.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama").
	Name() string
	// Dimensions returns the embedding dimensionality this provider produces.
	Dimensions() int
	// Embed returns one embedding per input string.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// NewFromEnv constructs a provider based on environment variables.
// EMBEDDINGS_PROVIDER: "openai", "ollama", "localai", or empty for disabled.
// A nil provider leaves the engine unable to resolve or create entities; the
// embedding index reports that as service unavailable.
func NewFromEnv() Provider {
	name := strings.ToLower(strings.TrimSpace(os.Getenv("EMBEDDINGS_PROVIDER")))
	var p Provider
	switch name {
	case "openai":
		p = newOpenAIFromEnv()
	case "ollama":
		p = newOllamaFromEnv()
	case "localai", "llamacpp", "llama.cpp":
		p = newLocalAIFromEnv()
	}
	if p == nil {
		return nil
	}
	if dir := strings.TrimSpace(os.Getenv("EMBEDDINGS_CACHE_DIR")); dir != "" {
		cached, err := OpenCachedProvider(p, dir)
		if err != nil {
			log.Printf("Warning: embedding cache at %s unavailable: %v", dir, err)
			return p
		}
		return cached
	}
	return p
}
