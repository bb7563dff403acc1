package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// openAICompatProvider speaks the OpenAI /embeddings API. It serves both the
// hosted OpenAI endpoint and local OpenAI-compatible servers (LocalAI, llama.cpp).
type openAICompatProvider struct {
	name    string
	baseURL string
	model   string
	dims    int
	http    *http.Client
	apiKey  string
}

func newOpenAIFromEnv() Provider {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil
	}
	base := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := os.Getenv("OPENAI_EMBEDDINGS_MODEL")
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &openAICompatProvider{name: "openai", baseURL: base, model: model, dims: modelDims(model), http: &http.Client{Timeout: 15 * time.Second}, apiKey: apiKey}
}

func newLocalAIFromEnv() Provider {
	base := strings.TrimSpace(os.Getenv("LOCALAI_BASE_URL"))
	if base == "" {
		base = "http://localhost:8080/v1"
	}
	model := strings.TrimSpace(os.Getenv("LOCALAI_EMBEDDINGS_MODEL"))
	if model == "" {
		model = "text-embedding-ada-002"
	}
	return &openAICompatProvider{name: "localai", baseURL: base, model: model, dims: modelDims(model), http: &http.Client{Timeout: 15 * time.Second}, apiKey: os.Getenv("LOCALAI_API_KEY")}
}

func modelDims(model string) int {
	if strings.Contains(model, "large") {
		return 3072
	}
	return 1536
}

func (p *openAICompatProvider) Name() string    { return p.name }
func (p *openAICompatProvider) Dimensions() int { return p.dims }

func (p *openAICompatProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s base url: %w", p.name, err)
	}
	base.Path = path.Join(base.Path, "/embeddings")

	body, _ := json.Marshal(map[string]any{"model": p.model, "input": inputs})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var b struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&b)
		if b.Error.Message != "" {
			return nil, fmt.Errorf("%s embeddings error: %s", p.name, b.Error.Message)
		}
		return nil, fmt.Errorf("%s embeddings http status: %s", p.name, resp.Status)
	}
	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s embeddings: %w", p.name, err)
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", p.name, len(out.Data), len(inputs))
	}
	res := make([][]float32, len(inputs))
	for i, d := range out.Data {
		idx := d.Index
		if idx < 0 || idx >= len(res) || res[idx] != nil {
			idx = i
		}
		res[idx] = f64to32(d.Embedding)
	}
	return res, nil
}

func f64to32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = float32(v[i])
	}
	return out
}
