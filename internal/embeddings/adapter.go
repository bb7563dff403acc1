package embeddings

import (
	"context"
	"fmt"
	"strings"
)

// Adapt modes for WrapToDims.
const (
	AdaptPadOrTruncate = "pad_or_truncate"
	AdaptTruncate      = "truncate"
	AdaptPad           = "pad"
)

// adaptingProvider coerces a provider's vectors to the index dimension.
type adaptingProvider struct {
	base       Provider
	targetDims int
	mode       string
}

// WrapToDims returns a Provider whose vectors have exactly targetDims
// elements. "pad" refuses to shorten vectors and "truncate" refuses to extend
// them; the default pads or truncates as needed. base is returned unchanged when
// it already matches.
func WrapToDims(base Provider, targetDims int, mode string) Provider {
	if base == nil || targetDims <= 0 || base.Dimensions() == targetDims {
		return base
	}
	m := strings.ToLower(strings.TrimSpace(mode))
	switch m {
	case AdaptPad, AdaptTruncate:
	default:
		m = AdaptPadOrTruncate
	}
	return &adaptingProvider{base: base, targetDims: targetDims, mode: m}
}

func (p *adaptingProvider) Name() string    { return p.base.Name() }
func (p *adaptingProvider) Dimensions() int { return p.targetDims }

func (p *adaptingProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	vecs, err := p.base.Embed(ctx, inputs)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		a, err := adaptVector(v, p.targetDims, p.mode)
		if err != nil {
			return nil, fmt.Errorf("%s vector %d: %w", p.base.Name(), i, err)
		}
		out[i] = a
	}
	return out, nil
}

func adaptVector(v []float32, target int, mode string) ([]float32, error) {
	n := len(v)
	switch {
	case n == target:
		return v, nil
	case n > target:
		if mode == AdaptPad {
			return nil, fmt.Errorf("got %d dims, pad mode cannot shrink to %d", n, target)
		}
		return v[:target], nil
	default:
		if mode == AdaptTruncate {
			return nil, fmt.Errorf("got %d dims, truncate mode cannot grow to %d", n, target)
		}
		out := make([]float32, target)
		copy(out, v)
		return out, nil
	}
}
