package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/dgraph-io/badger/v4"
)

// CachedProvider memoises another provider's vectors in badger, keyed by
// provider name, dimension and the SHA-256 of the input text.
type CachedProvider struct {
	base  Provider
	db    *badger.DB
	owned bool
}

// NewCachedProvider wraps base with a cache stored in db. The caller owns db.
func NewCachedProvider(base Provider, db *badger.DB) *CachedProvider {
	return &CachedProvider{base: base, db: db}
}

// OpenCachedProvider opens (or creates) a badger cache in dir and wraps base.
// Close releases the database.
func OpenCachedProvider(base Provider, dir string) (*CachedProvider, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open embeddings cache at %s: %w", dir, err)
	}
	return &CachedProvider{base: base, db: db, owned: true}, nil
}

func (c *CachedProvider) Name() string    { return c.base.Name() }
func (c *CachedProvider) Dimensions() int { return c.base.Dimensions() }

// Close closes the cache database when it was opened by OpenCachedProvider.
func (c *CachedProvider) Close() error {
	if c.owned {
		return c.db.Close()
	}
	return nil
}

func (c *CachedProvider) key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte(fmt.Sprintf("e:%s:%d:%s", c.base.Name(), c.base.Dimensions(), hex.EncodeToString(sum[:])))
}

func (c *CachedProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	var missIdx []int
	err := c.db.View(func(txn *badger.Txn) error {
		for i, in := range inputs {
			item, err := txn.Get(c.key(in))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missIdx = append(missIdx, i)
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			vec, ok := decodeVector(val)
			if !ok {
				missIdx = append(missIdx, i)
				continue
			}
			out[i] = vec
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read embeddings cache: %w", err)
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	misses := make([]string, len(missIdx))
	for j, i := range missIdx {
		misses[j] = inputs[i]
	}
	vecs, err := c.base.Embed(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", c.base.Name(), len(vecs), len(misses))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		for j := range missIdx {
			if err := txn.Set(c.key(misses[j]), encodeVector(vecs[j])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("Warning: failed to write embeddings cache: %v", err)
	}
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, true
}
