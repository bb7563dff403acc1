package database

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// vectorUnitString builds the first basis vector for current embedding dims
func (dm *DBManager) vectorUnitString() string {
	parts := make([]string, dm.config.EmbeddingDims)
	for i := range parts {
		parts[i] = "0.0"
	}
	parts[0] = "1.0"
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}

// vectorToString converts a float32 array to libSQL vector string format.
// Stored vectors must be usable for cosine similarity, so non-finite values and
// all-zero vectors are refused rather than sanitized.
func (dm *DBManager) vectorToString(numbers []float32) (string, error) {
	dims := dm.config.EmbeddingDims
	if len(numbers) != dims {
		return "", fmt.Errorf("vector must have exactly %d dimensions, got %d", dims, len(numbers))
	}

	nonZero := false
	strNumbers := make([]string, len(numbers))
	for i, n := range numbers {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return "", fmt.Errorf("vector element %d is not finite", i)
		}
		if n != 0 {
			nonZero = true
		}
		strNumbers[i] = strconv.FormatFloat(float64(n), 'g', -1, 32)
	}
	if !nonZero {
		return "", fmt.Errorf("vector must not be all zeros")
	}

	return fmt.Sprintf("[%s]", strings.Join(strNumbers, ", ")), nil
}

// ExtractVector extracts vector from binary format (F32_BLOB)
func (dm *DBManager) ExtractVector(embedding []byte) ([]float32, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	dims := dm.config.EmbeddingDims
	expectedBytes := dims * 4
	if len(embedding) != expectedBytes {
		return nil, fmt.Errorf("invalid embedding size: expected %d bytes for %d-dimensional vector, got %d", expectedBytes, dims, len(embedding))
	}

	vector := make([]float32, dims)
	for i := 0; i < dims; i++ {
		bits := binary.LittleEndian.Uint32(embedding[i*4 : (i+1)*4])
		vector[i] = math.Float32frombits(bits)
	}

	return vector, nil
}
