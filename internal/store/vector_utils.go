package store

import (
	"bytes"
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
)

// encodeFloat32SliceToBlob encodes a float32 slice as a little-endian blob,
// the layout sqlite-vec expects.
func encodeFloat32SliceToBlob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(vec) * 4)
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

// decodeFloat32SliceFromBlob decodes a blob back to a float32 slice.
func decodeFloat32SliceFromBlob(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// decodeFloat32 accepts the driver values SQLite hands to scalar functions.
func decodeFloat32(v driver.Value) ([]float32, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeFloat32SliceFromBlob(b)
	case string:
		return decodeFloat32SliceFromBlob([]byte(b))
	default:
		return nil, fmt.Errorf("unsupported vector type %T", v)
	}
}

// cosineDistance returns 1 - cosine similarity. Empty or zero vectors are
// maximally distant.
func cosineDistance(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 1, nil
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}
