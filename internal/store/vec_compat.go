package store

import (
	"database/sql/driver"
	"fmt"

	sqlite "modernc.org/sqlite"
)

func init() {
	// Deterministic: same input blobs produce the same distance.
	if err := sqlite.RegisterDeterministicScalarFunction("vector_distance_cos", 2, vecDistanceCos); err != nil {
		panic(fmt.Sprintf("store: register vector_distance_cos: %v", err))
	}
}

// vecDistanceCos is the pure-Go stand-in for sqlite-vec's vec_distance_cosine,
// so nearest-neighbour queries run on the cgo-free driver.
func vecDistanceCos(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vector_distance_cos expects 2 arguments")
	}
	a, err := decodeFloat32(args[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeFloat32(args[1])
	if err != nil {
		return nil, err
	}
	d, err := cosineDistance(a, b)
	if err != nil {
		return nil, fmt.Errorf("vector_distance_cos: %w", err)
	}
	return d, nil
}
