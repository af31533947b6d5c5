//go:build !(sqlite_vec && cgo)

package store

// Without the sqlite_vec tag the vector store runs on the pure-Go driver with
// the distance function registered in vec_compat.go.
const (
	vectorDriverName   = "sqlite"
	vectorDistanceFunc = "vector_distance_cos"
)
