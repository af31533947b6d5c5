//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// With the sqlite_vec tag the vector store uses mattn/go-sqlite3 with the
// sqlite-vec extension auto-loaded into every connection.
const (
	vectorDriverName   = "sqlite3"
	vectorDistanceFunc = "vec_distance_cosine"
)

func init() {
	vec.Auto()
}
