package gocbanalytics

import (
	"github.com/couchbase/gocbanalytics/internal/queryengine"
)

// Row is one element of a query's results array: raw JSON bytes plus the
// Deserializer chosen for the request that produced it.
type Row = queryengine.Row

// Deserializer converts raw row bytes into a user-requested type. A
// default, encoding/json-backed Deserializer is used when a query does not
// supply its own; per-request deserializers override the per-cluster one.
type Deserializer = queryengine.Deserializer

// DefaultDeserializer returns the stock encoding/json-backed Deserializer
// used when neither a query nor its Cluster supplies one.
func DefaultDeserializer() Deserializer {
	return queryengine.DefaultDeserializer()
}

// RowAs decodes row into T, failing with a *DataConversionError if the row
// is JSON null or otherwise cannot be converted. Use RowAsNullable when the
// row may legitimately be null.
func RowAs[T any](row Row) (T, error) {
	return queryengine.As[T](row)
}

// RowAsNullable decodes row into T, returning a nil pointer (and no error)
// when the row is JSON null.
func RowAsNullable[T any](row Row) (*T, error) {
	return queryengine.AsNullable[T](row)
}
