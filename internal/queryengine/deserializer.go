package queryengine

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Deserializer converts raw row bytes into a user-requested type. It is
// pluggable per query, overriding a per-cluster default (see
// DefaultDeserializer), for callers who want a different JSON library or
// an annotating/instrumented decoder.
type Deserializer interface {
	// Deserialize decodes data into the value pointed to by valuePtr.
	Deserialize(data []byte, valuePtr any) error
}

// jsonDeserializer is the default Deserializer, backed by encoding/json.
type jsonDeserializer struct{}

func (jsonDeserializer) Deserialize(data []byte, valuePtr any) error {
	return json.Unmarshal(data, valuePtr)
}

// DefaultDeserializer returns the stock encoding/json-backed Deserializer
// used when a query does not supply its own.
func DefaultDeserializer() Deserializer {
	return jsonDeserializer{}
}

// Row is one element of a query's results array: raw JSON bytes plus the
// deserializer chosen for the request that produced it. The bytes are
// owned by the parser during the row callback call (streaming mode) or
// copied into the row (buffered mode) - Row itself never copies
// defensively, so streaming callers that need to retain a row's bytes
// past the callback must copy them explicitly.
type Row struct {
	raw          []byte
	deserializer Deserializer
}

// NewRow builds a Row over raw bytes using the given deserializer. If
// deserializer is nil, DefaultDeserializer is used.
func NewRow(raw []byte, deserializer Deserializer) Row {
	if deserializer == nil {
		deserializer = DefaultDeserializer()
	}

	return Row{raw: raw, deserializer: deserializer}
}

// Bytes returns the row's raw JSON bytes.
func (r Row) Bytes() []byte {
	return r.raw
}

var errNullRow = errors.New("row value is null")

func isJSONNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// As decodes the row into T, failing with a *DataConversionError if the
// row is JSON null or otherwise cannot be converted. Use AsNullable when
// the row may legitimately be null.
func As[T any](r Row) (T, error) {
	var v T

	if len(r.raw) == 0 || isJSONNull(r.raw) {
		return v, &DataConversionError{Cause: errNullRow}
	}

	if err := r.deserializer.Deserialize(r.raw, &v); err != nil {
		return v, &DataConversionError{Cause: err}
	}

	return v, nil
}

// AsNullable decodes the row into T, returning a nil pointer (and no
// error) when the row is JSON null.
func AsNullable[T any](r Row) (*T, error) {
	if len(r.raw) == 0 || isJSONNull(r.raw) {
		return nil, nil
	}

	var v T
	if err := r.deserializer.Deserialize(r.raw, &v); err != nil {
		return nil, &DataConversionError{Cause: err}
	}

	return &v, nil
}
