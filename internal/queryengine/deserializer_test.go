package queryengine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestRow_As(t *testing.T) {
	row := NewRow([]byte(`{"x":1,"y":2}`), nil)

	p, err := As[point](row)
	require.NoError(t, err)
	assert.Equal(t, point{X: 1, Y: 2}, p)
}

// TestRow_As_NullIsDataConversionError: decoding a JSON null
// row with As fails rather than silently returning a zero value.
func TestRow_As_NullIsDataConversionError(t *testing.T) {
	row := NewRow([]byte(`null`), nil)

	_, err := As[point](row)
	require.Error(t, err)

	var dce *DataConversionError
	require.True(t, errors.As(err, &dce))
}

// TestRow_AsNullable_NullReturnsNilNoError:
// AsNullable treats a null row as a legitimate nil result, not an error.
func TestRow_AsNullable_NullReturnsNilNoError(t *testing.T) {
	row := NewRow([]byte(`null`), nil)

	p, err := AsNullable[point](row)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestRow_AsNullable_NonNull(t *testing.T) {
	row := NewRow([]byte(`{"x":5,"y":6}`), nil)

	p, err := AsNullable[point](row)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, point{X: 5, Y: 6}, *p)
}

func TestRow_As_MalformedJSONIsDataConversionError(t *testing.T) {
	row := NewRow([]byte(`{not json`), nil)

	_, err := As[point](row)
	require.Error(t, err)

	var dce *DataConversionError
	require.True(t, errors.As(err, &dce))
}

func TestRow_Bytes(t *testing.T) {
	row := NewRow([]byte(`{"x":1,"y":2}`), nil)
	assert.JSONEq(t, `{"x":1,"y":2}`, string(row.Bytes()))
}
