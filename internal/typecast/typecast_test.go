package typecast

import (
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/schema"
)

func TestCast(t *testing.T) {
	tests := []struct {
		name string
		in   any
		typ  schema.ColumnType
		want any
	}{
		{name: "nil stays nil", in: nil, typ: schema.TypeInteger, want: nil},
		{name: "int64", in: int64(7), typ: schema.TypeInteger, want: int64(7)},
		{name: "int widened", in: 7, typ: schema.TypeInteger, want: int64(7)},
		{name: "integral float", in: 7.0, typ: schema.TypeInteger, want: int64(7)},
		{name: "numeric text", in: []byte("42"), typ: schema.TypeInteger, want: int64(42)},
		{name: "float", in: 2.5, typ: schema.TypeFloat, want: 2.5},
		{name: "float from int", in: int64(3), typ: schema.TypeFloat, want: 3.0},
		{name: "string", in: "Dune", typ: schema.TypeString, want: "Dune"},
		{name: "string from bytes", in: []byte("Dune"), typ: schema.TypeString, want: "Dune"},
		{name: "bool", in: true, typ: schema.TypeBoolean, want: true},
		{name: "bool from int", in: int64(0), typ: schema.TypeBoolean, want: false},
		{name: "bool from text", in: "t", typ: schema.TypeBoolean, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cast(tt.in, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCast_Decimal(t *testing.T) {
	got, err := Cast(19.99, schema.TypeDecimal)
	require.NoError(t, err)
	d, ok := got.(*apd.Decimal)
	require.True(t, ok)
	assert.Equal(t, "19.99", d.String())

	got, err = Cast("12.50", schema.TypeDecimal)
	require.NoError(t, err)
	assert.Equal(t, "12.50", got.(*apd.Decimal).String())

	got, err = Cast(int64(3), schema.TypeDecimal)
	require.NoError(t, err)
	assert.Equal(t, "3", got.(*apd.Decimal).String())
}

func TestCast_Time(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	for _, in := range []any{want, "2024-03-01T12:30:00Z", "2024-03-01 12:30:00"} {
		got, err := Cast(in, schema.TypeTime)
		require.NoError(t, err)
		assert.True(t, want.Equal(got.(time.Time)), "%v", in)
	}
}

func TestCast_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   any
		typ  schema.ColumnType
	}{
		{name: "text to integer", in: "abc", typ: schema.TypeInteger},
		{name: "fractional to integer", in: 1.5, typ: schema.TypeInteger},
		{name: "text to boolean", in: "maybe", typ: schema.TypeBoolean},
		{name: "bad decimal", in: "1.2.3", typ: schema.TypeDecimal},
		{name: "bad time", in: "yesterday", typ: schema.TypeTime},
		{name: "struct to string", in: struct{}{}, typ: schema.TypeString},
		{name: "unknown type", in: 1, typ: "blob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Cast(tt.in, tt.typ)
			require.Error(t, err)
			assert.True(t, qerr.IsTypeCast(err))
		})
	}
}

func TestZero(t *testing.T) {
	assert.Equal(t, int64(0), Zero(schema.TypeInteger))
	assert.Equal(t, 0.0, Zero(schema.TypeFloat))
	assert.Equal(t, "0", Zero(schema.TypeDecimal).(*apd.Decimal).String())
}

func TestKey_Normalizes(t *testing.T) {
	// The same logical key from different drivers and column types.
	assert.Equal(t, Key(int64(5)), Key(5))
	assert.Equal(t, Key(int64(5)), Key(int32(5)))
	assert.Equal(t, Key(int64(5)), Key(5.0))
	assert.Equal(t, Key("abc"), Key([]byte("abc")))
	assert.Equal(t, Key(int64(5)), Key(apd.New(5, 0)))
	assert.Equal(t, Key(int64(5)), Key(apd.New(500, -2)))

	// Composed and decomposed forms of "é" are one key.
	assert.Equal(t, Key("caf\u00e9"), Key("cafe\u0301"))

	assert.NotEqual(t, Key("5"), Key(5))
	assert.Nil(t, Key(nil))
	assert.Equal(t, 1.5, Key(1.5))
}

func TestKey_UsableAsMapKey(t *testing.T) {
	m := map[any]string{}
	m[Key(int32(1))] = "a"
	m[Key([]byte("x"))] = "b"

	assert.Equal(t, "a", m[Key(int64(1))])
	assert.Equal(t, "b", m[Key("x")])
}
