package jdt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAnyCoercion(t *testing.T) {
	v, ok := FromAny(3)
	require.True(t, ok)
	assert.Equal(t, KindInt, v.Kind())
	assert.Equal(t, int64(3), v.Int64())

	v, ok = FromAny("magpie")
	require.True(t, ok)
	assert.Equal(t, "magpie", v.StrVal())

	v, ok = FromAny(nil)
	require.True(t, ok)
	assert.Equal(t, KindNull, v.Kind())

	v, ok = FromAny(2.5)
	require.True(t, ok)
	assert.Equal(t, 2.5, v.Float64())

	_, ok = FromAny(func() {})
	assert.False(t, ok)
	_, ok = FromAny(make(chan int))
	assert.False(t, ok)
}

func TestCounterIsNotAPlainNumber(t *testing.T) {
	v, ok := FromAny(Counter(3))
	require.True(t, ok)
	assert.True(t, v.IsCounter())
	assert.Equal(t, int64(3), v.Int64())

	plain, _ := FromAny(int64(3))
	assert.False(t, v.Equal(plain))
	assert.NotEqual(t, any(Counter(3)), any(int64(3)))
}

func TestTimestampRoundTrip(t *testing.T) {
	at := time.UnixMilli(1693000000123)
	v, ok := FromAny(at)
	require.True(t, ok)
	assert.Equal(t, KindTimestamp, v.Kind())
	assert.Equal(t, int64(1693000000123), v.Time().UnixMilli())

	wire, datatype := v.WireValue()
	assert.Equal(t, int64(1693000000123), wire)
	assert.Equal(t, "timestamp", datatype)

	back, ok := FromWire(wire, datatype)
	require.True(t, ok)
	assert.True(t, v.Equal(back))
}

func TestFromWireCounter(t *testing.T) {
	// JSON decoding hands numbers over as float64.
	v, ok := FromWire(float64(5), "counter")
	require.True(t, ok)
	assert.True(t, v.IsCounter())
	assert.Equal(t, int64(5), v.Int64())

	_, ok = FromWire("five", "counter")
	assert.False(t, ok)
}

func TestValueInterface(t *testing.T) {
	assert.Equal(t, Counter(2), CounterOf(2).Interface())
	assert.Equal(t, int64(2), Int(2).Interface())
	assert.Nil(t, Null().Interface())
	assert.Equal(t, ObjectID("x"), Ref("x").Interface())
}
