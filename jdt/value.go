package jdt

import (
	"encoding/json"
	"strconv"
	"time"
)

// Counter is an increment-only-mergeable numeric value. It coerces to
// its int64 under arithmetic but stays structurally distinct from a
// plain number, so a counter field is never silently overwritten.
type Counter int64

func (c Counter) Value() int64 {
	return int64(c)
}

func (c Counter) String() string {
	return strconv.FormatInt(int64(c), 10)
}

func (c Counter) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(c))
}

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindCounter
	KindTimestamp
	KindRef
)

// Value is the tagged sum a document field can hold: a primitive, a
// counter, a millisecond timestamp, or a reference to another object.
type Value struct {
	kind Kind
	b    bool
	n    int64
	f    float64
	s    string
}

func Null() Value              { return Value{kind: KindNull} }
func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Int(n int64) Value        { return Value{kind: KindInt, n: n} }
func Float(f float64) Value    { return Value{kind: KindFloat, f: f} }
func Str(s string) Value       { return Value{kind: KindString, s: s} }
func CounterOf(n int64) Value  { return Value{kind: KindCounter, n: n} }
func TimestampMillis(ms int64) Value {
	return Value{kind: KindTimestamp, n: ms}
}
func Timestamp(t time.Time) Value {
	return TimestampMillis(t.UnixMilli())
}
func Ref(id ObjectID) Value { return Value{kind: KindRef, s: string(id)} }

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsRef() bool      { return v.kind == KindRef }
func (v Value) IsCounter() bool  { return v.kind == KindCounter }
func (v Value) RefID() ObjectID  { return ObjectID(v.s) }
func (v Value) Int64() int64     { return v.n }
func (v Value) Float64() float64 { return v.f }
func (v Value) BoolVal() bool    { return v.b }
func (v Value) StrVal() string   { return v.s }

func (v Value) Time() time.Time {
	return time.UnixMilli(v.n)
}

// Interface projects the value to its host representation. Refs come
// back as the bare ObjectID; resolving them is the view layer's job.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.n
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindCounter:
		return Counter(v.n)
	case KindTimestamp:
		return v.Time()
	case KindRef:
		return ObjectID(v.s)
	}
	return nil
}

// WireValue is the scalar that goes into an op or diff on the wire:
// counters and timestamps travel as their numbers plus a datatype tag.
func (v Value) WireValue() (value any, datatype string) {
	switch v.kind {
	case KindCounter:
		return v.n, "counter"
	case KindTimestamp:
		return v.n, "timestamp"
	default:
		return v.Interface(), ""
	}
}

// FromAny coerces a host scalar into a Value. The second return is
// false for anything with no CRDT representation.
func FromAny(x any) (Value, bool) {
	switch t := x.(type) {
	case nil:
		return Null(), true
	case bool:
		return Bool(t), true
	case int:
		return Int(int64(t)), true
	case int8:
		return Int(int64(t)), true
	case int16:
		return Int(int64(t)), true
	case int32:
		return Int(int64(t)), true
	case int64:
		return Int(t), true
	case uint:
		return Int(int64(t)), true
	case uint8:
		return Int(int64(t)), true
	case uint16:
		return Int(int64(t)), true
	case uint32:
		return Int(int64(t)), true
	case float32:
		return Float(float64(t)), true
	case float64:
		return Float(t), true
	case string:
		return Str(t), true
	case Counter:
		return CounterOf(int64(t)), true
	case time.Time:
		return Timestamp(t), true
	case Value:
		return t, true
	}
	return Value{}, false
}

// FromWire rebuilds a Value from a wire scalar and its datatype tag.
// JSON decoding hands numbers over as float64; the datatype decides
// whether that was a counter or a timestamp.
func FromWire(value any, datatype string) (Value, bool) {
	switch datatype {
	case "counter":
		n, ok := wireInt(value)
		if !ok {
			return Value{}, false
		}
		return CounterOf(n), true
	case "timestamp":
		n, ok := wireInt(value)
		if !ok {
			return Value{}, false
		}
		return TimestampMillis(n), true
	case "":
		return FromAny(value)
	}
	return Value{}, false
}

func wireInt(value any) (int64, bool) {
	switch t := value.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case Counter:
		return int64(t), true
	}
	return 0, false
}

func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindFloat:
		return v.f == other.f
	case KindString, KindRef:
		return v.s == other.s
	case KindBool:
		return v.b == other.b
	case KindNull:
		return true
	default:
		return v.n == other.n
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindTimestamp, KindCounter:
		return json.Marshal(v.n)
	default:
		return json.Marshal(v.Interface())
	}
}
