package shared

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

var (
	// ErrNotFound means an identifying lookup matched no row.
	ErrNotFound = errors.New("record not found")
	// ErrAmbiguousMatch means an identifying lookup matched more than one row.
	ErrAmbiguousMatch = errors.New("ambiguous match on identifying columns")
	// ErrUniqueViolation means a write collided with a unique or primary key constraint.
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// Fields holds column values by column name. To-many relation values are
// carried under the relation's attribute name as []int64.
type Fields map[string]any

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ID returns the integer primary key stored under "id".
func (f Fields) ID() int64 {
	id, _ := Int64(f["id"])
	return id
}

// Equal compares two column values after normalizing the representations
// drivers disagree on (text vs bytes, integer widths).
func Equal(a, b any) bool {
	if as, ok := text(a); ok {
		bs, ok := text(b)
		return ok && as == bs
	}
	if ai, ok := Int64(a); ok {
		bi, ok := Int64(b)
		return ok && ai == bi
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

func text(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return string(rv.Bytes()), true
	}
	return "", false
}

// Int64 coerces an integer column value.
func Int64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case uint:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	}
	return 0, false
}

// String coerces a text column value.
func String(v any) (string, bool) {
	return text(v)
}

// Bool coerces a boolean column value. SQLite may hand back integers.
func Bool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case int64:
		return t != 0, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	}
	return false, false
}

// Bytes coerces a text or blob column value.
func Bytes(v any) ([]byte, bool) {
	if s, ok := text(v); ok {
		return []byte(s), true
	}
	return nil, false
}

// Time coerces a timestamp column value.
func Time(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// ColumnError reports a column that is missing or holds an unexpected type.
func ColumnError(table, column string, v any) error {
	return fmt.Errorf("%s.%s: unexpected value %v (%T)", table, column, v, v)
}
