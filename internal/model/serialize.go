package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eppraise/eppraise/internal/estimate"
)

// WatchView is a watch together with the items associated with it.
type WatchView struct {
	Watch
	Items []Item
}

// Estimate is the mean sold price of the watch's items.
func (v WatchView) Estimate() (float64, bool) {
	return estimate.MeanPrice(v.Items)
}

// Column is one named, computed output of a serializer.
type Column struct {
	Name  string
	Value func(v any) any
}

// Field is a serialized name/value pair.
type Field struct {
	Name  string
	Value any
}

// Record is a serialized entity. It marshals to a JSON object whose keys keep
// the serializer's column order.
type Record []Field

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the value of a named field.
func (r Record) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

const (
	EntityWatch = "watch"
	EntityItem  = "item"
)

// Serializers maps an entity name to its ordered output columns. Watch
// columns take a WatchView, item columns an Item.
var Serializers = map[string][]Column{
	EntityWatch: {
		{Name: "id", Value: func(v any) any { return v.(WatchView).ID }},
		{Name: "keywords", Value: func(v any) any { return v.(WatchView).Keywords }},
		{Name: "enabled", Value: func(v any) any { return v.(WatchView).Enabled }},
		{Name: "estimate", Value: func(v any) any { return optional(v.(WatchView).Estimate()) }},
	},
	EntityItem: {
		{Name: "id", Value: func(v any) any { return v.(Item).ID }},
		{Name: "ebayID", Value: func(v any) any { return v.(Item).EbayID }},
		{Name: "date", Value: func(v any) any {
			t, ok := v.(Item).EndTime()
			if !ok {
				return nil
			}
			return t.UTC().Format(time.RFC3339)
		}},
		{Name: "price", Value: func(v any) any { return optional(v.(Item).Price()) }},
		{Name: "url", Value: func(v any) any { return v.(Item).URL() }},
	},
}

func optional(f float64, ok bool) any {
	if !ok {
		return nil
	}
	return f
}

// Serialize projects v through the named entity's serializer.
func Serialize(entity string, v any) (Record, error) {
	cols, ok := Serializers[entity]
	if !ok {
		return nil, fmt.Errorf("no serializer for %q", entity)
	}
	rec := make(Record, 0, len(cols))
	for _, c := range cols {
		rec = append(rec, Field{Name: c.Name, Value: c.Value(v)})
	}
	return rec, nil
}

// SerializeWatch is Serialize for a watch view.
func SerializeWatch(v WatchView) Record {
	rec, _ := Serialize(EntityWatch, v)
	return rec
}

// SerializeItem is Serialize for an item.
func SerializeItem(i Item) Record {
	rec, _ := Serialize(EntityItem, i)
	return rec
}
