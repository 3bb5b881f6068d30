package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"gorm.io/datatypes"
)

// Payload is a raw JSON document stored as opaque text. The decoded form is
// computed on first use and cached for the lifetime of the value.
type Payload struct {
	raw datatypes.JSON

	once sync.Once
	doc  map[string]any
	err  error
}

// NewPayload wraps raw JSON text.
func NewPayload(raw []byte) *Payload {
	return &Payload{raw: datatypes.JSON(raw)}
}

// EncodePayload serializes a document. Map keys are written sorted, so equal
// documents produce identical text.
func EncodePayload(doc map[string]any) (*Payload, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	p := NewPayload(raw)
	p.once.Do(func() { p.doc = doc })
	return p, nil
}

// Raw returns the stored text.
func (p *Payload) Raw() datatypes.JSON {
	if p == nil {
		return nil
	}
	return p.raw
}

// Document decodes the payload, once.
func (p *Payload) Document() (map[string]any, error) {
	if p == nil || len(p.raw) == 0 {
		return map[string]any{}, nil
	}
	p.once.Do(func() {
		p.err = json.Unmarshal(p.raw, &p.doc)
		if p.err != nil {
			p.err = fmt.Errorf("failed to decode payload: %w", p.err)
		}
	})
	return p.doc, p.err
}

// Lookup walks nested objects along keys.
func Lookup(doc map[string]any, keys ...string) (any, bool) {
	var cur any = doc
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// LookupString is Lookup for string leaves.
func LookupString(doc map[string]any, keys ...string) string {
	v, _ := Lookup(doc, keys...)
	s, _ := v.(string)
	return s
}

// LookupFloat is Lookup for numeric leaves. The search API sends numbers as
// strings.
func LookupFloat(doc map[string]any, keys ...string) (float64, bool) {
	v, ok := Lookup(doc, keys...)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
