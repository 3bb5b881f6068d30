package ebay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eppraise/eppraise/internal/model"
)

// Result is one completed-items search response, already flattened.
type Result struct {
	doc map[string]any
}

// NewResult wraps a flattened response document.
func NewResult(doc map[string]any) Result {
	if doc == nil {
		doc = map[string]any{}
	}
	return Result{doc: doc}
}

// Document returns the response document as stored in a query payload.
func (r Result) Document() map[string]any {
	return r.doc
}

// Listings returns searchResult.item, empty when the search found nothing.
func (r Result) Listings() []map[string]any {
	return model.ListingsOf(r.doc)
}

// Ack is the API acknowledgement value ("Success", "Warning", "Failure").
func (r Result) Ack() string {
	return model.LookupString(r.doc, "ack")
}

// APIError reports a response whose ack was not a success.
type APIError struct {
	Ack     string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ebay api ack %s", e.Ack)
	}
	return fmt.Sprintf("ebay api ack %s: %s", e.Ack, e.Message)
}

func (r Result) check() error {
	switch r.Ack() {
	case "Success", "Warning":
		return nil
	}
	msg, _ := model.Lookup(r.doc, "errorMessage", "error", "message")
	s, _ := msg.(string)
	return &APIError{Ack: r.Ack(), Message: s}
}

// parseResponse decodes a Finding API JSON body. The service wraps the
// response in an object keyed by the operation, with every value in a
// one-element array; the wrapper is removed and the arrays unwrapped.
func parseResponse(body []byte, operation string) (Result, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}
	inner, ok := raw[operation+"Response"]
	if !ok {
		return Result{}, fmt.Errorf("response has no %sResponse", operation)
	}
	doc, ok := flatten(inner, "").(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("unexpected %sResponse shape", operation)
	}
	return NewResult(doc), nil
}

// listKeys hold repeated elements and keep their array form even when the
// service returns a single entry.
var listKeys = map[string]bool{"item": true}

func flatten(v any, key string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			name := k
			switch {
			case k == "__value__":
				name = "value"
			case strings.HasPrefix(k, "@"):
				name = "_" + k[1:]
			}
			out[name] = flatten(child, name)
		}
		return out
	case []any:
		if len(t) == 1 && !listKeys[key] {
			return flatten(t[0], key)
		}
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = flatten(child, "")
		}
		return out
	}
	return v
}
