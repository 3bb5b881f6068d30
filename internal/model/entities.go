// Package model defines the tracked entities, their table declarations and
// the explicit projections between entities and stored rows.
package model

import (
	"fmt"
	"time"

	"github.com/eppraise/eppraise/internal/store/shared"
)

// Watch is a saved keyword search.
type Watch struct {
	ID       int64
	Keywords string
	Enabled  bool
}

// Fields projects the watch onto its columns. A zero ID is left out so the
// store assigns one.
func (w Watch) Fields() shared.Fields {
	f := shared.Fields{
		"keywords": w.Keywords,
		"enabled":  w.Enabled,
	}
	if w.ID != 0 {
		f["id"] = w.ID
	}
	return f
}

// WatchFromFields reads a watch row.
func WatchFromFields(f shared.Fields) (Watch, error) {
	var w Watch
	var ok bool
	if w.ID, ok = shared.Int64(f["id"]); !ok {
		return w, shared.ColumnError(WatchTable.Name, "id", f["id"])
	}
	if w.Keywords, ok = shared.String(f["keywords"]); !ok {
		return w, shared.ColumnError(WatchTable.Name, "keywords", f["keywords"])
	}
	if w.Enabled, ok = shared.Bool(f["enabled"]); !ok {
		return w, shared.ColumnError(WatchTable.Name, "enabled", f["enabled"])
	}
	return w, nil
}

// Query records one search API invocation for a watch.
type Query struct {
	ID        int64
	WatchID   int64
	Keywords  string
	Retrieved time.Time
	Payload   *Payload
}

func (q Query) Fields() shared.Fields {
	f := shared.Fields{
		"watch_id":  q.WatchID,
		"keywords":  q.Keywords,
		"retrieved": q.Retrieved.UTC(),
		"payload":   q.Payload.Raw(),
	}
	if q.ID != 0 {
		f["id"] = q.ID
	}
	return f
}

func QueryFromFields(f shared.Fields) (Query, error) {
	var q Query
	var ok bool
	if q.ID, ok = shared.Int64(f["id"]); !ok {
		return q, shared.ColumnError(QueryTable.Name, "id", f["id"])
	}
	if q.WatchID, ok = shared.Int64(f["watch_id"]); !ok {
		return q, shared.ColumnError(QueryTable.Name, "watch_id", f["watch_id"])
	}
	if q.Keywords, ok = shared.String(f["keywords"]); !ok {
		return q, shared.ColumnError(QueryTable.Name, "keywords", f["keywords"])
	}
	if q.Retrieved, ok = shared.Time(f["retrieved"]); !ok {
		return q, shared.ColumnError(QueryTable.Name, "retrieved", f["retrieved"])
	}
	raw, _ := shared.Bytes(f["payload"])
	q.Payload = NewPayload(raw)
	return q, nil
}

// Listings returns the listing array of the query's search result. A result
// without listings yields an empty slice.
func (q Query) Listings() ([]map[string]any, error) {
	doc, err := q.Payload.Document()
	if err != nil {
		return nil, err
	}
	return ListingsOf(doc), nil
}

// ListingsOf extracts searchResult.item from a search result document.
func ListingsOf(doc map[string]any) []map[string]any {
	v, ok := Lookup(doc, "searchResult", "item")
	if !ok {
		return []map[string]any{}
	}
	var raw []any
	switch t := v.(type) {
	case []any:
		raw = t
	case map[string]any:
		raw = []any{t}
	}
	listings := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			listings = append(listings, m)
		}
	}
	return listings
}

// Item is a completed marketplace listing, unique by EbayID.
type Item struct {
	ID       int64
	EbayID   string
	Payload  *Payload
	WatchIDs []int64
}

// Fields projects the item onto its columns. WatchIDs travel under the
// "watches" relation attribute so an upsert extends the association.
func (i Item) Fields() shared.Fields {
	f := shared.Fields{
		"ebay_id": i.EbayID,
		"payload": i.Payload.Raw(),
	}
	if i.ID != 0 {
		f["id"] = i.ID
	}
	if i.WatchIDs != nil {
		f["watches"] = append([]int64(nil), i.WatchIDs...)
	}
	return f
}

func ItemFromFields(f shared.Fields) (Item, error) {
	var i Item
	var ok bool
	if i.ID, ok = shared.Int64(f["id"]); !ok {
		return i, shared.ColumnError(ItemTable.Name, "id", f["id"])
	}
	if i.EbayID, ok = shared.String(f["ebay_id"]); !ok {
		return i, shared.ColumnError(ItemTable.Name, "ebay_id", f["ebay_id"])
	}
	raw, _ := shared.Bytes(f["payload"])
	i.Payload = NewPayload(raw)
	if ids, ok := f["watches"].([]int64); ok {
		i.WatchIDs = ids
	}
	return i, nil
}

// ItemFromListing builds an item candidate for a listing seen by a watch.
func ItemFromListing(listing map[string]any, watchID int64) (Item, error) {
	id := LookupString(listing, "itemId")
	if id == "" {
		return Item{}, fmt.Errorf("listing has no itemId")
	}
	payload, err := EncodePayload(listing)
	if err != nil {
		return Item{}, err
	}
	return Item{EbayID: id, Payload: payload, WatchIDs: []int64{watchID}}, nil
}

func (i Item) document() map[string]any {
	doc, err := i.Payload.Document()
	if err != nil {
		return nil
	}
	return doc
}

// SellingState is sellingStatus.sellingState of the listing.
func (i Item) SellingState() string {
	return LookupString(i.document(), "sellingStatus", "sellingState")
}

// Sold reports whether the listing ended with a sale.
func (i Item) Sold() bool {
	return i.SellingState() == SoldState
}

// Price is sellingStatus.currentPrice.value of the listing.
func (i Item) Price() (float64, bool) {
	return LookupFloat(i.document(), "sellingStatus", "currentPrice", "value")
}

// URL is the listing's viewItemURL.
func (i Item) URL() string {
	return LookupString(i.document(), "viewItemURL")
}

// EndTime is listingInfo.endTime of the listing.
func (i Item) EndTime() (time.Time, bool) {
	s := LookupString(i.document(), "listingInfo", "endTime")
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, err == nil
}
