package model

import "github.com/eppraise/eppraise/internal/store/shared"

const (
	// SoldState is the selling state of a listing that ended with a sale.
	SoldState = "EndedWithSales"
)

var (
	WatchTable = &shared.Table{
		Name:       "watch",
		AutoID:     "id",
		PrimaryKey: []string{"id"},
		Columns: []shared.Column{
			{Name: "id", Type: shared.TypeInteger},
			{Name: "keywords", Type: shared.TypeText, NotNull: true, Unique: true},
			{Name: "enabled", Type: shared.TypeBool, NotNull: true, Default: true},
		},
		ToMany: map[string]shared.Link{
			"items": {Through: "associate_watch_item", Self: "watch_id", Other: "item_id"},
		},
	}

	// QueryTable declares no unique columns: queries are an append-only audit
	// log, so upserting one always inserts.
	QueryTable = &shared.Table{
		Name:       "query",
		AutoID:     "id",
		PrimaryKey: []string{"id"},
		Columns: []shared.Column{
			{Name: "id", Type: shared.TypeInteger},
			{Name: "watch_id", Type: shared.TypeInteger, NotNull: true, References: "watch(id)"},
			{Name: "keywords", Type: shared.TypeText, NotNull: true},
			{Name: "retrieved", Type: shared.TypeTime, NotNull: true},
			{Name: "payload", Type: shared.TypeJSON},
		},
	}

	ItemTable = &shared.Table{
		Name:       "item",
		AutoID:     "id",
		PrimaryKey: []string{"id"},
		Columns: []shared.Column{
			{Name: "id", Type: shared.TypeInteger},
			{Name: "ebay_id", Type: shared.TypeText, NotNull: true, Unique: true},
			{Name: "payload", Type: shared.TypeJSON},
		},
		ToMany: map[string]shared.Link{
			"watches": {Through: "associate_watch_item", Self: "item_id", Other: "watch_id"},
		},
	}

	AssociationTable = &shared.Table{
		Name:       "associate_watch_item",
		PrimaryKey: []string{"watch_id", "item_id"},
		Columns: []shared.Column{
			{Name: "watch_id", Type: shared.TypeInteger, NotNull: true, References: "watch(id)"},
			{Name: "item_id", Type: shared.TypeInteger, NotNull: true, References: "item(id)"},
		},
	}

	// Schema lists tables in dependency order.
	Schema = &shared.Schema{
		Tables: []*shared.Table{WatchTable, QueryTable, ItemTable, AssociationTable},
	}
)
