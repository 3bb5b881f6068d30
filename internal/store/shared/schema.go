package shared

import "fmt"

// ColumnType is the logical type of a column; backends map it to storage types.
type ColumnType int

const (
	TypeInteger ColumnType = iota
	TypeText
	TypeBool
	TypeTime
	TypeJSON
)

// Column declares one stored column.
type Column struct {
	Name       string
	Type       ColumnType
	NotNull    bool
	Unique     bool
	Default    any
	References string // "table(column)"
}

// Link declares a to-many relation stored in a join table. Self is the join
// column pointing back at the owning table, Other the join column pointing at
// the related table.
type Link struct {
	Through string
	Self    string
	Other   string
}

// Table declares an entity type. A table with a single-column primary key
// named in AutoID gets surrogate keys assigned on insert.
type Table struct {
	Name       string
	AutoID     string
	PrimaryKey []string
	Columns    []Column
	ToMany     map[string]Link
}

// Identifying lists the primary key and unique columns, the columns an
// upsert may use to locate an existing row.
func (t *Table) Identifying() []string {
	cols := append([]string(nil), t.PrimaryKey...)
	for _, c := range t.Columns {
		if c.Unique {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// Column looks up a declared column.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Unique returns the names of columns carrying a single-column unique constraint.
func (t *Table) Unique() []string {
	var cols []string
	for _, c := range t.Columns {
		if c.Unique {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// Schema is the full set of tables handed to a store at initialization.
type Schema struct {
	Tables []*Table
}

// Table returns the named table.
func (s *Schema) Table(name string) (*Table, error) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unknown table %q", name)
}

// Validate checks that links and references point at declared tables.
func (s *Schema) Validate() error {
	for _, t := range s.Tables {
		if len(t.PrimaryKey) == 0 {
			return fmt.Errorf("table %s: no primary key", t.Name)
		}
		if t.AutoID != "" && (len(t.PrimaryKey) != 1 || t.PrimaryKey[0] != t.AutoID) {
			return fmt.Errorf("table %s: auto id %q must be the sole primary key", t.Name, t.AutoID)
		}
		for attr, link := range t.ToMany {
			through, err := s.Table(link.Through)
			if err != nil {
				return fmt.Errorf("table %s relation %s: %w", t.Name, attr, err)
			}
			if _, ok := through.Column(link.Self); !ok {
				return fmt.Errorf("table %s relation %s: %s has no column %s", t.Name, attr, through.Name, link.Self)
			}
			if _, ok := through.Column(link.Other); !ok {
				return fmt.Errorf("table %s relation %s: %s has no column %s", t.Name, attr, through.Name, link.Other)
			}
		}
	}
	return nil
}
