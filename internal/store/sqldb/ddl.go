package sqldb

import (
	"fmt"
	"strings"

	"github.com/eppraise/eppraise/internal/store/shared"
)

const (
	dialectSqlite   = "sqlite"
	dialectPostgres = "postgres"
)

// createTable renders CREATE TABLE IF NOT EXISTS for a declared table.
func createTable(dialect string, t *shared.Table, quote func(string) string) (string, error) {
	var defs []string
	for _, c := range t.Columns {
		def, err := columnDef(dialect, t, c, quote)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	if t.AutoID == "" {
		pk := make([]string, len(t.PrimaryKey))
		for i, col := range t.PrimaryKey {
			pk[i] = quote(col)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(t.Name), strings.Join(defs, ",\n\t")), nil
}

func columnDef(dialect string, t *shared.Table, c shared.Column, quote func(string) string) (string, error) {
	if c.Name == t.AutoID {
		if dialect == dialectPostgres {
			return quote(c.Name) + " BIGSERIAL PRIMARY KEY", nil
		}
		return quote(c.Name) + " INTEGER PRIMARY KEY AUTOINCREMENT", nil
	}

	typ, err := sqlType(dialect, c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", c.Name, err)
	}
	parts := []string{quote(c.Name), typ}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if c.Unique {
		parts = append(parts, "UNIQUE")
	}
	if c.Default != nil {
		lit, err := literal(c.Default)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", c.Name, err)
		}
		parts = append(parts, "DEFAULT "+lit)
	}
	if c.References != "" {
		table, col, ok := strings.Cut(strings.TrimSuffix(c.References, ")"), "(")
		if !ok {
			return "", fmt.Errorf("column %s: malformed reference %q", c.Name, c.References)
		}
		parts = append(parts, fmt.Sprintf("REFERENCES %s(%s)", quote(table), quote(col)))
	}
	return strings.Join(parts, " "), nil
}

func sqlType(dialect string, t shared.ColumnType) (string, error) {
	switch t {
	case shared.TypeInteger:
		return "BIGINT", nil
	case shared.TypeText, shared.TypeJSON:
		return "TEXT", nil
	case shared.TypeBool:
		return "BOOLEAN", nil
	case shared.TypeTime:
		if dialect == dialectPostgres {
			return "TIMESTAMPTZ", nil
		}
		return "DATETIME", nil
	}
	return "", fmt.Errorf("unsupported column type %d", t)
}

func literal(v any) (string, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'", nil
	}
	if n, ok := shared.Int64(v); ok {
		return fmt.Sprint(n), nil
	}
	return "", fmt.Errorf("unsupported default %v (%T)", v, v)
}
