package database

import (
	"context"
	"fmt"
	"strings"
)

// Field is one logical column and the physical names it may be stored under,
// in order of preference.
type Field struct {
	Name    string
	Aliases []string
}

// ColumnProber reads the live column set of a table so queries can adapt to
// deployments whose tables predate the current schema.
type ColumnProber struct {
	db DBTX
}

// NewColumnProber creates a prober over the given connection.
func NewColumnProber(db DBTX) *ColumnProber {
	return &ColumnProber{db: db}
}

// Columns returns the set of column names of table in the current schema.
// ErrTableMissing is returned when the table has no columns at all.
func (p *ColumnProber) Columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to probe columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to probe columns of %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableMissing, table)
	}
	return cols, nil
}

// SelectList picks, for every field, the first alias present in available and
// emits it as "alias AS name". Fields with no present alias are skipped. When
// no field resolves at all the list is "*".
func SelectList(available map[string]bool, fields []Field) string {
	var parts []string
	for _, f := range fields {
		for _, alias := range f.Aliases {
			if !available[alias] {
				continue
			}
			if alias == f.Name {
				parts = append(parts, alias)
			} else {
				parts = append(parts, alias+" AS "+f.Name)
			}
			break
		}
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, ", ")
}
