// Package schema holds the declared relational schema the query pipeline is
// grounded on, and the foreign-key relationships derived from it.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kyleking/sql-assist/internal/errors"
)

// ForeignKeyMarker flags a key annotation as a foreign-key reference
const ForeignKeyMarker = "foreign key"

var refPattern = regexp.MustCompile(`^\s*([A-Za-z_]\w*)\.([A-Za-z_]\w*)\s*$`)

// Column is one declared column; Key holds the raw annotation, e.g. "Foreign Key? Customers.customer_id"
type Column struct {
	Name        string `json:"name"        yaml:"name"`
	Type        string `json:"type"        yaml:"type"`
	Key         string `json:"key"         yaml:"key"`
	Description string `json:"description" yaml:"description"`
}

// IsForeignKey reports whether the key annotation carries the foreign-key marker
func (c Column) IsForeignKey() bool {
	return strings.Contains(strings.ToLower(c.Key), ForeignKeyMarker)
}

// Table is a named, ordered set of columns
type Table struct {
	Name    string   `json:"name"    yaml:"name"`
	Columns []Column `json:"columns" yaml:"columns"`
}

// Relationship is a foreign-key linkage from Table.Column to RefTable.RefColumn
type Relationship struct {
	Table     string `json:"table"`
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// Source returns the qualified referencing column, e.g. "Orders.customer_id"
func (r Relationship) Source() string {
	return r.Table + "." + r.Column
}

// Target returns the qualified referenced column, e.g. "Customers.customer_id"
func (r Relationship) Target() string {
	return r.RefTable + "." + r.RefColumn
}

func (r Relationship) String() string {
	return r.Source() + " -> " + r.Target()
}

// Model is the loaded schema. It is not modified after construction and is
// safe for concurrent readers.
type Model struct {
	tables map[string]*Table
	order  []string
}

// NewModel builds a model from tables in declaration order. Duplicate table
// names, and column names repeated within a table (ignoring case), are rejected.
func NewModel(tables []Table) (*Model, error) {
	m := &Model{tables: make(map[string]*Table, len(tables))}

	for i := range tables {
		t := tables[i]
		if t.Name == "" {
			return nil, errors.New(errors.ErrTypeSchemaLoad, "table with empty name")
		}

		if _, dup := m.tables[t.Name]; dup {
			return nil, errors.Newf(errors.ErrTypeSchemaLoad, "duplicate table %q", t.Name)
		}

		seen := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			key := strings.ToLower(c.Name)
			if seen[key] {
				return nil, errors.Newf(errors.ErrTypeSchemaLoad, "duplicate column %s.%s", t.Name, c.Name)
			}

			seen[key] = true
		}

		cols := make([]Column, len(t.Columns))
		copy(cols, t.Columns)
		m.tables[t.Name] = &Table{Name: t.Name, Columns: cols}
		m.order = append(m.order, t.Name)
	}

	return m, nil
}

// Tables returns copies of all tables in declaration order
func (m *Model) Tables() []Table {
	out := make([]Table, 0, len(m.order))
	for _, name := range m.order {
		t, _ := m.Table(name)
		out = append(out, t)
	}

	return out
}

// TableNames returns table names in declaration order
func (m *Model) TableNames() []string {
	return append([]string(nil), m.order...)
}

// Table returns a copy of the named table
func (m *Model) Table(name string) (Table, bool) {
	t, ok := m.tables[name]
	if !ok {
		return Table{}, false
	}

	return Table{Name: t.Name, Columns: append([]Column(nil), t.Columns...)}, true
}

// HasTable reports whether name is a declared table
func (m *Model) HasTable(name string) bool {
	_, ok := m.tables[name]
	return ok
}

// ColumnCount returns the total number of columns across all tables
func (m *Model) ColumnCount() int {
	n := 0
	for _, t := range m.tables {
		n += len(t.Columns)
	}

	return n
}

// Relationships derives one relationship per foreign-key marked column, in
// declaration order. A marked column whose reference is malformed fails the
// whole derivation rather than being skipped.
func (m *Model) Relationships() ([]Relationship, error) {
	var rels []Relationship

	for _, name := range m.order {
		for _, col := range m.tables[name].Columns {
			if !col.IsForeignKey() {
				continue
			}

			refTable, refColumn, err := parseReference(col.Key)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrTypeSchemaParse,
					"column %s.%s has a malformed foreign key reference", name, col.Name).
					WithSuggestion(`Write the key as "Foreign Key? <table>.<column>"`)
			}

			rels = append(rels, Relationship{
				Table:     name,
				Column:    col.Name,
				RefTable:  refTable,
				RefColumn: refColumn,
			})
		}
	}

	return rels, nil
}

// DanglingRelationships returns the relationships whose referenced table is
// not declared. They are kept by Relationships but can never validate.
func (m *Model) DanglingRelationships(rels []Relationship) []Relationship {
	var dangling []Relationship

	for _, r := range rels {
		if !m.HasTable(r.RefTable) {
			dangling = append(dangling, r)
		}
	}

	return dangling
}

// parseReference extracts "table.column" from the text after the last "?",
// or after the marker when there is no "?"
func parseReference(key string) (string, string, error) {
	expr := key
	if i := strings.LastIndex(key, "?"); i >= 0 {
		expr = key[i+1:]
	} else if i := strings.Index(strings.ToLower(key), ForeignKeyMarker); i >= 0 {
		expr = key[i+len(ForeignKeyMarker):]
		expr = strings.TrimLeft(expr, " :-=>")
	}

	match := refPattern.FindStringSubmatch(expr)
	if match == nil {
		return "", "", fmt.Errorf("reference %q does not match table.column", strings.TrimSpace(expr))
	}

	return match[1], match[2], nil
}
