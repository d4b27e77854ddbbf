package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyleking/sql-assist/internal/schema"
)

// TableOption is a functional option for configuring test tables
type TableOption func(*schema.Table)

// WithColumn appends a plain column
func WithColumn(name, typ, description string) TableOption {
	return func(t *schema.Table) {
		t.Columns = append(t.Columns, schema.Column{Name: name, Type: typ, Description: description})
	}
}

// WithPrimaryKey appends a primary-key column
func WithPrimaryKey(name, typ string) TableOption {
	return func(t *schema.Table) {
		t.Columns = append(t.Columns, schema.Column{Name: name, Type: typ, Key: "Primary Key", Description: "Unique identifier"})
	}
}

// WithForeignKey appends a column referencing ref ("table.column")
func WithForeignKey(name, typ, ref string) TableOption {
	return func(t *schema.Table) {
		t.Columns = append(t.Columns, schema.Column{
			Name:        name,
			Type:        typ,
			Key:         "Foreign Key? " + ref,
			Description: "References " + ref,
		})
	}
}

// NewTable creates a table with the given options applied
func NewTable(name string, opts ...TableOption) schema.Table {
	t := schema.Table{Name: name}
	for _, opt := range opts {
		opt(&t)
	}

	return t
}

// NewModel builds a schema model and fails the test on error
func NewModel(t *testing.T, tables ...schema.Table) *schema.Model {
	t.Helper()

	m, err := schema.NewModel(tables)
	require.NoError(t, err)

	return m
}

// ScenarioModel returns Customers(customer_id, name) and Orders(order_id, customer_id)
func ScenarioModel(t *testing.T) *schema.Model {
	t.Helper()

	return NewModel(t,
		NewTable("Customers",
			WithPrimaryKey("customer_id", "INTEGER"),
			WithColumn("name", "TEXT", "Customer full name")),
		NewTable("Orders",
			WithPrimaryKey("order_id", "INTEGER"),
			WithForeignKey("customer_id", "INTEGER", "Customers.customer_id")),
	)
}

// ShopModel loads ShopSchemaCSV
func ShopModel(t *testing.T) *schema.Model {
	t.Helper()

	m, err := schema.Load(strings.NewReader(ShopSchemaCSV), schema.FormatCSV)
	require.NoError(t, err)

	return m
}

// Relationships derives relationships and fails the test on error
func Relationships(t *testing.T, m *schema.Model) []schema.Relationship {
	t.Helper()

	rels, err := m.Relationships()
	require.NoError(t, err)

	return rels
}
