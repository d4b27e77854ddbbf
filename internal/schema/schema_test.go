package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sql-assist/internal/errors"
)

const shopCSV = `Table Name,Column Name,Data Type,Key,Description
Customers,customer_id,INTEGER,Primary Key,Unique customer identifier
Customers,name,TEXT,,Customer full name
Orders,order_id,INTEGER,Primary Key,Unique order identifier
Orders,customer_id,INTEGER,Foreign Key? Customers.customer_id,Customer who placed the order
Order_Items,order_item_id,INTEGER,Primary Key,Line identifier
Order_Items,order_id,INTEGER,Foreign Key? Orders.order_id,Order the line belongs to
Order_Items,product_id,INTEGER,foreign key? Products.product_id,Product on the line
`

const shopJSON = `{
  "Orders": {"columns": [
    {"name": "order_id", "type": "INTEGER", "key": "Primary Key", "description": "Unique order identifier"},
    {"name": "customer_id", "type": "INTEGER", "key": "Foreign Key? Customers.customer_id", "description": "Buyer"}
  ]},
  "Customers": {"columns": [
    {"name": "customer_id", "type": "INTEGER", "key": null, "description": "Unique customer identifier"}
  ]}
}`

const shopYAML = `
Customers:
  columns:
    - name: customer_id
      type: INTEGER
      key: Primary Key
      description: Unique customer identifier
Orders:
  columns:
    - name: customer_id
      type: INTEGER
      key: "Foreign Key? Customers.customer_id"
      description: Buyer
`

func loadShop(t *testing.T) *Model {
	t.Helper()

	m, err := Load(strings.NewReader(shopCSV), FormatCSV)
	require.NoError(t, err)

	return m
}

func TestLoadCSV(t *testing.T) {
	m := loadShop(t)

	assert.Equal(t, []string{"Customers", "Orders", "Order_Items"}, m.TableNames())
	assert.Equal(t, 7, m.ColumnCount())

	orders, ok := m.Table("Orders")
	require.True(t, ok)
	require.Len(t, orders.Columns, 2)
	assert.Equal(t, Column{
		Name:        "customer_id",
		Type:        "INTEGER",
		Key:         "Foreign Key? Customers.customer_id",
		Description: "Customer who placed the order",
	}, orders.Columns[1])

	_, ok = m.Table("Products")
	assert.False(t, ok)
}

func TestTableReturnsCopy(t *testing.T) {
	m := loadShop(t)

	orders, _ := m.Table("Orders")
	orders.Columns[0].Name = "mutated"

	again, _ := m.Table("Orders")
	assert.Equal(t, "order_id", again.Columns[0].Name)
}

func TestLoadCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing key header", "Table Name,Column Name,Data Type,Description\nA,b,INT,x\n"},
		{"short row", "Table Name,Column Name,Data Type,Key,Description\nA,b,INT\n"},
		{"blank table", "Table Name,Column Name,Data Type,Key,Description\n,b,INT,,x\n"},
		{"header only", "Table Name,Column Name,Data Type,Key,Description\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.input), FormatCSV)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeSchemaLoad), "got %v", err)
		})
	}
}

func TestLoadCSVHeaderVariants(t *testing.T) {
	input := "\ufeffdescription, key ,DATA TYPE,column name,table name\nUnique id,,INTEGER,id,Things\n"

	m, err := Load(strings.NewReader(input), FormatCSV)
	require.NoError(t, err)

	things, ok := m.Table("Things")
	require.True(t, ok)
	assert.Equal(t, "Unique id", things.Columns[0].Description)
	assert.Equal(t, "INTEGER", things.Columns[0].Type)
}

func TestLoadJSONKeepsDocumentOrder(t *testing.T) {
	m, err := Load(strings.NewReader(shopJSON), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, []string{"Orders", "Customers"}, m.TableNames())

	customers, _ := m.Table("Customers")
	assert.Empty(t, customers.Columns[0].Key)
}

func TestLoadYAML(t *testing.T) {
	m, err := Load(strings.NewReader(shopYAML), FormatYAML)
	require.NoError(t, err)

	rels, err := m.Relationships()
	require.NoError(t, err)
	assert.Equal(t, []Relationship{{Table: "Orders", Column: "customer_id", RefTable: "Customers", RefColumn: "customer_id"}}, rels)
}

func TestLoadDocumentErrors(t *testing.T) {
	_, err := Load(strings.NewReader(`["not", "an", "object"]`), FormatJSON)
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaLoad))

	_, err = Load(strings.NewReader(`{"A": {"columns": [{"type": "INT"}]}}`), FormatJSON)
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaLoad))

	_, err = Load(strings.NewReader(`{"A": {"columns": [`), FormatJSON)
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaLoad))

	_, err = Load(strings.NewReader(shopJSON), Format("xml"))
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaLoad))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table_metadata.csv")
	require.NoError(t, os.WriteFile(path, []byte(shopCSV), 0600))

	m, err := LoadFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, 3, len(m.Tables()))

	_, err = LoadFile(filepath.Join(dir, "missing.csv"), "")
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaLoad))

	_, err = LoadFile(filepath.Join(dir, "schema.txt"), "")
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaLoad))
}

func TestDuplicateTableRejected(t *testing.T) {
	_, err := NewModel([]Table{{Name: "A"}, {Name: "A"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaLoad))
}

func TestDuplicateColumnRejected(t *testing.T) {
	_, err := NewModel([]Table{{Name: "Orders", Columns: []Column{{Name: "order_id"}, {Name: "Order_ID"}}}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaLoad))
	assert.Contains(t, err.Error(), "duplicate column Orders.Order_ID")

	csvSource := shopCSV + "Orders,customer_id,INTEGER,,Repeated row\n"
	_, err = Load(strings.NewReader(csvSource), FormatCSV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate column Orders.customer_id")

	yamlSource := shopYAML + `    - name: customer_id
      type: INTEGER
`
	_, err = Load(strings.NewReader(yamlSource), FormatYAML)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaLoad))

	_, err = NewModel([]Table{
		{Name: "Orders", Columns: []Column{{Name: "customer_id"}}},
		{Name: "Customers", Columns: []Column{{Name: "customer_id"}}},
	})
	assert.NoError(t, err, "the same column name in different tables is allowed")
}

func TestRelationshipsOnePerMarkedColumn(t *testing.T) {
	m := loadShop(t)

	rels, err := m.Relationships()
	require.NoError(t, err)

	assert.Equal(t, []Relationship{
		{Table: "Orders", Column: "customer_id", RefTable: "Customers", RefColumn: "customer_id"},
		{Table: "Order_Items", Column: "order_id", RefTable: "Orders", RefColumn: "order_id"},
		{Table: "Order_Items", Column: "product_id", RefTable: "Products", RefColumn: "product_id"},
	}, rels)

	assert.Equal(t, "Orders.customer_id", rels[0].Source())
	assert.Equal(t, "Customers.customer_id", rels[0].Target())
	assert.Equal(t, "Orders.customer_id -> Customers.customer_id", rels[0].String())
}

func TestDanglingRelationships(t *testing.T) {
	m := loadShop(t)

	rels, err := m.Relationships()
	require.NoError(t, err)

	dangling := m.DanglingRelationships(rels)
	require.Len(t, dangling, 1)
	assert.Equal(t, "Products", dangling[0].RefTable)
}

func TestRelationshipsMalformedReference(t *testing.T) {
	tests := []string{
		"Foreign Key? Customers",
		"Foreign Key? Customers.customer_id.extra",
		"Foreign Key?",
		"Foreign Key? 1table.id",
	}

	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			m, err := NewModel([]Table{{Name: "Orders", Columns: []Column{{Name: "customer_id", Key: key}}}})
			require.NoError(t, err)

			_, err = m.Relationships()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeSchemaParse))
			assert.Contains(t, err.Error(), "Orders.customer_id")
		})
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		key, table, column string
	}{
		{"Foreign Key? Customers.customer_id", "Customers", "customer_id"},
		{"Primary Key, Foreign Key ? Orders.order_id ", "Orders", "order_id"},
		{"FOREIGN KEY: Products.product_id", "Products", "product_id"},
		{"Foreign Key Products.product_id", "Products", "product_id"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			table, column, err := parseReference(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.table, table)
			assert.Equal(t, tt.column, column)
		})
	}
}

func TestIsForeignKey(t *testing.T) {
	assert.True(t, Column{Key: "Foreign Key? A.b"}.IsForeignKey())
	assert.True(t, Column{Key: "foreign KEY? A.b"}.IsForeignKey())
	assert.False(t, Column{Key: "Primary Key"}.IsForeignKey())
	assert.False(t, Column{}.IsForeignKey())
}
