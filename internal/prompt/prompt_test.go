package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sql-assist/internal/schema"
)

func scenarioModel(t *testing.T) *schema.Model {
	t.Helper()

	m, err := schema.NewModel([]schema.Table{
		{Name: "Customers", Columns: []schema.Column{
			{Name: "customer_id", Type: "INTEGER", Key: "Primary Key", Description: "Unique customer identifier"},
			{Name: "name", Type: "TEXT", Description: "Customer full name"},
		}},
		{Name: "Orders", Columns: []schema.Column{
			{Name: "order_id", Type: "INTEGER", Key: "Primary Key"},
			{Name: "customer_id", Type: "INTEGER", Key: "Foreign Key? Customers.customer_id"},
		}},
	})
	require.NoError(t, err)

	return m
}

func TestBuildRetrievedMode(t *testing.T) {
	ctx := RetrievedContext(
		[]string{
			"Table: Orders, Column: customer_id, Type: INTEGER, Desc: Buyer",
			"Table: Customers, Column: name, Type: TEXT, Desc: Customer full name",
		},
		[]string{"Orders", "Customers"},
	)

	req := NewSynthesizer().Build("  How many orders has each customer placed?  ", ctx, nil)

	assert.Equal(t, RoleInstruction, req.RoleInstruction)
	assert.Equal(t, "How many orders has each customer placed?", req.Question)
	assert.Equal(t, DefaultExamples, req.Examples)
	assert.Equal(t, []string{"Orders", "Customers"}, req.AllowedTables())

	user := req.UserPrompt()
	assert.Contains(t, user, "Table: Orders, Column: customer_id, Type: INTEGER, Desc: Buyer\nTable: Customers")
	assert.Contains(t, user, "Allowed tables: Orders, Customers")
	assert.Contains(t, user, "Question: How many orders has each customer placed?")
	assert.Contains(t, user, `"query_description"`)
	assert.Contains(t, user, "must reference only tables listed in the schema")
	assert.Contains(t, user, `Output: {"query_description":"Counts all rows in the Customers table.","sql":"SELECT COUNT(*) FROM Customers;"}`)
	assert.NotContains(t, user, RoleInstruction)
}

func TestBuildFullMode(t *testing.T) {
	m := scenarioModel(t)
	rels, err := m.Relationships()
	require.NoError(t, err)

	req := NewSynthesizer().Build("count customers", FullContext(m, rels), nil)

	text := req.Context.Text()
	assert.Equal(t, ModeFull, req.Context.Mode)
	assert.Contains(t, text, "Table: Customers\n  - customer_id (INTEGER) [Primary Key]: Unique customer identifier")
	assert.Contains(t, text, "  - name (TEXT): Customer full name")
	assert.Contains(t, text, "Relationships:\n  - Orders.customer_id -> Customers.customer_id")
	assert.Equal(t, []string{"Customers", "Orders"}, req.AllowedTables())
}

func TestBuildCustomExamples(t *testing.T) {
	examples := []Example{{Question: "q", Description: "d", SQL: "SELECT 1;"}}

	req := NewSynthesizer().Build("x", RetrievedContext(nil, nil), examples)
	require.Len(t, req.Examples, 1)

	examples[0].SQL = "mutated"
	assert.Equal(t, "SELECT 1;", req.Examples[0].SQL)

	assert.NotContains(t, req.UserPrompt(), "Allowed tables")
}

func TestBuildIsPure(t *testing.T) {
	m := scenarioModel(t)
	ctx := FullContext(m, nil)
	s := NewSynthesizer()

	first := s.Build("same question", ctx, nil).UserPrompt()
	second := s.Build("same question", ctx, nil).UserPrompt()

	assert.Equal(t, first, second)
	assert.Equal(t, 2, strings.Count(first, "Example "))
}

func TestDefaultExamplesUseQualifiedJoins(t *testing.T) {
	assert.Contains(t, DefaultExamples[1].SQL, "Orders.order_id = Order_Items.order_id")
	assert.Contains(t, DefaultExamples[1].SQL, "Products.product_id = Order_Items.product_id")
}
