package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/schema"
	"github.com/kyleking/sql-assist/internal/testutil"
)

var ordersToCustomers = schema.Relationship{
	Table: "Orders", Column: "customer_id", RefTable: "Customers", RefColumn: "customer_id",
}

func TestRelationships(t *testing.T) {
	rels := []schema.Relationship{ordersToCustomers}

	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{name: "scenario join", sql: testutil.ScenarioSQL, want: true},
		{
			name: "reversed operands",
			sql:  "SELECT * FROM Customers JOIN Orders ON Customers.customer_id = Orders.customer_id",
			want: true,
		},
		{name: "only one side", sql: "SELECT Orders.customer_id FROM Orders", want: false},
		{name: "joinless", sql: "SELECT COUNT(*) FROM Customers", want: false},
		{
			name: "invented join",
			sql:  "SELECT * FROM Orders JOIN Customers ON Orders.order_id = Customers.customer_id",
			want: false,
		},
		{
			name: "case differs",
			sql:  "SELECT * FROM orders JOIN customers ON orders.customer_id = customers.customer_id",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Relationships(tt.sql, rels))
		})
	}

	assert.False(t, Relationships(testutil.ScenarioSQL, nil))
}

func TestMatchingRelationshipsAnyOfSeveral(t *testing.T) {
	m := testutil.ShopModel(t)
	rels := testutil.Relationships(t, m)
	require.Len(t, rels, 3)

	sql := "SELECT Products.product_name FROM Order_Items JOIN Products ON Order_Items.product_id = Products.product_id"
	matched := MatchingRelationships(sql, rels)

	require.Len(t, matched, 1)
	assert.Equal(t, "Order_Items.product_id -> Products.product_id", matched[0].String())
	assert.True(t, Relationships(sql, rels))
}

func TestReferencedTables(t *testing.T) {
	tables := []string{"Customers", "Orders", "Order_Items", "Products"}

	assert.Equal(t, []string{"Customers", "Orders"}, ReferencedTables(testutil.ScenarioSQL, tables))
	assert.Equal(t, []string{"Customers"}, ReferencedTables("select count(*) from customers", tables))
	assert.Equal(t, []string{"Order_Items"}, ReferencedTables("SELECT * FROM Order_Items", tables))
	assert.Empty(t, ReferencedTables("SELECT 1", tables))
}

func TestTableRefs(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{name: "scenario join", sql: testutil.ScenarioSQL, want: []string{"Customers", "Orders"}},
		{name: "no tables", sql: "SELECT 1"},
		{
			name: "invented table",
			sql:  "SELECT c.name FROM Customers c JOIN Invoices i ON c.customer_id = i.cust",
			want: []string{"Customers", "Invoices"},
		},
		{name: "comma list", sql: "SELECT * FROM Customers AS c, Orders o WHERE c.customer_id = o.customer_id", want: []string{"Customers", "Orders"}},
		{name: "repeated case-insensitively", sql: "SELECT * FROM Orders a JOIN orders b ON a.order_id = b.order_id", want: []string{"Orders"}},
		{name: "schema qualified", sql: `SELECT * FROM main.Orders JOIN "main"."Order Items" ON 1 = 1`, want: []string{"Orders", "Order Items"}},
		{name: "subquery", sql: "SELECT * FROM (SELECT * FROM Orders) o, Customers", want: []string{"Orders", "Customers"}},
		{name: "cte names skipped", sql: "WITH recent AS (SELECT * FROM Orders) SELECT COUNT(*) FROM recent", want: []string{"Orders"}},
		{name: "extract argument", sql: "SELECT EXTRACT(YEAR FROM Orders.order_date) FROM Orders", want: []string{"Orders"}},
		{name: "is distinct from", sql: "SELECT * FROM Orders WHERE a IS DISTINCT FROM b", want: []string{"Orders"}},
		{name: "table function", sql: "SELECT * FROM read_csv('orders.csv')"},
		{name: "keyword in literal", sql: "SELECT 'from Invoices' FROM Orders", want: []string{"Orders"}},
		{name: "commented out join", sql: "SELECT * FROM Orders -- JOIN Invoices\n", want: []string{"Orders"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TableRefs(tt.sql))
		})
	}
}

func TestCheckStatement(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr string
	}{
		{name: "select", sql: "SELECT COUNT(*) FROM Customers;"},
		{name: "lowercase with trailing space", sql: "  select 1 ;  "},
		{name: "cte", sql: "WITH c AS (SELECT * FROM Orders) SELECT COUNT(*) FROM c"},
		{name: "parenthesised", sql: "(SELECT 1) UNION (SELECT 2)"},
		{name: "keyword inside literal", sql: "SELECT * FROM Orders WHERE status = 'delete; pending'"},
		{name: "column named like keyword", sql: "SELECT last_update FROM Orders"},
		{name: "comment", sql: "-- orders per customer\nSELECT 1"},
		{name: "empty", sql: " ; ", wantErr: "cannot be empty"},
		{name: "insert", sql: "INSERT INTO Orders VALUES (1, 1)", wantErr: "only SELECT"},
		{name: "stacked", sql: "SELECT 1; DROP TABLE Orders", wantErr: "single statement"},
		{name: "dashes inside literal", sql: "SELECT '--' AS x; DROP TABLE Orders;", wantErr: "single statement"},
		{name: "comment opener inside literal", sql: "SELECT '/*' AS x; DROP TABLE Orders; SELECT '*/'", wantErr: "single statement"},
		{name: "escaped quote then stacked", sql: "SELECT 'it''s --' AS x; DELETE FROM Orders", wantErr: "single statement"},
		{name: "dashes inside quoted identifier", sql: `SELECT 1 AS "--"; DROP TABLE Orders`, wantErr: "single statement"},
		{name: "quote inside comment", sql: "SELECT 1 -- don't\nFROM Orders"},
		{name: "modifying cte", sql: "WITH d AS (DELETE FROM Orders RETURNING *) SELECT * FROM d", wantErr: "DELETE"},
		{name: "attach", sql: "ATTACH 'x.db'", wantErr: "only SELECT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckStatement(tt.sql)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("ENFORCE")
	require.NoError(t, err)
	assert.Equal(t, PolicyEnforce, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyMultiTable, p)

	_, err = ParsePolicy("strict")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestValidatorPolicies(t *testing.T) {
	model := testutil.ScenarioModel(t)
	rels := testutil.Relationships(t, model)

	const (
		joinless = "SELECT COUNT(*) FROM Customers;"
		badJoin  = "SELECT * FROM Orders JOIN Customers ON Orders.order_id = Customers.customer_id"
		// one declared table joined to one the schema never mentions
		inventedTable = "SELECT c.name, SUM(i.amount) FROM Customers c JOIN Invoices i ON c.customer_id = i.cust GROUP BY c.name"
		// a join that only appears in a comment
		commentedJoin = testutil.ScenarioSQL + " LIMIT 5 -- JOIN ignored\n"
		joinedExtra   = "SELECT * FROM Orders JOIN Customers ON Orders.customer_id = Customers.customer_id JOIN Invoices ON Invoices.order_id = Orders.order_id"
	)

	tests := []struct {
		policy   Policy
		sql      string
		accepted bool
		outcome  string
	}{
		{PolicyEnforce, testutil.ScenarioSQL, true, "accepted"},
		{PolicyEnforce, joinless, false, "rejected"},
		{PolicyEnforce, badJoin, false, "rejected"},
		{PolicyMultiTable, testutil.ScenarioSQL, true, "accepted"},
		{PolicyMultiTable, joinless, true, "advisory"},
		{PolicyMultiTable, badJoin, false, "rejected"},
		{PolicyMultiTable, inventedTable, false, "rejected"},
		{PolicyMultiTable, commentedJoin, true, "accepted"},
		{PolicyMultiTable, joinedExtra, false, "rejected"},
		{PolicyEnforce, inventedTable, false, "rejected"},
		{PolicyAdvisory, inventedTable, true, "advisory"},
		{PolicyAdvisory, joinedExtra, true, "advisory"},
		{PolicyAdvisory, joinless, true, "advisory"},
		{PolicyAdvisory, badJoin, true, "advisory"},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy)+"/"+tt.outcome, func(t *testing.T) {
			v := New(tt.policy, true).Check(tt.sql, rels, model)

			assert.Equal(t, tt.accepted, v.Accepted, v.Reason)
			assert.Equal(t, tt.outcome, v.Outcome())
			assert.NotEmpty(t, v.Reason)
		})
	}
}

func TestValidatorScenarioVerdict(t *testing.T) {
	model := testutil.ScenarioModel(t)

	v := New(PolicyMultiTable, true).Check(testutil.ScenarioSQL, testutil.Relationships(t, model), model)

	assert.True(t, v.Accepted)
	assert.True(t, v.RelationshipsOK)
	assert.True(t, v.Enforced)
	assert.Equal(t, []string{"Customers", "Orders"}, v.Tables)
	require.Len(t, v.Matched, 1)
	assert.Equal(t, ordersToCustomers, v.Matched[0])
}

func TestValidatorInventedTableVerdict(t *testing.T) {
	model := testutil.ScenarioModel(t)
	sql := "SELECT c.name, SUM(i.amount) FROM Customers c JOIN Invoices i ON c.customer_id = i.cust GROUP BY c.name"

	v := New(PolicyMultiTable, true).Check(sql, testutil.Relationships(t, model), model)

	assert.False(t, v.Accepted)
	assert.True(t, v.Enforced)
	assert.Equal(t, []string{"Customers"}, v.Tables)
	assert.Equal(t, []string{"Invoices"}, v.Undeclared)
	assert.Contains(t, v.Reason, "undeclared table Invoices")
}

func TestValidatorStackedStatementBehindLiteral(t *testing.T) {
	model := testutil.ScenarioModel(t)

	v := New(PolicyAdvisory, true).Check("SELECT '--' AS x; DROP TABLE Orders;", nil, model)

	assert.False(t, v.Accepted)
	assert.Contains(t, v.Reason, "single statement")
}

func TestValidatorReadOnly(t *testing.T) {
	model := testutil.ScenarioModel(t)
	rels := testutil.Relationships(t, model)
	sql := "DELETE FROM Orders WHERE Orders.customer_id IN (SELECT Customers.customer_id FROM Customers)"

	v := New(PolicyAdvisory, true).Check(sql, rels, model)
	assert.False(t, v.Accepted)
	assert.Contains(t, v.Reason, "only SELECT")

	v = New(PolicyAdvisory, false).Check(sql, rels, model)
	assert.True(t, v.Accepted)
}
