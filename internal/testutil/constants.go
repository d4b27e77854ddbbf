// Package testutil provides common constants and utilities for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second

	// TestDimensions is the vector length used by hash embedders in tests
	TestDimensions = 64
)

// ShopSchemaCSV is a small storefront schema in the tabular source format
const ShopSchemaCSV = `Table Name,Column Name,Data Type,Key,Description
Customers,customer_id,INTEGER,Primary Key,Unique customer identifier
Customers,name,TEXT,,Customer full name
Orders,order_id,INTEGER,Primary Key,Unique order identifier
Orders,customer_id,INTEGER,Foreign Key? Customers.customer_id,Customer who placed the order
Products,product_id,INTEGER,Primary Key,Unique product identifier
Products,product_name,TEXT,,Display name of the product
Order_Items,order_item_id,INTEGER,Primary Key,Line identifier
Order_Items,order_id,INTEGER,Foreign Key? Orders.order_id,Order the line belongs to
Order_Items,product_id,INTEGER,Foreign Key? Products.product_id,Product on the line
`

// ScenarioSeedSQL creates 3 customers and 5 orders split 2, 2 and 1
var ScenarioSeedSQL = []string{
	`CREATE TABLE Customers (customer_id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE Orders (order_id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES Customers(customer_id))`,
	`INSERT INTO Customers VALUES (1, 'Ada'), (2, 'Grace'), (3, 'Linus')`,
	`INSERT INTO Orders VALUES (10, 1), (11, 1), (12, 2), (13, 2), (14, 3)`,
}

// ScenarioQuestion and ScenarioSQL are the grouped-count query run against ScenarioSeedSQL
const (
	ScenarioQuestion = "How many orders has each customer placed?"
	ScenarioSQL      = `SELECT Customers.customer_id, Customers.name, COUNT(Orders.order_id) AS order_count
FROM Customers
JOIN Orders ON Orders.customer_id = Customers.customer_id
GROUP BY Customers.customer_id, Customers.name
ORDER BY Customers.customer_id`
)
