// Package prompt assembles the grounded generation request sent to the
// text-generation service. Everything here is pure construction.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kyleking/sql-assist/internal/schema"
)

// RoleInstruction is the fixed system role
const RoleInstruction = "You are an expert in SQL generation."

// Mode selects how the schema is presented
type Mode string

const (
	// ModeRetrieved presents only the descriptors the retriever ranked highest
	ModeRetrieved Mode = "retrieved"
	// ModeFull presents every declared table, column and relationship
	ModeFull Mode = "full"
)

// Example is one worked question with its expected structured answer
type Example struct {
	Question    string
	Description string
	SQL         string
}

// DefaultExamples demonstrate a single-table count and a two-join aggregate
var DefaultExamples = []Example{
	{
		Question:    "How many entries of records are present in Customers table?",
		Description: "Counts all rows in the Customers table.",
		SQL:         "SELECT COUNT(*) FROM Customers;",
	},
	{
		Question:    "Tell me how many orders are placed for each product?",
		Description: "Counts orders per product by joining orders to their line items and products.",
		SQL: "SELECT Products.product_name, COUNT(*) AS order_count FROM Orders " +
			"JOIN Order_Items ON Orders.order_id = Order_Items.order_id " +
			"JOIN Products ON Products.product_id = Order_Items.product_id " +
			"GROUP BY Products.product_name;",
	},
}

// Context is the schema material the generated SQL must stay within
type Context struct {
	Mode          Mode
	Descriptors   []string
	Tables        []schema.Table
	Relationships []schema.Relationship
	tableNames    []string
}

// RetrievedContext wraps ranked descriptors and the tables they belong to
func RetrievedContext(descriptors, tables []string) Context {
	return Context{
		Mode:        ModeRetrieved,
		Descriptors: append([]string(nil), descriptors...),
		tableNames:  append([]string(nil), tables...),
	}
}

// FullContext presents the whole declared schema and its relationships
func FullContext(model *schema.Model, rels []schema.Relationship) Context {
	return Context{
		Mode:          ModeFull,
		Tables:        model.Tables(),
		Relationships: append([]schema.Relationship(nil), rels...),
		tableNames:    model.TableNames(),
	}
}

// TableNames returns the tables the generated SQL may reference
func (c Context) TableNames() []string {
	return append([]string(nil), c.tableNames...)
}

// Text renders the context for the prompt
func (c Context) Text() string {
	var sb strings.Builder

	switch c.Mode {
	case ModeFull:
		for _, t := range c.Tables {
			fmt.Fprintf(&sb, "Table: %s\n", t.Name)
			for _, col := range t.Columns {
				fmt.Fprintf(&sb, "  - %s (%s)", col.Name, col.Type)
				if col.Key != "" {
					fmt.Fprintf(&sb, " [%s]", col.Key)
				}

				if col.Description != "" {
					fmt.Fprintf(&sb, ": %s", col.Description)
				}

				sb.WriteString("\n")
			}
		}

		if len(c.Relationships) > 0 {
			sb.WriteString("Relationships:\n")
			for _, r := range c.Relationships {
				fmt.Fprintf(&sb, "  - %s\n", r)
			}
		}
	default:
		for _, d := range c.Descriptors {
			sb.WriteString(d)
			sb.WriteString("\n")
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

// Request is a complete generation request
type Request struct {
	RoleInstruction string
	Examples        []Example
	Context         Context
	Question        string
	OutputContract  string
}

// AllowedTables returns the tables present in the request's context
func (r Request) AllowedTables() []string {
	return r.Context.TableNames()
}

// UserPrompt renders everything except the role instruction
func (r Request) UserPrompt() string {
	var sb strings.Builder

	sb.WriteString("Convert the question into a single SQL query.\n\n")

	for i, ex := range r.Examples {
		answer, _ := json.Marshal(map[string]string{
			"query_description": ex.Description,
			"sql":               ex.SQL,
		})
		fmt.Fprintf(&sb, "Example %d\nQuestion: %s\nOutput: %s\n\n", i+1, ex.Question, answer)
	}

	sb.WriteString("Schema:\n")
	sb.WriteString(r.Context.Text())
	sb.WriteString("\n\n")

	if tables := r.AllowedTables(); len(tables) > 0 {
		fmt.Fprintf(&sb, "Allowed tables: %s\n\n", strings.Join(tables, ", "))
	}

	fmt.Fprintf(&sb, "Question: %s\n\n", r.Question)
	sb.WriteString(r.OutputContract)

	return sb.String()
}

// OutputContract states the required reply shape
const OutputContract = `Respond with a single JSON object and nothing else, with exactly these fields:
- "query_description": one sentence describing what the query returns
- "sql": the SQL query
The "sql" value must reference only tables listed in the schema above. Do not invent tables or columns.
Qualify every column in a join condition as table.column.`

// Synthesizer builds requests
type Synthesizer struct {
	role     string
	contract string
}

// NewSynthesizer returns a synthesizer using the fixed role and output contract
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{role: RoleInstruction, contract: OutputContract}
}

// Build assembles a request. With no examples the defaults are used.
func (s *Synthesizer) Build(question string, ctx Context, examples []Example) Request {
	if len(examples) == 0 {
		examples = DefaultExamples
	}

	return Request{
		RoleInstruction: s.role,
		Examples:        append([]Example(nil), examples...),
		Context:         ctx,
		Question:        strings.TrimSpace(question),
		OutputContract:  s.contract,
	}
}
