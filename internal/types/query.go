package types

// GeneratedQuery is the parsed reply of the generation service
type GeneratedQuery struct {
	Description string `json:"query_description"`
	SQL         string `json:"sql"`
}

// ResultSet holds the rows returned by an executed query
type ResultSet struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"` // row cap reached before the cursor was drained
}

// RowCount returns the number of materialized rows
func (r *ResultSet) RowCount() int {
	if r == nil {
		return 0
	}

	return len(r.Rows)
}
