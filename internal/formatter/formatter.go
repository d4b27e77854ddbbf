package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kyleking/sql-assist/internal/pipeline"
	"github.com/kyleking/sql-assist/internal/types"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
)

// maxCellWidth bounds a table cell; longer values are cut with "..."
const maxCellWidth = 60

// ParseFormat converts a flag value to an OutputFormat
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatCSV:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (must be one of table, json, csv)", s)
	}
}

// Formatter handles proposal and result output formatting
type Formatter struct{}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatProposal renders the description, SQL and verdict of a proposal
func (f *Formatter) FormatProposal(p *pipeline.Proposal) string {
	var lines []string

	description := p.Query.Description
	if description == "" {
		description = "-"
	}

	lines = append(lines, "Description: "+description)
	lines = append(lines, "SQL:")

	for _, l := range strings.Split(p.Query.SQL, "\n") {
		lines = append(lines, "  "+l)
	}

	verdict := p.Verdict.Outcome()
	if p.Verdict.Reason != "" {
		verdict += " (" + p.Verdict.Reason + ")"
	}

	lines = append(lines, "Verdict: "+verdict)

	if len(p.Verdict.Tables) > 0 {
		lines = append(lines, "Tables: "+strings.Join(p.Verdict.Tables, ", "))
	}

	return strings.Join(lines, "\n")
}

// FormatResult renders a result set in the requested format
func (f *Formatter) FormatResult(rs *types.ResultSet, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return f.formatJSON(rs)
	case FormatCSV:
		return f.formatCSV(rs)
	default:
		return f.formatTable(rs), nil
	}
}

func (f *Formatter) formatTable(rs *types.ResultSet) string {
	cells := make([][]string, len(rs.Rows))
	widths := make([]int, len(rs.Columns))

	for i, c := range rs.Columns {
		widths[i] = utf8.RuneCountInString(c)
	}

	for r, row := range rs.Rows {
		cells[r] = make([]string, len(row))
		for i, v := range row {
			s := truncate(f.FormatValue(v), maxCellWidth)
			cells[r][i] = s

			if i < len(widths) && utf8.RuneCountInString(s) > widths[i] {
				widths[i] = utf8.RuneCountInString(s)
			}
		}
	}

	var b strings.Builder

	writeRow := func(values []string) {
		for i, v := range values {
			if i > 0 {
				b.WriteString("  ")
			}

			b.WriteString(v)

			if i < len(values)-1 && i < len(widths) {
				b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(v)))
			}
		}

		b.WriteString("\n")
	}

	writeRow(rs.Columns)

	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}

	writeRow(rule)

	for _, row := range cells {
		writeRow(row)
	}

	b.WriteString(f.footer(rs))

	return b.String()
}

func (f *Formatter) footer(rs *types.ResultSet) string {
	n := rs.RowCount()

	noun := "rows"
	if n == 1 {
		noun = "row"
	}

	if rs.Truncated {
		return fmt.Sprintf("(%d %s, truncated)", n, noun)
	}

	return fmt.Sprintf("(%d %s)", n, noun)
}

func (f *Formatter) formatJSON(rs *types.ResultSet) (string, error) {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	return string(data), nil
}

func (f *Formatter) formatCSV(rs *types.ResultSet) (string, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)
	if err := w.Write(rs.Columns); err != nil {
		return "", err
	}

	for _, row := range rs.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				record[i] = f.FormatValue(v)
			}
		}

		if err := w.Write(record); err != nil {
			return "", err
		}
	}

	w.Flush()

	return strings.TrimSuffix(buf.String(), "\n"), w.Error()
}

// FormatValue renders a single column value; SQL NULL prints as NULL
func (f *Formatter) FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case []byte:
		return string(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}

		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	r := []rune(s)

	return string(r[:limit-3]) + "..."
}
