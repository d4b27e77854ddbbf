// Package validate decides whether a generated query may be offered for
// execution. The relationship check is a textual presence test, not a SQL
// parse: it only guards against joins the schema never declared.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/schema"
)

// Policy controls when a failed relationship check rejects a query
type Policy string

const (
	// PolicyEnforce rejects every query that matches no declared relationship
	PolicyEnforce Policy = "enforce"
	// PolicyAdvisory reports the check but never rejects on it
	PolicyAdvisory Policy = "advisory"
	// PolicyMultiTable enforces only when the query references more than one
	// table or any table the schema does not declare
	PolicyMultiTable Policy = "multi_table"
)

// ParsePolicy converts a configuration value to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyEnforce, PolicyAdvisory, PolicyMultiTable:
		return p, nil
	case "":
		return PolicyMultiTable, nil
	default:
		return "", errors.Newf(errors.ErrTypeValidation, "unknown validation policy %q", s).
			WithSuggestion("Use one of: enforce, advisory, multi_table")
	}
}

// Relationships reports whether at least one declared relationship has both
// its "table.column" and "ref_table.ref_column" text present in sql
func Relationships(sql string, rels []schema.Relationship) bool {
	for _, r := range rels {
		if matches(sql, r) {
			return true
		}
	}

	return false
}

// MatchingRelationships returns every relationship whose endpoints both appear in sql
func MatchingRelationships(sql string, rels []schema.Relationship) []schema.Relationship {
	var out []schema.Relationship
	for _, r := range rels {
		if matches(sql, r) {
			out = append(out, r)
		}
	}

	return out
}

func matches(sql string, r schema.Relationship) bool {
	return strings.Contains(sql, r.Source()) && strings.Contains(sql, r.Target())
}

// ReferencedTables returns the names in tables that occur in sql as whole
// words, compared case-insensitively, in the order given
func ReferencedTables(sql string, tables []string) []string {
	var out []string
	for _, name := range tables {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
		if re.MatchString(sql) {
			out = append(out, name)
		}
	}

	return out
}

var (
	leadingWord = regexp.MustCompile(`^\s*\(*\s*([A-Za-z]+)`)

	forbiddenKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|drop|alter|create|truncate|grant|revoke|attach|detach|copy|pragma)\b`)
)

// CheckStatement rejects anything but a single read-only SELECT or WITH query
func CheckStatement(sql string) error {
	stmt := strings.TrimSpace(mask(sql, false))

	for strings.HasSuffix(stmt, ";") {
		stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	}

	if stmt == "" {
		return errors.New(errors.ErrTypeValidation, "SQL query cannot be empty")
	}

	if strings.Contains(stmt, ";") {
		return errors.New(errors.ErrTypeValidation, "only a single statement is allowed")
	}

	m := leadingWord.FindStringSubmatch(stmt)
	if m == nil {
		return errors.New(errors.ErrTypeValidation, "only SELECT statements are allowed")
	}

	switch strings.ToLower(m[1]) {
	case "select", "with":
	default:
		return errors.Newf(errors.ErrTypeValidation, "only SELECT statements are allowed, got %s", strings.ToUpper(m[1]))
	}

	if kw := forbiddenKeywords.FindString(stmt); kw != "" {
		return errors.Newf(errors.ErrTypeValidation, "SQL contains potentially dangerous operation: %s", strings.ToUpper(kw))
	}

	return nil
}

// mask blanks out what cannot carry statement structure, scanning left to
// right so quotes and comments are recognised only where they actually start.
// String literals collapse to an empty literal and comments to a space. Quoted
// identifiers collapse to "" unless keepIdentifiers is set.
func mask(sql string, keepIdentifiers bool) string {
	var b strings.Builder
	b.Grow(len(sql))

	for i := 0; i < len(sql); {
		switch {
		case sql[i] == '\'':
			i = skipQuoted(sql, i, '\'')
			b.WriteString("''")
		case sql[i] == '"':
			end := skipQuoted(sql, i, '"')
			if keepIdentifiers {
				b.WriteString(sql[i:end])
			} else {
				b.WriteString(`""`)
			}
			i = end
		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = len(sql)
			} else {
				i += end
			}
			b.WriteByte(' ')
		case strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 4
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(sql[i])
			i++
		}
	}

	return b.String()
}

// skipQuoted returns the index just past the quoted run opening at start. A
// doubled quote is an escaped quote; an unterminated run ends the input.
func skipQuoted(sql string, start int, quote byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}

		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}

		return i + 1
	}

	return len(sql)
}

var (
	sqlToken = regexp.MustCompile(`"(?:[^"]|"")*"(?:\.(?:"(?:[^"]|"")*"|[A-Za-z_][\w$]*))*|[A-Za-z_][\w$]*(?:\.(?:"(?:[^"]|"")*"|[A-Za-z_][\w$]*))*|[(),;]`)
	cteName  = regexp.MustCompile(`(?i)(?:\bwith\s+(?:recursive\s+)?|,\s*)([A-Za-z_][\w$]*|"(?:[^"]|"")*")\s*(?:\([^()]*\)\s*)?as\s*(?:not\s+)?(?:materialized\s+)?\(`)
)

// clauseEnd lists the keywords that close a FROM list
var clauseEnd = map[string]bool{
	"where": true, "group": true, "order": true, "limit": true, "having": true,
	"on": true, "using": true, "union": true, "intersect": true, "except": true,
	"window": true, "qualify": true, "offset": true, "fetch": true,
}

// TableRefs returns the distinct tables named after FROM or JOIN (and in
// comma-separated FROM lists), declared or not, in order of first
// appearance. Names defined by WITH, table functions and the FROM of
// EXTRACT-style function arguments are not table references. Schema
// qualifiers are dropped.
func TableRefs(sql string) []string {
	text := mask(sql, true)

	ctes := map[string]bool{}
	for _, m := range cteName.FindAllStringSubmatch(text, -1) {
		ctes[strings.ToLower(unquote(m[1]))] = true
	}

	type level struct {
		query    bool
		fromList bool
	}

	var (
		tokens = sqlToken.FindAllString(text, -1)
		stack  = []level{{query: true}}
		expect bool
		seen   = map[string]bool{}
		out    []string
	)

	for i, tok := range tokens {
		top := &stack[len(stack)-1]

		switch tok {
		case "(":
			expect = false
			stack = append(stack, level{})
			continue
		case ")":
			expect = false
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		case ",":
			expect = top.fromList
			continue
		case ";":
			expect = false
			stack = stack[:1]
			stack[0] = level{query: true}
			continue
		}

		word := strings.ToLower(tok)

		if expect {
			if word == "lateral" || word == "only" {
				continue
			}

			expect = false

			if i+1 < len(tokens) && tokens[i+1] == "(" {
				continue
			}

			name := unquote(lastSegment(tok))
			key := strings.ToLower(name)
			if !ctes[key] && !seen[key] {
				seen[key] = true
				out = append(out, name)
			}

			continue
		}

		switch {
		case word == "select":
			top.query = true
			top.fromList = false
		case word == "from" && top.query && (i == 0 || !strings.EqualFold(tokens[i-1], "distinct")):
			expect = true
			top.fromList = true
		case word == "join" && top.query:
			expect = true
			top.fromList = false
		case clauseEnd[word]:
			top.fromList = false
		}
	}

	return out
}

// lastSegment drops any schema or catalog qualifier from a dotted name
func lastSegment(name string) string {
	if strings.HasSuffix(name, `"`) && len(name) > 1 {
		if i := strings.LastIndex(name[:len(name)-1], `".`); i >= 0 {
			return name[i+2:]
		}

		if strings.HasPrefix(name, `"`) {
			return name
		}
	}

	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}

	return name
}

func unquote(name string) string {
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	}

	return name
}

// undeclared returns the refs that are not tables of model, compared
// case-insensitively
func undeclared(refs []string, model *schema.Model) []string {
	declared := make(map[string]bool, len(model.TableNames()))
	for _, name := range model.TableNames() {
		declared[strings.ToLower(name)] = true
	}

	var out []string
	for _, ref := range refs {
		if !declared[strings.ToLower(ref)] {
			out = append(out, ref)
		}
	}

	return out
}

// Verdict is the outcome of checking one generated query
type Verdict struct {
	Accepted        bool
	RelationshipsOK bool
	Enforced        bool
	Matched         []schema.Relationship
	Tables          []string
	Undeclared      []string
	Reason          string
}

// Outcome labels the verdict: accepted, advisory (accepted although no
// relationship matched or an undeclared table appears) or rejected
func (v Verdict) Outcome() string {
	switch {
	case !v.Accepted:
		return "rejected"
	case !v.RelationshipsOK || len(v.Undeclared) > 0:
		return "advisory"
	default:
		return "accepted"
	}
}

// Validator applies a policy to generated queries
type Validator struct {
	Policy   Policy
	ReadOnly bool
}

// New creates a validator
func New(policy Policy, readOnly bool) *Validator {
	if policy == "" {
		policy = PolicyMultiTable
	}

	return &Validator{Policy: policy, ReadOnly: readOnly}
}

// Check validates sql against the declared relationships of model. A
// rejected verdict is never an error; the caller decides what to do.
func (v *Validator) Check(sql string, rels []schema.Relationship, model *schema.Model) Verdict {
	verdict := Verdict{
		Matched: MatchingRelationships(sql, rels),
	}
	verdict.RelationshipsOK = len(verdict.Matched) > 0

	refs := TableRefs(sql)
	if model != nil {
		verdict.Tables = ReferencedTables(sql, model.TableNames())
		verdict.Undeclared = undeclared(refs, model)
	}

	if v.ReadOnly {
		if err := CheckStatement(sql); err != nil {
			verdict.Reason = err.Error()
			if e, ok := err.(*errors.Error); ok {
				verdict.Reason = e.Message
			}

			return verdict
		}
	}

	switch v.Policy {
	case PolicyEnforce:
		verdict.Enforced = true
	case PolicyMultiTable:
		verdict.Enforced = len(refs) > 1 || len(verdict.Tables) > 1 || len(verdict.Undeclared) > 0
	}

	if verdict.RelationshipsOK && len(verdict.Undeclared) == 0 {
		verdict.Accepted = true
		verdict.Reason = fmt.Sprintf("matches declared relationship %s", verdict.Matched[0])

		return verdict
	}

	reason := "no declared relationship appears in the query"
	if len(verdict.Undeclared) > 0 {
		reason = "query references undeclared table " + strings.Join(verdict.Undeclared, ", ")
	}

	if verdict.Enforced {
		verdict.Reason = reason
		return verdict
	}

	verdict.Accepted = true
	verdict.Reason = reason + " (not enforced)"

	return verdict
}
