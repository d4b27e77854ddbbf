package schema

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kyleking/sql-assist/internal/errors"
)

// Format names a schema source encoding
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Header columns required in a CSV schema source
var csvHeaders = []string{"Table Name", "Column Name", "Data Type", "Key", "Description"}

// FormatFromPath infers the format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", errors.Newf(errors.ErrTypeSchemaLoad, "cannot infer schema format from %q", path).
			WithSuggestion("Use a .csv, .json or .yaml file, or set schema.format")
	}
}

// LoadFile reads a schema from path. An empty format is inferred from the extension.
func LoadFile(path string, format Format) (*Model, error) {
	if format == "" {
		f, err := FormatFromPath(path)
		if err != nil {
			return nil, err
		}

		format = f
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeSchemaLoad, "failed to open schema %s", path)
	}
	defer file.Close()

	return Load(file, format)
}

// Load parses a schema source
func Load(r io.Reader, format Format) (*Model, error) {
	var (
		tables []Table
		err    error
	)

	switch Format(strings.ToLower(string(format))) {
	case FormatCSV:
		tables, err = readCSV(r)
	case FormatJSON, FormatYAML:
		tables, err = readDocument(r)
	default:
		return nil, errors.Newf(errors.ErrTypeSchemaLoad, "unsupported schema format %q", format)
	}

	if err != nil {
		return nil, err
	}

	if len(tables) == 0 {
		return nil, errors.New(errors.ErrTypeSchemaLoad, "schema declares no tables")
	}

	return NewModel(tables)
}

func readCSV(r io.Reader) ([]Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New(errors.ErrTypeSchemaLoad, "schema source is empty")
	}

	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSchemaLoad, "failed to read schema header")
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	pos := make([]int, len(csvHeaders))
	for i, want := range csvHeaders {
		p, ok := idx[strings.ToLower(want)]
		if !ok {
			return nil, errors.Newf(errors.ErrTypeSchemaLoad, "schema source is missing required column %q", want).
				WithSuggestion("Expected header: " + strings.Join(csvHeaders, ", "))
		}

		pos[i] = p
	}

	var (
		tables []Table
		byName = map[string]int{}
	)

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeSchemaLoad, "failed to read schema row %d", line)
		}

		field := func(i int) string { return strings.TrimSpace(record[pos[i]]) }

		table, column := field(0), field(1)
		if table == "" || column == "" {
			return nil, errors.Newf(errors.ErrTypeSchemaLoad, "schema row %d has an empty table or column name", line)
		}

		col := Column{Name: column, Type: field(2), Key: field(3), Description: field(4)}

		i, ok := byName[table]
		if !ok {
			i = len(tables)
			byName[table] = i
			tables = append(tables, Table{Name: table})
		}

		tables[i].Columns = append(tables[i].Columns, col)
	}

	return tables, nil
}

// readDocument decodes {"<table>": {"columns": [...]}} from JSON or YAML,
// keeping the document's key order
func readDocument(r io.Reader) ([]Table, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, errors.New(errors.ErrTypeSchemaLoad, "schema source is empty")
		}

		return nil, errors.Wrap(err, errors.ErrTypeSchemaLoad, "failed to parse schema document")
	}

	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	if root.Kind != yaml.MappingNode {
		return nil, errors.New(errors.ErrTypeSchemaLoad, "schema document must be an object keyed by table name")
	}

	tables := make([]Table, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value

		var body struct {
			Columns []Column `yaml:"columns"`
		}
		if err := root.Content[i+1].Decode(&body); err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeSchemaLoad, "failed to decode table %q", name)
		}

		for j, c := range body.Columns {
			if strings.TrimSpace(c.Name) == "" {
				return nil, errors.Newf(errors.ErrTypeSchemaLoad, "table %q column %d has no name", name, j+1)
			}
		}

		tables = append(tables, Table{Name: name, Columns: body.Columns})
	}

	return tables, nil
}
