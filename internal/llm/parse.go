package llm

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/types"
)

type replyFields struct {
	Description *string `json:"query_description"`
	SQL         *string `json:"sql"`
}

// ParseReply decodes a generation reply of the form
// {"query_description": "...", "sql": "..."}, after removing any code fence
// around it. Both fields must be present and sql must be non-empty.
func ParseReply(raw string) (*types.GeneratedQuery, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return nil, errors.New(errors.ErrTypeResponseParse, "empty reply from generation service")
	}

	var fields replyFields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeResponseParse, "reply is not a JSON object")
	}

	if fields.Description == nil {
		return nil, errors.New(errors.ErrTypeResponseParse, `reply is missing "query_description"`)
	}

	if fields.SQL == nil {
		return nil, errors.New(errors.ErrTypeResponseParse, `reply is missing "sql"`)
	}

	sql := strings.TrimSpace(*fields.SQL)
	if sql == "" {
		return nil, errors.New(errors.ErrTypeResponseParse, `reply has an empty "sql"`)
	}

	return &types.GeneratedQuery{
		Description: strings.TrimSpace(*fields.Description),
		SQL:         sql,
	}, nil
}

// stripCodeFence removes a surrounding ``` fence and its language tag
func stripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")

	if i := strings.IndexAny(trimmed, "{["); i > 0 {
		if tag := strings.TrimLeftFunc(trimmed[:i], unicode.IsLetter); strings.TrimSpace(tag) == "" {
			trimmed = trimmed[i:]
		}
	}

	return strings.TrimSpace(trimmed)
}
