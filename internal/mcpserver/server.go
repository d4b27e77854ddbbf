// Package mcpserver exposes a question session as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/pipeline"
	"github.com/kyleking/sql-assist/internal/types"
)

// Tools holds the session served to one MCP client
type Tools struct {
	Pipeline *pipeline.Pipeline
	Session  *pipeline.Session
}

// New creates a server with the question tools registered. Every server owns
// a single session; a stdio server has exactly one client.
func New(p *pipeline.Pipeline, version string) *mcp.Server {
	t := &Tools{Pipeline: p, Session: p.NewSession()}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "sql-assist",
		Version: version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "submit_question",
		Description: "Generate a SQL query for a natural-language question. The query is only proposed; call acknowledge_query to run it.",
	}, t.SubmitQuestion)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "acknowledge_query",
		Description: "Confirm the proposed query and execute it once against the database",
	}, t.AcknowledgeQuery)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "describe_schema",
		Description: "List the declared tables, columns and relationships",
	}, t.DescribeSchema)

	return srv
}

// Run serves over stdio until the client disconnects or ctx is done
func Run(ctx context.Context, p *pipeline.Pipeline, version string) error {
	return New(p, version).Run(ctx, &mcp.StdioTransport{})
}

// --- Input types ---

type SubmitQuestionInput struct {
	Question string `json:"question" jsonschema:"The question to answer from the database"`
}

type AcknowledgeQueryInput struct{}

type DescribeSchemaInput struct{}

// --- Output types ---

type ProposalOutput struct {
	ID          string   `json:"id,omitempty"`
	Description string   `json:"query_description"`
	SQL         string   `json:"sql"`
	Verdict     string   `json:"verdict"`
	Reason      string   `json:"reason"`
	Tables      []string `json:"tables,omitempty"`
	Message     string   `json:"message,omitempty"`
}

type ResultOutput struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated,omitempty"`
}

// --- Handlers ---

func (t *Tools) SubmitQuestion(ctx context.Context, _ *mcp.CallToolRequest, input SubmitQuestionInput) (*mcp.CallToolResult, any, error) {
	proposal, err := t.Session.Submit(ctx, input.Question)
	if err != nil {
		return toolFailure(err), nil, nil
	}

	out := ProposalOutput{
		ID:          proposal.ID,
		Description: proposal.Query.Description,
		SQL:         proposal.Query.SQL,
		Verdict:     proposal.Verdict.Outcome(),
		Reason:      proposal.Verdict.Reason,
		Tables:      proposal.Verdict.Tables,
	}
	if proposal.Rejected() {
		out.Message = errors.MsgRelationshipFail
	}

	return toolJSON(out)
}

func (t *Tools) AcknowledgeQuery(ctx context.Context, _ *mcp.CallToolRequest, _ AcknowledgeQueryInput) (*mcp.CallToolResult, any, error) {
	rs, err := t.Session.Acknowledge(ctx)
	if err != nil {
		return toolFailure(err), nil, nil
	}

	return toolJSON(resultOutput(rs))
}

func (t *Tools) DescribeSchema(_ context.Context, _ *mcp.CallToolRequest, _ DescribeSchemaInput) (*mcp.CallToolResult, any, error) {
	return toolText(t.Pipeline.DescribeSchema()), nil, nil
}

func resultOutput(rs *types.ResultSet) ResultOutput {
	return ResultOutput{
		Columns:   rs.Columns,
		Rows:      rs.Rows,
		RowCount:  rs.RowCount(),
		Truncated: rs.Truncated,
	}
}

// --- Helpers ---

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// toolFailure reports err with the user-facing message for its class first
func toolFailure(err error) *mcp.CallToolResult {
	if msg := errors.UserMessage(err); msg != err.Error() {
		return toolError("%s: %v", msg, err)
	}

	return toolError("%v", err)
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}

	return toolText(string(data)), nil, nil
}
