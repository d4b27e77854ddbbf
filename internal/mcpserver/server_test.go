package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sql-assist/internal/engine"
	"github.com/kyleking/sql-assist/internal/pipeline"
	"github.com/kyleking/sql-assist/internal/testutil"
	"github.com/kyleking/sql-assist/internal/validate"
)

func setupSession(t *testing.T, gen *testutil.MockGenerator, policy validate.Policy) *mcp.ClientSession {
	t.Helper()

	p, err := pipeline.New(pipeline.Config{
		Model:     testutil.ScenarioModel(t),
		Generator: gen,
		Validator: validate.New(policy, true),
		Executor:  engine.NewExecutor(testutil.NewScenarioDB(t), engine.Options{}),
	})
	require.NoError(t, err)

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	_, err = New(p, "test").Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])

	return tc.Text, result.IsError
}

func TestListTools(t *testing.T) {
	session := setupSession(t, testutil.NewMockGenerator(), validate.PolicyMultiTable)

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}

	assert.ElementsMatch(t, []string{"submit_question", "acknowledge_query", "describe_schema"}, names)
}

func TestSubmitThenAcknowledge(t *testing.T) {
	gen := testutil.NewMockGenerator(testutil.WithQuery("Orders per customer", testutil.ScenarioSQL))
	session := setupSession(t, gen, validate.PolicyMultiTable)

	text, isErr := callTool(t, session, "submit_question", map[string]any{"question": testutil.ScenarioQuestion})
	require.False(t, isErr, text)

	var proposal ProposalOutput
	require.NoError(t, json.Unmarshal([]byte(text), &proposal))
	assert.Equal(t, "accepted", proposal.Verdict)
	assert.Equal(t, testutil.ScenarioSQL, proposal.SQL)
	assert.NotEmpty(t, proposal.ID)

	text, isErr = callTool(t, session, "acknowledge_query", map[string]any{})
	require.False(t, isErr, text)

	var result ResultOutput
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, 3, result.RowCount)
	assert.Equal(t, []string{"customer_id", "name", "order_count"}, result.Columns)

	text, isErr = callTool(t, session, "acknowledge_query", map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "cannot acknowledge")
}

func TestAcknowledgeWithoutProposal(t *testing.T) {
	session := setupSession(t, testutil.NewMockGenerator(), validate.PolicyMultiTable)

	text, isErr := callTool(t, session, "acknowledge_query", map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "cannot acknowledge while query is empty")
}

func TestRejectedProposalReportsRelationshipFailure(t *testing.T) {
	invented := "SELECT * FROM Orders JOIN Customers ON Orders.order_id = Customers.customer_id"
	session := setupSession(t, testutil.NewMockGenerator(testutil.WithQuery("bad", invented)), validate.PolicyEnforce)

	text, isErr := callTool(t, session, "submit_question", map[string]any{"question": "orders per customer"})
	require.False(t, isErr, text)

	var proposal ProposalOutput
	require.NoError(t, json.Unmarshal([]byte(text), &proposal))
	assert.Equal(t, "rejected", proposal.Verdict)
	assert.Equal(t, "generated query failed a relationship check, rejected", proposal.Message)
	assert.Empty(t, proposal.ID)

	_, isErr = callTool(t, session, "acknowledge_query", map[string]any{})
	assert.True(t, isErr)
}

func TestGenerationFailureMessage(t *testing.T) {
	gen := testutil.NewMockGenerator(testutil.WithQuery("x", "SELECT 1"))
	session := setupSession(t, gen, validate.PolicyMultiTable)

	text, isErr := callTool(t, session, "submit_question", map[string]any{"question": "  "})
	assert.True(t, isErr)
	assert.Contains(t, text, "question cannot be empty")
}

func TestDescribeSchema(t *testing.T) {
	session := setupSession(t, testutil.NewMockGenerator(), validate.PolicyMultiTable)

	text, isErr := callTool(t, session, "describe_schema", map[string]any{})
	require.False(t, isErr)
	assert.Contains(t, text, "Table: Customers")
	assert.Contains(t, text, "Orders.customer_id -> Customers.customer_id")
}
