package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/perebor/askdb/internal/agent"
	"github.com/perebor/askdb/internal/cache"
	"github.com/perebor/askdb/internal/classify"
	"github.com/perebor/askdb/internal/llm"
	"github.com/perebor/askdb/internal/profile"
	"github.com/perebor/askdb/internal/sample"
	"github.com/perebor/askdb/internal/storage"
)

// --- mocks ---

type mockDataset struct {
	schema    string
	schemaErr error
}

func (m *mockDataset) TableNames(_ context.Context) ([]string, error) { return []string{"orders"}, nil }

func (m *mockDataset) RowCount(_ context.Context, _ string) (int64, error) { return 4, nil }

func (m *mockDataset) SampleRows(_ context.Context, _ string, _ sample.Plan) (storage.ResultSet, error) {
	return m.resultSet(), nil
}

func (m *mockDataset) SchemaContext(_ context.Context) (string, error) {
	return m.schema, m.schemaErr
}

func (m *mockDataset) ExecuteReadOnly(_ context.Context, _ string) (storage.ResultSet, error) {
	return m.resultSet(), nil
}

func (m *mockDataset) resultSet() storage.ResultSet {
	return storage.ResultSet{
		Columns: []string{"region", "total_sales"},
		Rows:    [][]any{{"West", 250.0}},
	}
}

type mockChat struct {
	response string
	err      error
}

func (m *mockChat) Complete(_ context.Context, _ llm.Request) (string, error) {
	return m.response, m.err
}

type mockProfileStore struct {
	data map[string]map[string]string
}

func (m *mockProfileStore) SetUserProfileKey(userID, key, value string) error {
	if m.data == nil {
		m.data = make(map[string]map[string]string)
	}
	if m.data[userID] == nil {
		m.data[userID] = make(map[string]string)
	}
	m.data[userID][key] = value
	return nil
}

func (m *mockProfileStore) GetUserProfileKeys(userID string) (map[string]string, error) {
	return m.data[userID], nil
}

// --- helpers ---

func newTestDeps(t *testing.T) Deps {
	t.Helper()

	ds := &mockDataset{schema: "Table: orders\n  - region (text)"}
	orch := agent.New(
		agent.Config{CacheTTL: time.Minute},
		cache.New(cache.Config{}),
		classify.New(classify.Rules{}),
		sample.NewPlanner(sample.Thresholds{}, time.Minute),
		&mockChat{response: "SELECT region, SUM(sales) AS total_sales FROM orders GROUP BY region"},
		ds,
		nil,
		profile.NewManager(&mockProfileStore{}),
		nil,
	)

	return Deps{Agent: orch, Schema: ds}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestToolQueryData(t *testing.T) {
	deps := newTestDeps(t)
	handler := toolQueryData(deps)

	req := makeCallToolRequest("query_data", map[string]interface{}{
		"query":   "show me top 5 regions by sales",
		"user_id": "alice",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	var res agent.Result
	if err := json.Unmarshal([]byte(resultText(t, result)), &res); err != nil {
		t.Fatalf("failed to parse result: %v", err)
	}
	if res.Source != agent.SourceFastPath {
		t.Errorf("source = %q, want fast_path", res.Source)
	}
	if res.SQLQuery == "" {
		t.Error("sql query missing from result")
	}
}

func TestToolQueryData_MissingQuery(t *testing.T) {
	deps := newTestDeps(t)
	handler := toolQueryData(deps)

	result, err := handler(context.Background(), makeCallToolRequest("query_data", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing query argument")
	}
}

func TestToolGetSchema(t *testing.T) {
	deps := newTestDeps(t)
	handler := toolGetSchema(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_schema", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
	if text := resultText(t, result); !strings.Contains(text, "Table: orders") {
		t.Errorf("schema text = %q", text)
	}
}

func TestToolPerformanceStats(t *testing.T) {
	deps := newTestDeps(t)

	// One answered query so the counters are non-zero.
	if _, err := deps.Agent.Query(context.Background(), agent.QueryRequest{UserID: "alice", Text: "show orders"}); err != nil {
		t.Fatal(err)
	}

	handler := toolPerformanceStats(deps)
	result, err := handler(context.Background(), makeCallToolRequest("performance_stats", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var snap agent.Snapshot
	if err := json.Unmarshal([]byte(resultText(t, result)), &snap); err != nil {
		t.Fatalf("failed to parse stats: %v", err)
	}
	if snap.TotalQueries != 1 {
		t.Errorf("total queries = %d, want 1", snap.TotalQueries)
	}
}

func TestResourceSchema(t *testing.T) {
	deps := newTestDeps(t)
	handler := resourceSchema(deps)

	req := mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "dataset://schema"}}
	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "dataset://schema" || !strings.Contains(tc.Text, "Table: orders") {
		t.Errorf("resource = %+v", tc)
	}
}
