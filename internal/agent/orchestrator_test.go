package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/perebor/askdb/internal/cache"
	"github.com/perebor/askdb/internal/classify"
	"github.com/perebor/askdb/internal/llm"
	"github.com/perebor/askdb/internal/profile"
	"github.com/perebor/askdb/internal/sample"
	"github.com/perebor/askdb/internal/storage"
)

type fakeDataset struct {
	rowCount int64
	result   storage.ResultSet
	schema   string
	tables   []string
	execErr  error

	executed []string
}

func (f *fakeDataset) TableNames(ctx context.Context) ([]string, error) {
	if f.tables == nil {
		return []string{"orders"}, nil
	}
	return f.tables, nil
}

func (f *fakeDataset) RowCount(ctx context.Context, table string) (int64, error) {
	return f.rowCount, nil
}

func (f *fakeDataset) SampleRows(ctx context.Context, table string, plan sample.Plan) (storage.ResultSet, error) {
	return f.result, nil
}

func (f *fakeDataset) SchemaContext(ctx context.Context) (string, error) {
	if f.schema == "" {
		return "Table: orders", nil
	}
	return f.schema, nil
}

func (f *fakeDataset) ExecuteReadOnly(ctx context.Context, query string) (storage.ResultSet, error) {
	f.executed = append(f.executed, query)
	if f.execErr != nil {
		return storage.ResultSet{}, f.execErr
	}
	return f.result, nil
}

type fakeChat struct {
	response string
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeChat) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// blockingChat holds every Complete call until release is closed.
type blockingChat struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingChat) Complete(ctx context.Context, req llm.Request) (string, error) {
	b.calls.Add(1)
	<-b.release
	return "SELECT region FROM orders GROUP BY region", nil
}

type fakeLog struct {
	saved []storage.Interaction
}

func (f *fakeLog) SaveInteraction(i storage.Interaction) error {
	f.saved = append(f.saved, i)
	return nil
}

type fakeProfileStore struct {
	data map[string]map[string]string
}

func (f *fakeProfileStore) SetUserProfileKey(userID, key, value string) error {
	if f.data == nil {
		f.data = make(map[string]map[string]string)
	}
	if f.data[userID] == nil {
		f.data[userID] = make(map[string]string)
	}
	f.data[userID][key] = value
	return nil
}

func (f *fakeProfileStore) GetUserProfileKeys(userID string) (map[string]string, error) {
	out := make(map[string]string)
	for k, v := range f.data[userID] {
		out[k] = v
	}
	return out, nil
}

func newTestOrchestrator(ds Dataset, chat Chatter, il InteractionLog) *Orchestrator {
	return New(
		Config{CacheTTL: time.Minute},
		cache.New(cache.Config{}),
		classify.New(classify.Rules{}),
		sample.NewPlanner(sample.Thresholds{}, time.Minute),
		chat,
		ds,
		il,
		profile.NewManager(&fakeProfileStore{}),
		nil,
	)
}

func sampleResult() storage.ResultSet {
	return storage.ResultSet{
		Columns: []string{"region", "total_sales"},
		Rows:    [][]any{{"West", 100.0}, {"East", 80.0}},
	}
}

func TestQueryEmptyText(t *testing.T) {
	o := newTestOrchestrator(&fakeDataset{}, &fakeChat{}, nil)

	if _, err := o.Query(context.Background(), QueryRequest{Text: "  "}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestQueryFastPath(t *testing.T) {
	ds := &fakeDataset{result: sampleResult()}
	chat := &fakeChat{err: errors.New("must not be called")}
	log := &fakeLog{}
	o := newTestOrchestrator(ds, chat, log)

	res, err := o.Query(context.Background(), QueryRequest{UserID: "alice", Text: "show me top 5 regions by sales"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != SourceFastPath {
		t.Errorf("source = %q, want fast_path", res.Source)
	}
	if !strings.Contains(res.SQLQuery, "SUM(sales)") {
		t.Errorf("sql = %q, want an aggregation template", res.SQLQuery)
	}
	if chat.calls.Load() != 0 {
		t.Error("fast path must not call the LLM")
	}
	if res.RequestID == "" {
		t.Error("request id missing")
	}
	if len(log.saved) != 1 || log.saved[0].Status != "completed" {
		t.Errorf("interaction log = %+v", log.saved)
	}
}

func TestQueryCacheHit(t *testing.T) {
	ds := &fakeDataset{result: sampleResult()}
	o := newTestOrchestrator(ds, &fakeChat{err: errors.New("no llm")}, nil)

	req := QueryRequest{UserID: "alice", Text: "show me top 5 regions by sales"}

	first, err := o.Query(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := o.Query(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if second.Source != SourceCache || !second.CacheHit {
		t.Errorf("second result = source %q cacheHit %v, want cache hit", second.Source, second.CacheHit)
	}
	if second.SQLQuery != first.SQLQuery {
		t.Error("cached result should carry the original SQL")
	}
	if second.RequestID == first.RequestID {
		t.Error("each response needs its own request id")
	}
	if len(ds.executed) != 1 {
		t.Errorf("dataset executed %d times, want 1", len(ds.executed))
	}
}

func TestQueryCacheVariesByUser(t *testing.T) {
	ds := &fakeDataset{result: sampleResult()}
	o := newTestOrchestrator(ds, &fakeChat{}, nil)

	text := "show me top 5 regions by sales"
	if _, err := o.Query(context.Background(), QueryRequest{UserID: "alice", Text: text}); err != nil {
		t.Fatal(err)
	}
	res, err := o.Query(context.Background(), QueryRequest{UserID: "bob", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	if res.Source == SourceCache {
		t.Error("cache entries must be scoped per user")
	}
}

func TestQueryLLMPath(t *testing.T) {
	ds := &fakeDataset{rowCount: 100, result: sampleResult()}
	chat := &fakeChat{response: "```sql\nSELECT region, AVG(discount) AS avg_discount FROM orders GROUP BY region;\n```"}
	o := newTestOrchestrator(ds, chat, nil)

	res, err := o.Query(context.Background(), QueryRequest{UserID: "alice", Text: "forecast next quarter revenue trend"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != SourceLLM {
		t.Errorf("source = %q, want llm", res.Source)
	}
	if res.SQLQuery != "SELECT region, AVG(discount) AS avg_discount FROM orders GROUP BY region" {
		t.Errorf("sql = %q, want fences and semicolon stripped", res.SQLQuery)
	}
	if res.Concept != classify.ConceptAggregation {
		t.Errorf("concept = %q", res.Concept)
	}
	if chat.calls.Load() != 1 {
		t.Errorf("llm calls = %d, want 1", chat.calls.Load())
	}
}

func TestQueryLLMErrorNotCached(t *testing.T) {
	ds := &fakeDataset{rowCount: 100, result: sampleResult()}
	chat := &fakeChat{err: &llm.UpstreamError{Status: 500, Message: "boom"}}
	log := &fakeLog{}
	o := newTestOrchestrator(ds, chat, log)

	req := QueryRequest{UserID: "alice", Text: "forecast next quarter revenue trend"}

	_, err := o.Query(context.Background(), req)
	if !llm.IsUpstreamError(err) {
		t.Fatalf("err = %v, want upstream error surfaced", err)
	}
	if len(log.saved) != 1 || log.saved[0].Status != "failed" {
		t.Errorf("interaction log = %+v, want one failed entry", log.saved)
	}

	// After the upstream recovers, the same request must reach the LLM again.
	chat.err = nil
	chat.response = "SELECT region FROM orders GROUP BY region"
	res, err := o.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error after recovery: %v", err)
	}
	if res.Source != SourceLLM {
		t.Errorf("source = %q, want llm (errors are never cached)", res.Source)
	}
	if chat.calls.Load() != 2 {
		t.Errorf("llm calls = %d, want 2", chat.calls.Load())
	}
}

func TestQueryFastPathFallsBackToLLM(t *testing.T) {
	ds := &fakeDataset{rowCount: 100, execErr: errors.New("no such column: widget")}
	chat := &fakeChat{response: "SELECT COUNT(*) FROM orders"}
	o := newTestOrchestrator(ds, chat, nil)

	// The fast path template executes and fails, then the LLM takes over.
	// Its SQL fails too in this setup, so the whole query errors, but the
	// LLM must have been consulted.
	_, err := o.Query(context.Background(), QueryRequest{UserID: "alice", Text: "show me top 3 widgets by sales"})
	if err == nil {
		t.Fatal("expected error when all execution fails")
	}
	if chat.calls.Load() != 1 {
		t.Errorf("llm calls = %d, want fallback to consult the LLM", chat.calls.Load())
	}
}

func TestQueryRowLimitOnHighComplexity(t *testing.T) {
	rows := make([][]any, 20)
	for i := range rows {
		rows[i] = []any{"r", float64(i)}
	}
	ds := &fakeDataset{rowCount: 100, result: storage.ResultSet{Columns: []string{"region", "sales"}, Rows: rows}}
	// A join scores complexity 3, above the default capacity of 2.
	chat := &fakeChat{response: "SELECT o.region, r.reason FROM orders o JOIN returns r ON o.order_id = r.order_id"}
	o := newTestOrchestrator(ds, chat, nil)

	res, err := o.Query(context.Background(), QueryRequest{UserID: "alice", Text: "explore returned orders"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Data.Rows) != 5 {
		t.Errorf("rows = %d, want overload limit of 5", len(res.Data.Rows))
	}
	if !res.Truncated {
		t.Error("truncation not flagged")
	}
	if res.RowCount != 20 {
		t.Errorf("row count = %d, want full count before truncation", res.RowCount)
	}
}

func TestQueryDefaultRowLimit(t *testing.T) {
	rows := make([][]any, 20)
	for i := range rows {
		rows[i] = []any{float64(i)}
	}
	ds := &fakeDataset{result: storage.ResultSet{Columns: []string{"sales"}, Rows: rows}}
	o := newTestOrchestrator(ds, &fakeChat{}, nil)

	// Preview SQL scores complexity 1, within the default capacity.
	res, err := o.Query(context.Background(), QueryRequest{UserID: "alice", Text: "show the orders"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Data.Rows) != 15 {
		t.Errorf("rows = %d, want comfortable limit of 15", len(res.Data.Rows))
	}
}

func TestClearCache(t *testing.T) {
	ds := &fakeDataset{result: sampleResult()}
	o := newTestOrchestrator(ds, &fakeChat{}, nil)

	req := QueryRequest{UserID: "alice", Text: "show orders"}
	if _, err := o.Query(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	if n := o.ClearCache(""); n != 1 {
		t.Errorf("cleared %d entries, want 1", n)
	}

	res, err := o.Query(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Source == SourceCache {
		t.Error("cleared entry still served from cache")
	}
}

func TestQueryRejectsUnknownTable(t *testing.T) {
	ds := &fakeDataset{result: sampleResult()}
	chat := &fakeChat{err: errors.New("must not be called")}
	o := newTestOrchestrator(ds, chat, nil)

	for _, table := range []string{"interactions", "user_profiles", "orders WHERE 1=0 --"} {
		_, err := o.Query(context.Background(), QueryRequest{UserID: "mallory", Text: "show the data", Table: table})
		if !errors.Is(err, ErrUnknownTable) {
			t.Errorf("table %q: err = %v, want ErrUnknownTable", table, err)
		}
	}
	if len(ds.executed) != 0 {
		t.Errorf("executed %v, nothing may run against a rejected table", ds.executed)
	}
	if chat.calls.Load() != 0 {
		t.Error("a rejected table must not reach the LLM")
	}
}

func TestQueryAllowsListedTable(t *testing.T) {
	ds := &fakeDataset{result: sampleResult(), tables: []string{"orders", "returns"}}
	o := newTestOrchestrator(ds, &fakeChat{}, nil)

	res, err := o.Query(context.Background(), QueryRequest{UserID: "alice", Text: "show the data", Table: "returns"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.SQLQuery, "FROM returns") {
		t.Errorf("sql = %q, want the requested table", res.SQLQuery)
	}
}

func TestQueryFailureLogsDuration(t *testing.T) {
	ds := &fakeDataset{rowCount: 100}
	chat := &fakeChat{err: &llm.UpstreamError{Status: 529, Message: "overloaded"}, delay: 5 * time.Millisecond}
	log := &fakeLog{}
	o := newTestOrchestrator(ds, chat, log)

	if _, err := o.Query(context.Background(), QueryRequest{UserID: "alice", Text: "forecast revenue trend"}); err == nil {
		t.Fatal("expected error")
	}
	if len(log.saved) != 1 || log.saved[0].Status != "failed" {
		t.Fatalf("interaction log = %+v, want one failed entry", log.saved)
	}
	if log.saved[0].DurationMs <= 0 {
		t.Errorf("duration = %dms, failures must carry the measured duration", log.saved[0].DurationMs)
	}
}

func TestStatsCountDedupedFollowersAsHits(t *testing.T) {
	ds := &fakeDataset{rowCount: 100, result: sampleResult()}
	chat := &blockingChat{release: make(chan struct{})}
	o := newTestOrchestrator(ds, chat, nil)

	req := QueryRequest{UserID: "alice", Text: "forecast next quarter revenue trend"}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Query(context.Background(), req); err != nil {
				t.Error(err)
			}
		}()
	}

	// Hold the upstream call until the second request had a chance to
	// join the collapsed call.
	for chat.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(chat.release)
	wg.Wait()

	// Only one request may pay for the upstream call. The other counts
	// as a hit whether it joined the collapsed call or read the cache.
	s := o.Stats()
	if s.TotalQueries != 2 {
		t.Errorf("total = %d, want 2", s.TotalQueries)
	}
	if got := chat.calls.Load(); got != 1 {
		t.Errorf("llm calls = %d, want 1", got)
	}
	if s.LLMQueries != 1 {
		t.Errorf("llm queries = %d, want 1", s.LLMQueries)
	}
	if s.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", s.CacheHits)
	}
}

func TestStatsCounters(t *testing.T) {
	ds := &fakeDataset{result: sampleResult()}
	o := newTestOrchestrator(ds, &fakeChat{}, nil)

	req := QueryRequest{UserID: "alice", Text: "show orders"}
	o.Query(context.Background(), req)
	o.Query(context.Background(), req)

	s := o.Stats()
	if s.TotalQueries != 2 {
		t.Errorf("total = %d, want 2", s.TotalQueries)
	}
	if s.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", s.CacheHits)
	}
	if s.FastPath != 1 {
		t.Errorf("fast path = %d, want 1", s.FastPath)
	}
	if s.CacheHitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", s.CacheHitRate)
	}
}
