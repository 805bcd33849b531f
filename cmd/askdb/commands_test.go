package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/perebor/askdb/internal/agent"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func TestQueryRequest_Wire(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/query": `{"request_id":"req-1","sql_query":"SELECT region, SUM(sales) AS total_sales FROM orders GROUP BY region ORDER BY total_sales DESC LIMIT 5","source":"fast_path","row_count":4,"data":{"columns":["region","total_sales"],"rows":[["West",100]]}}`,
	})

	client := ts.client()
	resp, err := client.post("/v1/query", agent.QueryRequest{
		UserID: "alice",
		Text:   "show me top 5 regions by sales",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res agent.Result
	if err := decodeJSON(resp, &res); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if res.Source != agent.SourceFastPath {
		t.Errorf("source = %q, want fast_path", res.Source)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["user_id"] != "alice" {
		t.Errorf("body.user_id = %v, want alice", body["user_id"])
	}
	if body["query"] != "show me top 5 regions by sales" {
		t.Errorf("body.query = %v", body["query"])
	}
}

func TestStatsDecoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /stats": `{"total_queries":10,"cache_hits":4,"cache_hit_rate":0.4,"avg_duration_ms":12.5,"cache":{"entries":3,"hits":4,"misses":6}}`,
	})

	resp, err := ts.client().get("/stats")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var snap agent.Snapshot
	if err := decodeJSON(resp, &snap); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if snap.TotalQueries != 10 || snap.CacheHits != 4 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Cache.Entries != 3 {
		t.Errorf("cache entries = %d, want 3", snap.Cache.Entries)
	}
}

func TestErrorEnvelopeSurfaced(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	resp, err := ts.client().get("/nope")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var out any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if want := "server returned 404"; !bytes.Contains([]byte(err.Error()), []byte(want)) {
		t.Errorf("error = %q, want it to contain %q", err, want)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := pidFilePath(dir)
	if filepath.Dir(path) != dir {
		t.Fatalf("pid path %q not under %q", path, dir)
	}

	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile error: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile error: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d, want positive", pid)
	}

	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error reading removed PID file")
	}
}
