// Package agent orchestrates query answering: cache lookup, heuristic
// triage, sampling, LLM SQL generation, execution, and adaptive
// explanation. One Orchestrator serves all users and is safe for
// concurrent use.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/perebor/askdb/internal/cache"
	"github.com/perebor/askdb/internal/classify"
	"github.com/perebor/askdb/internal/explain"
	"github.com/perebor/askdb/internal/llm"
	"github.com/perebor/askdb/internal/profile"
	"github.com/perebor/askdb/internal/sample"
	"github.com/perebor/askdb/internal/storage"
)

// Result sources.
const (
	SourceCache    = "cache"
	SourceFastPath = "fast_path"
	SourceLLM      = "llm"
)

// defaultTable is queried when a request names none.
const defaultTable = "orders"

// ErrEmptyQuery rejects blank query text before any work happens.
var ErrEmptyQuery = errors.New("query text is empty")

// ErrUnknownTable rejects requests naming a table outside the dataset.
var ErrUnknownTable = errors.New("unknown table")

// Dataset is the slice of storage.Store the orchestrator reads data through.
type Dataset interface {
	TableNames(ctx context.Context) ([]string, error)
	RowCount(ctx context.Context, table string) (int64, error)
	SampleRows(ctx context.Context, table string, plan sample.Plan) (storage.ResultSet, error)
	SchemaContext(ctx context.Context) (string, error)
	ExecuteReadOnly(ctx context.Context, query string) (storage.ResultSet, error)
}

// InteractionLog records answered and failed queries. Implemented by
// storage.Store.
type InteractionLog interface {
	SaveInteraction(i storage.Interaction) error
}

// Chatter is the LLM client surface the orchestrator needs.
type Chatter interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// QueryRequest is one natural-language question from one user.
type QueryRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"query"`
	Table  string `json:"table,omitempty"`
}

// Result is the answer to a QueryRequest.
type Result struct {
	RequestID       string               `json:"request_id"`
	SQLQuery        string               `json:"sql_query"`
	Data            storage.ResultSet    `json:"data"`
	Source          string               `json:"source"`
	ComplexityScore int                  `json:"complexity_score"`
	Concept         string               `json:"concept,omitempty"`
	Explanation     *explain.Explanation `json:"explanation,omitempty"`
	RowCount        int                  `json:"row_count"`
	Truncated       bool                 `json:"truncated,omitempty"`
	DurationMs      int64                `json:"duration_ms"`
	CacheHit        bool                 `json:"cache_hit"`
}

// Config carries the orchestrator's tuning knobs.
type Config struct {
	CacheTTL       time.Duration
	ExplainEnabled bool
}

// Orchestrator wires the pipeline together.
type Orchestrator struct {
	cfg        Config
	cache      *cache.Cache
	classifier *classify.Classifier
	planner    *sample.Planner
	chat       Chatter
	dataset    Dataset
	log        InteractionLog
	profiles   *profile.Manager
	explainer  *explain.Engine
	stats      PerformanceStats
	group      singleflight.Group
}

// New creates an Orchestrator. All collaborators are required except the
// explainer, which may be nil when explanations are disabled.
func New(cfg Config, c *cache.Cache, cl *classify.Classifier, pl *sample.Planner, chat Chatter, ds Dataset, il InteractionLog, pm *profile.Manager, ex *explain.Engine) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		cache:      c,
		classifier: cl,
		planner:    pl,
		chat:       chat,
		dataset:    ds,
		log:        il,
		profiles:   pm,
		explainer:  ex,
	}
}

// Stats returns merged orchestrator and cache counters.
func (o *Orchestrator) Stats() Snapshot {
	return o.stats.Snapshot(o.cache.Stats())
}

// ClearCache drops cached query results. An empty scope clears everything.
func (o *Orchestrator) ClearCache(scope string) int {
	return o.cache.Clear(scope)
}

// Query answers one request. Identical concurrent requests are collapsed
// into a single execution; repeated requests within the cache TTL are
// served from cache. LLM failures surface to the caller and are never
// cached.
func (o *Orchestrator) Query(ctx context.Context, req QueryRequest) (Result, error) {
	start := time.Now()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, ErrEmptyQuery
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}
	if req.Table == "" {
		req.Table = defaultTable
	} else if req.Table != defaultTable {
		if err := o.checkTable(ctx, req.Table); err != nil {
			return Result{}, err
		}
	}

	key := "query:" + cache.Fingerprint(req.UserID, strings.ToLower(text), req.Table)

	v, err, shared := o.group.Do(key, func() (any, error) {
		return o.answer(ctx, req, text, key)
	})

	duration := time.Since(start)
	if err != nil {
		o.stats.record("", duration, true)
		o.logInteraction(req, Result{DurationMs: duration.Milliseconds()}, "failed")
		return Result{}, err
	}

	res := v.(Result)
	res.RequestID = uuid.NewString()
	res.DurationMs = duration.Milliseconds()
	if shared && res.Source != SourceCache {
		// Followers of a collapsed call got a fresh answer, not a cached one,
		// but it cost them no upstream work either.
		res.CacheHit = true
	}

	statSource := res.Source
	if res.CacheHit {
		statSource = SourceCache
	}
	o.stats.record(statSource, duration, false)
	o.logInteraction(req, res, "completed")
	return res, nil
}

// checkTable refuses table names that are not part of the dataset. The
// name is spliced into generated SQL, so membership is checked against
// the live table list rather than by shape alone.
func (o *Orchestrator) checkTable(ctx context.Context, table string) error {
	names, err := o.dataset.TableNames(ctx)
	if err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}
	for _, n := range names {
		if n == table {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

// answer produces a Result without request-scoped bookkeeping. It runs at
// most once per cache key at a time (singleflight).
func (o *Orchestrator) answer(ctx context.Context, req QueryRequest, text, key string) (Result, error) {
	if cached, ok := o.cache.Get(key); ok {
		var res Result
		if err := json.Unmarshal(cached, &res); err == nil {
			res.Source = SourceCache
			res.CacheHit = true
			return res, nil
		}
		// A corrupt entry is dropped and recomputed.
		o.cache.Clear(key)
	}

	decision := o.classifier.Classify(text)

	if decision.FastPath {
		if res, ok := o.tryFastPath(ctx, req, text); ok {
			o.cachePut(key, res)
			return res, nil
		}
		slog.Debug("fast path declined, falling back to llm", "matched", decision.Matched)
	}

	res, err := o.llmPath(ctx, req, text)
	if err != nil {
		return Result{}, err
	}

	o.cachePut(key, res)
	return res, nil
}

// tryFastPath answers simple retrieval requests locally. Any failure
// (untemplatable text, bad column guess, execution error) returns ok=false
// so the caller falls back to the LLM.
func (o *Orchestrator) tryFastPath(ctx context.Context, req QueryRequest, text string) (Result, bool) {
	sqlQuery, ok := buildFastSQL(text, req.Table)
	if !ok {
		return Result{}, false
	}

	data, err := o.dataset.ExecuteReadOnly(ctx, sqlQuery)
	if err != nil {
		slog.Debug("fast path execution failed", "sql", sqlQuery, "error", err)
		return Result{}, false
	}

	res := Result{
		SQLQuery:        sqlQuery,
		Source:          SourceFastPath,
		ComplexityScore: classify.Complexity(sqlQuery),
		Concept:         classify.Concept(sqlQuery),
		RowCount:        len(data.Rows),
	}
	res.Data, res.Truncated = o.limitForUser(ctx, req.UserID, res.ComplexityScore, res.Concept, data)
	return res, true
}

// llmPath generates SQL from a schema-and-sample prompt, executes it, and
// attaches an explanation when the user's profile calls for one.
func (o *Orchestrator) llmPath(ctx context.Context, req QueryRequest, text string) (Result, error) {
	rowCount, err := o.dataset.RowCount(ctx, req.Table)
	if err != nil {
		return Result{}, fmt.Errorf("counting rows of %s: %w", req.Table, err)
	}

	plan := o.planner.PlanFor(req.Table, rowCount)
	sampled, err := o.dataset.SampleRows(ctx, req.Table, plan)
	if err != nil {
		return Result{}, fmt.Errorf("sampling %s: %w", req.Table, err)
	}

	schema, err := o.dataset.SchemaContext(ctx)
	if err != nil {
		slog.Warn("schema introspection failed, using fallback schema", "error", err)
		schema = storage.FallbackSchema
	}

	raw, err := o.chat.Complete(ctx, llm.Request{
		System:      buildSQLPrompt(schema, sampled),
		Messages:    []llm.Message{{Role: "user", Content: text}},
		MaxTokens:   1024,
		Temperature: 0,
	})
	if err != nil {
		// Upstream failures surface as-is; they are never cached.
		return Result{}, err
	}

	sqlQuery := cleanSQL(raw)
	if sqlQuery == "" {
		return Result{}, fmt.Errorf("llm returned no usable sql")
	}

	data, err := o.dataset.ExecuteReadOnly(ctx, sqlQuery)
	if err != nil {
		return Result{}, fmt.Errorf("executing generated sql: %w", err)
	}

	res := Result{
		SQLQuery:        sqlQuery,
		Source:          SourceLLM,
		ComplexityScore: classify.Complexity(sqlQuery),
		Concept:         classify.Concept(sqlQuery),
		RowCount:        len(data.Rows),
	}

	p, perr := o.getProfile(req.UserID)
	if perr == nil && o.cfg.ExplainEnabled && o.explainer != nil {
		assessment := o.explainer.Assess(ctx, p, res.ComplexityScore, res.Concept)
		if assessment.NeedsExplanation {
			if ex, eerr := o.explainer.Explain(ctx, p, text, sqlQuery, assessment); eerr == nil {
				res.Explanation = &ex
			} else {
				slog.Warn("explanation generation failed", "error", eerr)
			}
		}
		limit := explain.RowLimit(assessment.Perceived, p.ProcessingCapacity)
		res.Data = data.Limit(limit)
		res.Truncated = len(res.Data.Rows) < len(data.Rows)
		o.recordEncounter(req.UserID, res)
		return res, nil
	}

	res.Data, res.Truncated = o.limitForUser(ctx, req.UserID, res.ComplexityScore, res.Concept, data)
	o.recordEncounter(req.UserID, res)
	return res, nil
}

// limitForUser truncates results to what the user's profile says they
// can absorb at once.
func (o *Orchestrator) limitForUser(ctx context.Context, userID string, complexity int, concept string, data storage.ResultSet) (storage.ResultSet, bool) {
	p, err := o.getProfile(userID)
	if err != nil {
		p = profile.Default(userID)
	}
	limit := explain.RowLimit(p.Perceive(complexity), p.ProcessingCapacity)
	limited := data.Limit(limit)
	return limited, len(limited.Rows) < len(data.Rows)
}

func (o *Orchestrator) getProfile(userID string) (profile.Profile, error) {
	if o.profiles == nil {
		return profile.Default(userID), nil
	}
	return o.profiles.GetProfile(userID)
}

func (o *Orchestrator) recordEncounter(userID string, res Result) {
	if o.profiles == nil {
		return
	}
	_, err := o.profiles.RecordEncounter(userID, profile.Encounter{
		Concept:    res.Concept,
		Complexity: res.ComplexityScore,
		Explained:  res.Explanation != nil,
	})
	if err != nil {
		slog.Warn("recording encounter failed", "user", userID, "error", err)
	}
}

// cachePut stores a completed result. The cached copy drops request-scoped
// fields so each reader gets its own request id and timing.
func (o *Orchestrator) cachePut(key string, res Result) {
	res.RequestID = ""
	res.DurationMs = 0
	res.CacheHit = false
	payload, err := json.Marshal(res)
	if err != nil {
		slog.Warn("marshalling result for cache failed", "error", err)
		return
	}
	o.cache.Put(key, payload, o.cfg.CacheTTL)
}

func (o *Orchestrator) logInteraction(req QueryRequest, res Result, status string) {
	if o.log == nil {
		return
	}
	err := o.log.SaveInteraction(storage.Interaction{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now(),
		UserID:          req.UserID,
		UserQuery:       req.Text,
		SQLQuery:        res.SQLQuery,
		Source:          res.Source,
		Status:          status,
		ComplexityScore: res.ComplexityScore,
		RowCount:        res.RowCount,
		DurationMs:      res.DurationMs,
	})
	if err != nil {
		slog.Warn("saving interaction failed", "error", err)
	}
}
