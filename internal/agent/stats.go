package agent

import (
	"sync"
	"time"

	"github.com/perebor/askdb/internal/cache"
)

// PerformanceStats accumulates query counters for the lifetime of the
// process. The cache keeps its own hit/miss counters; Snapshot merges both.
type PerformanceStats struct {
	mu            sync.Mutex
	totalQueries  int64
	cacheHits     int64
	fastPath      int64
	llmQueries    int64
	failures      int64
	totalDuration time.Duration
}

func (s *PerformanceStats) record(source string, d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalQueries++
	s.totalDuration += d
	if failed {
		s.failures++
		return
	}
	switch source {
	case SourceCache:
		s.cacheHits++
	case SourceFastPath:
		s.fastPath++
	case SourceLLM:
		s.llmQueries++
	}
}

// Snapshot is a point-in-time view of the performance counters.
type Snapshot struct {
	TotalQueries  int64       `json:"total_queries"`
	CacheHits     int64       `json:"cache_hits"`
	FastPath      int64       `json:"fast_path_queries"`
	LLMQueries    int64       `json:"llm_queries"`
	Failures      int64       `json:"failures"`
	CacheHitRate  float64     `json:"cache_hit_rate"`
	AvgDurationMs float64     `json:"avg_duration_ms"`
	Cache         cache.Stats `json:"cache"`
}

// Snapshot merges the orchestrator counters with the cache's own.
func (s *PerformanceStats) Snapshot(cs cache.Stats) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalQueries: s.totalQueries,
		CacheHits:    s.cacheHits,
		FastPath:     s.fastPath,
		LLMQueries:   s.llmQueries,
		Failures:     s.failures,
		Cache:        cs,
	}
	if s.totalQueries > 0 {
		snap.CacheHitRate = float64(s.cacheHits) / float64(s.totalQueries)
		snap.AvgDurationMs = float64(s.totalDuration.Milliseconds()) / float64(s.totalQueries)
	}
	return snap
}
