package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetUserProfileKey(userID, key, value string) error
	GetUserProfileKeys(userID string) (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cachedProfile struct {
	profile  Profile
	cachedAt time.Time
}

// Manager provides cached, structured access to per-user cognitive
// profiles stored in SQLite.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu     sync.RWMutex
	cached map[string]cachedProfile
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		cached: make(map[string]cachedProfile),
	}
}

// GetProfile reads a user's profile keys from storage (or cache) and
// assembles a structured Profile. Unknown users get Default.
func (m *Manager) GetProfile(userID string) (Profile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if c, ok := m.cached[userID]; ok && m.clock.Now().Before(c.cachedAt.Add(m.ttl)) {
		p := deepCopy(c.profile)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if c, ok := m.cached[userID]; ok && m.clock.Now().Before(c.cachedAt.Add(m.ttl)) {
		return deepCopy(c.profile), nil
	}

	return m.loadLocked(userID)
}

// loadLocked reads from the store and refreshes the cache. Caller holds mu.
func (m *Manager) loadLocked(userID string) (Profile, error) {
	keys, err := m.store.GetUserProfileKeys(userID)
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys for %s: %w", userID, err)
	}

	p := buildProfile(userID, keys)
	m.cached[userID] = cachedProfile{profile: p, cachedAt: m.clock.Now()}
	return deepCopy(p), nil
}

// SetLevels overrides a user's expertise and capacity. Zero values keep
// the current setting; out-of-range values are clamped.
func (m *Manager) SetLevels(userID string, expertise, capacity int) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.loadLocked(userID)
	if err != nil {
		return Profile{}, err
	}

	if expertise != 0 {
		p.ExpertiseLevel = clampLevel(expertise)
	}
	if capacity != 0 {
		p.ProcessingCapacity = clampLevel(capacity)
	}

	return p, m.persistLocked(p)
}

// levelUpStreak is how many consecutive high-load, unexplained encounters
// promote the user one expertise level.
const levelUpStreak = 3

// RecordEncounter appends one query encounter to the user's history and
// applies the learning rules: concept mastery follows the highest
// unexplained complexity the user handled, and a streak of high-load
// encounters without explanations raises overall expertise.
func (m *Manager) RecordEncounter(userID string, e Encounter) (Profile, error) {
	if e.At.IsZero() {
		e.At = m.clock.Now()
	}
	e.Complexity = clampLevel(e.Complexity)

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.loadLocked(userID)
	if err != nil {
		return Profile{}, err
	}

	p.History = append(p.History, e)
	if len(p.History) > historyCap {
		p.History = p.History[len(p.History)-historyCap:]
	}

	if e.Concept != "" && !e.Explained && e.Complexity > p.ConceptLevel(e.Concept) {
		p.ConceptLevels[e.Concept] = e.Complexity
	}

	// Promote once per completed streak, not on every encounter past it.
	if streak := trailingUnexplainedHighLoad(p.History); streak > 0 && streak%levelUpStreak == 0 && p.ExpertiseLevel < MaxLevel {
		p.ExpertiseLevel++
		slog.Info("user expertise promoted", "user", userID, "level", p.ExpertiseLevel)
	}

	return p, m.persistLocked(p)
}

// trailingUnexplainedHighLoad counts the run of most-recent encounters
// with complexity >= 4 that the user absorbed without an explanation.
func trailingUnexplainedHighLoad(history []Encounter) int {
	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Complexity < 4 || history[i].Explained {
			break
		}
		streak++
	}
	return streak
}

// persistLocked writes the profile back and refreshes the cache.
// Caller holds mu.
func (m *Manager) persistLocked(p Profile) error {
	concepts, err := json.Marshal(p.ConceptLevels)
	if err != nil {
		return fmt.Errorf("marshalling concept levels: %w", err)
	}
	history, err := json.Marshal(p.History)
	if err != nil {
		return fmt.Errorf("marshalling history: %w", err)
	}

	pairs := map[string]string{
		"expertise_level":     strconv.Itoa(p.ExpertiseLevel),
		"processing_capacity": strconv.Itoa(p.ProcessingCapacity),
		"concept_levels":      string(concepts),
		"history":             string(history),
	}
	for k, v := range pairs {
		if err := m.store.SetUserProfileKey(p.UserID, k, v); err != nil {
			return fmt.Errorf("setting profile key %q: %w", k, err)
		}
	}

	m.cached[p.UserID] = cachedProfile{profile: deepCopy(p), cachedAt: m.clock.Now()}
	return nil
}

func deepCopy(p Profile) Profile {
	cp := p
	cp.ConceptLevels = make(map[string]int, len(p.ConceptLevels))
	for k, v := range p.ConceptLevels {
		cp.ConceptLevels[k] = v
	}
	if p.History != nil {
		cp.History = make([]Encounter, len(p.History))
		copy(cp.History, p.History)
	}
	return cp
}

// buildProfile assembles a Profile from flat key-value pairs, falling back
// to defaults for anything missing or malformed.
func buildProfile(userID string, keys map[string]string) Profile {
	p := Default(userID)

	if v, ok := keys["expertise_level"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.ExpertiseLevel = clampLevel(n)
		} else {
			slog.Warn("malformed profile key, skipping", "user", userID, "key", "expertise_level", "error", err)
		}
	}
	if v, ok := keys["processing_capacity"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.ProcessingCapacity = clampLevel(n)
		} else {
			slog.Warn("malformed profile key, skipping", "user", userID, "key", "processing_capacity", "error", err)
		}
	}
	if v, ok := keys["concept_levels"]; ok {
		if err := json.Unmarshal([]byte(v), &p.ConceptLevels); err != nil {
			slog.Warn("malformed profile key, skipping", "user", userID, "key", "concept_levels", "error", err)
			p.ConceptLevels = make(map[string]int)
		}
	}
	if v, ok := keys["history"]; ok {
		if err := json.Unmarshal([]byte(v), &p.History); err != nil {
			slog.Warn("malformed profile key, skipping", "user", userID, "key", "history", "error", err)
			p.History = nil
		}
	}

	return p
}
