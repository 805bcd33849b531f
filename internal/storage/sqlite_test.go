package storage

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApplied(t *testing.T) {
	s := newTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations error: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least 2 migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("versions not ascending: %v", versions)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	first, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()
	second, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(first) != len(second) {
		t.Errorf("migration count changed across reopens: %v vs %v", first, second)
	}
}

func TestInteractionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := Interaction{
		ID:              "ix-1",
		CreatedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		UserID:          "alice",
		UserQuery:       "show me top 5 regions by sales",
		SQLQuery:        "SELECT region FROM orders LIMIT 5",
		Source:          "fast_path",
		ComplexityScore: 2,
		RowCount:        5,
		DurationMs:      12,
	}
	if err := s.SaveInteraction(in); err != nil {
		t.Fatalf("SaveInteraction error: %v", err)
	}

	got, err := s.GetInteraction("ix-1")
	if err != nil {
		t.Fatalf("GetInteraction error: %v", err)
	}
	if got.UserQuery != in.UserQuery || got.Source != in.Source {
		t.Errorf("got %+v", got)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want empty status defaulted to completed", got.Status)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, in.CreatedAt)
	}
}

func TestGetInteractionNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetInteraction("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateFeedback(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveInteraction(Interaction{ID: "ix-1", CreatedAt: time.Now(), UserID: "alice"}); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateFeedback("ix-1", 1, "helpful"); err != nil {
		t.Fatalf("UpdateFeedback error: %v", err)
	}
	got, err := s.GetInteraction("ix-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.FeedbackScore != 1 || got.FeedbackNotes != "helpful" {
		t.Errorf("feedback not persisted: %+v", got)
	}

	if err := s.UpdateFeedback("missing", 1, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for unknown id", err)
	}
}

func TestGetRecentInteractions(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		err := s.SaveInteraction(Interaction{
			ID:        string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UserID:    "alice",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetRecentInteractions(2)
	if err != nil {
		t.Fatalf("GetRecentInteractions error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("order = %s, %s; want newest first", got[0].ID, got[1].ID)
	}
}

func TestUserProfileKeys(t *testing.T) {
	s := newTestStore(t)

	keys, err := s.GetUserProfileKeys("unknown")
	if err != nil {
		t.Fatalf("GetUserProfileKeys error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("unknown user should yield empty map, got %v", keys)
	}

	if err := s.SetUserProfileKey("alice", "expertise_level", "3"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetUserProfileKey("alice", "expertise_level", "4"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetUserProfileKey("alice", "processing_capacity", "2"); err != nil {
		t.Fatal(err)
	}

	keys, err = s.GetUserProfileKeys("alice")
	if err != nil {
		t.Fatal(err)
	}
	if keys["expertise_level"] != "4" {
		t.Errorf("expertise_level = %q, want upserted value 4", keys["expertise_level"])
	}
	if keys["processing_capacity"] != "2" {
		t.Errorf("processing_capacity = %q", keys["processing_capacity"])
	}
}
