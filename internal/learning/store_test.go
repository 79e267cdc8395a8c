package learning

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "learning.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(id string, ts time.Time) Event {
	return Event{
		ID:        id,
		Timestamp: ts,
		Type:      EventManualMove,
		TabID:     1,
		TabTitle:  "t",
		TabURL:    "https://x.example/p",
		TabDomain: "x.example",
		ToGroup:   "Work",
	}
}

func TestStore_ConfigDefaultsWrittenBack(t *testing.T) {
	store := openTestStore(t)

	cfg, err := store.Config()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Enabled || cfg.MaxHistoryEvents != 500 || cfg.MinConfidence != 0.7 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	cfg.Enabled = false
	if err := store.SetConfig(cfg); err != nil {
		t.Fatal(err)
	}
	got, err := store.Config()
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Error("config change did not persist")
	}
}

func TestStore_EventRoundTrip(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().Truncate(time.Millisecond)

	if err := store.InsertEvent(testEvent("e1", now)); err != nil {
		t.Fatal(err)
	}
	events, err := store.RecentEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	got := events[0]
	if got.ID != "e1" || got.Type != EventManualMove || got.TabDomain != "x.example" {
		t.Errorf("round trip mangled event: %+v", got)
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, now)
	}
}

func TestStore_EvictByAgeAndCount(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	// Three too old, five recent.
	for i := 0; i < 3; i++ {
		store.InsertEvent(testEvent(fmt.Sprintf("old%d", i), now.AddDate(0, 0, -40)))
	}
	for i := 0; i < 5; i++ {
		store.InsertEvent(testEvent(fmt.Sprintf("new%d", i), now.Add(time.Duration(i)*time.Minute)))
	}

	cfg := DefaultConfig()
	cfg.MaxHistoryDays = 30
	cfg.MaxHistoryEvents = 3
	if err := store.Evict(cfg, now); err != nil {
		t.Fatal(err)
	}

	events, err := store.RecentEvents(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events after eviction = %d, want 3", len(events))
	}
	cutoff := now.AddDate(0, 0, -30)
	for _, ev := range events {
		if ev.Timestamp.Before(cutoff) {
			t.Errorf("event %s older than the age bound survived", ev.ID)
		}
	}
	// The count cap keeps the newest.
	if events[len(events)-1].ID != "new4" {
		t.Errorf("newest surviving event = %s, want new4", events[len(events)-1].ID)
	}
}

func TestStore_EvictRetainsAcceptedInsights(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	old := now.AddDate(0, 0, -60)

	insights := []Insight{
		{ID: "i-accepted", GeneratedAt: old, Status: "accepted", Confidence: 0.9, PreferenceText: "p", Category: "domain_preference"},
		{ID: "i-pending", GeneratedAt: old, Status: "pending", Confidence: 0.8, PreferenceText: "q", Category: "anti_pattern"},
		{ID: "i-fresh", GeneratedAt: now, Status: "pending", Confidence: 0.8, PreferenceText: "r", Category: "topic_preference"},
	}
	if err := store.InsertInsights(insights); err != nil {
		t.Fatal(err)
	}
	store.InsertRevision(Revision{ID: "r-old", GeneratedAt: old, Status: "rejected", CurrentPrompt: "a", RevisedPrompt: "b"})
	store.InsertRevision(Revision{ID: "r-accepted", GeneratedAt: old, Status: "accepted", CurrentPrompt: "a", RevisedPrompt: "b"})

	if err := store.Evict(DefaultConfig(), now); err != nil {
		t.Fatal(err)
	}

	accepted, _ := store.InsightsByStatus("accepted")
	if len(accepted) != 1 {
		t.Error("accepted insight must survive regardless of age")
	}
	pending, _ := store.InsightsByStatus("pending")
	if len(pending) != 1 || pending[0].ID != "i-fresh" {
		t.Errorf("pending after eviction = %+v, want only i-fresh", pending)
	}
	rejected, _ := store.RevisionsByStatus("rejected")
	if len(rejected) != 0 {
		t.Error("stale rejected revision should be evicted")
	}
	acceptedRevs, _ := store.RevisionsByStatus("accepted")
	if len(acceptedRevs) != 1 {
		t.Error("accepted revision must survive")
	}
}

func TestStore_ActiveRevision(t *testing.T) {
	store := openTestStore(t)

	active, err := store.ActiveRevision()
	if err != nil {
		t.Fatal(err)
	}
	if active != nil {
		t.Fatal("no revisions yet, active must be nil")
	}

	base := time.Now().Add(-time.Hour)
	store.InsertRevision(Revision{ID: "r1", GeneratedAt: base, Status: "pending", CurrentPrompt: "a", RevisedPrompt: "v1"})
	store.InsertRevision(Revision{ID: "r2", GeneratedAt: base.Add(time.Minute), Status: "pending", CurrentPrompt: "a", RevisedPrompt: "v2"})

	if err := store.UpdateRevisionStatus("r1", "accepted"); err != nil {
		t.Fatal(err)
	}
	active, _ = store.ActiveRevision()
	if active == nil || active.ID != "r1" {
		t.Fatalf("active = %+v, want r1", active)
	}

	// Accepting a later-generated revision supersedes the earlier one.
	if err := store.UpdateRevisionStatus("r2", "accepted"); err != nil {
		t.Fatal(err)
	}
	active, _ = store.ActiveRevision()
	if active == nil || active.ID != "r2" {
		t.Fatalf("active = %+v, want r2 (most recently generated accepted)", active)
	}
}

func TestStore_UpdateStatusUnknownID(t *testing.T) {
	store := openTestStore(t)
	if err := store.UpdateInsightStatus("missing", "accepted"); err == nil {
		t.Error("unknown insight id must error")
	}
	if err := store.UpdateRevisionStatus("missing", "rejected"); err == nil {
		t.Error("unknown revision id must error")
	}
}

func TestStore_AnalysisState(t *testing.T) {
	store := openTestStore(t)

	last, count, err := store.AnalysisState()
	if err != nil {
		t.Fatal(err)
	}
	if !last.IsZero() || count != 0 {
		t.Errorf("fresh store state = %v/%d", last, count)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.BumpEventCount(); err != nil {
			t.Fatal(err)
		}
	}
	_, count, _ = store.AnalysisState()
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	ts := time.Now().Truncate(time.Millisecond)
	if err := store.SetAnalysisState(ts, 0); err != nil {
		t.Fatal(err)
	}
	last, count, _ = store.AnalysisState()
	if !last.Equal(ts) || count != 0 {
		t.Errorf("state = %v/%d, want %v/0", last, count, ts)
	}
}
