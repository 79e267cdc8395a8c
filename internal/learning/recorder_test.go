package learning

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeBadger struct {
	mu     sync.Mutex
	badges []string
}

func (b *fakeBadger) SetBadge(ctx context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.badges = append(b.badges, text)
	return nil
}

func TestRecord_FillsIDTimestampAndDomain(t *testing.T) {
	store := openTestStore(t)
	rec := NewRecorder(store, nil)

	err := rec.Record(context.Background(), Event{
		Type:   EventManualMove,
		TabID:  7,
		TabURL: "https://sub.example.org/page?q=1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, _ := store.RecentEvents(10)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.ID == "" {
		t.Error("id not generated")
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not filled")
	}
	if ev.TabDomain != "sub.example.org" {
		t.Errorf("domain = %q", ev.TabDomain)
	}
}

func TestRecord_DisabledIsNoOp(t *testing.T) {
	store := openTestStore(t)
	cfg, _ := store.Config()
	cfg.Enabled = false
	store.SetConfig(cfg)

	rec := NewRecorder(store, nil)
	if err := rec.Record(context.Background(), Event{Type: EventAIGroup, TabID: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := store.CountEvents(); n != 0 {
		t.Errorf("events = %d, want 0 while disabled", n)
	}
}

func TestRecord_EvictsOnThreshold(t *testing.T) {
	store := openTestStore(t)
	cfg, _ := store.Config()
	cfg.MaxHistoryEvents = 3
	store.SetConfig(cfg)

	rec := NewRecorder(store, nil)
	for i := 0; i < 5; i++ {
		if err := rec.Record(context.Background(), Event{Type: EventManualMove, TabID: i}); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := store.CountEvents(); n != 3 {
		t.Errorf("events = %d, want the bound of 3", n)
	}
}

func TestRecord_AutoAnalysisBadge(t *testing.T) {
	store := openTestStore(t)
	cfg, _ := store.Config()
	cfg.AutoAnalyzeEnabled = true
	cfg.AnalyzeAfterEvents = minAnalysisEvents
	cfg.AnalyzeIntervalDays = 0
	store.SetConfig(cfg)

	badge := &fakeBadger{}
	rec := NewRecorder(store, badge)

	for i := 0; i < minAnalysisEvents-1; i++ {
		rec.Record(context.Background(), Event{Type: EventManualMove, TabID: i})
	}
	badge.mu.Lock()
	early := len(badge.badges)
	badge.mu.Unlock()
	if early != 0 {
		t.Error("badge raised before the event threshold")
	}

	rec.Record(context.Background(), Event{Type: EventManualMove, TabID: 99})
	badge.mu.Lock()
	defer badge.mu.Unlock()
	if len(badge.badges) == 0 || badge.badges[0] != analysisBadge {
		t.Errorf("badges = %v, want the analysis marker", badge.badges)
	}
}

func TestRecord_IntervalTriggerFiresWhenNeverAnalyzed(t *testing.T) {
	store := openTestStore(t)
	cfg, _ := store.Config()
	cfg.AutoAnalyzeEnabled = true
	cfg.AnalyzeAfterEvents = 0
	cfg.AnalyzeIntervalDays = 7
	store.SetConfig(cfg)

	badge := &fakeBadger{}
	rec := NewRecorder(store, badge)

	// A store with no analysis on record is overdue as soon as it holds
	// enough events for a run.
	for i := 0; i < minAnalysisEvents; i++ {
		rec.Record(context.Background(), Event{Type: EventManualMove, TabID: i})
	}
	badge.mu.Lock()
	defer badge.mu.Unlock()
	if len(badge.badges) == 0 || badge.badges[0] != analysisBadge {
		t.Errorf("badges = %v, want the analysis marker", badge.badges)
	}
}

func TestRecord_IntervalTriggerQuietAfterRecentAnalysis(t *testing.T) {
	store := openTestStore(t)
	cfg, _ := store.Config()
	cfg.AutoAnalyzeEnabled = true
	cfg.AnalyzeAfterEvents = 0
	cfg.AnalyzeIntervalDays = 7
	store.SetConfig(cfg)
	if err := store.SetAnalysisState(time.Now(), 0); err != nil {
		t.Fatal(err)
	}

	badge := &fakeBadger{}
	rec := NewRecorder(store, badge)
	for i := 0; i < minAnalysisEvents; i++ {
		rec.Record(context.Background(), Event{Type: EventManualMove, TabID: i})
	}
	badge.mu.Lock()
	defer badge.mu.Unlock()
	if len(badge.badges) != 0 {
		t.Errorf("badges = %v, want none inside the analysis interval", badge.badges)
	}
}

func TestRecord_NoBadgeWhenAutoAnalyzeOff(t *testing.T) {
	store := openTestStore(t)
	cfg, _ := store.Config()
	cfg.AutoAnalyzeEnabled = false
	cfg.AnalyzeAfterEvents = 1
	store.SetConfig(cfg)

	badge := &fakeBadger{}
	rec := NewRecorder(store, badge)
	for i := 0; i < 3; i++ {
		rec.Record(context.Background(), Event{Type: EventManualMove, TabID: i, Timestamp: time.Now()})
	}
	if len(badge.badges) != 0 {
		t.Errorf("badges = %v, want none while auto-analyze is off", badge.badges)
	}
}
