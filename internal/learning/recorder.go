package learning

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/lotas/tabgruppen/internal/applog"
)

// Badger pushes a short badge marker to the browser. Satisfied by the
// bridge accessor; nil disables badge suggestions.
type Badger interface {
	SetBadge(ctx context.Context, text string) error
}

// analysisBadge marks that enough activity has accumulated for a learning
// analysis run.
const analysisBadge = "L"

// Recorder appends events to the store, applying the enabled check,
// eviction, and the auto-analysis trigger.
type Recorder struct {
	store *Store
	badge Badger
}

// NewRecorder wires a recorder to its store. badge may be nil.
func NewRecorder(store *Store, badge Badger) *Recorder {
	return &Recorder{store: store, badge: badge}
}

// Record appends one event. If learning is disabled it is a silent no-op.
// A missing ID or timestamp is filled in here so callers only describe
// what happened.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	cfg, err := r.store.Config()
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.TabDomain == "" && ev.TabURL != "" {
		ev.TabDomain = Domain(ev.TabURL)
	}

	if err := r.store.InsertEvent(ev); err != nil {
		return err
	}
	if err := r.store.Evict(cfg, time.Now()); err != nil {
		return err
	}

	count, err := r.store.BumpEventCount()
	if err != nil {
		return err
	}
	applog.Debug("learning.recorded", "type", ev.Type, "tab", ev.TabID, "since_analysis", count)

	if r.shouldSuggestAnalysis(cfg, count) && r.badge != nil {
		if err := r.badge.SetBadge(ctx, analysisBadge); err != nil {
			applog.Error("learning.badge", err)
		}
	}
	return nil
}

// shouldSuggestAnalysis reports whether either auto-analysis trigger has
// fired: the per-event counter or the wall-clock interval. Neither fires
// before the store holds enough events for an analysis run to succeed.
func (r *Recorder) shouldSuggestAnalysis(cfg Config, eventsSince int) bool {
	if !cfg.AutoAnalyzeEnabled {
		return false
	}
	total, err := r.store.CountEvents()
	if err != nil || total < minAnalysisEvents {
		return false
	}
	if cfg.AnalyzeAfterEvents > 0 && eventsSince >= cfg.AnalyzeAfterEvents {
		return true
	}
	if cfg.AnalyzeIntervalDays > 0 {
		last, _, err := r.store.AnalysisState()
		if err != nil {
			return false
		}
		// A store that has never been analyzed is overdue by definition.
		if last.IsZero() || time.Since(last) >= time.Duration(cfg.AnalyzeIntervalDays)*24*time.Hour {
			return true
		}
	}
	return false
}

// Domain extracts the registrable host from a URL, empty on parse failure.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
