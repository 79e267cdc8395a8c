// Package grouping drives the core pipeline: snapshot tabs, ask the model
// for a plan, reconcile it against live state, and apply it.
package grouping

import (
	"context"
	"strings"
	"sync"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/learning"
	"github.com/lotas/tabgruppen/internal/provider"
	"github.com/lotas/tabgruppen/internal/types"
)

// catchAll lists reserved names that are never materialized as groups.
// Entries carrying one are skipped and their tabs stay ungrouped.
var catchAll = map[string]bool{
	"":       true,
	"other":  true,
	"others": true,
}

// miscGroupName titles the leftover group created when keepMiscTab is set.
const miscGroupName = "Misc"

// eventSink runs event recording off the caller's path. flush waits for
// all emitted events so tests can assert on storage deterministically.
type eventSink struct {
	fn func(learning.Event)
	wg sync.WaitGroup
}

func (s *eventSink) emit(ev learning.Event) {
	if s.fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fn(ev)
	}()
}

func (s *eventSink) flush() {
	s.wg.Wait()
}

// Applier turns a validated plan into browser mutations. Per-entry
// failures are logged and skipped; only a failed tab-list read aborts.
type Applier struct {
	acc    browser.Accessor
	events eventSink
}

// NewApplier wires an applier. record may be nil to disable event
// recording; when set it is called on background goroutines.
func NewApplier(acc browser.Accessor, record func(learning.Event)) *Applier {
	return &Applier{acc: acc, events: eventSink{fn: record}}
}

// Flush blocks until all in-flight event recordings have completed.
func (a *Applier) Flush() {
	a.events.flush()
}

// Apply processes plan entries in order, then handles leftover ungrouped
// tabs: collected into a collapsed "Misc" group when keepMisc is set,
// otherwise moved one at a time to the end of the tab strip.
func (a *Applier) Apply(ctx context.Context, entries []provider.PlanEntry, windowID int, showNames, keepMisc bool) error {
	tabs, err := a.acc.QueryTabs(ctx, windowID)
	if err != nil {
		return err
	}
	byID := make(map[int]types.Tab, len(tabs))
	for _, t := range tabs {
		byID[t.ID] = t
	}

	for _, entry := range entries {
		name := strings.TrimSpace(entry.GroupName)
		if catchAll[strings.ToLower(name)] {
			applog.Info("apply.skip_catchall", "name", entry.GroupName)
			continue
		}

		// Tabs closed while the model call was in flight drop out here.
		var ids []int
		for _, id := range entry.IDs {
			if _, ok := byID[id]; ok {
				ids = append(ids, id)
			}
		}
		if len(ids) < 2 {
			applog.Info("apply.skip_small", "name", name, "survivors", len(ids))
			continue
		}

		groupID, err := a.acc.GroupTabs(ctx, windowID, ids)
		if err != nil {
			applog.Error("apply.group", err, "name", name)
			continue
		}

		title := ""
		if showNames {
			title = name
		}
		if err := a.acc.UpdateGroup(ctx, groupID, title, true); err != nil {
			applog.Error("apply.update", err, "name", name, "group", groupID)
		}

		for _, id := range ids {
			t := byID[id]
			a.events.emit(learning.Event{
				Type:        learning.EventAIGroup,
				TabID:       t.ID,
				TabTitle:    t.Title,
				TabURL:      t.URL,
				ToGroup:     name,
				AISuggested: true,
			})
		}
		applog.Info("apply.grouped", "name", name, "group", groupID, "tabs", len(ids))
	}

	return a.handleLeftovers(ctx, windowID, keepMisc)
}

func (a *Applier) handleLeftovers(ctx context.Context, windowID int, keepMisc bool) error {
	tabs, err := a.acc.QueryTabs(ctx, windowID)
	if err != nil {
		return err
	}
	var loose []types.Tab
	for _, t := range tabs {
		if !t.Grouped() {
			loose = append(loose, t)
		}
	}
	if len(loose) == 0 {
		return nil
	}

	if keepMisc {
		ids := make([]int, 0, len(loose))
		for _, t := range loose {
			ids = append(ids, t.ID)
		}
		groupID, err := a.acc.GroupTabs(ctx, windowID, ids)
		if err != nil {
			applog.Error("apply.misc", err)
			return nil
		}
		if err := a.acc.UpdateGroup(ctx, groupID, miscGroupName, true); err != nil {
			applog.Error("apply.misc_update", err, "group", groupID)
		}
		applog.Info("apply.misc", "group", groupID, "tabs", len(ids))
		return nil
	}

	for _, t := range loose {
		if err := a.acc.MoveTabToEnd(ctx, t.ID); err != nil {
			applog.Error("apply.move", err, "tab", t.ID)
		}
	}
	return nil
}
