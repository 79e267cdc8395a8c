package grouping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/learning"
	"github.com/lotas/tabgruppen/internal/types"
)

// Merge validation and outcome errors. Validation failures happen before
// any browser call, so invalid input has no side effects.
var (
	ErrTooFewGroups  = errors.New("merge needs at least two groups")
	ErrEmptyName     = errors.New("merge needs a non-empty name")
	ErrNoTabsFound   = errors.New("no tabs found in the selected groups")
	ErrAllTabsClosed = errors.New("all tabs were closed during merge")
)

// Merger collapses several existing groups into one.
type Merger struct {
	acc    browser.Accessor
	events eventSink
}

// NewMerger wires a merger. record may be nil.
func NewMerger(acc browser.Accessor, record func(learning.Event)) *Merger {
	return &Merger{acc: acc, events: eventSink{fn: record}}
}

// Flush blocks until all in-flight event recordings have completed.
func (m *Merger) Flush() {
	m.events.flush()
}

// MergeGroups dissolves the given groups and regroups their surviving tabs
// under newName, returning the new group id. Tabs that close during the
// round trips are dropped silently; losing all of them is ErrAllTabsClosed.
func (m *Merger) MergeGroups(ctx context.Context, groupIDs []int, newName string) (int, error) {
	name := strings.TrimSpace(newName)
	if len(groupIDs) < 2 {
		return 0, ErrTooFewGroups
	}
	if name == "" {
		return 0, ErrEmptyName
	}

	windowID, err := m.acc.CurrentWindow(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve window: %w", err)
	}

	var titles []string
	collected := make(map[int]types.Tab)
	for _, gid := range groupIDs {
		g, err := m.acc.GetGroup(ctx, gid)
		if errors.Is(err, browser.ErrGroupGone) {
			return 0, fmt.Errorf("group %d no longer exists: %w", gid, err)
		}
		if err != nil {
			return 0, fmt.Errorf("get group %d: %w", gid, err)
		}
		if g.WindowID != windowID {
			return 0, fmt.Errorf("group %d belongs to a different window", gid)
		}
		titles = append(titles, g.Title)

		tabs, err := m.acc.QueryGroupTabs(ctx, gid)
		if err != nil {
			return 0, fmt.Errorf("query tabs of group %d: %w", gid, err)
		}
		for _, t := range tabs {
			collected[t.ID] = t
		}
	}
	if len(collected) == 0 {
		return 0, ErrNoTabsFound
	}

	// Dissolve the old groups first so the new one doesn't collide with
	// their boundaries.
	ids := make([]int, 0, len(collected))
	for id := range collected {
		ids = append(ids, id)
	}
	if err := m.acc.Ungroup(ctx, ids); err != nil {
		return 0, fmt.Errorf("ungroup: %w", err)
	}

	// The ungroup round trip yielded control; re-validate before creating.
	fresh, err := m.acc.QueryTabs(ctx, windowID)
	if err != nil {
		return 0, fmt.Errorf("re-query tabs: %w", err)
	}
	var survivors []int
	for _, t := range fresh {
		if _, ok := collected[t.ID]; ok {
			survivors = append(survivors, t.ID)
		}
	}
	if len(survivors) == 0 {
		return 0, ErrAllTabsClosed
	}

	newID, err := m.acc.GroupTabs(ctx, windowID, survivors)
	if err != nil {
		return 0, fmt.Errorf("create merged group: %w", err)
	}
	if err := m.acc.UpdateGroup(ctx, newID, name, false); err != nil {
		applog.Error("merge.update", err, "group", newID)
	}

	from := strings.Join(titles, ", ")
	for _, id := range survivors {
		t := collected[id]
		m.events.emit(learning.Event{
			Type:        learning.EventManualMove,
			TabID:       t.ID,
			TabTitle:    t.Title,
			TabURL:      t.URL,
			FromGroup:   from,
			ToGroup:     name,
			AISuggested: false,
		})
	}
	applog.Info("merge.done", "group", newID, "name", name, "tabs", len(survivors))
	return newID, nil
}
