// Package browser defines the narrow interface through which the rest of the
// system reaches the live tab/group state. The browser owns that state; every
// call is fallible and may return data from a different instant than the
// previous call.
package browser

import (
	"context"
	"errors"

	"github.com/lotas/tabgruppen/internal/types"
)

// ErrNotConnected is returned when no extension connection is available.
var ErrNotConnected = errors.New("no extension connected")

// ErrGroupGone is returned when a referenced tab group no longer exists.
var ErrGroupGone = errors.New("group no longer exists")

// Accessor is the tab/group capability of the host browser, reached through
// the extension bridge. Implementations must treat every call as a snapshot
// of a moving target, never a lock on it.
type Accessor interface {
	// CurrentWindow resolves the currently focused window.
	CurrentWindow(ctx context.Context) (int, error)

	// QueryTabs lists all tabs in a window.
	QueryTabs(ctx context.Context, windowID int) ([]types.Tab, error)

	// QueryGroupTabs lists the tabs currently in a group.
	QueryGroupTabs(ctx context.Context, groupID int) ([]types.Tab, error)

	// QueryGroups lists all tab groups in a window.
	QueryGroups(ctx context.Context, windowID int) ([]types.TabGroup, error)

	// GetGroup fetches a single group. Returns ErrGroupGone if the group
	// has been closed since it was last seen.
	GetGroup(ctx context.Context, groupID int) (types.TabGroup, error)

	// GroupTabs creates a new group in the window from the given tab ids
	// and returns the browser-assigned group id.
	GroupTabs(ctx context.Context, windowID int, tabIDs []int) (int, error)

	// UpdateGroup sets a group's title and collapsed state. An empty title
	// leaves the title untouched.
	UpdateGroup(ctx context.Context, groupID int, title string, collapsed bool) error

	// Ungroup removes the given tabs from whatever groups they are in.
	// Tabs that no longer exist are ignored by the browser.
	Ungroup(ctx context.Context, tabIDs []int) error

	// MoveTabToEnd moves a single tab to the end of its window's tab strip.
	MoveTabToEnd(ctx context.Context, tabID int) error

	// SetBadge sets the extension's badge label. Empty text clears it.
	SetBadge(ctx context.Context, text string) error

	// Notify shows a user notification. Kind is one of
	// "info", "success", "warning", "error".
	Notify(ctx context.Context, message, kind string) error
}
