package types

import "time"

// UngroupedID is the browser's sentinel for a tab that belongs to no group.
const UngroupedID = -1

// Tab represents a single browser tab as reported by the extension.
// The browser owns its lifetime; a tab can vanish between any two queries.
type Tab struct {
	ID           int
	URL          string
	Title        string
	WindowID     int
	GroupID      int // UngroupedID if ungrouped
	Index        int
	LastAccessed time.Time
	Favicon      string
}

// Grouped reports whether the tab currently belongs to a group.
func (t Tab) Grouped() bool {
	return t.GroupID != UngroupedID
}

// TabGroup represents a browser tab group.
type TabGroup struct {
	ID        int
	Title     string
	Color     string
	Collapsed bool
	WindowID  int
}

// Settings are the user-editable behavior switches, read before every
// grouping run and never mutated by the pipeline.
type Settings struct {
	ShowName            bool   `json:"showName"`
	SpecialRequirements string `json:"specialRequirements"`
	KeepMiscTab         bool   `json:"keepMiscTab"`
	KeepExistingGroups  bool   `json:"keepExistingGroups"`
	AutoGroup           bool   `json:"autoGroup"`
}

// DefaultSettings returns the settings used when none are persisted yet.
func DefaultSettings() Settings {
	return Settings{
		ShowName: true,
	}
}
