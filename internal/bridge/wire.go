package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lotas/tabgruppen/internal/types"
)

type wireTab struct {
	ID           int    `json:"id"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	LastAccessed int64  `json:"lastAccessed"`
	GroupID      int    `json:"groupId"`
	WindowID     int    `json:"windowId"`
	Index        int    `json:"index"`
	FavIconURL   string `json:"favIconUrl"`
}

type wireGroup struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Color     string `json:"color"`
	Collapsed bool   `json:"collapsed"`
	WindowID  int    `json:"windowId"`
}

func parseTabs(raw json.RawMessage) ([]types.Tab, error) {
	var wts []wireTab
	if err := json.Unmarshal(raw, &wts); err != nil {
		return nil, fmt.Errorf("parse tabs: %w", err)
	}
	tabs := make([]types.Tab, 0, len(wts))
	for _, wt := range wts {
		tabs = append(tabs, tabFromWire(wt))
	}
	return tabs, nil
}

func parseGroups(raw json.RawMessage) ([]types.TabGroup, error) {
	var wgs []wireGroup
	if err := json.Unmarshal(raw, &wgs); err != nil {
		return nil, fmt.Errorf("parse groups: %w", err)
	}
	groups := make([]types.TabGroup, 0, len(wgs))
	for _, wg := range wgs {
		groups = append(groups, groupFromWire(wg))
	}
	return groups, nil
}

func parseGroup(raw json.RawMessage) (types.TabGroup, error) {
	var wg wireGroup
	if err := json.Unmarshal(raw, &wg); err != nil {
		return types.TabGroup{}, fmt.Errorf("parse group: %w", err)
	}
	return groupFromWire(wg), nil
}

func tabFromWire(wt wireTab) types.Tab {
	groupID := wt.GroupID
	if groupID == 0 {
		groupID = types.UngroupedID
	}
	return types.Tab{
		ID:           wt.ID,
		URL:          wt.URL,
		Title:        wt.Title,
		WindowID:     wt.WindowID,
		GroupID:      groupID,
		Index:        wt.Index,
		LastAccessed: time.UnixMilli(wt.LastAccessed),
		Favicon:      wt.FavIconURL,
	}
}

func groupFromWire(wg wireGroup) types.TabGroup {
	return types.TabGroup{
		ID:        wg.ID,
		Title:     wg.Title,
		Color:     wg.Color,
		Collapsed: wg.Collapsed,
		WindowID:  wg.WindowID,
	}
}
