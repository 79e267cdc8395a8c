// Package prompt builds the texts sent to the generation provider. Base
// templates carry {placeholder} slots. An accepted prompt revision is itself
// a template, so it can be filled with live tab data the same way.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lotas/tabgruppen/internal/types"
)

// maxPromptTabs caps how many tabs are described to the model in one call.
const maxPromptTabs = 100

// ErrNoTabs is returned when a grouping prompt is requested for zero tabs.
var ErrNoTabs = errors.New("no tabs to build a prompt from")

// Fill replaces every {key} placeholder in the template with its value.
func Fill(template string, vars map[string]string) string {
	result := template
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}

// AllTabsTemplate is the base prompt for a fresh grouping of every tab in a
// window. Placeholders: {tabs}, {specialRequirements}.
const AllTabsTemplate = `I need you to organize ALL my browser tabs into logical groups. I'll provide a list of tab objects, each with an 'id', 'title' and 'url'.

Your task:
1. Group related tabs together based on their content and purpose
2. EVERY tab must be placed in exactly one group - no tabs should be left unassigned
3. VERY IMPORTANT: Each group must have at least 2 tabs. THERE SHOULD BE NO GROUP WITH ONLY ONE TAB.
4. Create meaningful but concise group names. 1 WORD ONLY.
5. DO NOT create any misc or others group.
6. Prioritize grouping by:
   - Same website/domain
   - Similar topics or purposes
   - Related work items (issue trackers, code review, cloud consoles)
   - Educational content
   - Entertainment content

Format your response as a JSON array of objects with this exact structure:
[
  {
    "group_name": "short descriptive name",
    "ids": [tab_id1, tab_id2, ...]
  }
]
YOU CAN GIVE MAXIMUM 10 GROUPS.

Special requirements: {specialRequirements}

My tabs: {tabs}`

// UpdateGroupsTemplate is the base prompt for refining a window that already
// has groups. Placeholders: {tabs}, {existingGroups}, {specialRequirements}.
const UpdateGroupsTemplate = `I need you to organize ALL my browser tabs into logical groups, while respecting existing groups as much as possible. I'll provide a list of tab objects (including their current 'groupId', where -1 means ungrouped) and a list of existing group objects.

Your task:
1. Reorganize tabs into logical groups. You can keep, rename, or merge existing groups, and create new ones.
2. If multiple tabs are already together in an existing group, try to keep them together in the final arrangement.
3. VERY IMPORTANT: Each group must have at least 2 tabs. THERE SHOULD BE NO GROUP WITH ONLY ONE TAB.
4. Create meaningful but concise group names. 1 WORD ONLY.
5. EVERY tab must be placed in exactly one group.
6. DO NOT create any misc or others group.

Format your response as a JSON array of objects representing the FINAL desired state with this exact structure:
[
  {
    "group_name": "short descriptive name",
    "ids": [tab_id1, tab_id2, ...]
  }
]
YOU CAN GIVE MAXIMUM 10 GROUPS.

Special requirements: {specialRequirements}

My tabs: {tabs}
My existing groups: {existingGroups}`

type promptTab struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	GroupID *int   `json:"groupId,omitempty"`
	Context string `json:"context,omitempty"`
}

type promptGroup struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// BuildGrouping fills a grouping template (base or accepted revision) with
// live tab and group data. Contexts, if non-nil, adds a short extracted-page
// snippet per tab id. Groups may be nil for the fresh-grouping template.
func BuildGrouping(template string, tabs []types.Tab, groups []types.TabGroup, special string, contexts map[int]string) (string, error) {
	if len(tabs) == 0 {
		return "", ErrNoTabs
	}
	if len(tabs) > maxPromptTabs {
		tabs = tabs[:maxPromptTabs]
	}

	withGroupIDs := strings.Contains(template, "{existingGroups}")

	pts := make([]promptTab, 0, len(tabs))
	for _, t := range tabs {
		pt := promptTab{ID: t.ID, Title: t.Title, URL: t.URL}
		if withGroupIDs {
			gid := t.GroupID
			pt.GroupID = &gid
		}
		if contexts != nil {
			pt.Context = contexts[t.ID]
		}
		pts = append(pts, pt)
	}
	tabsJSON, err := json.Marshal(pts)
	if err != nil {
		return "", fmt.Errorf("marshal tabs: %w", err)
	}

	vars := map[string]string{
		"tabs":                string(tabsJSON),
		"specialRequirements": special,
	}
	if vars["specialRequirements"] == "" {
		vars["specialRequirements"] = "No special requirements"
	}

	if withGroupIDs {
		pgs := make([]promptGroup, 0, len(groups))
		for _, g := range groups {
			pgs = append(pgs, promptGroup{ID: g.ID, Title: g.Title})
		}
		groupsJSON, err := json.Marshal(pgs)
		if err != nil {
			return "", fmt.Errorf("marshal groups: %w", err)
		}
		vars["existingGroups"] = string(groupsJSON)
	}

	return Fill(template, vars), nil
}

// WithCustomInstructions appends the user's free-text instructions to a base
// template, keeping the placeholders intact.
func WithCustomInstructions(template, custom string) string {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return template
	}
	return template + "\n\nAdditional user instructions:\n" + custom
}
