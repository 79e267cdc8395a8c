package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/lotas/tabgruppen/internal/types"
)

func TestFill(t *testing.T) {
	out := Fill("a {x} b {y} c {x}", map[string]string{"x": "1", "y": "2"})
	if out != "a 1 b 2 c 1" {
		t.Errorf("Fill = %q", out)
	}

	// Unknown placeholders stay literal so a malformed revision is visible
	// rather than silently truncated.
	out = Fill("keep {unknown}", map[string]string{"x": "1"})
	if out != "keep {unknown}" {
		t.Errorf("Fill = %q", out)
	}
}

func TestBuildGrouping_NoTabs(t *testing.T) {
	_, err := BuildGrouping(AllTabsTemplate, nil, nil, "", nil)
	if !errors.Is(err, ErrNoTabs) {
		t.Fatalf("want ErrNoTabs, got %v", err)
	}
}

func TestBuildGrouping_FreshTemplate(t *testing.T) {
	tabs := []types.Tab{
		{ID: 1, Title: "Go docs", URL: "https://go.dev/doc", GroupID: types.UngroupedID},
		{ID: 2, Title: "HN", URL: "https://news.ycombinator.com", GroupID: 5},
	}

	out, err := BuildGrouping(AllTabsTemplate, tabs, nil, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"id":1`) || !strings.Contains(out, "go.dev") {
		t.Error("tab data missing from prompt")
	}
	// The fresh template carries no group ids: the model should not see
	// prior structure it was asked to replace.
	if strings.Contains(out, "groupId") {
		t.Error("fresh template should not include groupId")
	}
	if !strings.Contains(out, "No special requirements") {
		t.Error("default special requirements missing")
	}
	if strings.Contains(out, "{tabs}") || strings.Contains(out, "{specialRequirements}") {
		t.Error("unfilled placeholders remain")
	}
}

func TestBuildGrouping_RefineTemplate(t *testing.T) {
	tabs := []types.Tab{
		{ID: 1, Title: "A", URL: "https://a.example", GroupID: 7},
		{ID: 2, Title: "B", URL: "https://b.example", GroupID: types.UngroupedID},
	}
	groups := []types.TabGroup{{ID: 7, Title: "Work"}}

	out, err := BuildGrouping(UpdateGroupsTemplate, tabs, groups, "keep work separate", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"groupId":7`) || !strings.Contains(out, `"groupId":-1`) {
		t.Error("group ids missing from refine prompt")
	}
	if !strings.Contains(out, `"title":"Work"`) {
		t.Error("existing groups missing")
	}
	if !strings.Contains(out, "keep work separate") {
		t.Error("special requirements not substituted")
	}
}

func TestBuildGrouping_Contexts(t *testing.T) {
	tabs := []types.Tab{
		{ID: 1, Title: "A", URL: "https://a.example"},
		{ID: 2, Title: "B", URL: "https://b.example"},
	}
	out, err := BuildGrouping(AllTabsTemplate, tabs, nil, "", map[int]string{1: "an article about compilers"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "an article about compilers") {
		t.Error("context snippet missing")
	}
}

func TestBuildGrouping_CapsTabCount(t *testing.T) {
	tabs := make([]types.Tab, 150)
	for i := range tabs {
		tabs[i] = types.Tab{ID: i + 1, Title: "t", URL: "https://x.example"}
	}
	out, err := BuildGrouping(AllTabsTemplate, tabs, nil, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, `"id":101`) {
		t.Error("prompt includes tabs beyond the cap")
	}
	if !strings.Contains(out, `"id":100`) {
		t.Error("prompt missing the last tab inside the cap")
	}
}

func TestBuildGrouping_RevisionTemplate(t *testing.T) {
	// A revision is itself a template; filling it must work exactly like
	// the built-ins.
	revised := "Custom rules here.\nTabs: {tabs}\nNeeds: {specialRequirements}"
	tabs := []types.Tab{{ID: 9, Title: "X", URL: "https://x.example"}}

	out, err := BuildGrouping(revised, tabs, nil, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "Custom rules here.") {
		t.Error("revision text not used")
	}
	if !strings.Contains(out, `"id":9`) {
		t.Error("tabs not substituted into revision")
	}
}

func TestWithCustomInstructions(t *testing.T) {
	out := WithCustomInstructions(AllTabsTemplate, "  never group shopping sites  ")
	if !strings.Contains(out, "never group shopping sites") {
		t.Error("instructions not appended")
	}
	if !strings.Contains(out, "{tabs}") {
		t.Error("placeholders must survive appending")
	}
	if WithCustomInstructions(AllTabsTemplate, "   ") != AllTabsTemplate {
		t.Error("blank instructions should leave the template untouched")
	}
}

func TestBuildInsightAnalysis(t *testing.T) {
	out := BuildInsightAnalysis(`[{"id":"e1"}]`, `[]`)
	if !strings.Contains(out, `[{"id":"e1"}]`) {
		t.Error("events not substituted")
	}
	if strings.Contains(out, "{eventsJson}") || strings.Contains(out, "{existingInsightsJson}") {
		t.Error("unfilled placeholders remain")
	}
}

func TestBuildPromptRevision_PreservesInnerPlaceholders(t *testing.T) {
	current := "Group my tabs: {tabs}"
	out := BuildPromptRevision(current, `[{"preferenceText":"p"}]`)
	// The current prompt's own {tabs} slot is data here, not a variable to
	// expand.
	if !strings.Contains(out, "{tabs}") {
		t.Error("inner placeholder was consumed")
	}
	if strings.Contains(out, "{currentPrompt}") || strings.Contains(out, "{insightsJson}") {
		t.Error("unfilled placeholders remain")
	}
}
