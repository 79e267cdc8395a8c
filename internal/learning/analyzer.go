package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/prompt"
	"github.com/lotas/tabgruppen/internal/provider"
)

// Errors the analyzer reports when its preconditions are not met. The
// caller surfaces these as status messages, not failures.
var (
	ErrNotEnoughEvents    = errors.New("not enough events recorded for analysis")
	ErrNoAcceptedInsights = errors.New("no accepted insights to base a revision on")
	ErrLearningDisabled   = errors.New("learning is disabled")
)

const (
	// minAnalysisEvents is how many events must exist before an analysis
	// run is worth the model call.
	minAnalysisEvents = 10

	// analysisWindow caps how many recent events are fed to the model.
	analysisWindow = 100
)

// Analyzer turns recorded events into insights and accepted insights into
// prompt revisions, via the configured provider.
type Analyzer struct {
	store     *Store
	providers provider.Factory

	// basePrompt returns the grouping template a revision rewrites. Every
	// revision starts from the built-in base, never from a prior revision,
	// so each one re-integrates the full accepted-insight set instead of
	// compounding drift.
	basePrompt func() (string, error)
}

// NewAnalyzer wires an analyzer to its store and provider factory.
func NewAnalyzer(store *Store, providers provider.Factory) *Analyzer {
	a := &Analyzer{store: store, providers: providers}
	a.basePrompt = func() (string, error) { return prompt.AllTabsTemplate, nil }
	return a
}

// WithInstructions layers the user's free-text grouping instructions onto
// the base template used for revisions. instructions may return "".
func (a *Analyzer) WithInstructions(instructions func() (string, error)) *Analyzer {
	a.basePrompt = func() (string, error) {
		custom, err := instructions()
		if err != nil {
			return "", err
		}
		return prompt.WithCustomInstructions(prompt.AllTabsTemplate, custom), nil
	}
	return a
}

// AnalyzeUserBehavior feeds the recent event window plus existing accepted
// insights to the model and stores whatever new insights come back as
// pending. Returns the inserted insights.
func (a *Analyzer) AnalyzeUserBehavior(ctx context.Context) ([]Insight, error) {
	cfg, err := a.store.Config()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, ErrLearningDisabled
	}

	total, err := a.store.CountEvents()
	if err != nil {
		return nil, err
	}
	if total < minAnalysisEvents {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughEvents, total, minAnalysisEvents)
	}

	events, err := a.store.RecentEvents(analysisWindow)
	if err != nil {
		return nil, err
	}
	accepted, err := a.store.InsightsByStatus("accepted")
	if err != nil {
		return nil, err
	}

	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	acceptedJSON, err := json.Marshal(insightSummaries(accepted))
	if err != nil {
		return nil, err
	}

	p, err := a.providers(ctx)
	if err != nil {
		return nil, err
	}

	applog.Info("learning.analyze", "events", len(events), "accepted", len(accepted))
	raw, err := p.GenerateJSON(ctx, prompt.BuildInsightAnalysis(string(eventsJSON), string(acceptedJSON)))
	if err != nil {
		return nil, fmt.Errorf("analyze behavior: %w", err)
	}

	parsed, err := parseInsightResponse(raw)
	if err != nil {
		return nil, err
	}

	// Every parsed insight is stored pending, whatever its confidence.
	// Filtering is the reviewer's call, not ours.
	now := time.Now()
	var insights []Insight
	for _, ins := range parsed {
		insights = append(insights, Insight{
			ID:             uuid.NewString(),
			GeneratedAt:    now,
			Status:         "pending",
			Confidence:     ins.Confidence,
			PreferenceText: ins.PreferenceText,
			Category:       ins.Category,
			EvidenceIDs:    ins.EvidenceIDs,
			Reasoning:      ins.Reasoning,
		})
	}

	if err := a.store.InsertInsights(insights); err != nil {
		return nil, err
	}
	if err := a.store.SetAnalysisState(now, 0); err != nil {
		return nil, err
	}
	applog.Info("learning.analyzed", "insights", len(insights))
	return insights, nil
}

// insightSummary is the slimmed form of an accepted insight shown to the
// model so it avoids restating known preferences.
type insightSummary struct {
	PreferenceText string  `json:"preferenceText"`
	Category       string  `json:"category"`
	Confidence     float64 `json:"confidence"`
}

func insightSummaries(insights []Insight) []insightSummary {
	out := make([]insightSummary, 0, len(insights))
	for _, ins := range insights {
		out = append(out, insightSummary{
			PreferenceText: ins.PreferenceText,
			Category:       ins.Category,
			Confidence:     ins.Confidence,
		})
	}
	return out
}

// rawInsight mirrors the model's response entries.
type rawInsight struct {
	PreferenceText string   `json:"preferenceText"`
	Confidence     float64  `json:"confidence"`
	Category       string   `json:"category"`
	EvidenceIDs    []string `json:"evidenceIds"`
	Reasoning      string   `json:"reasoning"`
}

func parseInsightResponse(raw string) ([]rawInsight, error) {
	var doc struct {
		Insights []rawInsight `json:"insights"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse insight response: %w", err)
	}
	valid := doc.Insights[:0]
	for _, ins := range doc.Insights {
		if strings.TrimSpace(ins.PreferenceText) == "" {
			continue
		}
		valid = append(valid, ins)
	}
	return valid, nil
}

// GeneratePromptRevision asks the model to rewrite the base grouping
// template according to the full accepted-insight set, storing the result
// as a pending revision.
func (a *Analyzer) GeneratePromptRevision(ctx context.Context) (*Revision, error) {
	cfg, err := a.store.Config()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, ErrLearningDisabled
	}

	accepted, err := a.store.InsightsByStatus("accepted")
	if err != nil {
		return nil, err
	}
	if len(accepted) == 0 {
		return nil, ErrNoAcceptedInsights
	}

	current, err := a.basePrompt()
	if err != nil {
		return nil, err
	}

	insightsJSON, err := json.Marshal(insightSummaries(accepted))
	if err != nil {
		return nil, err
	}

	p, err := a.providers(ctx)
	if err != nil {
		return nil, err
	}

	applog.Info("learning.revise", "insights", len(accepted))
	raw, err := p.GenerateJSON(ctx, prompt.BuildPromptRevision(current, string(insightsJSON)))
	if err != nil {
		return nil, fmt.Errorf("generate revision: %w", err)
	}

	var doc struct {
		RevisedPrompt string   `json:"revisedPrompt"`
		Changes       []string `json:"changes"`
		Reasoning     string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse revision response: %w", err)
	}
	if strings.TrimSpace(doc.RevisedPrompt) == "" {
		return nil, errors.New("revision response has empty revisedPrompt")
	}

	basedOn := make([]string, 0, len(accepted))
	for _, ins := range accepted {
		basedOn = append(basedOn, ins.ID)
	}

	rev := Revision{
		ID:            uuid.NewString(),
		GeneratedAt:   time.Now(),
		Status:        "pending",
		CurrentPrompt: current,
		RevisedPrompt: doc.RevisedPrompt,
		Changes:       doc.Changes,
		Reasoning:     doc.Reasoning,
		BasedOn:       basedOn,
	}
	if err := a.store.InsertRevision(rev); err != nil {
		return nil, err
	}
	return &rev, nil
}

// Status is a snapshot of the learning system for the review UI and the
// learn subcommand.
type Status struct {
	Config           Config    `json:"config"`
	TotalEvents      int       `json:"totalEvents"`
	PendingInsights  int       `json:"pendingInsights"`
	AcceptedInsights int       `json:"acceptedInsights"`
	PendingRevisions int       `json:"pendingRevisions"`
	ActiveRevisionID string    `json:"activeRevisionId"`
	LastAnalysis     time.Time `json:"lastAnalysis"`
	EventsSince      int       `json:"eventsSinceAnalysis"`
}

// Status assembles the snapshot.
func (a *Analyzer) Status() (Status, error) {
	cfg, err := a.store.Config()
	if err != nil {
		return Status{}, err
	}
	total, err := a.store.CountEvents()
	if err != nil {
		return Status{}, err
	}
	pending, err := a.store.InsightsByStatus("pending")
	if err != nil {
		return Status{}, err
	}
	accepted, err := a.store.InsightsByStatus("accepted")
	if err != nil {
		return Status{}, err
	}
	pendingRevs, err := a.store.RevisionsByStatus("pending")
	if err != nil {
		return Status{}, err
	}
	active, err := a.store.ActiveRevision()
	if err != nil {
		return Status{}, err
	}
	last, since, err := a.store.AnalysisState()
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Config:           cfg,
		TotalEvents:      total,
		PendingInsights:  len(pending),
		AcceptedInsights: len(accepted),
		PendingRevisions: len(pendingRevs),
		LastAnalysis:     last,
		EventsSince:      since,
	}
	if active != nil {
		st.ActiveRevisionID = active.ID
	}
	return st, nil
}
