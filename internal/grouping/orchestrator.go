package grouping

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/learning"
	"github.com/lotas/tabgruppen/internal/prompt"
	"github.com/lotas/tabgruppen/internal/provider"
	"github.com/lotas/tabgruppen/internal/types"
)

const (
	// runTimeout bounds one grouping run wall-clock, model call included.
	runTimeout = 60 * time.Second

	// badgeInterval is how often the elapsed-seconds badge is refreshed.
	badgeInterval = time.Second

	// badgeClearDelay is how long terminal markers stay visible.
	badgeClearDelay = 3 * time.Second

	badgeCancelled = "✕"
	badgeError     = "Err"
)

// ConfigSource supplies per-run settings. Read at run start, never cached,
// so an edit takes effect on the next run.
type ConfigSource interface {
	Behavior() (types.Settings, error)
	PromptInstructions() (string, error)
}

// run represents one active grouping run. Its identity doubles as the
// supersede token: a finishing run only clears the slot if it still owns it.
type run struct {
	cancel context.CancelFunc
}

// Orchestrator owns the single in-flight grouping operation. A new call
// cancels the previous run before starting: last caller wins.
type Orchestrator struct {
	acc       browser.Accessor
	providers provider.Factory
	cfg       ConfigSource
	store     *learning.Store // nil disables revision lookup
	applier   *Applier
	enrich    func(context.Context, []types.Tab) map[int]string

	mu     sync.Mutex
	active *run
}

// NewOrchestrator wires the orchestrator. store may be nil when the
// learning system is disabled entirely.
func NewOrchestrator(acc browser.Accessor, providers provider.Factory, cfg ConfigSource, store *learning.Store, applier *Applier) *Orchestrator {
	return &Orchestrator{acc: acc, providers: providers, cfg: cfg, store: store, applier: applier}
}

// WithEnricher enables page-content excerpts in grouping prompts. fn is
// expected to be best effort and respect the run context.
func (o *Orchestrator) WithEnricher(fn func(context.Context, []types.Tab) map[int]string) {
	o.enrich = fn
}

// RunGrouping groups all tabs of one window. windowID <= 0 means the
// currently focused window, resolved at call time. Cancellation of a
// superseded run is cooperative: in-flight browser calls complete and
// their results are discarded.
func (o *Orchestrator) RunGrouping(ctx context.Context, windowID int) error {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	me := &run{cancel: cancel}

	o.mu.Lock()
	if o.active != nil {
		o.active.cancel()
	}
	o.active = me
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		if o.active == me {
			o.active = nil
		}
		o.mu.Unlock()
	}()

	o.notify("Grouping tabs…", "started")
	stopBadge := o.startBadgeTicker(runCtx)

	err := o.runSteps(runCtx, windowID)
	stopBadge()

	switch {
	case err == nil:
		o.notify("Tabs grouped", "success")
		o.setBadge("")
		applog.Info("run.done", "window", windowID)
		return nil
	case runCtx.Err() != nil:
		// Superseded or timed out. Distinct from failure in every
		// user-visible way.
		o.notify("Grouping cancelled", "cancelled")
		o.setTerminalBadge(badgeCancelled)
		applog.Info("run.cancelled", "window", windowID)
		return fmt.Errorf("grouping cancelled: %w", runCtx.Err())
	default:
		o.notify("Grouping failed: "+err.Error(), "error")
		o.setTerminalBadge(badgeError)
		applog.Error("run.failed", err, "window", windowID)
		return err
	}
}

// Active reports whether a grouping run is in flight.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// Cancel aborts the active run, if any.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		o.active.cancel()
		o.active = nil
	}
}

func (o *Orchestrator) runSteps(ctx context.Context, windowID int) error {
	if windowID <= 0 {
		id, err := o.acc.CurrentWindow(ctx)
		if err != nil {
			// Nothing to group without a window. Not a failure.
			applog.Info("run.no_window")
			return nil
		}
		windowID = id
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tabs, err := o.acc.QueryTabs(ctx, windowID)
	if err != nil {
		return fmt.Errorf("query tabs: %w", err)
	}
	if len(tabs) == 0 {
		applog.Info("run.empty", "window", windowID)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	settings, err := o.cfg.Behavior()
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	promptText, err := o.buildPrompt(ctx, windowID, tabs, settings)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := o.providers(ctx)
	if err != nil {
		return err
	}
	raw, err := p.Generate(ctx, promptText)
	if err != nil {
		return fmt.Errorf("generate plan: %w", err)
	}

	entries, err := provider.ParsePlan(raw)
	if err != nil {
		return fmt.Errorf("parse plan: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Reset to a known baseline before applying. The snapshot fed to the
	// model is stale by now, so re-query first.
	fresh, err := o.acc.QueryTabs(ctx, windowID)
	if err != nil {
		return fmt.Errorf("re-query tabs: %w", err)
	}
	var grouped []int
	for _, t := range fresh {
		if t.Grouped() {
			grouped = append(grouped, t.ID)
		}
	}
	if len(grouped) > 0 {
		if err := o.acc.Ungroup(ctx, grouped); err != nil {
			applog.Error("run.ungroup", err, "tabs", len(grouped))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return o.applier.Apply(ctx, entries, windowID, settings.ShowName, settings.KeepMiscTab)
}

// buildPrompt picks the template (active accepted revision wins over the
// built-ins) and fills it with live tab and group data.
func (o *Orchestrator) buildPrompt(ctx context.Context, windowID int, tabs []types.Tab, settings types.Settings) (string, error) {
	template := prompt.AllTabsTemplate
	if settings.KeepExistingGroups {
		template = prompt.UpdateGroupsTemplate
	}
	if o.store != nil {
		active, err := o.store.ActiveRevision()
		if err != nil {
			return "", err
		}
		if active != nil {
			template = active.RevisedPrompt
		}
	}

	custom, err := o.cfg.PromptInstructions()
	if err != nil {
		return "", err
	}
	template = prompt.WithCustomInstructions(template, custom)

	var groups []types.TabGroup
	if strings.Contains(template, "{existingGroups}") {
		groups, err = o.acc.QueryGroups(ctx, windowID)
		if err != nil {
			return "", fmt.Errorf("query groups: %w", err)
		}
	}

	var contexts map[int]string
	if o.enrich != nil {
		contexts = o.enrich(ctx, tabs)
	}
	return prompt.BuildGrouping(template, tabs, groups, settings.SpecialRequirements, contexts)
}

// startBadgeTicker refreshes the badge with elapsed seconds until the run
// context ends or the returned stop function is called.
func (o *Orchestrator) startBadgeTicker(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	start := time.Now()

	o.setBadge("0")
	go func() {
		ticker := time.NewTicker(badgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				o.setBadge(fmt.Sprintf("%d", int(time.Since(start).Seconds())))
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// setTerminalBadge shows a terminal marker briefly, then clears it.
func (o *Orchestrator) setTerminalBadge(text string) {
	o.setBadge(text)
	time.AfterFunc(badgeClearDelay, func() { o.setBadge("") })
}

func (o *Orchestrator) setBadge(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.acc.SetBadge(ctx, text); err != nil {
		applog.Debug("badge.set", "err", err)
	}
}

func (o *Orchestrator) notify(message, kind string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.acc.Notify(ctx, message, kind); err != nil {
		applog.Debug("notify.send", "err", err)
	}
}
