// Package daemon is the long-running dispatcher: it consumes extension
// events and popup requests from the bridge and routes them to the
// grouping pipeline and the learning system.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/bridge"
	"github.com/lotas/tabgruppen/internal/config"
	"github.com/lotas/tabgruppen/internal/grouping"
	"github.com/lotas/tabgruppen/internal/learning"
)

// autoGroupThreshold is how many tab events accumulate in one window
// before an automatic grouping run is considered.
const autoGroupThreshold = 20

// Daemon owns the event loop over the bridge.
type Daemon struct {
	srv      *bridge.Server
	orch     *grouping.Orchestrator
	merger   *grouping.Merger
	analyzer *learning.Analyzer
	store    *learning.Store
	recorder *learning.Recorder
	cfg      *config.File

	mu        sync.Mutex
	tabEvents map[int]int // window id -> events since last auto-group
}

// New wires the daemon.
func New(srv *bridge.Server, orch *grouping.Orchestrator, merger *grouping.Merger, analyzer *learning.Analyzer, store *learning.Store, recorder *learning.Recorder, cfg *config.File) *Daemon {
	return &Daemon{
		srv:       srv,
		orch:      orch,
		merger:    merger,
		analyzer:  analyzer,
		store:     store,
		recorder:  recorder,
		cfg:       cfg,
		tabEvents: make(map[int]int),
	}
}

// Run consumes bridge messages until the context ends. Requests are
// handled on their own goroutines so a grouping run never blocks event
// intake.
func (d *Daemon) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-d.srv.Events():
			switch msg.Type {
			case "request":
				go d.handleRequest(ctx, msg)
			case "event":
				d.handleEvent(ctx, msg)
			}
		}
	}
}

// handleRequest dispatches one named operation and always replies. Errors
// never cross the wire unhandled; they become the reply's error field.
func (d *Daemon) handleRequest(ctx context.Context, msg bridge.IncomingMsg) {
	payload, err := d.dispatch(ctx, msg)

	reply := bridge.OutgoingMsg{ID: msg.ID}
	ok := err == nil
	reply.OK = &ok
	if err != nil {
		reply.Error = err.Error()
		applog.Error("daemon.request", err, "action", msg.Action)
	} else {
		reply.Payload = payload
	}
	if err := d.srv.Send(reply); err != nil {
		applog.Error("daemon.reply", err, "action", msg.Action)
	}
}

func (d *Daemon) dispatch(ctx context.Context, msg bridge.IncomingMsg) (any, error) {
	switch msg.Action {
	case "groupAllTabs":
		var p struct {
			WindowID int `json:"windowId"`
		}
		decodePayload(msg.Payload, &p)
		return nil, d.orch.RunGrouping(ctx, p.WindowID)

	case "mergeGroups":
		var p struct {
			GroupIDs []int  `json:"groupIds"`
			Name     string `json:"name"`
		}
		decodePayload(msg.Payload, &p)
		groupID, err := d.merger.MergeGroups(ctx, p.GroupIDs, p.Name)
		if err != nil {
			return nil, err
		}
		return map[string]int{"groupId": groupID}, nil

	case "analyze":
		return d.analyzer.AnalyzeUserBehavior(ctx)

	case "generateRevision":
		return d.analyzer.GeneratePromptRevision(ctx)

	case "getAnalysisStatus":
		return d.analyzer.Status()

	case "getLearningConfig":
		return d.store.Config()

	case "updateLearningConfig":
		var cfg learning.Config
		if err := json.Unmarshal(msg.Payload, &cfg); err != nil {
			return nil, fmt.Errorf("parse learning config: %w", err)
		}
		return nil, d.store.SetConfig(cfg)

	case "getPendingInsights":
		return d.store.InsightsByStatus("pending")

	case "getPendingRevisions":
		return d.store.RevisionsByStatus("pending")

	case "updateInsight":
		id, status, err := parseStatusUpdate(msg.Payload)
		if err != nil {
			return nil, err
		}
		return nil, d.store.UpdateInsightStatus(id, status)

	case "updateRevision":
		id, status, err := parseStatusUpdate(msg.Payload)
		if err != nil {
			return nil, err
		}
		return nil, d.store.UpdateRevisionStatus(id, status)

	default:
		return nil, fmt.Errorf("unknown action %q", msg.Action)
	}
}

func decodePayload(raw json.RawMessage, v any) {
	if len(raw) > 0 {
		json.Unmarshal(raw, v)
	}
}

func parseStatusUpdate(raw json.RawMessage) (id, status string, err error) {
	var p struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", "", fmt.Errorf("parse status update: %w", err)
	}
	if p.ID == "" {
		return "", "", fmt.Errorf("status update needs an id")
	}
	if p.Status != "accepted" && p.Status != "rejected" {
		return "", "", fmt.Errorf("status must be accepted or rejected, got %q", p.Status)
	}
	return p.ID, p.Status, nil
}

// tabEvent is the payload of extension-originated tab activity.
type tabEvent struct {
	WindowID  int    `json:"windowId"`
	TabID     int    `json:"tabId"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	FromGroup string `json:"fromGroup"`
	ToGroup   string `json:"toGroup"`
}

// eventTypes maps extension event actions to recorded learning events.
// Actions not listed here still count toward auto-grouping but are not
// recorded.
var eventTypes = map[string]learning.EventType{
	"manual_move":    learning.EventManualMove,
	"manual_ungroup": learning.EventManualUngroup,
	"group_rename":   learning.EventGroupRename,
	"group_delete":   learning.EventGroupDelete,
}

func (d *Daemon) handleEvent(ctx context.Context, msg bridge.IncomingMsg) {
	var ev tabEvent
	decodePayload(msg.Payload, &ev)
	if ev.TabID == 0 {
		ev.TabID = msg.TabID
	}

	if typ, ok := eventTypes[msg.Action]; ok {
		err := d.recorder.Record(ctx, learning.Event{
			Type:      typ,
			TabID:     ev.TabID,
			TabTitle:  ev.Title,
			TabURL:    ev.URL,
			FromGroup: ev.FromGroup,
			ToGroup:   ev.ToGroup,
		})
		if err != nil {
			applog.Error("daemon.record", err, "action", msg.Action)
		}
	}

	d.bumpAutoGroup(ctx, ev.WindowID)
}

// bumpAutoGroup counts tab events per window and kicks off a grouping run
// once the threshold is reached, if the user opted in.
func (d *Daemon) bumpAutoGroup(ctx context.Context, windowID int) {
	if windowID == 0 {
		return
	}

	d.mu.Lock()
	d.tabEvents[windowID]++
	count := d.tabEvents[windowID]
	if count < autoGroupThreshold {
		d.mu.Unlock()
		return
	}
	d.tabEvents[windowID] = 0
	d.mu.Unlock()

	settings, err := d.cfg.Behavior()
	if err != nil {
		applog.Error("daemon.autogroup", err)
		return
	}
	if !settings.AutoGroup {
		return
	}
	// A user-triggered run in flight must not be superseded by housekeeping.
	if d.orch.Active() {
		return
	}

	applog.Info("daemon.autogroup", "window", windowID, "events", count)
	go func() {
		if err := d.orch.RunGrouping(ctx, windowID); err != nil {
			applog.Error("daemon.autogroup_run", err, "window", windowID)
		}
	}()
}
