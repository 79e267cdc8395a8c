package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/lotas/tabgruppen/internal/browser"
	"github.com/lotas/tabgruppen/internal/types"
)

// defaultCallTimeout bounds a single extension command round trip. Browser
// API calls on the extension side are fast; a slow response means the
// extension is gone or wedged.
const defaultCallTimeout = 10 * time.Second

// Accessor implements browser.Accessor over a bridge Server.
type Accessor struct {
	srv     *Server
	timeout time.Duration
}

// NewAccessor wraps a Server. A zero timeout uses the default per-call limit.
func NewAccessor(srv *Server, timeout time.Duration) *Accessor {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Accessor{srv: srv, timeout: timeout}
}

func (a *Accessor) call(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	if !a.srv.Connected() {
		return IncomingMsg{}, browser.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.srv.Call(ctx, msg)
}

func (a *Accessor) CurrentWindow(ctx context.Context) (int, error) {
	resp, err := a.call(ctx, OutgoingMsg{Action: "currentWindow"})
	if err != nil {
		return 0, err
	}
	return resp.WindowID, nil
}

func (a *Accessor) QueryTabs(ctx context.Context, windowID int) ([]types.Tab, error) {
	resp, err := a.call(ctx, OutgoingMsg{Action: "queryTabs", WindowID: windowID})
	if err != nil {
		return nil, err
	}
	return parseTabs(resp.Tabs)
}

func (a *Accessor) QueryGroupTabs(ctx context.Context, groupID int) ([]types.Tab, error) {
	resp, err := a.call(ctx, OutgoingMsg{Action: "queryTabs", GroupID: groupID})
	if err != nil {
		return nil, err
	}
	return parseTabs(resp.Tabs)
}

func (a *Accessor) QueryGroups(ctx context.Context, windowID int) ([]types.TabGroup, error) {
	resp, err := a.call(ctx, OutgoingMsg{Action: "queryGroups", WindowID: windowID})
	if err != nil {
		return nil, err
	}
	return parseGroups(resp.Groups)
}

func (a *Accessor) GetGroup(ctx context.Context, groupID int) (types.TabGroup, error) {
	resp, err := a.call(ctx, OutgoingMsg{Action: "getGroup", GroupID: groupID})
	if err != nil {
		// The browser reports a closed group as "No group with id ...".
		if strings.Contains(err.Error(), "No group with id") {
			return types.TabGroup{}, browser.ErrGroupGone
		}
		return types.TabGroup{}, err
	}
	return parseGroup(resp.Group)
}

func (a *Accessor) GroupTabs(ctx context.Context, windowID int, tabIDs []int) (int, error) {
	resp, err := a.call(ctx, OutgoingMsg{Action: "group", WindowID: windowID, TabIDs: tabIDs})
	if err != nil {
		return 0, err
	}
	return resp.GroupID, nil
}

func (a *Accessor) UpdateGroup(ctx context.Context, groupID int, title string, collapsed bool) error {
	_, err := a.call(ctx, OutgoingMsg{
		Action:    "updateGroup",
		GroupID:   groupID,
		Title:     title,
		Collapsed: &collapsed,
	})
	return err
}

func (a *Accessor) Ungroup(ctx context.Context, tabIDs []int) error {
	if len(tabIDs) == 0 {
		return nil
	}
	_, err := a.call(ctx, OutgoingMsg{Action: "ungroup", TabIDs: tabIDs})
	return err
}

func (a *Accessor) MoveTabToEnd(ctx context.Context, tabID int) error {
	end := -1
	_, err := a.call(ctx, OutgoingMsg{Action: "moveTab", TabID: tabID, Index: &end})
	return err
}

// SetBadge is fire-and-forget: the badge is cosmetic and a missing
// extension must not fail the operation updating it.
func (a *Accessor) SetBadge(ctx context.Context, text string) error {
	if !a.srv.Connected() {
		return browser.ErrNotConnected
	}
	return a.srv.Send(OutgoingMsg{ID: "badge", Action: "setBadge", Text: text})
}

func (a *Accessor) Notify(ctx context.Context, message, kind string) error {
	if !a.srv.Connected() {
		return browser.ErrNotConnected
	}
	return a.srv.Send(OutgoingMsg{ID: "notify", Action: "notify", Message: message, Kind: kind})
}
