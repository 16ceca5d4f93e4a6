// File: internal/messaging/types.go
package messaging

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Action names a message variant on the wire.
type Action string

// Page actions, handled by the agent attached to a tab.
const (
	ActionGetStatus            Action = "getStatus"
	ActionExpandElements       Action = "expandElements"
	ActionRestore              Action = "restore"
	ActionShowScanner          Action = "showScanner"
	ActionHideScanner          Action = "hideScanner"
	ActionShowBorderGlow       Action = "showBorderGlow"
	ActionEnterInteractiveMode Action = "enterInteractiveMode"
	ActionExitInteractiveMode  Action = "exitInteractiveMode"
	ActionGetLockedElements    Action = "getLockedElements"
	ActionTriggerCapture       Action = "triggerCapture"
	ActionLockElement          Action = "lockElement"
	ActionUnlockElement        Action = "unlockElement"
)

// ErrUnknownAction is returned when decoding an action outside the closed set.
var ErrUnknownAction = errors.New("unknown action")

// Request is one of the page request variants below.
type Request interface {
	Action() Action
	isRequest()
}

type (
	GetStatus            struct{}
	ExpandElements       struct{}
	Restore              struct{}
	ShowScanner          struct{}
	HideScanner          struct{}
	EnterInteractiveMode struct{}
	ExitInteractiveMode  struct{}
	GetLockedElements    struct{}
)

// ShowBorderGlow flashes a border around the viewport.
type ShowBorderGlow struct {
	Variant    string `json:"variant,omitempty"`
	DurationMs int    `json:"durationMs,omitempty"`
}

// TriggerCapture asks the page to hand its prepared document to the capture service.
type TriggerCapture struct {
	SiteID    int64 `json:"siteId"`
	HeatmapID int64 `json:"heatmapId"`
}

// LockElement marks the element matched by Selector as manually locked.
type LockElement struct {
	Selector string `json:"selector"`
}

// UnlockElement clears a lock.
type UnlockElement struct {
	Selector string `json:"selector"`
}

func (GetStatus) Action() Action            { return ActionGetStatus }
func (ExpandElements) Action() Action       { return ActionExpandElements }
func (Restore) Action() Action              { return ActionRestore }
func (ShowScanner) Action() Action          { return ActionShowScanner }
func (HideScanner) Action() Action          { return ActionHideScanner }
func (ShowBorderGlow) Action() Action       { return ActionShowBorderGlow }
func (EnterInteractiveMode) Action() Action { return ActionEnterInteractiveMode }
func (ExitInteractiveMode) Action() Action  { return ActionExitInteractiveMode }
func (GetLockedElements) Action() Action    { return ActionGetLockedElements }
func (TriggerCapture) Action() Action       { return ActionTriggerCapture }
func (LockElement) Action() Action          { return ActionLockElement }
func (UnlockElement) Action() Action        { return ActionUnlockElement }

func (GetStatus) isRequest()            {}
func (ExpandElements) isRequest()       {}
func (Restore) isRequest()              {}
func (ShowScanner) isRequest()          {}
func (HideScanner) isRequest()          {}
func (ShowBorderGlow) isRequest()       {}
func (EnterInteractiveMode) isRequest() {}
func (ExitInteractiveMode) isRequest()  {}
func (GetLockedElements) isRequest()    {}
func (TriggerCapture) isRequest()       {}
func (LockElement) isRequest()          {}
func (UnlockElement) isRequest()        {}

// PageStatus describes the agent's current page state.
type PageStatus struct {
	URL             string `json:"url"`
	Expanded        bool   `json:"expanded"`
	ExpandedCount   int    `json:"expandedCount"`
	FixesActive     bool   `json:"fixesActive"`
	ScannerVisible  bool   `json:"scannerVisible"`
	InteractiveMode bool   `json:"interactiveMode"`
	LockedCount     int    `json:"lockedCount"`
}

// LockedElement is a manually locked element.
type LockedElement struct {
	Selector string    `json:"selector"`
	LockedAt time.Time `json:"lockedAt"`
}

// Response is the answer to every page request.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Count   int             `json:"count,omitempty"`
	Status  *PageStatus     `json:"status,omitempty"`
	Locked  []LockedElement `json:"locked,omitempty"`
}

// OK is a successful response.
func OK() Response { return Response{Success: true} }

// Fail is an unsuccessful response carrying err's message.
func Fail(err error) Response {
	if err == nil {
		return Response{Error: "unknown error"}
	}
	return Response{Error: err.Error()}
}

// Err converts an unsuccessful response into an error.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return errors.New("request failed")
	}
	return errors.New(r.Error)
}

// Envelope frames a request on the bridge. Replies reuse the request ID.
type Envelope struct {
	ID       string              `json:"id"`
	TabID    int                 `json:"tabId,omitempty"`
	Action   Action              `json:"action,omitempty"`
	Payload  jsoniter.RawMessage `json:"payload,omitempty"`
	Response *Response           `json:"response,omitempty"`
}

// Encode wraps req in an envelope.
func Encode(id string, tabID int, req Request) (Envelope, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s: %w", req.Action(), err)
	}
	return Envelope{ID: id, TabID: tabID, Action: req.Action(), Payload: payload}, nil
}

// Decode turns an envelope back into its request variant.
func Decode(env Envelope) (Request, error) {
	var req Request
	switch env.Action {
	case ActionGetStatus:
		req = &GetStatus{}
	case ActionExpandElements:
		req = &ExpandElements{}
	case ActionRestore:
		req = &Restore{}
	case ActionShowScanner:
		req = &ShowScanner{}
	case ActionHideScanner:
		req = &HideScanner{}
	case ActionShowBorderGlow:
		req = &ShowBorderGlow{}
	case ActionEnterInteractiveMode:
		req = &EnterInteractiveMode{}
	case ActionExitInteractiveMode:
		req = &ExitInteractiveMode{}
	case ActionGetLockedElements:
		req = &GetLockedElements{}
	case ActionTriggerCapture:
		req = &TriggerCapture{}
	case ActionLockElement:
		req = &LockElement{}
	case ActionUnlockElement:
		req = &UnlockElement{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, req); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", env.Action, err)
		}
	}
	return deref(req), nil
}

// deref returns the value form so handlers can switch on value types only.
func deref(req Request) Request {
	switch r := req.(type) {
	case *GetStatus:
		return *r
	case *ExpandElements:
		return *r
	case *Restore:
		return *r
	case *ShowScanner:
		return *r
	case *HideScanner:
		return *r
	case *ShowBorderGlow:
		return *r
	case *EnterInteractiveMode:
		return *r
	case *ExitInteractiveMode:
		return *r
	case *GetLockedElements:
		return *r
	case *TriggerCapture:
		return *r
	case *LockElement:
		return *r
	case *UnlockElement:
		return *r
	}
	return req
}
