// Package batch applies one action to a selection of resources with a
// single control-plane request and folds per-item outcomes into a
// Result.
package batch

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/passdeck/passdeck/internal/resource"
)

// Action is a bulk operation.
type Action string

const (
	ActionStart      Action = "start"
	ActionStop       Action = "stop"
	ActionRestart    Action = "restart"
	ActionDelete     Action = "delete"
	ActionReconnect  Action = "reconnect"
	ActionDisconnect Action = "disconnect"
)

var supported = map[resource.Kind][]Action{
	resource.KindTunnel:   {ActionStart, ActionStop, ActionRestart, ActionDelete},
	resource.KindEndpoint: {ActionReconnect, ActionDisconnect, ActionDelete},
}

// Supported reports whether kind accepts action.
func Supported(kind resource.Kind, action Action) bool {
	for _, a := range supported[kind] {
		if a == action {
			return true
		}
	}
	return false
}

// Applicable reports whether action makes sense for r in its current
// state. Starting a running tunnel or stopping a stopped one is skipped.
func Applicable(action Action, r resource.Resource) bool {
	switch action {
	case ActionStart, ActionReconnect:
		return !r.Status.Active()
	case ActionStop, ActionRestart, ActionDisconnect:
		return r.Status.Active()
	case ActionDelete:
		return true
	}
	return false
}

// Outcome classifies a batch invocation.
type Outcome string

const (
	OutcomeNoOp    Outcome = "noop"
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// ItemResult is the per-id outcome.
type ItemResult struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Result aggregates one batch invocation.
type Result struct {
	ID         uuid.UUID     `json:"id"`
	Kind       resource.Kind `json:"kind"`
	Action     Action        `json:"action"`
	Outcome    Outcome       `json:"outcome"`
	Requested  int           `json:"requested"`
	Operated   int           `json:"operated"`
	FailCount  int           `json:"fail_count"`
	Skipped    int           `json:"skipped"`
	PerItem    []ItemResult  `json:"per_item"`
	Reason     string        `json:"reason,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Summary renders the user-facing one-liner.
func (r Result) Summary() string {
	switch r.Outcome {
	case OutcomeNoOp:
		if r.Reason != "" {
			return r.Reason
		}
		return "nothing eligible"
	case OutcomeFailure:
		if r.Reason != "" && r.Operated == 0 {
			return fmt.Sprintf("%s %s failed: %s", r.Action, r.Kind, r.Reason)
		}
	}
	return fmt.Sprintf("%s %s: succeeded %d, failed %d", r.Action, r.Kind, r.Operated, r.FailCount)
}

// Failed returns the items that did not succeed.
func (r Result) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range r.PerItem {
		if !it.Success {
			out = append(out, it)
		}
	}
	return out
}

// settled classifies a request that reached the server. NoOp is reserved
// for invocations that never sent one.
func settled(operated, failed int) Outcome {
	switch {
	case operated > 0 && failed == 0:
		return OutcomeSuccess
	case operated == 0:
		return OutcomeFailure
	default:
		return OutcomePartial
	}
}
