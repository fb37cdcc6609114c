package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/passdeck/passdeck/internal/client"
	"github.com/passdeck/passdeck/internal/resource"
)

// notReported is recorded for submitted ids the server left out of its
// per-item results.
const notReported = "not reported by server"

// Mutator sends batch requests to the control plane.
type Mutator interface {
	BatchAction(ctx context.Context, kind resource.Kind, action string, ids []string) (*client.BatchActionResponse, error)
	BatchDelete(ctx context.Context, kind resource.Kind, ids []string, recycle bool) (*client.BatchDeleteResponse, error)
}

// Refresher reloads the collection a batch acted on.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Sink receives exactly one Result per invocation.
type Sink interface {
	Publish(Result)
}

// Recorder receives batch metrics. It may be nil.
type Recorder interface {
	RecordBatch(kind resource.Kind, action string, outcome string, operated, failed int, d time.Duration)
}

// Request describes one batch invocation.
type Request struct {
	Kind   resource.Kind
	Action Action
	// IDs is the resolved selection, in display order.
	IDs []string
	// Lookup finds the current state of an id. Ids it cannot find are
	// treated as ineligible.
	Lookup func(id string) (resource.Resource, bool)
	// Recycle is passed to batch delete.
	Recycle bool
	// Refresher, if set, is refreshed after any submitted request.
	Refresher Refresher
}

// Orchestrator runs batch commands.
type Orchestrator struct {
	mutator  Mutator
	sink     Sink
	recorder Recorder
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator. sink and recorder may be nil.
func NewOrchestrator(m Mutator, sink Sink, recorder Recorder) *Orchestrator {
	return &Orchestrator{mutator: m, sink: sink, recorder: recorder, now: time.Now}
}

// Execute resolves the eligible targets, submits one request and folds
// the response into a Result. It never returns an error; every failure
// is described by the Result.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (res Result) {
	res = Result{
		ID:        uuid.New(),
		Kind:      req.Kind,
		Action:    req.Action,
		StartedAt: o.now(),
	}
	defer func() {
		res.FinishedAt = o.now()
		o.finish(res)
	}()

	if !Supported(req.Kind, req.Action) {
		res.Outcome = OutcomeFailure
		res.Reason = "action " + string(req.Action) + " is not supported for " + string(req.Kind)
		return res
	}
	if len(req.IDs) == 0 {
		res.Outcome = OutcomeNoOp
		res.Reason = "no items selected"
		return res
	}

	targets, names := o.eligible(req)
	res.Skipped = len(req.IDs) - len(targets)
	res.Requested = len(targets)
	if len(targets) == 0 {
		res.Outcome = OutcomeNoOp
		res.Reason = "nothing eligible"
		return res
	}

	slog.Info("submitting batch", "kind", req.Kind, "action", req.Action, "count", len(targets), "skipped", res.Skipped)

	var err error
	if req.Action == ActionDelete {
		var resp *client.BatchDeleteResponse
		resp, err = o.mutator.BatchDelete(ctx, req.Kind, targets, req.Recycle)
		if err == nil {
			o.foldDelete(&res, targets, names, resp)
		}
	} else {
		var resp *client.BatchActionResponse
		resp, err = o.mutator.BatchAction(ctx, req.Kind, string(req.Action), targets)
		if err == nil {
			o.foldAction(&res, targets, names, resp)
		}
	}
	if err != nil {
		o.foldTransportError(&res, targets, names, err)
	}
	res.Outcome = settled(res.Operated, res.FailCount)

	if req.Refresher != nil {
		if rerr := req.Refresher.Refresh(ctx); rerr != nil {
			slog.Warn("refresh after batch failed", "kind", req.Kind, "err", rerr)
		}
	}
	return res
}

func (o *Orchestrator) eligible(req Request) ([]string, map[string]string) {
	targets := make([]string, 0, len(req.IDs))
	names := make(map[string]string, len(req.IDs))
	seen := make(map[string]bool, len(req.IDs))
	for _, id := range req.IDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		r, ok := req.Lookup(id)
		if !ok {
			slog.Debug("skipping vanished id", "kind", req.Kind, "id", id)
			continue
		}
		if !Applicable(req.Action, r) {
			continue
		}
		targets = append(targets, id)
		names[id] = r.Name
	}
	return targets, names
}

// perItem lays server results over the submitted ids, keeping submission
// order.
func perItem(targets []string, names map[string]string, results []client.BatchItemResult) ([]ItemResult, int, int) {
	byID := make(map[string]client.BatchItemResult, len(results))
	for _, r := range results {
		byID[string(r.ID)] = r
	}
	items := make([]ItemResult, len(targets))
	var ok, failed int
	for i, id := range targets {
		item := ItemResult{ID: id, Name: names[id]}
		if r, found := byID[id]; found {
			item.Success = r.Success
			item.Error = r.Error
		} else {
			item.Error = notReported
		}
		if item.Success {
			ok++
		} else {
			failed++
		}
		items[i] = item
	}
	return items, ok, failed
}

func (o *Orchestrator) foldAction(res *Result, targets []string, names map[string]string, resp *client.BatchActionResponse) {
	if len(resp.Results) > 0 {
		items, ok, failed := perItem(targets, names, resp.Results)
		res.PerItem = items
		operated, failCount := &ok, &failed
		if resp.Operated != nil {
			operated = resp.Operated
		}
		if resp.FailCount != nil {
			failCount = resp.FailCount
		}
		res.Operated, res.FailCount = reconcile(len(targets), operated, failCount)
	} else {
		res.Operated, res.FailCount = reconcile(len(targets), resp.Operated, resp.FailCount)
		res.PerItem = unitemized(targets, names, res.Operated == len(targets))
	}
	if res.FailCount > 0 && resp.Error != "" {
		res.Reason = resp.Error
	}
}

// reconcile turns the counts a server reported into a pair that sums to
// requested. The operated count wins when present. Without it the failure
// count decides, and a reply with neither counts as fully accepted.
func reconcile(requested int, operated, failCount *int) (int, int) {
	switch {
	case operated != nil:
		ok := clamp(*operated, requested)
		return ok, requested - ok
	case failCount != nil:
		failed := clamp(*failCount, requested)
		return requested - failed, failed
	default:
		return requested, 0
	}
}

func clamp(n, upper int) int {
	return max(0, min(n, upper))
}

// unitemized builds per-item entries when the server only sent counts.
// Individual outcomes are unknown if anything failed.
func unitemized(targets []string, names map[string]string, allOK bool) []ItemResult {
	items := make([]ItemResult, len(targets))
	for i, id := range targets {
		items[i] = ItemResult{ID: id, Name: names[id], Success: allOK}
		if !allOK {
			items[i].Error = notReported
		}
	}
	return items
}

func (o *Orchestrator) foldDelete(res *Result, targets []string, names map[string]string, resp *client.BatchDeleteResponse) {
	if len(resp.Results) > 0 {
		items, ok, failed := perItem(targets, names, resp.Results)
		res.PerItem = items
		res.Operated, res.FailCount = reconcile(len(targets), &ok, &failed)
		return
	}
	res.Operated, res.FailCount = reconcile(len(targets), resp.Deleted, nil)
	res.PerItem = unitemized(targets, names, res.Operated == len(targets))
}

func (o *Orchestrator) foldTransportError(res *Result, targets []string, names map[string]string, err error) {
	res.Operated = 0
	res.FailCount = len(targets)
	res.Reason = err.Error()
	res.PerItem = make([]ItemResult, len(targets))
	for i, id := range targets {
		res.PerItem[i] = ItemResult{ID: id, Name: names[id], Error: res.Reason}
	}
}

func (o *Orchestrator) finish(res Result) {
	for _, it := range res.Failed() {
		slog.Warn("batch item failed", "batch", res.ID, "kind", res.Kind, "action", res.Action, "id", it.ID, "err", it.Error)
	}
	slog.Info("batch settled",
		"batch", res.ID,
		"kind", res.Kind,
		"action", res.Action,
		"outcome", res.Outcome,
		"operated", res.Operated,
		"failed", res.FailCount,
		"skipped", res.Skipped,
	)
	if o.recorder != nil {
		o.recorder.RecordBatch(res.Kind, string(res.Action), string(res.Outcome), res.Operated, res.FailCount, res.FinishedAt.Sub(res.StartedAt))
	}
	if o.sink != nil {
		o.sink.Publish(res)
	}
}
