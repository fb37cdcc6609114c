package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passdeck/passdeck/internal/client"
	"github.com/passdeck/passdeck/internal/resource"
)

type call struct {
	action  string
	ids     []string
	recycle bool
}

type fakeMutator struct {
	calls     []call
	actionRes *client.BatchActionResponse
	deleteRes *client.BatchDeleteResponse
	err       error
}

func (f *fakeMutator) BatchAction(ctx context.Context, kind resource.Kind, action string, ids []string) (*client.BatchActionResponse, error) {
	f.calls = append(f.calls, call{action: action, ids: ids})
	if f.err != nil {
		return nil, f.err
	}
	if f.actionRes == nil {
		return &client.BatchActionResponse{Success: true}, nil
	}
	return f.actionRes, nil
}

func (f *fakeMutator) BatchDelete(ctx context.Context, kind resource.Kind, ids []string, recycle bool) (*client.BatchDeleteResponse, error) {
	f.calls = append(f.calls, call{action: "delete", ids: ids, recycle: recycle})
	if f.err != nil {
		return nil, f.err
	}
	if f.deleteRes == nil {
		return &client.BatchDeleteResponse{Success: true}, nil
	}
	return f.deleteRes, nil
}

type recordingSink struct{ results []Result }

func (s *recordingSink) Publish(r Result) { s.results = append(s.results, r) }

type countingRefresher struct {
	calls int
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context) error {
	r.calls++
	return r.err
}

type fakeRecorder struct{ outcomes []string }

func (f *fakeRecorder) RecordBatch(kind resource.Kind, action, outcome string, operated, failed int, d time.Duration) {
	f.outcomes = append(f.outcomes, outcome)
}

func lookupOf(items ...resource.Resource) func(string) (resource.Resource, bool) {
	m := make(map[string]resource.Resource, len(items))
	for _, r := range items {
		m[r.ID] = r
	}
	return func(id string) (resource.Resource, bool) {
		r, ok := m[id]
		return r, ok
	}
}

func tun(id string, s resource.Status) resource.Resource {
	return resource.Resource{ID: id, Kind: resource.KindTunnel, Name: "t" + id, Status: s}
}

func intp(n int) *int { return &n }

func TestPartialFailureAccounting(t *testing.T) {
	m := &fakeMutator{actionRes: &client.BatchActionResponse{
		Success:   true,
		Operated:  intp(3),
		FailCount: intp(2),
		Results: []client.BatchItemResult{
			{ID: "1", Success: true},
			{ID: "2", Success: false, Error: "timeout"},
			{ID: "3", Success: true},
			{ID: "4", Success: true},
			{ID: "5", Success: false, Error: "not found"},
		},
	}}
	sink := &recordingSink{}
	ref := &countingRefresher{}
	o := NewOrchestrator(m, sink, nil)

	items := []resource.Resource{
		tun("1", resource.StatusRunning), tun("2", resource.StatusRunning), tun("3", resource.StatusRunning),
		tun("4", resource.StatusRunning), tun("5", resource.StatusRunning),
	}
	res := o.Execute(context.Background(), Request{
		Kind:      resource.KindTunnel,
		Action:    ActionRestart,
		IDs:       []string{"1", "2", "3", "4", "5"},
		Lookup:    lookupOf(items...),
		Refresher: ref,
	})

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, 5, res.Requested)
	assert.Equal(t, 3, res.Operated)
	assert.Equal(t, 2, res.FailCount)
	require.Len(t, res.PerItem, 5)
	assert.Equal(t, "timeout", res.PerItem[1].Error)
	assert.Equal(t, "t2", res.PerItem[1].Name)
	assert.Len(t, res.Failed(), 2)
	assert.Contains(t, res.Summary(), "succeeded 3, failed 2")

	require.Len(t, sink.results, 1)
	assert.Equal(t, 1, ref.calls)
}

func TestStartOnlySubmitsStopped(t *testing.T) {
	m := &fakeMutator{}
	o := NewOrchestrator(m, nil, nil)

	res := o.Execute(context.Background(), Request{
		Kind:   resource.KindTunnel,
		Action: ActionStart,
		IDs:    []string{"1", "2", "3", "4"},
		Lookup: lookupOf(
			tun("1", resource.StatusRunning),
			tun("2", resource.StatusStopped),
			tun("3", resource.StatusRunning),
			tun("4", resource.StatusRunning),
		),
	})

	require.Len(t, m.calls, 1)
	assert.Equal(t, []string{"2"}, m.calls[0].ids)
	assert.Equal(t, "start", m.calls[0].action)
	assert.Equal(t, 1, res.Requested)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, res.Operated)
}

func TestNothingEligibleIsNoOp(t *testing.T) {
	m := &fakeMutator{}
	sink := &recordingSink{}
	ref := &countingRefresher{}
	o := NewOrchestrator(m, sink, nil)

	res := o.Execute(context.Background(), Request{
		Kind:      resource.KindTunnel,
		Action:    ActionStart,
		IDs:       []string{"1", "2"},
		Lookup:    lookupOf(tun("1", resource.StatusRunning), tun("2", resource.StatusRunning)),
		Refresher: ref,
	})

	assert.Empty(t, m.calls)
	assert.Equal(t, OutcomeNoOp, res.Outcome)
	assert.Equal(t, "nothing eligible", res.Summary())
	assert.Zero(t, ref.calls)
	require.Len(t, sink.results, 1, "no-op is still reported once")
}

func TestEmptySelection(t *testing.T) {
	m := &fakeMutator{}
	o := NewOrchestrator(m, nil, nil)
	res := o.Execute(context.Background(), Request{Kind: resource.KindTunnel, Action: ActionStop, Lookup: lookupOf()})
	assert.Equal(t, OutcomeNoOp, res.Outcome)
	assert.Equal(t, "no items selected", res.Reason)
	assert.Empty(t, m.calls)
}

func TestUnsupportedAction(t *testing.T) {
	m := &fakeMutator{}
	o := NewOrchestrator(m, nil, nil)
	res := o.Execute(context.Background(), Request{
		Kind:   resource.KindEndpoint,
		Action: ActionRestart,
		IDs:    []string{"1"},
		Lookup: lookupOf(resource.Resource{ID: "1", Status: resource.StatusOnline}),
	})
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Empty(t, m.calls)
	assert.Contains(t, res.Summary(), "not supported")
}

func TestTransportFailureFailsWholeBatch(t *testing.T) {
	m := &fakeMutator{err: &client.APIError{StatusCode: 502}}
	rec := &fakeRecorder{}
	ref := &countingRefresher{err: errors.New("still down")}
	o := NewOrchestrator(m, nil, rec)

	res := o.Execute(context.Background(), Request{
		Kind:      resource.KindTunnel,
		Action:    ActionStop,
		IDs:       []string{"1", "2", "3"},
		Lookup:    lookupOf(tun("1", resource.StatusRunning), tun("2", resource.StatusRunning), tun("3", resource.StatusRunning)),
		Refresher: ref,
	})

	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, 0, res.Operated)
	assert.Equal(t, 3, res.FailCount)
	require.Len(t, res.PerItem, 3)
	for _, it := range res.PerItem {
		assert.False(t, it.Success)
		assert.Contains(t, it.Error, "502")
	}
	assert.Equal(t, 1, ref.calls, "refresh still runs after a failure")
	assert.Equal(t, []string{"failure"}, rec.outcomes)
}

func TestCountsDerivedFromResults(t *testing.T) {
	m := &fakeMutator{actionRes: &client.BatchActionResponse{
		Results: []client.BatchItemResult{
			{ID: "1", Success: true},
			{ID: "2", Success: false, Error: "refused"},
		},
	}}
	o := NewOrchestrator(m, nil, nil)
	res := o.Execute(context.Background(), Request{
		Kind:   resource.KindTunnel,
		Action: ActionStop,
		IDs:    []string{"1", "2", "3"},
		Lookup: lookupOf(tun("1", resource.StatusRunning), tun("2", resource.StatusRunning), tun("3", resource.StatusRunning)),
	})

	assert.Equal(t, 1, res.Operated)
	assert.Equal(t, 2, res.FailCount)
	assert.Equal(t, notReported, res.PerItem[2].Error)
}

func TestOperatedWithoutResults(t *testing.T) {
	m := &fakeMutator{actionRes: &client.BatchActionResponse{Operated: intp(1)}}
	o := NewOrchestrator(m, nil, nil)
	res := o.Execute(context.Background(), Request{
		Kind:   resource.KindEndpoint,
		Action: ActionReconnect,
		IDs:    []string{"a", "b"},
		Lookup: lookupOf(
			resource.Resource{ID: "a", Status: resource.StatusFail},
			resource.Resource{ID: "b", Status: resource.StatusDisconnect},
		),
	})
	assert.Equal(t, 1, res.Operated)
	assert.Equal(t, 1, res.FailCount)
	assert.Equal(t, OutcomePartial, res.Outcome)
}

func TestDeleteUsesBatchDelete(t *testing.T) {
	m := &fakeMutator{deleteRes: &client.BatchDeleteResponse{Success: true, Deleted: intp(2)}}
	o := NewOrchestrator(m, nil, nil)
	res := o.Execute(context.Background(), Request{
		Kind:    resource.KindTunnel,
		Action:  ActionDelete,
		IDs:     []string{"1", "2", "gone"},
		Lookup:  lookupOf(tun("1", resource.StatusRunning), tun("2", resource.StatusStopped)),
		Recycle: true,
	})

	require.Len(t, m.calls, 1)
	assert.Equal(t, call{action: "delete", ids: []string{"1", "2"}, recycle: true}, m.calls[0])
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, res.Operated)
	assert.Equal(t, 1, res.Skipped)
}

func TestDeleteShortCount(t *testing.T) {
	m := &fakeMutator{deleteRes: &client.BatchDeleteResponse{Deleted: intp(1)}}
	o := NewOrchestrator(m, nil, nil)
	res := o.Execute(context.Background(), Request{
		Kind:   resource.KindEndpoint,
		Action: ActionDelete,
		IDs:    []string{"1", "2"},
		Lookup: lookupOf(resource.Resource{ID: "1"}, resource.Resource{ID: "2"}),
	})
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, 1, res.FailCount)
}

func TestApplicability(t *testing.T) {
	tests := []struct {
		action Action
		status resource.Status
		want   bool
	}{
		{ActionStart, resource.StatusStopped, true},
		{ActionStart, resource.StatusError, true},
		{ActionStart, resource.StatusRunning, false},
		{ActionStop, resource.StatusRunning, true},
		{ActionStop, resource.StatusStopped, false},
		{ActionRestart, resource.StatusRunning, true},
		{ActionRestart, resource.StatusOffline, false},
		{ActionReconnect, resource.StatusFail, true},
		{ActionReconnect, resource.StatusOnline, false},
		{ActionDisconnect, resource.StatusOnline, true},
		{ActionDelete, resource.StatusRunning, true},
		{Action("explode"), resource.StatusRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.action)+"/"+string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, Applicable(tt.action, resource.Resource{Status: tt.status}))
		})
	}
}

func fiveRunning() ([]string, func(string) (resource.Resource, bool)) {
	ids := []string{"1", "2", "3", "4", "5"}
	items := make([]resource.Resource, len(ids))
	for i, id := range ids {
		items[i] = tun(id, resource.StatusRunning)
	}
	return ids, lookupOf(items...)
}

func TestFailCountWithoutOperated(t *testing.T) {
	ids, lookup := fiveRunning()
	m := &fakeMutator{actionRes: &client.BatchActionResponse{FailCount: intp(2)}}
	o := NewOrchestrator(m, nil, nil)

	res := o.Execute(context.Background(), Request{Kind: resource.KindTunnel, Action: ActionStop, IDs: ids, Lookup: lookup})

	assert.Equal(t, 5, res.Requested)
	assert.Equal(t, 3, res.Operated)
	assert.Equal(t, 2, res.FailCount)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, "stop tunnels: succeeded 3, failed 2", res.Summary())
	assert.Len(t, res.Failed(), 5, "per-item outcomes are unknown when only counts arrive")
}

func TestZeroCountsAfterSubmitAreFailure(t *testing.T) {
	ids, lookup := fiveRunning()
	m := &fakeMutator{actionRes: &client.BatchActionResponse{Operated: intp(0), FailCount: intp(0)}}
	sink := &recordingSink{}
	o := NewOrchestrator(m, sink, nil)

	res := o.Execute(context.Background(), Request{Kind: resource.KindTunnel, Action: ActionStop, IDs: ids, Lookup: lookup})

	require.Len(t, m.calls, 1)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, 0, res.Operated)
	assert.Equal(t, 5, res.FailCount)
	assert.NotEqual(t, "nothing eligible", res.Summary())
	for _, it := range res.PerItem {
		assert.False(t, it.Success)
	}
	require.Len(t, sink.results, 1)
}

func TestCountsAlwaysSumToRequested(t *testing.T) {
	tests := []struct {
		name         string
		resp         *client.BatchActionResponse
		wantOperated int
		wantFailed   int
	}{
		{"no counts", &client.BatchActionResponse{Success: true}, 5, 0},
		{"operated over requested", &client.BatchActionResponse{Operated: intp(9)}, 5, 0},
		{"negative operated", &client.BatchActionResponse{Operated: intp(-1)}, 0, 5},
		{"fail count over requested", &client.BatchActionResponse{FailCount: intp(8)}, 0, 5},
		{"inconsistent pair", &client.BatchActionResponse{Operated: intp(4), FailCount: intp(4)}, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, lookup := fiveRunning()
			o := NewOrchestrator(&fakeMutator{actionRes: tt.resp}, nil, nil)
			res := o.Execute(context.Background(), Request{Kind: resource.KindTunnel, Action: ActionStop, IDs: ids, Lookup: lookup})
			assert.Equal(t, tt.wantOperated, res.Operated)
			assert.Equal(t, tt.wantFailed, res.FailCount)
			assert.Equal(t, res.Requested, res.Operated+res.FailCount)
			assert.NotEqual(t, OutcomeNoOp, res.Outcome)
		})
	}
}

func TestDeleteZeroCountIsFailure(t *testing.T) {
	m := &fakeMutator{deleteRes: &client.BatchDeleteResponse{Deleted: intp(0)}}
	o := NewOrchestrator(m, nil, nil)
	res := o.Execute(context.Background(), Request{
		Kind:   resource.KindEndpoint,
		Action: ActionDelete,
		IDs:    []string{"1", "2"},
		Lookup: lookupOf(resource.Resource{ID: "1"}, resource.Resource{ID: "2"}),
	})
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, 2, res.FailCount)
}
