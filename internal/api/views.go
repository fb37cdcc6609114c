package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/passdeck/passdeck/internal/batch"
	"github.com/passdeck/passdeck/internal/collection"
	"github.com/passdeck/passdeck/internal/console"
	"github.com/passdeck/passdeck/internal/resource"
)

type viewResponse struct {
	collection.State
	Layout string `json:"layout"`
}

// view resolves the {kind} route variable.
func (s *Server) view(w http.ResponseWriter, r *http.Request) (*collection.Controller, bool) {
	kind, err := resource.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	v, err := s.console.View(kind)
	if err != nil {
		writeOpError(w, err)
		return nil, false
	}
	return v, true
}

func (s *Server) writeView(w http.ResponseWriter, r *http.Request, v *collection.Controller) {
	writeJSON(w, http.StatusOK, viewResponse{
		State:  v.State(),
		Layout: s.console.Layout(r.Context(), v.Kind()),
	})
}

// getView applies any criteria, sort and paging parameters present in
// the query string and returns the resulting page. Parameters that are
// absent leave the view's current setting alone.
func (s *Server) getView(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	if hasAny(q, "q", "status", "endpoint", "tag") {
		cr := v.State().Criteria
		if q.Has("q") {
			cr.Query = strings.TrimSpace(q.Get("q"))
		}
		if q.Has("status") {
			// Offline is its own attribute for tunnels; reset both.
			cr = cr.With(resource.AttrStatus, collection.MatchAll).With(resource.AttrOffline, collection.MatchAll)
			if val := q.Get("status"); val != "" && val != collection.MatchAll {
				key, want := resource.StatusFilter(v.Kind(), val)
				cr = cr.With(key, want)
			}
		}
		if q.Has("endpoint") {
			cr = cr.With(resource.AttrEndpoint, q.Get("endpoint"))
		}
		if q.Has("tag") {
			cr = cr.With(resource.AttrTag, q.Get("tag"))
		}
		v.SetCriteria(cr)
	}

	if q.Has("sort") || q.Has("dir") {
		sd := v.State().Sort
		if q.Has("sort") {
			sd.Field = q.Get("sort")
		}
		if q.Has("dir") {
			sd.Direction = parseDirection(q.Get("dir"))
		}
		v.SetSort(sd)
	}

	if q.Has("page_size") {
		n, err := strconv.Atoi(q.Get("page_size"))
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page_size must be a positive integer")
			return
		}
		v.SetPageSize(n)
	}
	if q.Has("page") {
		n, err := strconv.Atoi(q.Get("page"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "page must be an integer")
			return
		}
		v.SetPage(n)
	}

	s.writeView(w, r, v)
}

func hasAny(q map[string][]string, keys ...string) bool {
	for _, k := range keys {
		if _, ok := q[k]; ok {
			return true
		}
	}
	return false
}

func parseDirection(s string) collection.Direction {
	switch strings.ToLower(s) {
	case "desc", "descending":
		return collection.Descending
	}
	return collection.Ascending
}

func (s *Server) refreshView(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var err error
	if s.healthCheck != nil {
		err = s.healthCheck.CheckNow(v)
	} else {
		err = v.Refresh(r.Context())
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	s.writeView(w, r, v)
}

type selectionRequest struct {
	Op string `json:"op"`
	ID string `json:"id,omitempty"`
}

func (s *Server) updateSelection(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	switch req.Op {
	case "select_all":
		v.SelectAll()
	case "clear":
		v.ClearSelection()
	case "toggle":
		if req.ID == "" {
			writeError(w, http.StatusBadRequest, "id is required for toggle")
			return
		}
		v.Toggle(req.ID)
	default:
		writeError(w, http.StatusBadRequest, "op must be select_all, clear or toggle")
		return
	}
	s.writeView(w, r, v)
}

type batchRequest struct {
	Action  string `json:"action"`
	Recycle bool   `json:"recycle"`
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.console.RunBatch(r.Context(), v.Kind(), batch.Action(req.Action), req.Recycle)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":  res,
		"summary": res.Summary(),
	})
}

func (s *Server) exportSelection(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	items := v.Export()
	slog.Info("selection exported", "kind", v.Kind(), "count", len(items))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":  v.Kind(),
		"items": items,
	})
}

type prefsRequest struct {
	PageSize *int    `json:"page_size,omitempty"`
	Layout   *string `json:"layout,omitempty"`
}

func (s *Server) getPrefs(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page_size": v.PageSize(),
		"layout":    s.console.Layout(r.Context(), v.Kind()),
	})
}

func (s *Server) updatePrefs(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var req prefsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.PageSize != nil {
		if err := s.console.SetPageSize(r.Context(), v.Kind(), *req.PageSize); err != nil {
			writeOpError(w, err)
			return
		}
	}
	if req.Layout != nil {
		if err := s.console.SetLayout(r.Context(), v.Kind(), *req.Layout); err != nil {
			writeOpError(w, err)
			return
		}
	}
	s.writeView(w, r, v)
}

// --- Single-resource Handlers ---

func (s *Server) operate(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var op console.Operation
	if !decodeBody(w, r, &op) {
		return
	}
	if op.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.console.Operate(r.Context(), v.Kind(), id, op); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": id, "action": op.Action})
}

func (s *Server) createTunnel(w http.ResponseWriter, r *http.Request) {
	var spec resource.TunnelSpec
	if !decodeBody(w, r, &spec) {
		return
	}
	created, err := s.console.CreateTunnel(r.Context(), spec)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateTunnel(w http.ResponseWriter, r *http.Request) {
	var spec resource.TunnelSpec
	if !decodeBody(w, r, &spec) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.console.UpdateTunnel(r.Context(), id, spec); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "id": id})
}

func (s *Server) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var spec resource.EndpointSpec
	if !decodeBody(w, r, &spec) {
		return
	}
	created, err := s.console.CreateEndpoint(r.Context(), spec)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	var spec resource.EndpointSpec
	if !decodeBody(w, r, &spec) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.console.UpdateEndpoint(r.Context(), id, spec); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "id": id})
}

type rotateKeyRequest struct {
	APIKey string `json:"apiKey"`
}

func (s *Server) rotateEndpointKey(w http.ResponseWriter, r *http.Request) {
	var req rotateKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.console.RotateEndpointKey(r.Context(), id, req.APIKey); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "key_updated", "id": id})
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.console.Tags(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": tags, "untagged": collection.Unset})
}
