package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/services/scheduler"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scheduler.ErrTargetNotFound), errors.Is(err, alert.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrKindDisabled):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrAlreadyDispatched):
		writeError(w, http.StatusConflict, "already dispatched")
	case errors.Is(err, alert.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		obs.WithTrace(r.Context(), s.log).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func targetID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "targetID"), 10, 64)
	return id, err == nil && id > 0
}

func optionalKind(r *http.Request) (target.Kind, bool) {
	raw := r.URL.Query().Get("kind")
	if raw == "" {
		return "", true
	}
	k, err := target.ParseKind(raw)
	return k, err == nil
}

func limit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, maxLimit), true
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad target id")
		return
	}
	kind, ok := optionalKind(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown check kind")
		return
	}
	kinds, err := s.checks.Trigger(r.Context(), id, kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "kinds": kinds})
}

func (s *Server) recent(r *http.Request, p target.Pair, n int) ([]*result.CheckResult, error) {
	if s.cache != nil {
		if rs, err := s.cache.Recent(r.Context(), p, n); err == nil && len(rs) > 0 {
			return rs, nil
		} else if err != nil {
			obs.WithTrace(r.Context(), s.log).Debug("result cache miss", zap.String("pair", p.Key()), zap.Error(err))
		}
	}
	return s.results.Recent(r.Context(), p, n)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad target id")
		return
	}
	kind, ok := optionalKind(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown check kind")
		return
	}
	n, ok := limit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad limit")
		return
	}

	kinds := target.Kinds
	if kind != "" {
		kinds = []target.Kind{kind}
	}
	out := []*result.CheckResult{}
	for _, k := range kinds {
		rs, err := s.recent(r, target.Pair{TargetID: id, Kind: k}, n)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, rs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CheckedAt.After(out[j].CheckedAt) })
	if len(out) > n {
		out = out[:n]
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f alert.Filter
	var err error
	if v := q.Get("status"); v != "" {
		if f.Status, err = alert.ParseStatus(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if v := q.Get("severity"); v != "" {
		if f.Severity, err = alert.ParseSeverity(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if v := q.Get("kind"); v != "" {
		if f.Kind, err = target.ParseKind(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if v := q.Get("target_id"); v != "" {
		if f.TargetID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "bad target_id")
			return
		}
	}
	n, ok := limit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad limit")
		return
	}
	f.Limit = n

	as, err := s.alerts.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if as == nil {
		as = []*alert.Alert{}
	}
	writeJSON(w, http.StatusOK, as)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.alerts.Get(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	a, err := s.alerts.Acknowledge(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type resolveRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	a, err := s.alerts.Resolve(r.Context(), chi.URLParam(r, "alertID"), req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
