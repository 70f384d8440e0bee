package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/NordCoder/Sitewatch/internal/repository/memory"
	"github.com/NordCoder/Sitewatch/internal/services/alerting"
	"github.com/NordCoder/Sitewatch/internal/services/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pool struct{ accept bool }

func (p *pool) Submit(scheduler.WorkItem) bool { return p.accept }

type staticCache map[target.Pair][]*result.CheckResult

func (c staticCache) Recent(_ context.Context, p target.Pair, n int) ([]*result.CheckResult, error) {
	rs := c[p]
	if len(rs) > n {
		rs = rs[:n]
	}
	return rs, nil
}

type env struct {
	srv     *httptest.Server
	pool    *pool
	uc      *scheduler.Usecase
	mgr     *alerting.Manager
	results *memory.ResultRepo
	site    *target.Target
}

func newEnv(t *testing.T, cache RecentResults) *env {
	t.Helper()
	site := &target.Target{ID: 4, Name: "Docs", URL: "https://docs.example", Kinds: map[target.Kind]target.KindConfig{
		target.KindAvailability: {Enabled: true},
		target.KindCertificate:  {Enabled: true},
	}}
	uc := scheduler.NewUC()
	uc.SetTargets([]*target.Target{site})
	p := &pool{accept: true}
	runner := scheduler.New(zap.NewNop(), uc, p, time.Second)
	mgr := alerting.NewManager(memory.NewAlertRepo(), &memory.EventLog{}, memory.Transactor{}, nil)
	results := memory.NewResultRepo()

	s := NewServer(nil, runner, mgr, results, cache, nil, nil)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &env{srv: srv, pool: p, uc: uc, mgr: mgr, results: results, site: site}
}

func (e *env) do(t *testing.T, method, path, body string) (int, map[string]any, []any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	var obj map[string]any
	var arr []any
	if len(raw) > 0 && raw[0] == '[' {
		require.NoError(t, json.Unmarshal(raw, &arr))
	} else {
		require.NoError(t, json.Unmarshal(raw, &obj))
	}
	return resp.StatusCode, obj, arr
}

func TestTrigger(t *testing.T) {
	e := newEnv(t, nil)

	code, body, _ := e.do(t, http.MethodPost, "/api/v1/targets/4/checks?kind=availability", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, []any{"availability"}, body["kinds"])

	code, body, _ = e.do(t, http.MethodPost, "/api/v1/targets/4/checks?kind=availability", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already dispatched", body["error"])

	code, _, _ = e.do(t, http.MethodPost, "/api/v1/targets/99/checks", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _, _ = e.do(t, http.MethodPost, "/api/v1/targets/4/checks?kind=bogus", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _, _ = e.do(t, http.MethodPost, "/api/v1/targets/4/checks?kind=performance", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _, _ = e.do(t, http.MethodPost, "/api/v1/targets/abc/checks", "")
	assert.Equal(t, http.StatusBadRequest, code)

	e.pool.accept = false
	code, _, _ = e.do(t, http.MethodPost, "/api/v1/targets/4/checks?kind=certificate", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, e.uc.Dispatched(target.Pair{TargetID: 4, Kind: target.KindCertificate}))
}

func TestResults_CacheFirstThenStore(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	av := target.Pair{TargetID: 4, Kind: target.KindAvailability}
	cache := staticCache{av: {
		{TargetID: 4, Kind: target.KindAvailability, Outcome: result.OutcomeSuccess, CheckedAt: t0.Add(2 * time.Minute)},
	}}
	e := newEnv(t, cache)
	ctx := context.Background()
	_, err := e.results.Append(ctx, &result.CheckResult{TargetID: 4, Kind: target.KindCertificate, Outcome: result.OutcomeFailure, CheckedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	_, err = e.results.Append(ctx, &result.CheckResult{TargetID: 4, Kind: target.KindCertificate, Outcome: result.OutcomeSuccess, CheckedAt: t0})
	require.NoError(t, err)

	code, _, arr := e.do(t, http.MethodGet, "/api/v1/targets/4/results", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, arr, 3)
	assert.Equal(t, "availability", arr[0].(map[string]any)["kind"])
	assert.Equal(t, "failure", arr[1].(map[string]any)["outcome"])

	code, _, arr = e.do(t, http.MethodGet, "/api/v1/targets/4/results?kind=certificate&limit=1", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, arr, 1)

	code, _, _ = e.do(t, http.MethodGet, "/api/v1/targets/4/results?limit=-3", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAlerts_Lifecycle(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	a, err := e.mgr.Open(ctx, e.site, target.KindAvailability, alert.SeverityCritical, "Site Docs is down: HTTP 502", nil)
	require.NoError(t, err)

	code, _, arr := e.do(t, http.MethodGet, "/api/v1/alerts?status=open&severity=critical&target_id=4", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, arr, 1)

	code, _, arr = e.do(t, http.MethodGet, "/api/v1/alerts?kind=certificate", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, arr)

	code, _, _ = e.do(t, http.MethodGet, "/api/v1/alerts?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body, _ := e.do(t, http.MethodGet, "/api/v1/alerts/"+a.ID, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "open", body["status"])

	code, body, _ = e.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "acknowledged", body["status"])

	code, body, _ = e.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/resolve", `{"note":"restarted nginx"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "resolved", body["status"])
	assert.Equal(t, "restarted nginx", body["resolution_note"])

	code, _, _ = e.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/resolve", "")
	assert.Equal(t, http.StatusOK, code)

	code, _, _ = e.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _, _ = e.do(t, http.MethodGet, "/api/v1/alerts/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _, _ = e.do(t, http.MethodPost, "/api/v1/alerts/missing/resolve", "{}")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil)
	code, body, _ := e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}
