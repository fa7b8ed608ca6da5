package mirror

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Bldg-7/clawdash/internal/shared"
	"go.uber.org/zap"
)

const testAuthToken = "test-token"

type apiFixture struct {
	*syncFixture
	remote *fakeGateway
	api    *HTTPAPI
	h      http.Handler
}

func setupHTTPAPI(t *testing.T) *apiFixture {
	t.Helper()
	remoteGW := newFakeGateway(t)
	f := newSyncFixture(t, remoteGW.srv.URL)

	api := NewHTTPAPI(f.registry, f.cache, f.syncer, f.health, f.db, testAuthToken, zap.NewNop())
	api.SetProxyClient(f.client)
	api.now = f.now

	return &apiFixture{syncFixture: f, remote: remoteGW, api: api, h: api.Handler()}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		t.Fatalf("decode data %q: %v", resp.Data, err)
	}
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp apiError
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error %q: %v", w.Body.String(), err)
	}
	return resp.Code
}

func TestHealthEndpointsNoAuth(t *testing.T) {
	f := setupHTTPAPI(t)

	for _, path := range []string{"/api/v1/health", "/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		f.h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	var health healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.Components["database"] != "ok" || health.Components["event_hub"] != "disabled" {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestAuthRequired(t *testing.T) {
	f := setupHTTPAPI(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong token", "Bearer nope"},
		{"wrong scheme", "Basic " + testAuthToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/gateways", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			f.h.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if code := decodeErrorCode(t, w); code != "AUTH_REQUIRED" {
				t.Fatalf("expected AUTH_REQUIRED, got %s", code)
			}
		})
	}
}

func TestGatewayCRUD(t *testing.T) {
	f := setupHTTPAPI(t)

	w := f.do(t, http.MethodPost, "/api/v1/gateways", map[string]string{
		"name": "office", "url": "https://office.example.com", "token": "secret",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte("secret")) {
		t.Fatalf("token leaked in response: %s", w.Body.String())
	}
	var created gatewayJSON
	decodeData(t, w, &created)
	if created.Name != "office" || !created.TokenSet || created.Status != string(GatewayStatusUnknown) {
		t.Fatalf("unexpected created gateway %+v", created)
	}

	w = f.do(t, http.MethodGet, "/api/v1/gateways", nil)
	var list []gatewayJSON
	decodeData(t, w, &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 gateways, got %d", len(list))
	}

	w = f.do(t, http.MethodPut, "/api/v1/gateways/"+created.ID, map[string]string{"name": "office-2"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var updated gatewayJSON
	decodeData(t, w, &updated)
	if updated.Name != "office-2" || updated.URL != "https://office.example.com" {
		t.Fatalf("partial update changed unrelated fields: %+v", updated)
	}

	w = f.do(t, http.MethodPut, "/api/v1/gateways/"+created.ID, map[string]string{"status": "sleeping"})
	if w.Code != http.StatusBadRequest || decodeErrorCode(t, w) != "INVALID_STATUS" {
		t.Fatalf("expected INVALID_STATUS, got %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPut, "/api/v1/gateways/"+created.ID, map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", w.Code)
	}

	w = f.do(t, http.MethodDelete, "/api/v1/gateways/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = f.do(t, http.MethodDelete, "/api/v1/gateways/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/api/v1/gateways/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestCreateGatewayValidation(t *testing.T) {
	f := setupHTTPAPI(t)

	bodies := []interface{}{
		map[string]string{"name": "", "url": "https://x.example.com"},
		map[string]string{"name": "x", "url": "ftp://x.example.com"},
		map[string]string{"name": "x", "url": "not a url"},
	}
	for _, body := range bodies {
		w := f.do(t, http.MethodPost, "/api/v1/gateways", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %v: expected 400, got %d", body, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/gateways", bytes.NewBufferString("{broken"))
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || decodeErrorCode(t, w) != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST for broken JSON, got %d", w.Code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	f := setupHTTPAPI(t)
	f.remote.set("/sessions", `{"sessions":[{"sessionKey":"main","lastMessageAt":1771236000000},{"sessionKey":"side","lastMessageAt":1771200000000}]}`, 0)

	w := f.do(t, http.MethodPost, "/api/v1/gateways/"+f.gw.ID+"/sync/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res syncResultJSON
	decodeData(t, w, &res)
	if res.GatewayID != f.gw.ID || res.Kind != "sessions" || res.Synced != 2 {
		t.Fatalf("unexpected sync result %+v", res)
	}

	w = f.do(t, http.MethodGet, "/api/v1/gateways/"+f.gw.ID+"/sessions", nil)
	var sessions []sessionJSON
	decodeData(t, w, &sessions)
	if len(sessions) != 2 || sessions[0].SessionKey != "main" || sessions[1].SessionKey != "side" {
		t.Fatalf("expected sessions newest first, got %+v", sessions)
	}
}

func TestSyncEndpointErrors(t *testing.T) {
	f := setupHTTPAPI(t)

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown kind", "/api/v1/gateways/" + f.gw.ID + "/sync/agents", http.StatusBadRequest, "INVALID_KIND"},
		{"messages without session", "/api/v1/gateways/" + f.gw.ID + "/sync/messages", http.StatusBadRequest, "SESSION_KEY_REQUIRED"},
		{"missing gateway", "/api/v1/gateways/gw_missing/sync/cron", http.StatusNotFound, "NOT_FOUND"},
		{"remote 404", "/api/v1/gateways/" + f.gw.ID + "/sync/cron", http.StatusBadGateway, "REMOTE_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.path, nil)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if code := decodeErrorCode(t, w); code != tt.code {
				t.Fatalf("expected %s, got %s", tt.code, code)
			}
		})
	}

	if gw := f.gateway(t); gw.Status != GatewayStatusError {
		t.Fatalf("expected remote failure to mark gateway error, got %s", gw.Status)
	}
}

func TestSyncUnreachableGateway(t *testing.T) {
	f := setupHTTPAPI(t)
	f.remote.srv.Close()

	w := f.do(t, http.MethodPost, "/api/v1/gateways/"+f.gw.ID+"/sync/usage", nil)
	if w.Code != http.StatusBadGateway || decodeErrorCode(t, w) != "REMOTE_ERROR" {
		t.Fatalf("expected 502 REMOTE_ERROR, got %d %s", w.Code, w.Body.String())
	}
}

func TestSyncMessagesAndList(t *testing.T) {
	f := setupHTTPAPI(t)
	f.remote.set("/sessions/main/history", `{"messages":[
		{"id":"a","role":"user","content":"hello","timestamp":"2026-02-16T09:00:00.750Z"},
		{"id":"b","role":"assistant","content":[{"type":"text","text":"hi"}],"timestamp":1771232460000}
	]}`, 0)

	w := f.do(t, http.MethodPost, "/api/v1/gateways/"+f.gw.ID+"/sessions/main/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res syncResultJSON
	decodeData(t, w, &res)
	if res.Kind != "messages" || res.SessionKey != "main" || res.Synced != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	w = f.do(t, http.MethodGet, "/api/v1/gateways/"+f.gw.ID+"/sessions/main/messages", nil)
	var msgs []messageJSON
	decodeData(t, w, &msgs)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hello" || msgs[0].Position != 0 {
		t.Fatalf("unexpected first message %+v", msgs[0])
	}
	if msgs[0].Timestamp == nil || msgs[0].Timestamp.Unix() != 1771232400 {
		t.Fatalf("expected floored timestamp, got %v", msgs[0].Timestamp)
	}
	if msgs[1].Content != `[{"type":"text","text":"hi"}]` {
		t.Fatalf("expected structured content kept as JSON, got %q", msgs[1].Content)
	}
}

func TestListCronScheduleSummary(t *testing.T) {
	f := setupHTTPAPI(t)
	f.remote.set("/cron", `{"jobs":[
		{"jobId":"digest","name":"digest","schedule":{"kind":"every","everyMs":3600000},"payload":{"kind":"agentTurn","message":"daily digest"},"enabled":true},
		{"jobId":"off","schedule":{"kind":"cron","expr":"0 9 * * *"},"enabled":false}
	]}`, 0)

	if w := f.do(t, http.MethodPost, "/api/v1/gateways/"+f.gw.ID+"/sync/cron", nil); w.Code != http.StatusOK {
		t.Fatalf("sync cron: %d %s", w.Code, w.Body.String())
	}

	w := f.do(t, http.MethodGet, "/api/v1/gateways/"+f.gw.ID+"/cron", nil)
	var jobs []cronJobJSON
	decodeData(t, w, &jobs)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	byID := map[string]cronJobJSON{}
	for _, j := range jobs {
		byID[j.ID] = j
	}
	digest := byID[f.gw.ID+"_digest"]
	if digest.Schedule.Kind != ScheduleEvery || digest.PayloadText != "daily digest" {
		t.Fatalf("unexpected digest job %+v", digest)
	}
	if digest.Schedule.NextFireAt == nil || !digest.Schedule.NextFireAt.Equal(f.clock.Add(3600e9)) {
		t.Fatalf("expected computed next fire, got %v", digest.Schedule.NextFireAt)
	}
	off := byID[f.gw.ID+"_off"]
	if off.Enabled || off.Schedule.NextFireAt != nil {
		t.Fatalf("disabled job should have no next fire: %+v", off)
	}
}

func TestUsageEndpoints(t *testing.T) {
	f := setupHTTPAPI(t)
	f.remote.set("/status", `{"model":"gpt-4","usage":{"inputTokens":1000,"outputTokens":500,"costUsd":0.05}}`, 0)

	if w := f.do(t, http.MethodPost, "/api/v1/gateways/"+f.gw.ID+"/sync/usage", nil); w.Code != http.StatusOK {
		t.Fatalf("sync usage: %d %s", w.Code, w.Body.String())
	}

	w := f.do(t, http.MethodGet, "/api/v1/gateways/"+f.gw.ID+"/usage", nil)
	var stats []usageJSON
	decodeData(t, w, &stats)
	if len(stats) != 1 || stats[0].Date != "2026-02-16" || stats[0].InputTokens != 1000 {
		t.Fatalf("unexpected usage %+v", stats)
	}

	w = f.do(t, http.MethodGet, "/api/v1/gateways/"+f.gw.ID+"/usage?from=2026-01-01&to=2026-01-31", nil)
	decodeData(t, w, &stats)
	if len(stats) != 0 {
		t.Fatalf("expected no usage outside range, got %+v", stats)
	}

	w = f.do(t, http.MethodGet, "/api/v1/gateways/"+f.gw.ID+"/usage/summary", nil)
	var summary usageSummaryJSON
	decodeData(t, w, &summary)
	if summary.To != "2026-02-16" || summary.InputTokens != 1000 || summary.OutputTokens != 500 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Models) != 1 || summary.Models[0].Model != "gpt-4" || summary.Models[0].Days != 1 {
		t.Fatalf("unexpected summary models %+v", summary.Models)
	}

	for _, q := range []string{"?from=yesterday", "?from=2026-02-10&to=2026-02-01"} {
		w = f.do(t, http.MethodGet, "/api/v1/gateways/"+f.gw.ID+"/usage"+q, nil)
		if w.Code != http.StatusBadRequest || decodeErrorCode(t, w) != "INVALID_DATE" {
			t.Errorf("%s: expected INVALID_DATE, got %d", q, w.Code)
		}
	}
}

func TestProxyFeedsHealth(t *testing.T) {
	f := setupHTTPAPI(t)
	f.remote.set("/tools/invoke", `{"ok":true,"result":42}`, 0)

	w := f.do(t, http.MethodPost, "/api/v1/gateways/"+f.gw.ID+"/proxy", map[string]interface{}{
		"endpoint": "/tools/invoke",
		"method":   "post",
		"body":     map[string]string{"tool": "calc"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var upstream map[string]interface{}
	decodeData(t, w, &upstream)
	if upstream["result"] != float64(42) {
		t.Fatalf("unexpected upstream body %+v", upstream)
	}
	if gw := f.gateway(t); gw.Status != GatewayStatusOnline {
		t.Fatalf("expected online after proxy success, got %s", gw.Status)
	}

	f.remote.set("/tools/invoke", `{"error":"tool exploded"}`, http.StatusInternalServerError)
	w = f.do(t, http.MethodPost, "/api/v1/gateways/"+f.gw.ID+"/proxy", map[string]interface{}{
		"endpoint": "tools/invoke",
		"method":   "POST",
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var perr proxyErrorJSON
	if err := json.Unmarshal(w.Body.Bytes(), &perr); err != nil {
		t.Fatalf("decode proxy error: %v", err)
	}
	if perr.UpstreamStatus != http.StatusInternalServerError || string(perr.Upstream) != `{"error":"tool exploded"}` {
		t.Fatalf("expected upstream relayed, got %+v", perr)
	}
	if gw := f.gateway(t); gw.Status != GatewayStatusError {
		t.Fatalf("expected error after proxy failure, got %s", gw.Status)
	}

	w = f.do(t, http.MethodPost, "/api/v1/gateways/"+f.gw.ID+"/proxy", map[string]string{"endpoint": "/x", "method": "TRACE"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported method, got %d", w.Code)
	}
}

func TestCorrelationHeader(t *testing.T) {
	f := setupHTTPAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(shared.CorrelationHeader, "req-123")
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	if got := w.Header().Get(shared.CorrelationHeader); got != "req-123" {
		t.Fatalf("expected correlation id echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	if w.Header().Get(shared.CorrelationHeader) == "" {
		t.Fatal("expected generated correlation id")
	}
}
