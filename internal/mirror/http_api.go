package mirror

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Bldg-7/clawdash/internal/remote"
	"github.com/Bldg-7/clawdash/internal/shared"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	maxRequestBodyBytes = 1 << 20
	defaultUsageDays    = 30
	dateLayout          = "2006-01-02"
)

// ProxyClient forwards arbitrary calls to a gateway.
type ProxyClient interface {
	Do(ctx context.Context, ep remote.Endpoint, method, endpoint string, body json.RawMessage) (*remote.Response, error)
}

type HTTPAPI struct {
	registry  *GatewayRegistry
	cache     *Cache
	syncer    *Syncer
	health    *HealthTracker
	proxy     ProxyClient
	hub       *EventHub
	db        *sql.DB
	authToken string
	logger    *zap.Logger
	metrics   *Metrics
	now       func() time.Time
}

func NewHTTPAPI(
	registry *GatewayRegistry,
	cache *Cache,
	syncer *Syncer,
	health *HealthTracker,
	db *sql.DB,
	authToken string,
	logger *zap.Logger,
) *HTTPAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAPI{
		registry:  registry,
		cache:     cache,
		syncer:    syncer,
		health:    health,
		db:        db,
		authToken: authToken,
		logger:    logger,
		metrics:   GetMetrics(),
		now:       time.Now,
	}
}

func (a *HTTPAPI) SetProxyClient(p ProxyClient) {
	a.proxy = p
}

func (a *HTTPAPI) SetHub(hub *EventHub) {
	a.hub = hub
}

func (a *HTTPAPI) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", a.handleHealth)
	mux.HandleFunc("GET /healthz", a.handleLiveness)
	mux.HandleFunc("GET /readyz", a.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/v1/gateways", a.requireAuth(http.HandlerFunc(a.handleListGateways)))
	mux.Handle("POST /api/v1/gateways", a.requireAuth(http.HandlerFunc(a.handleCreateGateway)))
	mux.Handle("GET /api/v1/gateways/{id}", a.requireAuth(http.HandlerFunc(a.handleGetGateway)))
	mux.Handle("PUT /api/v1/gateways/{id}", a.requireAuth(http.HandlerFunc(a.handleUpdateGateway)))
	mux.Handle("DELETE /api/v1/gateways/{id}", a.requireAuth(http.HandlerFunc(a.handleDeleteGateway)))

	mux.Handle("POST /api/v1/gateways/{id}/sync", a.requireAuth(http.HandlerFunc(a.handleSyncAll)))
	mux.Handle("POST /api/v1/gateways/{id}/sync/{kind}", a.requireAuth(http.HandlerFunc(a.handleSync)))
	mux.Handle("POST /api/v1/gateways/{id}/sessions/{sessionKey}/sync", a.requireAuth(http.HandlerFunc(a.handleSyncMessages)))

	mux.Handle("GET /api/v1/gateways/{id}/sessions", a.requireAuth(http.HandlerFunc(a.handleListSessions)))
	mux.Handle("GET /api/v1/gateways/{id}/sessions/{sessionKey}/messages", a.requireAuth(http.HandlerFunc(a.handleListMessages)))
	mux.Handle("GET /api/v1/gateways/{id}/cron", a.requireAuth(http.HandlerFunc(a.handleListCron)))
	mux.Handle("GET /api/v1/gateways/{id}/usage", a.requireAuth(http.HandlerFunc(a.handleListUsage)))
	mux.Handle("GET /api/v1/gateways/{id}/usage/summary", a.requireAuth(http.HandlerFunc(a.handleUsageSummary)))

	mux.Handle("POST /api/v1/gateways/{id}/proxy", a.requireAuth(http.HandlerFunc(a.handleProxy)))

	if a.hub != nil {
		mux.HandleFunc("GET /ws/events", a.hub.ServeWS)
	}

	return a.withCorrelation(mux)
}

type apiResponse struct {
	Data interface{} `json:"data"`
	Meta *apiMeta    `json:"meta,omitempty"`
}

type apiMeta struct {
	Total int `json:"total"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (a *HTTPAPI) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(shared.CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(shared.CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(shared.WithCorrelationID(r.Context(), id)))
	})
}

func (a *HTTPAPI) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "AUTH_REQUIRED")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

func (a *HTTPAPI) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (a *HTTPAPI) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if status := a.checkDBHealth(r.Context()); status != "ok" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "database": status})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *HTTPAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"database":  a.checkDBHealth(r.Context()),
		"event_hub": "ok",
	}
	if a.hub == nil {
		components["event_hub"] = "disabled"
	}

	status := "healthy"
	if components["database"] != "ok" {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     status,
		Components: components,
		Timestamp:  a.now().UTC(),
	})
}

func (a *HTTPAPI) checkDBHealth(ctx context.Context) string {
	if a.db == nil {
		return "unavailable"
	}
	if err := a.db.PingContext(ctx); err != nil {
		return "error"
	}
	return "ok"
}

type gatewayJSON struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	TokenSet   bool       `json:"token_set"`
	Status     string     `json:"status"`
	Version    string     `json:"version,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func toGatewayJSON(g Gateway) gatewayJSON {
	return gatewayJSON{
		ID:         g.ID,
		Name:       g.Name,
		URL:        g.URL,
		TokenSet:   g.Token != "",
		Status:     string(g.Status),
		Version:    g.Version,
		LastSeenAt: g.LastSeenAt,
		CreatedAt:  g.CreatedAt,
		UpdatedAt:  g.UpdatedAt,
	}
}

func (a *HTTPAPI) handleListGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := a.registry.List(r.Context())
	if err != nil {
		a.internalError(w, r, "list gateways failed", err)
		return
	}

	out := make([]gatewayJSON, 0, len(gateways))
	for _, g := range gateways {
		out = append(out, toGatewayJSON(g))
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out, Meta: &apiMeta{Total: len(out)}})
}

func (a *HTTPAPI) handleGetGateway(w http.ResponseWriter, r *http.Request) {
	gw, ok := a.loadGateway(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: toGatewayJSON(gw)})
}

type createGatewayRequest struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

func (a *HTTPAPI) handleCreateGateway(w http.ResponseWriter, r *http.Request) {
	var req createGatewayRequest
	if !decodeBody(w, r, &req) {
		return
	}

	gw, err := a.registry.Create(r.Context(), GatewayInput{Name: req.Name, URL: req.URL, Token: req.Token})
	if err != nil {
		if errors.Is(err, ErrInvalidGateway) {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
			return
		}
		a.internalError(w, r, "create gateway failed", err)
		return
	}

	shared.LogWithContext(r.Context(), a.logger, "gateway created", zap.String("gateway_id", gw.ID))
	writeJSON(w, http.StatusCreated, apiResponse{Data: toGatewayJSON(gw)})
}

type updateGatewayRequest struct {
	Name   *string `json:"name"`
	URL    *string `json:"url"`
	Token  *string `json:"token"`
	Status *string `json:"status"`
}

func (a *HTTPAPI) handleUpdateGateway(w http.ResponseWriter, r *http.Request) {
	var req updateGatewayRequest
	if !decodeBody(w, r, &req) {
		return
	}

	upd := GatewayUpdate{Name: req.Name, URL: req.URL, Token: req.Token}
	if req.Status != nil {
		status := GatewayStatus(*req.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", *req.Status), "INVALID_STATUS")
			return
		}
		upd.Status = &status
	}

	gw, err := a.registry.Update(r.Context(), r.PathValue("id"), upd)
	switch {
	case err == nil:
	case errors.Is(err, ErrGatewayNotFound):
		writeError(w, http.StatusNotFound, "gateway not found", "NOT_FOUND")
		return
	case errors.Is(err, ErrNoFieldsToUpdate), errors.Is(err, ErrInvalidGateway):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	default:
		a.internalError(w, r, "update gateway failed", err)
		return
	}

	if upd.Status != nil {
		a.metrics.SetGatewayStatus(gw.ID, gw.Status)
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: toGatewayJSON(gw)})
}

func (a *HTTPAPI) handleDeleteGateway(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.registry.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrGatewayNotFound) {
			writeError(w, http.StatusNotFound, "gateway not found", "NOT_FOUND")
			return
		}
		a.internalError(w, r, "delete gateway failed", err)
		return
	}

	a.metrics.ForgetGateway(id)
	shared.LogWithContext(r.Context(), a.logger, "gateway deleted", zap.String("gateway_id", id))
	writeJSON(w, http.StatusOK, apiResponse{Data: map[string]interface{}{"id": id, "deleted": true}})
}

type syncResultJSON struct {
	GatewayID  string `json:"gateway_id"`
	Kind       string `json:"kind"`
	SessionKey string `json:"session_key,omitempty"`
	Synced     int    `json:"synced"`
}

func toSyncResultJSON(res SyncResult) syncResultJSON {
	return syncResultJSON{
		GatewayID:  res.GatewayID,
		Kind:       string(res.Kind),
		SessionKey: res.SessionKey,
		Synced:     res.Synced,
	}
}

func (a *HTTPAPI) handleSync(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseSyncKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_KIND")
		return
	}
	a.runSync(w, r, kind, SyncOptions{})
}

func (a *HTTPAPI) handleSyncMessages(w http.ResponseWriter, r *http.Request) {
	a.runSync(w, r, SyncKindMessages, SyncOptions{SessionKey: r.PathValue("sessionKey")})
}

func (a *HTTPAPI) runSync(w http.ResponseWriter, r *http.Request, kind SyncKind, opts SyncOptions) {
	ctx := r.Context()
	res, err := a.syncer.Sync(ctx, r.PathValue("id"), kind, opts)
	if err != nil {
		a.writeSyncError(w, r, err)
		return
	}

	shared.LogWithContext(ctx, a.logger, "sync requested",
		zap.String("gateway_id", res.GatewayID),
		zap.String("kind", string(res.Kind)),
		zap.Int("synced", res.Synced),
	)
	writeJSON(w, http.StatusOK, apiResponse{Data: toSyncResultJSON(res)})
}

type syncAllJSON struct {
	GatewayID string           `json:"gateway_id"`
	Results   []syncResultJSON `json:"results"`
	Errors    []string         `json:"errors,omitempty"`
}

func (a *HTTPAPI) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	results, err := a.syncer.SyncAll(r.Context(), id)
	if err != nil && len(results) == 0 {
		a.writeSyncError(w, r, err)
		return
	}

	out := syncAllJSON{GatewayID: id, Results: make([]syncResultJSON, 0, len(results))}
	for _, res := range results {
		out.Results = append(out.Results, toSyncResultJSON(res))
	}
	if err != nil {
		out.Errors = splitJoined(err)
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out})
}

func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		msgs := make([]string, 0)
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}

func (a *HTTPAPI) writeSyncError(w http.ResponseWriter, r *http.Request, err error) {
	var storageErr *ReconcileStorageError
	switch {
	case errors.Is(err, ErrGatewayNotFound):
		writeError(w, http.StatusNotFound, "gateway not found", "NOT_FOUND")
	case errors.Is(err, ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_KIND")
	case errors.Is(err, ErrSessionKeyRequired):
		writeError(w, http.StatusBadRequest, err.Error(), "SESSION_KEY_REQUIRED")
	case errors.As(err, &storageErr):
		shared.LogErrorWithContext(r.Context(), a.logger, "sync storage failure", err)
		writeError(w, http.StatusInternalServerError, "failed to update local cache", "STORAGE_ERROR")
	case remote.IsRemoteFailure(err):
		writeError(w, http.StatusBadGateway, err.Error(), "REMOTE_ERROR")
	default:
		a.internalError(w, r, "sync failed", err)
	}
}

type sessionJSON struct {
	ID            string     `json:"id"`
	SessionKey    string     `json:"session_key"`
	Kind          string     `json:"kind,omitempty"`
	Channel       string     `json:"channel,omitempty"`
	Model         string     `json:"model,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at"`
	MessageCount  int64      `json:"message_count"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (a *HTTPAPI) handleListSessions(w http.ResponseWriter, r *http.Request) {
	gw, ok := a.loadGateway(w, r)
	if !ok {
		return
	}

	sessions, err := a.cache.Sessions(r.Context(), gw.ID)
	if err != nil {
		a.internalError(w, r, "list sessions failed", err)
		return
	}

	out := make([]sessionJSON, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionJSON{
			ID:            s.ID,
			SessionKey:    s.SessionKey,
			Kind:          s.Kind,
			Channel:       s.Channel,
			Model:         s.Model,
			LastMessageAt: s.LastMessageAt,
			MessageCount:  s.MessageCount,
			UpdatedAt:     s.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out, Meta: &apiMeta{Total: len(out)}})
}

type messageJSON struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp"`
	Position  int        `json:"position"`
}

func (a *HTTPAPI) handleListMessages(w http.ResponseWriter, r *http.Request) {
	gw, ok := a.loadGateway(w, r)
	if !ok {
		return
	}

	messages, err := a.cache.Messages(r.Context(), gw.ID, r.PathValue("sessionKey"))
	if err != nil {
		a.internalError(w, r, "list messages failed", err)
		return
	}

	out := make([]messageJSON, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageJSON{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Position:  m.Position,
		})
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out, Meta: &apiMeta{Total: len(out)}})
}

type scheduleJSON struct {
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`
}

type cronJobJSON struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	ScheduleKind  string          `json:"schedule_kind,omitempty"`
	ScheduleData  json.RawMessage `json:"schedule_data"`
	Schedule      scheduleJSON    `json:"schedule"`
	PayloadKind   string          `json:"payload_kind,omitempty"`
	PayloadData   json.RawMessage `json:"payload_data"`
	PayloadText   string          `json:"payload_text,omitempty"`
	SessionTarget string          `json:"session_target,omitempty"`
	Enabled       bool            `json:"enabled"`
	LastRunAt     *time.Time      `json:"last_run_at"`
	NextRunAt     *time.Time      `json:"next_run_at"`
}

func (a *HTTPAPI) handleListCron(w http.ResponseWriter, r *http.Request) {
	gw, ok := a.loadGateway(w, r)
	if !ok {
		return
	}

	jobs, err := a.cache.CronJobs(r.Context(), gw.ID)
	if err != nil {
		a.internalError(w, r, "list cron jobs failed", err)
		return
	}

	now := a.now().UTC()
	out := make([]cronJobJSON, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, cronJobJSON{
			ID:            j.ID,
			Name:          j.Name,
			ScheduleKind:  j.ScheduleKind,
			ScheduleData:  json.RawMessage(j.ScheduleData),
			Schedule:      a.scheduleSummary(j, now),
			PayloadKind:   j.PayloadKind,
			PayloadData:   json.RawMessage(j.PayloadData),
			PayloadText:   PayloadSummary(j.PayloadKind, j.PayloadData),
			SessionTarget: j.SessionTarget,
			Enabled:       j.Enabled,
			LastRunAt:     j.LastRunAt,
			NextRunAt:     j.NextRunAt,
		})
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out, Meta: &apiMeta{Total: len(out)}})
}

// scheduleSummary prefers the gateway's own next_run_at and computes one
// only for enabled jobs that lack it.
func (a *HTTPAPI) scheduleSummary(j CronJob, now time.Time) scheduleJSON {
	sched, err := DecodeSchedule(j.ScheduleKind, j.ScheduleData)
	if err != nil {
		a.logger.Debug("undecodable cron schedule", zap.String("cron_id", j.ID), zap.Error(err))
		return scheduleJSON{Kind: ScheduleUnknown, Description: "invalid schedule"}
	}

	out := scheduleJSON{Kind: sched.Kind, Description: sched.Describe()}
	switch {
	case j.NextRunAt != nil:
		out.NextFireAt = j.NextRunAt
	case j.Enabled:
		if next, ok := sched.Next(now); ok {
			out.NextFireAt = &next
		}
	}
	return out
}

type usageJSON struct {
	Date         string  `json:"date"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (a *HTTPAPI) handleListUsage(w http.ResponseWriter, r *http.Request) {
	gw, ok := a.loadGateway(w, r)
	if !ok {
		return
	}
	from, to, ok := a.dateRange(w, r)
	if !ok {
		return
	}

	stats, err := a.cache.Usage(r.Context(), gw.ID, from, to)
	if err != nil {
		a.internalError(w, r, "list usage failed", err)
		return
	}

	out := make([]usageJSON, 0, len(stats))
	for _, u := range stats {
		out = append(out, usageJSON{
			Date:         u.Date,
			Model:        u.Model,
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
			CostUSD:      u.CostUSD,
		})
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out, Meta: &apiMeta{Total: len(out)}})
}

type usageSummaryJSON struct {
	From         string           `json:"from"`
	To           string           `json:"to"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	CostUSD      float64          `json:"cost_usd"`
	Models       []usageModelJSON `json:"models"`
}

type usageModelJSON struct {
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Days         int     `json:"days"`
}

func (a *HTTPAPI) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	gw, ok := a.loadGateway(w, r)
	if !ok {
		return
	}
	from, to, ok := a.dateRange(w, r)
	if !ok {
		return
	}

	totals, err := a.cache.UsageSummary(r.Context(), gw.ID, from, to)
	if err != nil {
		a.internalError(w, r, "summarize usage failed", err)
		return
	}

	out := usageSummaryJSON{From: from, To: to, Models: make([]usageModelJSON, 0, len(totals))}
	for _, t := range totals {
		out.InputTokens += t.InputTokens
		out.OutputTokens += t.OutputTokens
		out.CostUSD += t.CostUSD
		out.Models = append(out.Models, usageModelJSON{
			Model:        t.Model,
			InputTokens:  t.InputTokens,
			OutputTokens: t.OutputTokens,
			CostUSD:      t.CostUSD,
			Days:         t.Days,
		})
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out})
}

// dateRange reads inclusive from/to query dates, defaulting to the last
// defaultUsageDays days ending today (UTC).
func (a *HTTPAPI) dateRange(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	today := a.now().UTC()
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if to == "" {
		to = today.Format(dateLayout)
	}
	if from == "" {
		from = today.AddDate(0, 0, -(defaultUsageDays - 1)).Format(dateLayout)
	}

	for _, d := range []string{from, to} {
		if _, err := time.Parse(dateLayout, d); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", d), "INVALID_DATE")
			return "", "", false
		}
	}
	if from > to {
		writeError(w, http.StatusBadRequest, "from must not be after to", "INVALID_DATE")
		return "", "", false
	}
	return from, to, true
}

type proxyRequest struct {
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Body     json.RawMessage `json:"body"`
}

type proxyErrorJSON struct {
	Error          string          `json:"error"`
	Code           string          `json:"code"`
	UpstreamStatus int             `json:"upstream_status,omitempty"`
	Upstream       json.RawMessage `json:"upstream,omitempty"`
}

// handleProxy forwards one call to the gateway. The outcome feeds the
// health tracker like a sync would.
func (a *HTTPAPI) handleProxy(w http.ResponseWriter, r *http.Request) {
	if a.proxy == nil {
		writeError(w, http.StatusServiceUnavailable, "proxy not configured", "UNAVAILABLE")
		return
	}
	gw, ok := a.loadGateway(w, r)
	if !ok {
		return
	}

	var req proxyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required", "INVALID_REQUEST")
		return
	}
	method := strings.ToUpper(req.Method)
	switch method {
	case "":
		method = http.MethodGet
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported method %q", req.Method), "INVALID_REQUEST")
		return
	}

	ctx := r.Context()
	resp, err := a.proxy.Do(ctx, gw.Endpoint(), method, req.Endpoint, req.Body)
	healthCtx := context.WithoutCancel(ctx)
	if err != nil {
		a.metrics.RecordProxy("error")
		if _, herr := a.health.RecordFailure(healthCtx, gw, err); herr != nil {
			shared.LogErrorWithContext(ctx, a.logger, "record proxy failure", herr)
		}
		out := proxyErrorJSON{Error: err.Error(), Code: "REMOTE_ERROR"}
		if resp != nil {
			out.UpstreamStatus = resp.StatusCode
			out.Upstream = resp.Body
		}
		writeJSON(w, http.StatusBadGateway, out)
		return
	}

	a.metrics.RecordProxy("success")
	if _, herr := a.health.RecordSuccess(healthCtx, gw, ""); herr != nil {
		shared.LogErrorWithContext(ctx, a.logger, "record proxy success", herr)
	}

	body := resp.Body
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: body})
}

func (a *HTTPAPI) loadGateway(w http.ResponseWriter, r *http.Request) (Gateway, bool) {
	gw, err := a.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrGatewayNotFound) {
			writeError(w, http.StatusNotFound, "gateway not found", "NOT_FOUND")
			return Gateway{}, false
		}
		a.internalError(w, r, "load gateway failed", err)
		return Gateway{}, false
	}
	return gw, true
}

func (a *HTTPAPI) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	shared.LogErrorWithContext(r.Context(), a.logger, msg, err)
	a.metrics.RecordError("http_api", "internal")
	writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_REQUEST")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Error: message, Code: code})
}
