package remote

import "encoding/json"

// Endpoint is the connection information for one gateway.
type Endpoint struct {
	BaseURL string
	Token   string
}

// Session is one entry of GET /sessions. Timestamps and counters are kept
// raw because gateways disagree on whether they send strings or numbers.
type Session struct {
	SessionKey    LooseString     `json:"sessionKey"`
	Kind          string          `json:"kind,omitempty"`
	Channel       string          `json:"channel,omitempty"`
	Model         string          `json:"model,omitempty"`
	LastMessageAt json.RawMessage `json:"lastMessageAt,omitempty"`
	MessageCount  json.RawMessage `json:"messageCount,omitempty"`
}

type sessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

// CronJob is one entry of GET /cron. Schedule and Payload are opaque
// kind-tagged objects.
type CronJob struct {
	JobID         LooseString     `json:"jobId,omitempty"`
	ID            LooseString     `json:"id,omitempty"`
	Name          string          `json:"name,omitempty"`
	Schedule      json.RawMessage `json:"schedule,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	SessionTarget string          `json:"sessionTarget,omitempty"`
	Enabled       LooseBool       `json:"enabled,omitempty"`
	LastRunAt     json.RawMessage `json:"lastRunAt,omitempty"`
	NextRunAt     json.RawMessage `json:"nextRunAt,omitempty"`
}

// Identity returns jobId, falling back to id.
func (j CronJob) Identity() string {
	if j.JobID != "" {
		return string(j.JobID)
	}
	return string(j.ID)
}

type cronResponse struct {
	Jobs []CronJob `json:"jobs"`
}

// Message is one entry of GET /sessions/{key}/history. Content is either a
// JSON string or an arbitrary structured value.
type Message struct {
	ID        LooseString     `json:"id,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type historyResponse struct {
	Messages []Message `json:"messages"`
}

// Usage is the usage block of GET /status.
type Usage struct {
	InputTokens  json.RawMessage `json:"inputTokens,omitempty"`
	OutputTokens json.RawMessage `json:"outputTokens,omitempty"`
	CostUSD      json.RawMessage `json:"costUsd,omitempty"`
}

// Status is the body of GET /status.
type Status struct {
	Status  string `json:"status,omitempty"`
	Model   string `json:"model,omitempty"`
	Version string `json:"version,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Response is a raw passthrough result.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}
