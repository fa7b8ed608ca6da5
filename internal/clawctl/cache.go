package clawctl

import (
	"net/url"
	"time"
)

type SessionJSON struct {
	ID            string     `json:"id"`
	SessionKey    string     `json:"session_key"`
	Kind          string     `json:"kind,omitempty"`
	Channel       string     `json:"channel,omitempty"`
	Model         string     `json:"model,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at"`
	MessageCount  int64      `json:"message_count"`
}

type CronJobJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Enabled  bool   `json:"enabled"`
	Schedule struct {
		Kind        string     `json:"kind"`
		Description string     `json:"description"`
		NextFireAt  *time.Time `json:"next_fire_at,omitempty"`
	} `json:"schedule"`
	PayloadText string `json:"payload_text,omitempty"`
}

type UsageSummaryJSON struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Models       []struct {
		Model        string  `json:"model"`
		InputTokens  int64   `json:"input_tokens"`
		OutputTokens int64   `json:"output_tokens"`
		CostUSD      float64 `json:"cost_usd"`
		Days         int     `json:"days"`
	} `json:"models"`
}

func ListSessions(client *HTTPClient, gatewayID string) ([]SessionJSON, error) {
	body, err := client.Get("/api/v1/gateways/" + url.PathEscape(gatewayID) + "/sessions")
	if err != nil {
		return nil, err
	}

	var sessions []SessionJSON
	if err := ParseResponse(body, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func ListCron(client *HTTPClient, gatewayID string) ([]CronJobJSON, error) {
	body, err := client.Get("/api/v1/gateways/" + url.PathEscape(gatewayID) + "/cron")
	if err != nil {
		return nil, err
	}

	var jobs []CronJobJSON
	if err := ParseResponse(body, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetUsageSummary returns per-model totals; empty from/to use the server's
// default window.
func GetUsageSummary(client *HTTPClient, gatewayID, from, to string) (*UsageSummaryJSON, error) {
	query := url.Values{}
	if from != "" {
		query.Set("from", from)
	}
	if to != "" {
		query.Set("to", to)
	}
	path := "/api/v1/gateways/" + url.PathEscape(gatewayID) + "/usage/summary"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	body, err := client.Get(path)
	if err != nil {
		return nil, err
	}

	var summary UsageSummaryJSON
	if err := ParseResponse(body, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
