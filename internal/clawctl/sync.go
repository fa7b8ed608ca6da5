package clawctl

import (
	"fmt"
	"net/url"
)

type SyncResultJSON struct {
	GatewayID  string `json:"gateway_id"`
	Kind       string `json:"kind"`
	SessionKey string `json:"session_key,omitempty"`
	Synced     int    `json:"synced"`
}

type SyncAllJSON struct {
	GatewayID string           `json:"gateway_id"`
	Results   []SyncResultJSON `json:"results"`
	Errors    []string         `json:"errors,omitempty"`
}

// Sync runs one sync kind. Messages go through the session route and need a
// session key.
func Sync(client *HTTPClient, gatewayID, kind, sessionKey string) (*SyncResultJSON, error) {
	if gatewayID == "" {
		return nil, fmt.Errorf("gateway id is required")
	}

	path := "/api/v1/gateways/" + url.PathEscape(gatewayID) + "/sync/" + url.PathEscape(kind)
	if kind == "messages" {
		if sessionKey == "" {
			return nil, fmt.Errorf("--session is required for messages")
		}
		path = "/api/v1/gateways/" + url.PathEscape(gatewayID) + "/sessions/" + url.PathEscape(sessionKey) + "/sync"
	}

	body, err := client.Post(path, nil)
	if err != nil {
		return nil, err
	}

	var res SyncResultJSON
	if err := ParseResponse(body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SyncAll runs sessions, cron and usage syncs for one gateway.
func SyncAll(client *HTTPClient, gatewayID string) (*SyncAllJSON, error) {
	if gatewayID == "" {
		return nil, fmt.Errorf("gateway id is required")
	}

	body, err := client.Post("/api/v1/gateways/"+url.PathEscape(gatewayID)+"/sync", nil)
	if err != nil {
		return nil, err
	}

	var res SyncAllJSON
	if err := ParseResponse(body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
