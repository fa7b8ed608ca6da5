package clawctl

import (
	"fmt"
	"net/url"
	"time"
)

type GatewayJSON struct {
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

func ListGateways(client *HTTPClient) ([]GatewayJSON, error) {
	body, err := client.Get("/api/v1/gateways")
	if err != nil {
		return nil, err
	}

	var gateways []GatewayJSON
	if err := ParseResponse(body, &gateways); err != nil {
		return nil, err
	}
	return gateways, nil
}

func GetGateway(client *HTTPClient, id string) (*GatewayJSON, error) {
	if id == "" {
		return nil, fmt.Errorf("gateway id is required")
	}

	body, err := client.Get("/api/v1/gateways/" + url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var gw GatewayJSON
	if err := ParseResponse(body, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

func AddGateway(client *HTTPClient, name, gatewayURL, token string) (*GatewayJSON, error) {
	body, err := client.Post("/api/v1/gateways", map[string]string{
		"name":  name,
		"url":   gatewayURL,
		"token": token,
	})
	if err != nil {
		return nil, err
	}

	var gw GatewayJSON
	if err := ParseResponse(body, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

// GatewayPatch holds the fields to change; nil fields are left alone.
type GatewayPatch struct {
	Name   *string `json:"name,omitempty"`
	URL    *string `json:"url,omitempty"`
	Token  *string `json:"token,omitempty"`
	Status *string `json:"status,omitempty"`
}

func UpdateGateway(client *HTTPClient, id string, patch GatewayPatch) (*GatewayJSON, error) {
	if id == "" {
		return nil, fmt.Errorf("gateway id is required")
	}

	body, err := client.Put("/api/v1/gateways/"+url.PathEscape(id), patch)
	if err != nil {
		return nil, err
	}

	var gw GatewayJSON
	if err := ParseResponse(body, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

func RemoveGateway(client *HTTPClient, id string) error {
	if id == "" {
		return fmt.Errorf("gateway id is required")
	}
	_, err := client.Delete("/api/v1/gateways/" + url.PathEscape(id))
	return err
}
