package integration

import (
	"strings"
	"testing"
	"time"

	"github.com/Bldg-7/clawdash/internal/clawctl"
	"github.com/Bldg-7/clawdash/internal/mirror"
)

func TestGatewayMirrorLifecycle(t *testing.T) {
	h := newHarness(t)
	remote := newGatewayStub(t, "gw-secret")
	remote.handle("GET", "/sessions", `{"sessions":[
		{"sessionKey":"agent:main:main","kind":"direct","model":"claude","lastMessageAt":"2026-02-16T09:30:00Z","messageCount":2},
		{"sessionKey":"agent:main:cron","kind":"cron","lastMessageAt":1771200000000}
	]}`)
	remote.handle("GET", "/cron", `{"jobs":[
		{"jobId":"digest","name":"digest","schedule":{"kind":"cron","expr":"0 8 * * *","tz":"UTC"},"payload":{"kind":"agentTurn","message":"morning digest"},"enabled":true}
	]}`)
	remote.handle("GET", "/status", `{"status":"ok","model":"claude","version":"2.1.0","usage":{"inputTokens":"1200","outputTokens":300,"costUsd":0.42}}`)
	remote.handle("GET", "/sessions/agent:main:main/history", `{"messages":[
		{"id":"m1","role":"user","content":"status?","timestamp":"2026-02-16T09:29:00Z"},
		{"id":"m2","role":"assistant","content":"all green","timestamp":"2026-02-16T09:30:00Z"}
	]}`)

	events := h.dialEvents(t)

	gw, err := clawctl.AddGateway(h.client, "home", remote.srv.URL, "gw-secret")
	if err != nil {
		t.Fatalf("add gateway: %v", err)
	}
	if gw.Status != string(mirror.GatewayStatusUnknown) {
		t.Fatalf("new gateway should be unknown, got %s", gw.Status)
	}

	all, err := clawctl.SyncAll(h.client, gw.ID)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if len(all.Errors) != 0 {
		t.Fatalf("unexpected sync errors %v", all.Errors)
	}
	synced := map[string]int{}
	for _, r := range all.Results {
		synced[r.Kind] = r.Synced
	}
	if synced["sessions"] != 2 || synced["cron"] != 1 || synced["usage"] != 1 {
		t.Fatalf("unexpected sync counts %v", synced)
	}

	ev := waitForEvent(t, events, 2*time.Second, func(ev mirror.Event) bool {
		return ev.Type == mirror.EventGatewayStatus
	})
	if ev.GatewayID != gw.ID || ev.Status != mirror.GatewayStatusOnline {
		t.Fatalf("unexpected status event %+v", ev)
	}

	res, err := clawctl.Sync(h.client, gw.ID, "messages", "agent:main:main")
	if err != nil {
		t.Fatalf("sync messages: %v", err)
	}
	if res.Synced != 2 {
		t.Fatalf("expected 2 messages, got %d", res.Synced)
	}

	sessions, err := clawctl.ListSessions(h.client, gw.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].SessionKey != "agent:main:main" || sessions[0].MessageCount != 2 {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	jobs, err := clawctl.ListCron(h.client, gw.ID)
	if err != nil {
		t.Fatalf("list cron: %v", err)
	}
	if len(jobs) != 1 || jobs[0].PayloadText != "morning digest" || jobs[0].Schedule.NextFireAt == nil {
		t.Fatalf("unexpected cron jobs %+v", jobs)
	}

	summary, err := clawctl.GetUsageSummary(h.client, gw.ID, "", "")
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if summary.InputTokens != 1200 || summary.OutputTokens != 300 {
		t.Fatalf("unexpected usage summary %+v", summary)
	}

	refreshed, err := clawctl.GetGateway(h.client, gw.ID)
	if err != nil {
		t.Fatalf("get gateway: %v", err)
	}
	if refreshed.Status != string(mirror.GatewayStatusOnline) || refreshed.Version != "2.1.0" || refreshed.LastSeenAt == nil {
		t.Fatalf("unexpected gateway after sync %+v", refreshed)
	}
}

func TestGatewayOutageAndRecovery(t *testing.T) {
	h := newHarness(t)
	remote := newGatewayStub(t, "gw-secret")
	remote.handle("GET", "/sessions", `{"sessions":[{"sessionKey":"main","model":"claude"}]}`)

	gw, err := clawctl.AddGateway(h.client, "flaky", remote.srv.URL, "gw-secret")
	if err != nil {
		t.Fatalf("add gateway: %v", err)
	}
	if _, err := clawctl.Sync(h.client, gw.ID, "sessions", ""); err != nil {
		t.Fatalf("initial sync: %v", err)
	}
	online, err := clawctl.GetGateway(h.client, gw.ID)
	if err != nil {
		t.Fatalf("get gateway: %v", err)
	}

	remote.setDown(true)
	_, err = clawctl.Sync(h.client, gw.ID, "sessions", "")
	if err == nil || !strings.Contains(err.Error(), "gateway call failed") {
		t.Fatalf("expected gateway failure, got %v", err)
	}

	failed, err := clawctl.GetGateway(h.client, gw.ID)
	if err != nil {
		t.Fatalf("get gateway: %v", err)
	}
	if failed.Status != string(mirror.GatewayStatusError) {
		t.Fatalf("expected error status, got %s", failed.Status)
	}
	if failed.LastSeenAt == nil || !failed.LastSeenAt.Equal(*online.LastSeenAt) {
		t.Fatalf("last seen moved on failure: %v -> %v", online.LastSeenAt, failed.LastSeenAt)
	}

	sessions, err := clawctl.ListSessions(h.client, gw.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Model != "claude" {
		t.Fatalf("cache should survive an outage, got %+v", sessions)
	}

	remote.setDown(false)
	if _, err := clawctl.Sync(h.client, gw.ID, "sessions", ""); err != nil {
		t.Fatalf("recovery sync: %v", err)
	}
	recovered, err := clawctl.GetGateway(h.client, gw.ID)
	if err != nil {
		t.Fatalf("get gateway: %v", err)
	}
	if recovered.Status != string(mirror.GatewayStatusOnline) {
		t.Fatalf("expected online after recovery, got %s", recovered.Status)
	}
}

func TestRemoveGatewayDropsCache(t *testing.T) {
	h := newHarness(t)
	remote := newGatewayStub(t, "gw-secret")
	remote.handle("GET", "/sessions", `{"sessions":[{"sessionKey":"main"}]}`)

	gw, err := clawctl.AddGateway(h.client, "temp", remote.srv.URL, "gw-secret")
	if err != nil {
		t.Fatalf("add gateway: %v", err)
	}
	if _, err := clawctl.Sync(h.client, gw.ID, "sessions", ""); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := clawctl.RemoveGateway(h.client, gw.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := clawctl.ListSessions(h.client, gw.ID); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found after removal, got %v", err)
	}
	gateways, err := clawctl.ListGateways(h.client)
	if err != nil {
		t.Fatalf("list gateways: %v", err)
	}
	if len(gateways) != 0 {
		t.Fatalf("expected no gateways, got %+v", gateways)
	}
}
