package mirror

import (
	"fmt"
	"time"

	"github.com/Bldg-7/clawdash/internal/remote"
)

type GatewayStatus string

const (
	GatewayStatusUnknown GatewayStatus = "unknown"
	GatewayStatusOnline  GatewayStatus = "online"
	// GatewayStatusOffline is set by operators only; sync never produces it.
	GatewayStatusOffline GatewayStatus = "offline"
	GatewayStatusError   GatewayStatus = "error"
)

func (s GatewayStatus) Valid() bool {
	switch s {
	case GatewayStatusUnknown, GatewayStatusOnline, GatewayStatusOffline, GatewayStatusError:
		return true
	}
	return false
}

// Gateway is a registered remote service.
type Gateway struct {
	ID         string
	Name       string
	URL        string
	Token      string
	Status     GatewayStatus
	Version    string
	LastSeenAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (g Gateway) Endpoint() remote.Endpoint {
	return remote.Endpoint{BaseURL: g.URL, Token: g.Token}
}

type Session struct {
	ID            string
	GatewayID     string
	SessionKey    string
	Kind          string
	Channel       string
	Model         string
	LastMessageAt *time.Time
	MessageCount  int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CronJob struct {
	ID            string
	GatewayID     string
	Name          string
	ScheduleKind  string
	ScheduleData  string
	PayloadKind   string
	PayloadData   string
	SessionTarget string
	Enabled       bool
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	CreatedAt     time.Time
}

type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Timestamp *time.Time
	Position  int
	CreatedAt time.Time
}

type UsageStat struct {
	GatewayID    string
	Date         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	UpdatedAt    time.Time
}

// UsageTotal aggregates UsageStat rows for one model over a date range.
type UsageTotal struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Days         int
}

type SyncKind string

const (
	SyncKindSessions SyncKind = "sessions"
	SyncKindCron     SyncKind = "cron"
	SyncKindMessages SyncKind = "messages"
	SyncKindUsage    SyncKind = "usage"
)

// ParseSyncKind accepts the kind names used by the API and CLI.
func ParseSyncKind(s string) (SyncKind, error) {
	switch SyncKind(s) {
	case SyncKindSessions, SyncKindCron, SyncKindMessages, SyncKindUsage:
		return SyncKind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type SyncOptions struct {
	// SessionKey selects the session for SyncKindMessages.
	SessionKey string
}

type SyncResult struct {
	GatewayID  string
	Kind       SyncKind
	SessionKey string
	Synced     int
}
