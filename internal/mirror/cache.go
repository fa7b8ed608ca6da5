package mirror

import (
	"context"
	"database/sql"
	"fmt"
)

// Cache serves reads of mirrored data. Reads never touch the network.
type Cache struct {
	db *sql.DB
}

func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db}
}

func (c *Cache) Sessions(ctx context.Context, gatewayID string) ([]Session, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, gateway_id, session_key, kind, channel, model, last_message_at, message_count, created_at, updated_at
		FROM sessions WHERE gateway_id = ?
		ORDER BY last_message_at DESC, session_key ASC
	`, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", gatewayID, err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		var (
			s                    Session
			kind, channel, model sql.NullString
			lastMessageAt        sql.NullInt64
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&s.ID, &s.GatewayID, &s.SessionKey, &kind, &channel, &model, &lastMessageAt, &s.MessageCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Kind = kind.String
		s.Channel = channel.String
		s.Model = model.String
		s.LastMessageAt = timePtr(lastMessageAt)
		s.CreatedAt = unixTime(createdAt)
		s.UpdatedAt = unixTime(updatedAt)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (c *Cache) CronJobs(ctx context.Context, gatewayID string) ([]CronJob, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, gateway_id, name, schedule_kind, schedule_data, payload_kind, payload_data, session_target, enabled, last_run_at, next_run_at, created_at
		FROM cron_jobs WHERE gateway_id = ?
		ORDER BY created_at DESC, id ASC
	`, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs for %s: %w", gatewayID, err)
	}
	defer rows.Close()

	jobs := make([]CronJob, 0)
	for rows.Next() {
		var (
			j                                        CronJob
			name, scheduleKind, payloadKind, session sql.NullString
			lastRunAt, nextRunAt                     sql.NullInt64
			enabled                                  int
			createdAt                                int64
		)
		if err := rows.Scan(&j.ID, &j.GatewayID, &name, &scheduleKind, &j.ScheduleData, &payloadKind, &j.PayloadData, &session, &enabled, &lastRunAt, &nextRunAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan cron job: %w", err)
		}
		j.Name = name.String
		j.ScheduleKind = scheduleKind.String
		j.PayloadKind = payloadKind.String
		j.SessionTarget = session.String
		j.Enabled = enabled != 0
		j.LastRunAt = timePtr(lastRunAt)
		j.NextRunAt = timePtr(nextRunAt)
		j.CreatedAt = unixTime(createdAt)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Messages returns the stored history of one session in position order.
func (c *Cache) Messages(ctx context.Context, gatewayID, sessionKey string) ([]Message, error) {
	sid := sessionID(gatewayID, sessionKey)
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, timestamp, position, created_at
		FROM messages WHERE session_id = ?
		ORDER BY position ASC
	`, sid)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", sid, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var (
			m         Message
			ts        sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &ts, &m.Position, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = timePtr(ts)
		m.CreatedAt = unixTime(createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Usage returns rows with from <= date <= to (YYYY-MM-DD, inclusive).
func (c *Cache) Usage(ctx context.Context, gatewayID, from, to string) ([]UsageStat, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT gateway_id, date, model, input_tokens, output_tokens, cost_usd, updated_at
		FROM usage_stats
		WHERE gateway_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, model ASC
	`, gatewayID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list usage for %s: %w", gatewayID, err)
	}
	defer rows.Close()

	stats := make([]UsageStat, 0)
	for rows.Next() {
		var (
			u         UsageStat
			updatedAt int64
		)
		if err := rows.Scan(&u.GatewayID, &u.Date, &u.Model, &u.InputTokens, &u.OutputTokens, &u.CostUSD, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		u.UpdatedAt = unixTime(updatedAt)
		stats = append(stats, u)
	}
	return stats, rows.Err()
}

// UsageSummary totals the range per model, highest cost first.
func (c *Cache) UsageSummary(ctx context.Context, gatewayID, from, to string) ([]UsageTotal, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT model, SUM(input_tokens), SUM(output_tokens), SUM(cost_usd), COUNT(DISTINCT date)
		FROM usage_stats
		WHERE gateway_id = ? AND date >= ? AND date <= ?
		GROUP BY model
		ORDER BY SUM(cost_usd) DESC, model ASC
	`, gatewayID, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarize usage for %s: %w", gatewayID, err)
	}
	defer rows.Close()

	totals := make([]UsageTotal, 0)
	for rows.Next() {
		var t UsageTotal
		if err := rows.Scan(&t.Model, &t.InputTokens, &t.OutputTokens, &t.CostUSD, &t.Days); err != nil {
			return nil, fmt.Errorf("scan usage total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
