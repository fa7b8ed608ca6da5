package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Bldg-7/clawdash/internal/remote"
	"go.uber.org/zap"
)

const defaultUsageModel = "unknown"

// Reconciler applies fetched remote records to the local cache. Session and
// usage rows are upserted; cron jobs and a session's messages are replaced
// wholesale inside one transaction.
type Reconciler struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewReconciler(db *sql.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// ReconcileSessions upserts each session that carries a key and returns the
// number of distinct sessions written.
func (r *Reconciler) ReconcileSessions(ctx context.Context, gatewayID string, sessions []remote.Session) (int, error) {
	now := r.now().UTC().Unix()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sessions transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sessions (id, gateway_id, session_key, kind, channel, model, last_message_at, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			channel = excluded.channel,
			model = excluded.model,
			last_message_at = excluded.last_message_at,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare session upsert: %w", err)
	}
	defer stmt.Close()

	written := make(map[string]struct{}, len(sessions))
	skipped := 0
	for _, s := range sessions {
		if s.SessionKey == "" {
			skipped++
			continue
		}
		key := string(s.SessionKey)
		id := sessionID(gatewayID, key)
		if _, err := stmt.ExecContext(ctx,
			id, gatewayID, key,
			nullString(s.Kind), nullString(s.Channel), nullString(s.Model),
			nullInt64(parseEpochSeconds(s.LastMessageAt)),
			asInt64(s.MessageCount),
			now, now,
		); err != nil {
			return 0, fmt.Errorf("upsert session %s: %w", id, err)
		}
		written[id] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sessions transaction: %w", err)
	}

	if skipped > 0 {
		r.logger.Debug("skipped sessions without key", zap.String("gateway_id", gatewayID), zap.Int("skipped", skipped))
	}
	return len(written), nil
}

// ReconcileCron replaces the gateway's cron set with jobs. Jobs without any
// identifier are skipped. Rows that survive keep their original created_at.
func (r *Reconciler) ReconcileCron(ctx context.Context, gatewayID string, jobs []remote.CronJob) (int, error) {
	now := r.now().UTC().Unix()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cron transaction: %w", err)
	}
	defer tx.Rollback()

	firstSeen, err := createdAtByID(ctx, tx, `SELECT id, created_at FROM cron_jobs WHERE gateway_id = ?`, gatewayID)
	if err != nil {
		return 0, fmt.Errorf("read existing cron jobs: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cron_jobs WHERE gateway_id = ?`, gatewayID); err != nil {
		return 0, fmt.Errorf("clear cron jobs: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cron_jobs (id, gateway_id, name, schedule_kind, schedule_data, payload_kind, payload_data, session_target, enabled, last_run_at, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule_kind = excluded.schedule_kind,
			schedule_data = excluded.schedule_data,
			payload_kind = excluded.payload_kind,
			payload_data = excluded.payload_data,
			session_target = excluded.session_target,
			enabled = excluded.enabled,
			last_run_at = excluded.last_run_at,
			next_run_at = excluded.next_run_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare cron insert: %w", err)
	}
	defer stmt.Close()

	written := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		remoteID := job.Identity()
		if remoteID == "" {
			continue
		}
		id := cronJobID(gatewayID, remoteID)

		createdAt, ok := firstSeen[id]
		if !ok {
			createdAt = now
		}
		enabled := 0
		if job.Enabled {
			enabled = 1
		}

		if _, err := stmt.ExecContext(ctx,
			id, gatewayID, nullString(job.Name),
			nullString(discriminator(job.Schedule)), canonicalObject(job.Schedule),
			nullString(discriminator(job.Payload)), canonicalObject(job.Payload),
			nullString(job.SessionTarget), enabled,
			nullInt64(parseEpochSeconds(job.LastRunAt)),
			nullInt64(parseEpochSeconds(job.NextRunAt)),
			createdAt,
		); err != nil {
			return 0, fmt.Errorf("insert cron job %s: %w", id, err)
		}
		written[id] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cron transaction: %w", err)
	}
	return len(written), nil
}

// ReconcileMessages replaces the stored history of one session with messages
// in the order received, creating a minimal session row if none exists.
func (r *Reconciler) ReconcileMessages(ctx context.Context, gatewayID, sessionKey string, messages []remote.Message) (int, error) {
	if sessionKey == "" {
		return 0, ErrSessionKeyRequired
	}
	now := r.now().UTC().Unix()
	sid := sessionID(gatewayID, sessionKey)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin messages transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, gateway_id, session_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sid, gatewayID, sessionKey, now, now); err != nil {
		return 0, fmt.Errorf("ensure session %s: %w", sid, err)
	}

	firstSeen, err := createdAtByID(ctx, tx, `SELECT id, created_at FROM messages WHERE session_id = ?`, sid)
	if err != nil {
		return 0, fmt.Errorf("read existing messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sid); err != nil {
		return 0, fmt.Errorf("clear messages for %s: %w", sid, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, timestamp, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	ids := messageIDs(sid, messages)
	for i, msg := range messages {
		role := msg.Role
		if role == "" {
			role = "user"
		}
		createdAt, ok := firstSeen[ids[i]]
		if !ok {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			ids[i], sid, role, canonicalContent(msg.Content),
			nullInt64(parseEpochSeconds(msg.Timestamp)), i, createdAt,
		); err != nil {
			return 0, fmt.Errorf("insert message %s: %w", ids[i], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit messages transaction: %w", err)
	}
	return len(messages), nil
}

// messageIDs prefers the remote message id and falls back to the position
// when the id is missing or repeated within the batch.
func messageIDs(sid string, messages []remote.Message) []string {
	counts := make(map[remote.LooseString]int, len(messages))
	for _, msg := range messages {
		if msg.ID != "" {
			counts[msg.ID]++
		}
	}

	ids := make([]string, len(messages))
	for i, msg := range messages {
		if msg.ID != "" && counts[msg.ID] == 1 {
			ids[i] = remoteMessageID(sid, string(msg.ID))
		} else {
			ids[i] = positionalMessageID(sid, i)
		}
	}
	return ids
}

// ReconcileUsage records a snapshot for (gateway, date, model). Values
// overwrite the stored row; they are never summed. It always writes one row.
func (r *Reconciler) ReconcileUsage(ctx context.Context, gatewayID, date string, status *remote.Status) (int, error) {
	model := defaultUsageModel
	var usage remote.Usage
	if status != nil {
		if status.Model != "" {
			model = status.Model
		}
		if status.Usage != nil {
			usage = *status.Usage
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_stats (gateway_id, date, model, input_tokens, output_tokens, cost_usd, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(gateway_id, date, model) DO UPDATE SET
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cost_usd = excluded.cost_usd,
			updated_at = excluded.updated_at
	`, gatewayID, date, model,
		asInt64(usage.InputTokens), asInt64(usage.OutputTokens), asFloat64(usage.CostUSD),
		r.now().UTC().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("upsert usage %s/%s/%s: %w", gatewayID, date, model, err)
	}
	return 1, nil
}

func createdAtByID(ctx context.Context, tx *sql.Tx, query string, arg any) (map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id        string
			createdAt int64
		)
		if err := rows.Scan(&id, &createdAt); err != nil {
			return nil, err
		}
		out[id] = createdAt
	}
	return out, rows.Err()
}
