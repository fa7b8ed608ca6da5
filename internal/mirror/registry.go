package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultRegistryCacheSize = 256

type GatewayInput struct {
	Name  string
	URL   string
	Token string
}

// GatewayUpdate carries a partial update; nil fields are left unchanged.
type GatewayUpdate struct {
	Name   *string
	URL    *string
	Token  *string
	Status *GatewayStatus
}

func (u GatewayUpdate) empty() bool {
	return u.Name == nil && u.URL == nil && u.Token == nil && u.Status == nil
}

// GatewayRegistry owns the gateways table and keeps recently read rows in an
// LRU cache. Every write goes to the database first.
type GatewayRegistry struct {
	db     *sql.DB
	logger *zap.Logger
	cache  *lru.Cache[string, Gateway]
	now    func() time.Time
}

func NewGatewayRegistry(db *sql.DB, cacheSize int, logger *zap.Logger) (*GatewayRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = defaultRegistryCacheSize
	}

	cache, err := lru.New[string, Gateway](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gateway cache: %w", err)
	}

	return &GatewayRegistry{
		db:     db,
		logger: logger,
		cache:  cache,
		now:    time.Now,
	}, nil
}

func (r *GatewayRegistry) Create(ctx context.Context, in GatewayInput) (Gateway, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	if in.Name == "" || in.URL == "" || in.Token == "" {
		return Gateway{}, fmt.Errorf("%w: name, url and token are required", ErrInvalidGateway)
	}
	if err := validateGatewayURL(in.URL); err != nil {
		return Gateway{}, err
	}

	now := r.now().UTC().Truncate(time.Second)
	gw := Gateway{
		ID:        "gw_" + uuid.NewString(),
		Name:      in.Name,
		URL:       in.URL,
		Token:     in.Token,
		Status:    GatewayStatusUnknown,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gateways (id, name, url, token, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, gw.ID, gw.Name, gw.URL, gw.Token, string(gw.Status), now.Unix(), now.Unix())
	if err != nil {
		return Gateway{}, fmt.Errorf("create gateway %s: %w", gw.Name, err)
	}

	r.cache.Add(gw.ID, gw)
	r.logger.Info("gateway registered", zap.String("gateway_id", gw.ID), zap.String("name", gw.Name))
	return gw, nil
}

func (r *GatewayRegistry) Get(ctx context.Context, id string) (Gateway, error) {
	if gw, ok := r.cache.Get(id); ok {
		return gw, nil
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, url, token, status, version, last_seen_at, created_at, updated_at
		FROM gateways WHERE id = ?
	`, id)
	gw, err := scanGateway(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Gateway{}, ErrGatewayNotFound
		}
		return Gateway{}, fmt.Errorf("get gateway %s: %w", id, err)
	}

	r.cache.Add(id, gw)
	return gw, nil
}

func (r *GatewayRegistry) List(ctx context.Context) ([]Gateway, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, url, token, status, version, last_seen_at, created_at, updated_at
		FROM gateways ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list gateways: %w", err)
	}
	defer rows.Close()

	gateways := make([]Gateway, 0)
	for rows.Next() {
		gw, err := scanGateway(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gateway: %w", err)
		}
		gateways = append(gateways, gw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gateways: %w", err)
	}
	return gateways, nil
}

// Update writes only the fields set in upd. A rename never reverts a status
// the health tracker wrote in the meantime.
func (r *GatewayRegistry) Update(ctx context.Context, id string, upd GatewayUpdate) (Gateway, error) {
	if upd.empty() {
		return Gateway{}, ErrNoFieldsToUpdate
	}

	var (
		sets []string
		args []interface{}
	)
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Gateway{}, fmt.Errorf("%w: name must not be empty", ErrInvalidGateway)
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if upd.URL != nil {
		u := strings.TrimSpace(*upd.URL)
		if err := validateGatewayURL(u); err != nil {
			return Gateway{}, err
		}
		sets = append(sets, "url = ?")
		args = append(args, u)
	}
	if upd.Token != nil {
		if *upd.Token == "" {
			return Gateway{}, fmt.Errorf("%w: token must not be empty", ErrInvalidGateway)
		}
		sets = append(sets, "token = ?")
		args = append(args, *upd.Token)
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return Gateway{}, fmt.Errorf("%w: status %q", ErrInvalidGateway, *upd.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, r.now().UTC().Truncate(time.Second).Unix(), id)

	res, err := r.db.ExecContext(ctx,
		"UPDATE gateways SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	r.cache.Remove(id)
	if err != nil {
		return Gateway{}, fmt.Errorf("update gateway %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Gateway{}, ErrGatewayNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes the gateway; the schema cascades to every mirrored row.
func (r *GatewayRegistry) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gateways WHERE id = ?`, id)
	r.cache.Remove(id)
	if err != nil {
		return fmt.Errorf("delete gateway %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGatewayNotFound
	}

	r.logger.Info("gateway removed", zap.String("gateway_id", id))
	return nil
}

// setHealth persists a health outcome. A nil lastSeen leaves last_seen_at
// untouched, an empty version leaves version untouched.
func (r *GatewayRegistry) setHealth(ctx context.Context, id string, status GatewayStatus, lastSeen *time.Time, version string) (Gateway, error) {
	now := r.now().UTC().Truncate(time.Second)

	var seen sql.NullInt64
	if lastSeen != nil {
		seen = sql.NullInt64{Int64: lastSeen.Unix(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE gateways SET
			status = ?,
			last_seen_at = COALESCE(?, last_seen_at),
			version = COALESCE(?, version),
			updated_at = ?
		WHERE id = ?
	`, string(status), seen, nullString(version), now.Unix(), id)
	if err != nil {
		return Gateway{}, fmt.Errorf("update gateway health %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.cache.Remove(id)
		return Gateway{}, ErrGatewayNotFound
	}

	r.cache.Remove(id)
	return r.Get(ctx, id)
}

func validateGatewayURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: url %q: %v", ErrInvalidGateway, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url %q must be an absolute http(s) url", ErrInvalidGateway, raw)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGateway(row rowScanner) (Gateway, error) {
	var (
		gw        Gateway
		status    string
		version   sql.NullString
		lastSeen  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&gw.ID, &gw.Name, &gw.URL, &gw.Token, &status, &version, &lastSeen, &createdAt, &updatedAt); err != nil {
		return Gateway{}, err
	}
	gw.Status = GatewayStatus(status)
	gw.Version = version.String
	gw.LastSeenAt = timePtr(lastSeen)
	gw.CreatedAt = unixTime(createdAt)
	gw.UpdatedAt = unixTime(updatedAt)
	return gw, nil
}
