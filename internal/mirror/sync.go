package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Bldg-7/clawdash/internal/remote"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 100

// GatewayClient is the subset of the remote client the syncer needs.
type GatewayClient interface {
	ListSessions(ctx context.Context, ep remote.Endpoint) ([]remote.Session, error)
	ListCron(ctx context.Context, ep remote.Endpoint) ([]remote.CronJob, error)
	FetchHistory(ctx context.Context, ep remote.Endpoint, sessionKey string, limit int) ([]remote.Message, error)
	FetchStatus(ctx context.Context, ep remote.Endpoint) (*remote.Status, error)
}

// fullSyncKinds is the order SyncAll walks. Messages are per session and
// are only synced on request.
var fullSyncKinds = []SyncKind{SyncKindSessions, SyncKindCron, SyncKindUsage}

// Syncer runs one fetch, reconcile and health update per call. Concurrent
// syncs of the same gateway and kind are not serialized; the last committed
// reconcile wins.
type Syncer struct {
	registry     *GatewayRegistry
	client       GatewayClient
	reconciler   *Reconciler
	health       *HealthTracker
	events       EventPublisher
	metrics      *Metrics
	historyLimit int
	logger       *zap.Logger
	now          func() time.Time
}

type SyncerOption func(*Syncer)

func WithSyncEvents(p EventPublisher) SyncerOption {
	return func(s *Syncer) {
		s.events = p
	}
}

func WithSyncMetrics(m *Metrics) SyncerOption {
	return func(s *Syncer) {
		s.metrics = m
	}
}

// WithHistoryLimit bounds how many messages one history fetch asks for.
func WithHistoryLimit(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func NewSyncer(registry *GatewayRegistry, client GatewayClient, reconciler *Reconciler, health *HealthTracker, logger *zap.Logger, opts ...SyncerOption) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Syncer{
		registry:     registry,
		client:       client,
		reconciler:   reconciler,
		health:       health,
		historyLimit: defaultHistoryLimit,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync mirrors one kind of data from a gateway into the cache.
//
// Errors: ErrGatewayNotFound, ErrUnknownKind and ErrSessionKeyRequired are
// returned before any remote call. A remote failure is returned wrapped and
// leaves the cache untouched. A *ReconcileStorageError means the fetch
// succeeded but the local write did not.
func (s *Syncer) Sync(ctx context.Context, gatewayID string, kind SyncKind, opts SyncOptions) (SyncResult, error) {
	if _, err := ParseSyncKind(string(kind)); err != nil {
		return SyncResult{}, err
	}
	if kind == SyncKindMessages && opts.SessionKey == "" {
		return SyncResult{}, ErrSessionKeyRequired
	}

	gw, err := s.registry.Get(ctx, gatewayID)
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{GatewayID: gw.ID, Kind: kind}
	if kind == SyncKindMessages {
		result.SessionKey = opts.SessionKey
	}

	start := time.Now()
	apply, version, err := s.fetch(ctx, gw, kind, opts)
	if err != nil {
		s.recordRemoteFailure(ctx, gw, kind, err, time.Since(start))
		return SyncResult{}, fmt.Errorf("sync %s for gateway %s: %w", kind, gw.ID, err)
	}

	// The fetch already happened; a cancelled caller must not leave the
	// cache half-written, so the reconcile runs to completion regardless.
	writeCtx := context.WithoutCancel(ctx)

	synced, reconcileErr := apply(writeCtx)
	if _, err := s.health.RecordSuccess(writeCtx, gw, version); err != nil {
		s.logger.Warn("failed to record gateway health", zap.String("gateway_id", gw.ID), zap.Error(err))
		if reconcileErr == nil {
			reconcileErr = err
		}
	}

	if reconcileErr != nil {
		s.metrics.RecordSync(kind, "storage_error", time.Since(start).Seconds(), 0)
		s.metrics.RecordError("reconcile", string(kind))
		s.logger.Error("reconcile failed",
			zap.String("gateway_id", gw.ID),
			zap.String("kind", string(kind)),
			zap.Error(reconcileErr),
		)
		s.publish(Event{Type: EventSyncFailed, GatewayID: gw.ID, Kind: kind, SessionKey: result.SessionKey, Error: reconcileErr.Error()})
		return SyncResult{}, &ReconcileStorageError{GatewayID: gw.ID, Kind: kind, Err: reconcileErr}
	}

	result.Synced = synced
	s.metrics.RecordSync(kind, "success", time.Since(start).Seconds(), synced)
	s.logger.Info("sync complete",
		zap.String("gateway_id", gw.ID),
		zap.String("kind", string(kind)),
		zap.Int("synced", synced),
		zap.Duration("elapsed", time.Since(start)),
	)
	s.publish(Event{Type: EventSyncCompleted, GatewayID: gw.ID, Kind: kind, SessionKey: result.SessionKey, Synced: synced})
	return result, nil
}

// SyncAll syncs sessions, cron and usage in turn. Each kind is attempted even
// if an earlier one failed; the failures are joined.
func (s *Syncer) SyncAll(ctx context.Context, gatewayID string) ([]SyncResult, error) {
	if _, err := s.registry.Get(ctx, gatewayID); err != nil {
		return nil, err
	}

	results := make([]SyncResult, 0, len(fullSyncKinds))
	var errs []error
	for _, kind := range fullSyncKinds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.Sync(ctx, gatewayID, kind, SyncOptions{})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// SyncEvery runs SyncAll for every registered gateway and reports how many
// gateways synced cleanly.
func (s *Syncer) SyncEvery(ctx context.Context) (int, error) {
	gateways, err := s.registry.List(ctx)
	if err != nil {
		return 0, err
	}

	ok := 0
	for _, gw := range gateways {
		if ctx.Err() != nil {
			return ok, ctx.Err()
		}
		if _, err := s.SyncAll(ctx, gw.ID); err != nil {
			s.logger.Warn("gateway sync failed", zap.String("gateway_id", gw.ID), zap.Error(err))
			continue
		}
		ok++
	}
	return ok, nil
}

type applyFunc func(ctx context.Context) (int, error)

// fetch performs the remote call for kind and returns the reconcile step to
// run on success, plus any version the gateway reported.
func (s *Syncer) fetch(ctx context.Context, gw Gateway, kind SyncKind, opts SyncOptions) (applyFunc, string, error) {
	ep := gw.Endpoint()

	switch kind {
	case SyncKindSessions:
		sessions, err := s.client.ListSessions(ctx, ep)
		if err != nil {
			return nil, "", err
		}
		return func(ctx context.Context) (int, error) {
			return s.reconciler.ReconcileSessions(ctx, gw.ID, sessions)
		}, "", nil

	case SyncKindCron:
		jobs, err := s.client.ListCron(ctx, ep)
		if err != nil {
			return nil, "", err
		}
		return func(ctx context.Context) (int, error) {
			return s.reconciler.ReconcileCron(ctx, gw.ID, jobs)
		}, "", nil

	case SyncKindMessages:
		messages, err := s.client.FetchHistory(ctx, ep, opts.SessionKey, s.historyLimit)
		if err != nil {
			return nil, "", err
		}
		return func(ctx context.Context) (int, error) {
			return s.reconciler.ReconcileMessages(ctx, gw.ID, opts.SessionKey, messages)
		}, "", nil

	case SyncKindUsage:
		status, err := s.client.FetchStatus(ctx, ep)
		if err != nil {
			return nil, "", err
		}
		date := s.now().UTC().Format("2006-01-02")
		version := ""
		if status != nil {
			version = status.Version
		}
		return func(ctx context.Context) (int, error) {
			return s.reconciler.ReconcileUsage(ctx, gw.ID, date, status)
		}, version, nil
	}

	return nil, "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func (s *Syncer) recordRemoteFailure(ctx context.Context, gw Gateway, kind SyncKind, cause error, elapsed time.Duration) {
	s.metrics.RecordSync(kind, "remote_error", elapsed.Seconds(), 0)
	s.metrics.RecordError("remote", remoteErrorType(cause))
	s.logger.Warn("gateway fetch failed",
		zap.String("gateway_id", gw.ID),
		zap.String("kind", string(kind)),
		zap.Error(cause),
	)

	if _, err := s.health.RecordFailure(context.WithoutCancel(ctx), gw, cause); err != nil {
		s.logger.Warn("failed to record gateway health", zap.String("gateway_id", gw.ID), zap.Error(err))
	}
	s.publish(Event{Type: EventSyncFailed, GatewayID: gw.ID, Kind: kind, Error: cause.Error()})
}

func (s *Syncer) publish(ev Event) {
	if s.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	s.events.Publish(ev)
}

func remoteErrorType(err error) string {
	switch {
	case errors.Is(err, remote.ErrRemoteUnreachable):
		return "unreachable"
	case errors.Is(err, remote.ErrRemoteCallFailed):
		return "call_failed"
	case errors.Is(err, remote.ErrRemoteProtocol):
		return "protocol"
	}
	return "other"
}
