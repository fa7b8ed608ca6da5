package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// HealthTracker derives gateway status from sync outcomes. A reachable
// gateway becomes online and its last_seen_at advances; a remote failure
// sets error and leaves last_seen_at as it was.
type HealthTracker struct {
	registry   *GatewayRegistry
	events     EventPublisher
	notifier   StatusNotifier
	metrics    *Metrics
	minVersion *semver.Constraints
	logger     *zap.Logger
	now        func() time.Time
}

type HealthOption func(*HealthTracker)

func WithEventPublisher(p EventPublisher) HealthOption {
	return func(h *HealthTracker) {
		h.events = p
	}
}

func WithStatusNotifier(n StatusNotifier) HealthOption {
	return func(h *HealthTracker) {
		h.notifier = n
	}
}

func WithHealthMetrics(m *Metrics) HealthOption {
	return func(h *HealthTracker) {
		h.metrics = m
	}
}

// WithMinVersion warns about gateways reporting a version outside constraint.
func WithMinVersion(constraint string) HealthOption {
	return func(h *HealthTracker) {
		if constraint == "" {
			return
		}
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			h.logger.Warn("ignoring invalid gateway version constraint", zap.String("constraint", constraint), zap.Error(err))
			return
		}
		h.minVersion = c
	}
}

func NewHealthTracker(registry *GatewayRegistry, logger *zap.Logger, opts ...HealthOption) *HealthTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthTracker{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RecordSuccess marks gw online. version is optional and only stored when
// it parses as a semantic version.
func (h *HealthTracker) RecordSuccess(ctx context.Context, gw Gateway, version string) (Gateway, error) {
	seen := h.now().UTC().Truncate(time.Second)
	updated, err := h.registry.setHealth(ctx, gw.ID, GatewayStatusOnline, &seen, h.normalizeVersion(gw, version))
	if err != nil {
		return Gateway{}, fmt.Errorf("record success for gateway %s: %w", gw.ID, err)
	}
	h.afterUpdate(ctx, gw.Status, updated, nil)
	return updated, nil
}

// RecordFailure marks gw as error after a remote failure.
func (h *HealthTracker) RecordFailure(ctx context.Context, gw Gateway, cause error) (Gateway, error) {
	updated, err := h.registry.setHealth(ctx, gw.ID, GatewayStatusError, nil, "")
	if err != nil {
		return Gateway{}, fmt.Errorf("record failure for gateway %s: %w", gw.ID, err)
	}
	h.afterUpdate(ctx, gw.Status, updated, cause)
	return updated, nil
}

func (h *HealthTracker) afterUpdate(ctx context.Context, previous GatewayStatus, gw Gateway, cause error) {
	h.metrics.SetGatewayStatus(gw.ID, gw.Status)
	if previous == gw.Status {
		return
	}

	h.logger.Info("gateway status changed",
		zap.String("gateway_id", gw.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(gw.Status)),
	)

	if h.events != nil {
		ev := Event{
			Type:           EventGatewayStatus,
			GatewayID:      gw.ID,
			Status:         gw.Status,
			PreviousStatus: previous,
			Timestamp:      h.now().UTC(),
		}
		if cause != nil {
			ev.Error = cause.Error()
		}
		h.events.Publish(ev)
	}

	if h.notifier != nil {
		if err := h.notifier.NotifyStatusChange(ctx, gw, previous, cause); err != nil {
			h.metrics.RecordError("notifier", "send")
			h.logger.Warn("status notification failed", zap.String("gateway_id", gw.ID), zap.Error(err))
		}
	}
}

func (h *HealthTracker) normalizeVersion(gw Gateway, raw string) string {
	if raw == "" {
		return ""
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		h.logger.Debug("gateway reported unparseable version",
			zap.String("gateway_id", gw.ID),
			zap.String("version", raw),
		)
		return ""
	}
	if h.minVersion != nil {
		if ok, errs := h.minVersion.Validate(v); !ok {
			h.logger.Warn("gateway version below supported range",
				zap.String("gateway_id", gw.ID),
				zap.String("version", v.String()),
				zap.Error(errors.Join(errs...)),
			)
		}
	}
	return v.String()
}
