package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultAutoSyncTimeout = 5 * time.Minute

// AutoSyncScheduler periodically runs a full sync of every registered
// gateway. A run that is still in progress when the next one is due causes
// the next one to be skipped.
type AutoSyncScheduler struct {
	syncer  *Syncer
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	logger  *zap.Logger
}

func NewAutoSyncScheduler(syncer *Syncer, spec string, logger *zap.Logger) (*AutoSyncScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &AutoSyncScheduler{
		syncer:  syncer,
		cron:    c,
		spec:    spec,
		timeout: defaultAutoSyncTimeout,
		logger:  logger,
	}
	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("schedule auto sync %q: %w", spec, err)
	}
	return s, nil
}

func (s *AutoSyncScheduler) Start() {
	s.cron.Start()
	s.logger.Info("auto sync scheduled", zap.String("spec", s.spec))
}

// Stop prevents new runs and waits for a running one to finish or ctx to end.
func (s *AutoSyncScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("auto sync still running at shutdown")
	}
}

func (s *AutoSyncScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	ok, err := s.syncer.SyncEvery(ctx)
	if err != nil {
		s.logger.Warn("auto sync aborted", zap.Int("gateways_synced", ok), zap.Error(err))
		return
	}
	s.logger.Info("auto sync complete",
		zap.Int("gateways_synced", ok),
		zap.Duration("elapsed", time.Since(start)),
	)
}
