// Package janitor periodically removes expired verification tokens from a
// relational store. Verification never depends on it: expired tokens are
// rejected on read whether or not they were purged.
package janitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Purger deletes tokens that expired before the given time.
// *repository.TokenStore satisfies it.
type Purger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	Interval time.Duration
	// Retention keeps expired rows around this long for inspection.
	Retention time.Duration
}

type Janitor struct {
	store  Purger
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(store Purger, cfg Config, logger *zap.Logger) (*Janitor, error) {
	if store == nil {
		return nil, errors.New("janitor store is nil")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("janitor interval must be > 0")
	}
	if cfg.Retention < 0 {
		return nil, errors.New("janitor retention must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{store: store, cfg: cfg, logger: logger.Named("janitor"), now: time.Now}, nil
}

// Run purges every Interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single purge and returns the number of rows removed.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.cfg.Retention)
	n, err := j.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Warn("purge failed", zap.Error(err))
		}
		return 0, err
	}
	if n > 0 {
		j.logger.Info("purged expired tokens", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	} else {
		j.logger.Debug("no expired tokens")
	}
	return n, nil
}
