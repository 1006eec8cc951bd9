package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs a background goroutine that periodically evicts device
// records whose heartbeat went stale. It is the safety net behind the
// per-connection heartbeat: it catches devices that vanished without a clean
// disconnect (crash, network black hole) and presence-store updates lost to
// process restarts.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a new Sweeper. Call Start() to begin sweeping.
func NewSweeper(engine *Engine, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger.Named("sweeper"),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		sw.runSweep(ctx)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *Sweeper) runSweep(ctx context.Context) {
	evicted, offline, err := sw.engine.SweepStale(ctx)
	if err != nil {
		sw.logger.Warn("sweep failed", zap.Error(err))
		return
	}
	if evicted > 0 {
		sw.logger.Info("swept stale devices",
			zap.Int("evicted", evicted), zap.Int("went_offline", offline))
	}
}
