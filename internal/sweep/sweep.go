package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lumo-chat/lumo_pay/internal/distribution"
	"github.com/lumo-chat/lumo_pay/internal/transfer"
)

// Runner periodically refunds expired transfers and distributions. Each pass
// is idempotent, so overlapping runs across engine instances are harmless.
type Runner struct {
	transfers     *transfer.Service
	distributions *distribution.Service
	logger        *slog.Logger
	interval      time.Duration
	cron          *cron.Cron
}

// NewRunner wires the sweep scheduler.
func NewRunner(transfers *transfer.Service, distributions *distribution.Service, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Runner{
		transfers:     transfers,
		distributions: distributions,
		logger:        logger,
		interval:      interval,
		cron:          cron.New(),
	}
}

// Start schedules recurring sweeps and runs one immediately to catch
// anything that expired while the engine was down.
func (r *Runner) Start() {
	r.cron.Schedule(cron.Every(r.interval), cron.FuncJob(r.sweep))
	r.cron.Start()
	go r.sweep()
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Sweep runs a single pass over both expiry queues.
func (r *Runner) Sweep(ctx context.Context, now time.Time) {
	if n, err := r.transfers.ExpireDue(ctx, now); err != nil {
		r.logger.Error("transfer expiry sweep failed", "error", err)
	} else if n > 0 {
		r.logger.Info("expired transfers refunded", "count", n)
	}

	if n, err := r.distributions.ExpireDue(ctx, now); err != nil {
		r.logger.Error("distribution expiry sweep failed", "error", err)
	} else if n > 0 {
		r.logger.Info("expired distributions refunded", "count", n)
	}
}

func (r *Runner) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	r.Sweep(ctx, time.Now().UTC())
}
