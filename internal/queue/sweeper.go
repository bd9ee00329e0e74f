package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Sweeper periodically drops finished-job records from the pools and expired
// coordination keys from the kv store, on a cron schedule.
type Sweeper struct {
	log      *slog.Logger
	schedule string
	pools    []*Pool
	extra    []func(context.Context) (int, error)
	cron     gronx.Gronx
}

func NewSweeper(log *slog.Logger, schedule string, pools ...*Pool) *Sweeper {
	if schedule == "" {
		schedule = "* * * * *"
	}
	return &Sweeper{
		log:      log,
		schedule: schedule,
		pools:    pools,
		cron:     gronx.New(),
	}
}

// AddTask registers an extra sweep step, e.g. the kv store's expired-key
// cleanup. It must return how many entries it removed.
func (s *Sweeper) AddTask(fn func(context.Context) (int, error)) {
	s.extra = append(s.extra, fn)
}

// Run blocks until the context is cancelled, checking the schedule once a
// minute.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.cron.IsDue(s.schedule, time.Now())
			if err != nil {
				s.log.Error("invalid sweep schedule", "schedule", s.schedule, "error", err)
				return
			}
			if due {
				s.sweep(ctx)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	total := 0
	for _, p := range s.pools {
		total += p.Sweep()
	}
	for _, fn := range s.extra {
		n, err := fn(ctx)
		if err != nil {
			s.log.Error("sweep task failed", "error", err)
			continue
		}
		total += n
	}
	if total > 0 {
		s.log.Debug("sweep complete", "removed", total)
	}
}
