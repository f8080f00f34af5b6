package rpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/gflze/gflbans/pkg/log"
	"github.com/robfig/cron/v3"
)

const (
	DefaultPurgeSchedule = "@every 5m"
	purgeTimeout         = time.Minute
)

// Purger deletes data that has outlived its retention.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// PurgeJob is a named Purger run by the scheduler.
type PurgeJob struct {
	Name   string
	Purger Purger
}

// PurgeScheduler runs every job on a shared cron schedule.
type PurgeScheduler struct {
	cron     *cron.Cron
	jobs     []PurgeJob
	schedule string
	clock    func() time.Time
}

func NewPurgeScheduler(schedule string, jobs ...PurgeJob) *PurgeScheduler {
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}

	return &PurgeScheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		jobs:     jobs,
		schedule: schedule,
		clock:    time.Now,
	}
}

// Start registers the purge jobs and starts the scheduler. Jobs stop being scheduled once ctx is done.
func (s *PurgeScheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Run(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	slog.Info("Started purge scheduler", slog.String("schedule", s.schedule), slog.Int("jobs", len(s.jobs)))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop waits for a running purge to finish.
func (s *PurgeScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Run executes each job once. A failing job does not stop the others.
func (s *PurgeScheduler) Run(parent context.Context) {
	now := s.clock()

	for _, job := range s.jobs {
		s.purge(parent, job, now)
	}
}

func (s *PurgeScheduler) purge(parent context.Context, job PurgeJob, now time.Time) {
	ctx, cancel := context.WithTimeout(parent, purgeTimeout)
	defer cancel()

	count, errPurge := job.Purger.Purge(ctx, now)
	if errPurge != nil {
		slog.Error("Failed to purge", log.ErrAttr(errPurge), slog.String("job", job.Name))

		return
	}

	slog.Debug("Purge finished", slog.String("job", job.Name), slog.Int64("removed", count))
}
