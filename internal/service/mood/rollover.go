package mood

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Rollover clears the "today" caches at local midnight.
type Rollover struct {
	scheduler *cron.Cron
	service   *Service
}

// NewRollover schedules the midnight job in loc. Call Start to run it.
func NewRollover(service *Service, loc *time.Location) (*Rollover, error) {
	if loc == nil {
		loc = time.Local
	}

	r := &Rollover{
		scheduler: cron.New(cron.WithLocation(loc)),
		service:   service,
	}
	if _, err := r.scheduler.AddFunc("0 0 * * *", r.run); err != nil {
		return nil, fmt.Errorf("schedule mood rollover: %w", err)
	}
	return r, nil
}

// Start runs the scheduler in the background.
func (r *Rollover) Start() {
	r.scheduler.Start()
}

// Stop halts the scheduler and waits for a running job.
func (r *Rollover) Stop(ctx context.Context) {
	done := r.scheduler.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Next reports when the job fires next; zero before Start.
func (r *Rollover) Next() time.Time {
	entries := r.scheduler.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (r *Rollover) run() {
	log.Printf("[rollover] new day, invalidating today's mood caches")
	r.service.InvalidateToday(context.Background())
}
