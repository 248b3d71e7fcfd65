package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/photosync/cloudsync/internal/observability"
)

// SyncScheduler triggers the reconciliation sweep on a cron schedule
type SyncScheduler struct {
	cron    *cron.Cron
	sync    *SyncService
	entryID cron.EntryID
}

// NewSyncScheduler creates a scheduler from a standard 5-field cron
// expression
func NewSyncScheduler(schedule string, sync *SyncService) (*SyncScheduler, error) {
	s := &SyncScheduler{
		cron: cron.New(),
		sync: sync,
	}

	entryID, err := s.cron.AddFunc(schedule, s.runSweep)
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	s.entryID = entryID

	return s, nil
}

// Start begins running the schedule in its own goroutine
func (s *SyncScheduler) Start() {
	s.cron.Start()
	observability.Infof("Sync scheduler started, next run at %s", s.NextRun().Format(time.RFC3339))
}

// Stop halts the schedule, waiting for a running sweep to finish
func (s *SyncScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// NextRun reports when the next sweep is due
func (s *SyncScheduler) NextRun() time.Time {
	return s.cron.Entry(s.entryID).Next
}

func (s *SyncScheduler) runSweep() {
	if _, err := s.sync.SyncAll(context.Background()); err != nil {
		observability.Errorf("Scheduled sync sweep failed: %v", err)
	}
}
