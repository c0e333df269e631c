package service

import (
	"context"
	"os"
	"time"

	"anonrelay/internal/constants"
	"anonrelay/internal/security"

	"github.com/sirupsen/logrus"
)

// Cleaner is what the scheduler needs from the store.
type Cleaner interface {
	CleanupOldRecords(ctx context.Context, retentionDays int) error
}

type Scheduler struct {
	cleaner       Cleaner
	mediaDir      string
	retentionDays int
	intervalHours int
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewScheduler(cleaner Cleaner, mediaDir string, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.CleanupSchedulerIntervalHours
	}
	return &Scheduler{
		cleaner:       cleaner,
		mediaDir:      mediaDir,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting cleanup scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	s.logger.WithField("retentionDays", s.retentionDays).Info("Running scheduled cleanup")

	if err := s.cleaner.CleanupOldRecords(ctx, s.retentionDays); err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old records")
	} else {
		s.logger.Info("Successfully completed cleanup")
	}

	s.sweepOrphanedMedia()
}

// sweepOrphanedMedia removes generated artifacts that were never confirmed or
// cleaned up, for example after a crash between generation and confirmation.
func (s *Scheduler) sweepOrphanedMedia() {
	if s.mediaDir == "" {
		return
	}

	entries, err := os.ReadDir(s.mediaDir)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read media directory")
		return
	}

	cutoff := time.Now().Add(-time.Duration(constants.OrphanedMediaMaxAgeHours) * time.Hour)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path, err := security.ResolveWithin(s.mediaDir, entry.Name())
		if err != nil {
			s.logger.WithError(err).WithField("file", entry.Name()).Warn("Skipping suspicious media entry")
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.WithError(err).WithField("file", entry.Name()).Warn("Failed to remove orphaned media file")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Swept orphaned media files")
	}
}
