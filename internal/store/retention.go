package store

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy bounds how long finished rows are kept.
type RetentionPolicy struct {
	VoiceSessions time.Duration
	ImageJobs     time.Duration
}

// DefaultRetention keeps finished voice sessions and image jobs for a week.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		VoiceSessions: 7 * 24 * time.Hour,
		ImageJobs:     7 * 24 * time.Hour,
	}
}

// RunRetention cleans up old data according to retention policies. Assembly
// states and conversation logs are never deleted here.
func (s *Store) RunRetention(ctx context.Context, p RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM voice_sessions WHERE processing_status IN ('completed', 'failed') AND updated_at < ?",
		now.Add(-p.VoiceSessions).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete old voice sessions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"DELETE FROM image_jobs WHERE status IN ('completed', 'skipped', 'failed', 'dropped') AND updated_at < ?",
		now.Add(-p.ImageJobs).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete old image jobs: %w", err)
	}

	return nil
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}

	err = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}
