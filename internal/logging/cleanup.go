package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/sunsreach/nerris/internal/models"
	"gorm.io/gorm"
)

const cleanupInterval = 24 * time.Hour

// PurgeSystemLogs deletes system_logs older than retentionDays.
func PurgeSystemLogs(ctx context.Context, db *gorm.DB, retentionDays int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -retentionDays)
	result := db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}

// RunCleanup purges expired system logs once a day until ctx is done.
func RunCleanup(ctx context.Context, db *gorm.DB, retentionDays int) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deleted, err := PurgeSystemLogs(ctx, db, retentionDays, time.Now())
			if err != nil {
				slog.Error("log cleanup failed", "error", err)
			} else if deleted > 0 {
				slog.Info("log cleanup completed", "deleted", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}
