package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/italolelis/transferkit/internal/logctx"
	"github.com/italolelis/transferkit/internal/storage"
)

// DeleteExpiredFiles deletes the outputs of completed transfers older than keepDuration
// and returns how many files were removed.
func DeleteExpiredFiles(ctx context.Context, fs billy.Filesystem, records []storage.TransferRecord, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()
	deleted := 0

	for _, rec := range records {
		if rec.Status != storage.StatusCompleted || rec.FilePath == "" {
			continue
		}

		info, err := fs.Stat(rec.FilePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // already deleted
			}

			logger.Error("Failed to stat file", "file", rec.FilePath, "err", err)

			return deleted, fmt.Errorf("failed to stat %s: %w", rec.FilePath, err)
		}

		finishedAt := rec.FinishedAt
		if finishedAt.IsZero() {
			logger.Warn("Transfer has no finish time, using file mod time", "file", rec.FilePath)

			finishedAt = info.ModTime()
		}

		if now.Sub(finishedAt) <= keepDuration {
			continue
		}

		if err := fs.Remove(rec.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("Failed to delete expired file", "file", rec.FilePath, "err", err)

			return deleted, fmt.Errorf("failed to delete %s: %w", rec.FilePath, err)
		}

		deleted++

		logger.Info("Deleted expired file", "file", rec.FilePath, "transfer_id", rec.ID)
	}

	return deleted, nil
}
