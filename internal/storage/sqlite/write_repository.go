package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/transferkit/internal/storage"
)

// TransferWriteRepository implements storage.TransferWriteRepository
// and stores transfer records in SQLite.
type TransferWriteRepository struct {
	db *sql.DB
}

func NewTransferWriteRepository(db *sql.DB) *TransferWriteRepository {
	return &TransferWriteRepository{db: db}
}

// TrackTransfer journals a pending transfer. Tracking an id again resets it to pending
// unless it is running.
func (r *TransferWriteRepository) TrackTransfer(ctx context.Context, id, url, filePath string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfers (transfer_id, url, file_path, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)
		ON CONFLICT(transfer_id) DO UPDATE SET
			url = excluded.url,
			file_path = excluded.file_path,
			status = 'pending',
			code = 0,
			bytes = 0,
			finished_at = NULL
		WHERE transfers.status != 'running'`,
		id, url, filePath, now(),
	)

	return err
}

// ClaimTransfer atomically sets status to 'running' and locked_by to instanceID if status is 'pending'.
func (r *TransferWriteRepository) ClaimTransfer(ctx context.Context, id, instanceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers SET status = 'running', locked_by = ? WHERE transfer_id = ? AND status = 'pending' AND (locked_by IS NULL OR locked_by = '')`,
		instanceID, id,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// CompleteTransfer records the outcome of a transfer and releases its lock.
func (r *TransferWriteRepository) CompleteTransfer(ctx context.Context, id string, res storage.Result) error {
	out, err := r.db.ExecContext(ctx,
		`UPDATE transfers SET status = ?, code = ?, bytes = ?, content_type = ?, finished_at = ?, locked_by = NULL WHERE transfer_id = ?`,
		string(res.Status), res.Code, res.Bytes, res.ContentType, now(), id,
	)
	if err != nil {
		return err
	}

	affected, err := out.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
