package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/transferkit/internal/storage"
)

const selectTransfers = `SELECT
		transfer_id,
		url,
		file_path,
		status,
		code,
		bytes,
		content_type,
		locked_by,
		created_at,
		finished_at
	FROM transfers`

type TransferReadRepository struct {
	db *sql.DB
}

func NewTransferReadRepository(dbConn *sql.DB) *TransferReadRepository {
	return &TransferReadRepository{db: dbConn}
}

func (r *TransferReadRepository) GetTransfers(ctx context.Context) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectTransfers+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// GetTransfer returns the transfer with id, or storage.ErrNotFound.
func (r *TransferReadRepository) GetTransfer(ctx context.Context, id string) (storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectTransfers+` WHERE transfer_id = ?`, id)
	if err != nil {
		return storage.TransferRecord{}, err
	}
	defer rows.Close()

	records, err := scanTransfers(rows)
	if err != nil {
		return storage.TransferRecord{}, err
	}

	if len(records) == 0 {
		return storage.TransferRecord{}, storage.ErrNotFound
	}

	return records[0], nil
}

func (r *TransferReadRepository) GetTransfersByStatus(ctx context.Context, status storage.Status) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectTransfers+` WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransfers(rows)
}

func scanTransfers(rows *sql.Rows) ([]storage.TransferRecord, error) {
	var transfers []storage.TransferRecord

	for rows.Next() {
		var (
			record      storage.TransferRecord
			status      string
			filePath    sql.NullString
			contentType sql.NullString
			lockedBy    sql.NullString
			createdAt   sql.NullString
			finishedAt  sql.NullString
		)

		err := rows.Scan(&record.ID, &record.URL, &filePath, &status, &record.Code, &record.Bytes,
			&contentType, &lockedBy, &createdAt, &finishedAt)
		if err != nil {
			return nil, err
		}

		record.Status = storage.Status(status)
		record.FilePath = filePath.String
		record.ContentType = contentType.String
		record.LockedBy = lockedBy.String
		record.CreatedAt = parseTime(createdAt)
		record.FinishedAt = parseTime(finishedAt)

		transfers = append(transfers, record)
	}

	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return transfers, nil
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}

	return t
}
