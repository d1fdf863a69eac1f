package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/transferkit/internal/storage"
	"github.com/italolelis/transferkit/internal/telemetry"
)

// InstrumentedTransferRepository wraps the read and write repositories with telemetry.
type InstrumentedTransferRepository struct {
	read      *TransferReadRepository
	write     *TransferWriteRepository
	telemetry *telemetry.Telemetry
}

var _ storage.TransferRepository = (*InstrumentedTransferRepository)(nil)

// NewInstrumentedTransferRepository creates a new instrumented transfer repository.
func NewInstrumentedTransferRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedTransferRepository {
	return &InstrumentedTransferRepository{
		read:      NewTransferReadRepository(dbConn),
		write:     NewTransferWriteRepository(dbConn),
		telemetry: tel,
	}
}

// GetTransfers retrieves all transfers with telemetry.
func (r *InstrumentedTransferRepository) GetTransfers(ctx context.Context) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_transfers", func(ctx context.Context) error {
		var err error
		result, err = r.read.GetTransfers(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedTransferRepository) GetTransfer(ctx context.Context, id string) (storage.TransferRecord, error) {
	var result storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_transfer", func(ctx context.Context) error {
		var err error
		result, err = r.read.GetTransfer(ctx, id)

		return err
	})

	return result, err
}

func (r *InstrumentedTransferRepository) GetTransfersByStatus(ctx context.Context, status storage.Status) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_transfers_by_status", func(ctx context.Context) error {
		var err error
		result, err = r.read.GetTransfersByStatus(ctx, status)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedTransferRepository) TrackTransfer(ctx context.Context, id, url, filePath string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_transfer", func(ctx context.Context) error {
		return r.write.TrackTransfer(ctx, id, url, filePath)
	})
}

// ClaimTransfer claims a transfer with telemetry.
func (r *InstrumentedTransferRepository) ClaimTransfer(ctx context.Context, id, instanceID string) (bool, error) {
	var result bool

	err := r.telemetry.InstrumentDBOperation(ctx, "claim_transfer", func(ctx context.Context) error {
		var err error
		result, err = r.write.ClaimTransfer(ctx, id, instanceID)

		return err
	})
	if err != nil {
		return false, err
	}

	return result, nil
}

// CompleteTransfer records a transfer outcome with telemetry.
func (r *InstrumentedTransferRepository) CompleteTransfer(ctx context.Context, id string, res storage.Result) error {
	return r.telemetry.InstrumentDBOperation(ctx, "complete_transfer", func(ctx context.Context) error {
		return r.write.CompleteTransfer(ctx, id, res)
	})
}
