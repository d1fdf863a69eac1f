package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrNotFound is returned when no transfer has the requested id.
var ErrNotFound = errors.New("transfer not found")

// Status is the lifecycle state of a journaled transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}

	return false
}

// TransferRecord is one journaled transfer.
type TransferRecord struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	FilePath    string    `json:"file_path"`
	Status      Status    `json:"status"`
	Code        int       `json:"code"`
	Bytes       int64     `json:"bytes"`
	ContentType string    `json:"content_type,omitempty"`
	LockedBy    string    `json:"locked_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Result is what a finished transfer reports to the journal.
type Result struct {
	Status      Status
	Code        int
	Bytes       int64
	ContentType string
}

type TransferReadRepository interface {
	GetTransfers(ctx context.Context) ([]TransferRecord, error)
	GetTransfer(ctx context.Context, id string) (TransferRecord, error)
	GetTransfersByStatus(ctx context.Context, status Status) ([]TransferRecord, error)
}

type TransferWriteRepository interface {
	TrackTransfer(ctx context.Context, id, url, filePath string) error
	ClaimTransfer(ctx context.Context, id, instanceID string) (bool, error) // atomically mark a pending transfer running
	CompleteTransfer(ctx context.Context, id string, res Result) error
}

type TransferRepository interface {
	TransferReadRepository
	TransferWriteRepository
}

// GenerateInstanceID returns a unique string for this process (hostname+pid+random)
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	pid := os.Getpid()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(pid) + "-" + hex.EncodeToString(rnd)
}
