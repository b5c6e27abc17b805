package domain

import "context"

// TransferRepository is the abstraction for any kind of database intended to
// persist Transfers.
type TransferRepository interface {
	// AddTransfer adds the given transfer. It fails if one with the same id
	// already exists.
	AddTransfer(ctx context.Context, transfer Transfer) error
	// GetTransfer returns the transfer with the given id or
	// ErrTransferNotFound.
	GetTransfer(ctx context.Context, id string) (*Transfer, error)
	// UpdateTransfer fetches the transfer with the given id, applies the
	// update function and stores back the result.
	UpdateTransfer(
		ctx context.Context, id string,
		updateFn func(t *Transfer) (*Transfer, error),
	) error
	// GetActiveTransfers returns all transfers not yet settled nor given up,
	// oldest first.
	GetActiveTransfers(ctx context.Context) ([]Transfer, error)
	// GetAllTransfers returns all the stored transfers, oldest first.
	GetAllTransfers(ctx context.Context) ([]Transfer, error)
	// DeleteSettledBefore removes the transfers settled before the given
	// timestamp and returns how many were deleted.
	DeleteSettledBefore(ctx context.Context, timestamp int64) (int, error)
}
