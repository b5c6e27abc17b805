package transfer

import "errors"

var (
	// ErrMissingRepository ...
	ErrMissingRepository = errors.New("missing transfer repository")
	// ErrNothingToTransfer is returned when none of the given channels holds
	// any local balance.
	ErrNothingToTransfer = errors.New("nothing to transfer")
)
