package order

import "errors"

var (
	// ErrMissingOrderSource ...
	ErrMissingOrderSource = errors.New("missing order source")
	// ErrOrderNotTracked is returned when looking up an order that is not
	// being watched.
	ErrOrderNotTracked = errors.New("order is not tracked")
	// ErrOrderAlreadyExpired is returned when trying to watch an order that
	// was already seen expiring.
	ErrOrderAlreadyExpired = errors.New("order already expired")
)
