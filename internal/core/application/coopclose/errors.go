package coopclose

import "errors"

var (
	// ErrMissingLightningSource ...
	ErrMissingLightningSource = errors.New("missing lightning source")
	// ErrInvalidRetryInterval ...
	ErrInvalidRetryInterval = errors.New("retry interval must be positive")
	// ErrInvalidGiveUpInterval ...
	ErrInvalidGiveUpInterval = errors.New(
		"give up interval must not be shorter than retry interval",
	)
	// ErrNoChannels is returned when starting a campaign with no channels to
	// close.
	ErrNoChannels = errors.New("no channels to close")
)
