package watcher

import "errors"

var (
	// ErrNoSources ...
	ErrNoSources = errors.New("at least one source must be given")
	// ErrMissingOrderIds ...
	ErrMissingOrderIds = errors.New("orders source requires the order ids getter")
	// ErrInvalidInterval ...
	ErrInvalidInterval = errors.New("poll interval must not be negative")
	// ErrAlreadyStarted ...
	ErrAlreadyStarted = errors.New("watcher already started")
)
