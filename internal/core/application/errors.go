package application

import "errors"

var (
	// ErrMissingEngineService ...
	ErrMissingEngineService = errors.New("missing service for balance engine")
	// ErrChannelNotFound is returned when asked to transfer the funds of a
	// channel the node does not list.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrMissingNodeSource ...
	ErrMissingNodeSource = errors.New("missing node source")
	// ErrUnsupportedDbType ...
	ErrUnsupportedDbType = errors.New("db type not supported")
)
