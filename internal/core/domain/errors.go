package domain

import "errors"

var (
	// ErrOrderExpired is returned when trying to move an expired order to any
	// other state.
	ErrOrderExpired = errors.New("order is expired")
	// ErrOrderStateRegression is returned when a polled order reports a state
	// that precedes the one already observed.
	ErrOrderStateRegression = errors.New("order state can only move forward")
	// ErrOrderUnknownState ...
	ErrOrderUnknownState = errors.New("order state is unknown")
	// ErrOrderIdMismatch ...
	ErrOrderIdMismatch = errors.New("cannot merge orders with different ids")

	// ErrTransferAlreadyExists ...
	ErrTransferAlreadyExists = errors.New("transfer already exists")
	// ErrTransferNotFound is returned when looking up a transfer that is not
	// in the repository.
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrTransferInvalidTransition is returned when the requested status
	// cannot be reached from the current one.
	ErrTransferInvalidTransition = errors.New("transfer status transition not allowed")
	// ErrTransferInvalidDirection ...
	ErrTransferInvalidDirection = errors.New("transfer direction is not valid")
	// ErrTransferNullAmount ...
	ErrTransferNullAmount = errors.New("transfer amount must not be zero")

	// ErrWebhookNotFound ...
	ErrWebhookNotFound = errors.New("webhook not found")
	// ErrWebhookAlreadyExists ...
	ErrWebhookAlreadyExists = errors.New("webhook already exists")
	// ErrWebhookInvalidEndpoint ...
	ErrWebhookInvalidEndpoint = errors.New("webhook endpoint must be a valid url")
)
