package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TransferToSpending TransferDirection = iota
	TransferToSavings
)

const (
	TransferStatusInitiated TransferStatus = iota
	TransferStatusAwaitingChannelClose
	TransferStatusAwaitingConfirmation
	TransferStatusSettled
	TransferStatusGaveUp
)

// TransferDirection tells which side of the wallet funds are moving to.
type TransferDirection int

func (d TransferDirection) String() string {
	switch d {
	case TransferToSpending:
		return "to_spending"
	case TransferToSavings:
		return "to_savings"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// TransferDirectionFromString ...
func TransferDirectionFromString(str string) (TransferDirection, error) {
	switch str {
	case TransferToSpending.String():
		return TransferToSpending, nil
	case TransferToSavings.String():
		return TransferToSavings, nil
	default:
		return -1, ErrTransferInvalidDirection
	}
}

// TransferStatus represents the different statuses a transfer can assume.
type TransferStatus int

func (s TransferStatus) String() string {
	switch s {
	case TransferStatusInitiated:
		return "initiated"
	case TransferStatusAwaitingChannelClose:
		return "awaiting_channel_close"
	case TransferStatusAwaitingConfirmation:
		return "awaiting_confirmation"
	case TransferStatusSettled:
		return "settled"
	case TransferStatusGaveUp:
		return "gave_up"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsFinal returns whether the status admits no further transition.
func (s TransferStatus) IsFinal() bool {
	return s == TransferStatusSettled || s == TransferStatusGaveUp
}

// CanTransitionTo returns whether a transfer can go from this status to the
// given one.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	switch s {
	case TransferStatusInitiated:
		return next != TransferStatusInitiated && next <= TransferStatusGaveUp
	case TransferStatusAwaitingChannelClose:
		return next == TransferStatusAwaitingConfirmation ||
			next == TransferStatusSettled ||
			next == TransferStatusGaveUp
	case TransferStatusAwaitingConfirmation:
		return next == TransferStatusSettled
	default:
		return false
	}
}

// Transfer is the persisted record of a move of funds between the on-chain
// and the Lightning side of the wallet. A transfer to savings refers to one
// channel being closed; a transfer to spending refers to the channel
// purchase order that will open it.
type Transfer struct {
	Id          string
	Direction   TransferDirection
	AmountSats  uint64
	ChannelId   string
	FundingTxid string
	LspOrderId  string
	Status      TransferStatus
	CreatedAt   int64
	SettledAt   int64
}

// NewTransferToSavings returns a transfer for the coop close of the given
// channel.
func NewTransferToSavings(channel ChannelInfo) (*Transfer, error) {
	amount := channel.OutboundCapacitySats()
	if amount == 0 {
		return nil, ErrTransferNullAmount
	}
	return &Transfer{
		Id:          uuid.New().String(),
		Direction:   TransferToSavings,
		AmountSats:  amount,
		ChannelId:   channel.ChannelId,
		FundingTxid: channel.FundingTxid,
		Status:      TransferStatusInitiated,
		CreatedAt:   time.Now().Unix(),
	}, nil
}

// NewTransferToSpending returns a transfer for the channel that will be
// opened once the given order is executed.
func NewTransferToSpending(order PendingOrder) (*Transfer, error) {
	if order.ClientBalanceSat == 0 {
		return nil, ErrTransferNullAmount
	}
	return &Transfer{
		Id:          uuid.New().String(),
		Direction:   TransferToSpending,
		AmountSats:  order.ClientBalanceSat,
		FundingTxid: order.FundingTxid,
		LspOrderId:  order.Id,
		Status:      TransferStatusInitiated,
		CreatedAt:   time.Now().Unix(),
	}, nil
}

// IsActive ...
func (t *Transfer) IsActive() bool {
	return !t.Status.IsFinal()
}

// AwaitChannelClose marks the close of the channel as requested.
func (t *Transfer) AwaitChannelClose() (bool, error) {
	return t.moveTo(TransferStatusAwaitingChannelClose)
}

// AwaitConfirmation marks the transfer as waiting for the on-chain
// confirmation of the channel open or close tx.
func (t *Transfer) AwaitConfirmation() (bool, error) {
	return t.moveTo(TransferStatusAwaitingConfirmation)
}

// Settle brings the transfer to its final successful status.
func (t *Transfer) Settle(timestamp int64) (bool, error) {
	ok, err := t.moveTo(TransferStatusSettled)
	if err != nil || !ok {
		return ok, err
	}
	t.SettledAt = timestamp
	return true, nil
}

// GiveUp marks the transfer as abandoned.
func (t *Transfer) GiveUp() (bool, error) {
	return t.moveTo(TransferStatusGaveUp)
}

// moveTo returns false without error if the transfer is already in the
// target status.
func (t *Transfer) moveTo(status TransferStatus) (bool, error) {
	if t.Status == status {
		return false, nil
	}
	if !t.Status.CanTransitionTo(status) {
		return false, ErrTransferInvalidTransition
	}
	t.Status = status
	return true, nil
}

// TransferIntent groups the transfers created by a single user request.
type TransferIntent struct {
	Direction        TransferDirection
	AmountSats       uint64
	ChannelsInvolved []ChannelInfo
	Status           TransferStatus
	TransferIds      []string
}

// NewTransferIntent summarizes the given transfers, all expected to share
// the same direction.
func NewTransferIntent(
	direction TransferDirection, channels []ChannelInfo, transfers []Transfer,
) TransferIntent {
	intent := TransferIntent{
		Direction:        direction,
		ChannelsInvolved: channels,
		TransferIds:      make([]string, 0, len(transfers)),
	}
	statuses := make([]TransferStatus, 0, len(transfers))
	for _, t := range transfers {
		intent.AmountSats = addSats(intent.AmountSats, t.AmountSats)
		intent.TransferIds = append(intent.TransferIds, t.Id)
		statuses = append(statuses, t.Status)
	}
	intent.Status = AggregateTransferStatus(statuses...)
	return intent
}

// AggregateTransferStatus returns the status of a group of transfers: the
// least advanced among the active ones, GaveUp if any was abandoned and the
// rest are final, Settled if all are.
func AggregateTransferStatus(statuses ...TransferStatus) TransferStatus {
	if len(statuses) <= 0 {
		return TransferStatusInitiated
	}

	least := TransferStatusSettled
	gaveUp := false
	for _, s := range statuses {
		if s == TransferStatusGaveUp {
			gaveUp = true
			continue
		}
		if s < least {
			least = s
		}
	}
	if least == TransferStatusSettled && gaveUp {
		return TransferStatusGaveUp
	}
	return least
}
