package transfer

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

// EventPublisher notifies external listeners of settled transfers.
type EventPublisher interface {
	PublishTransferSettledEvent(transfer domain.Transfer) error
}

// Service keeps the transfer records in sync with the coop close campaigns,
// the channel purchase orders and the live channel list.
type Service struct {
	repo      domain.TransferRepository
	publisher EventPublisher
	now       func() time.Time
}

func NewService(
	repo domain.TransferRepository, publisher EventPublisher,
) (*Service, error) {
	if repo == nil {
		return nil, ErrMissingRepository
	}
	return &Service{repo, publisher, time.Now}, nil
}

// BeginToSavings records a transfer for every channel about to be coop
// closed. Channels that already have an active transfer keep it.
func (s *Service) BeginToSavings(
	ctx context.Context, channels []domain.ChannelInfo,
) (domain.TransferIntent, error) {
	active, err := s.repo.GetActiveTransfers(ctx)
	if err != nil {
		return domain.TransferIntent{}, err
	}

	transfers := make([]domain.Transfer, 0, len(channels))
	involved := make([]domain.ChannelInfo, 0, len(channels))
	for _, channel := range channels {
		if existing, ok := findTransfer(active, func(t domain.Transfer) bool {
			return t.Direction == domain.TransferToSavings &&
				t.ChannelId == channel.ChannelId
		}); ok {
			if ok, err := existing.AwaitChannelClose(); err != nil {
				log.WithError(err).WithField("transfer", existing.Id).Debug(
					"transfer already past channel close",
				)
			} else if ok {
				if err := s.store(ctx, existing); err != nil {
					return domain.TransferIntent{}, err
				}
			}
			transfers = append(transfers, *existing)
			involved = append(involved, channel)
			continue
		}

		transfer, err := domain.NewTransferToSavings(channel)
		if err != nil {
			log.WithField("channel", channel.ChannelId).Debug(
				"skipping channel with no local balance",
			)
			continue
		}
		if _, err := transfer.AwaitChannelClose(); err != nil {
			return domain.TransferIntent{}, err
		}
		if err := s.repo.AddTransfer(ctx, *transfer); err != nil {
			return domain.TransferIntent{}, err
		}

		log.WithFields(log.Fields{
			"transfer": transfer.Id,
			"channel":  channel.ChannelId,
			"amount":   transfer.AmountSats,
		}).Info("created transfer to savings")

		transfers = append(transfers, *transfer)
		involved = append(involved, channel)
	}

	if len(transfers) <= 0 {
		return domain.TransferIntent{}, ErrNothingToTransfer
	}
	return domain.NewTransferIntent(domain.TransferToSavings, involved, transfers), nil
}

// BeginToSpending records the transfer funding the channel of the given
// order. An order has at most one active transfer.
func (s *Service) BeginToSpending(
	ctx context.Context, order domain.PendingOrder,
) (domain.TransferIntent, error) {
	active, err := s.repo.GetActiveTransfers(ctx)
	if err != nil {
		return domain.TransferIntent{}, err
	}

	if existing, ok := findTransfer(active, func(t domain.Transfer) bool {
		return t.Direction == domain.TransferToSpending && t.LspOrderId == order.Id
	}); ok {
		return domain.NewTransferIntent(
			domain.TransferToSpending, nil, []domain.Transfer{*existing},
		), nil
	}

	transfer, err := domain.NewTransferToSpending(order)
	if err != nil {
		return domain.TransferIntent{}, err
	}
	if err := s.repo.AddTransfer(ctx, *transfer); err != nil {
		return domain.TransferIntent{}, err
	}

	log.WithFields(log.Fields{
		"transfer": transfer.Id,
		"order":    order.Id,
		"amount":   transfer.AmountSats,
	}).Info("created transfer to spending")

	return domain.NewTransferIntent(
		domain.TransferToSpending, nil, []domain.Transfer{*transfer},
	), nil
}

// CloseAccepted moves the active transfer of the given channel to
// AwaitingConfirmation.
func (s *Service) CloseAccepted(ctx context.Context, channelId string) error {
	return s.updateSavingsTransfers(ctx, []string{channelId}, func(t *domain.Transfer) (bool, error) {
		return t.AwaitConfirmation()
	})
}

// CloseAbandoned marks the active transfers of the given channels as given
// up, unless their close was already accepted.
func (s *Service) CloseAbandoned(ctx context.Context, channelIds []string) error {
	return s.updateSavingsTransfers(ctx, channelIds, func(t *domain.Transfer) (bool, error) {
		if t.Status == domain.TransferStatusAwaitingConfirmation {
			return false, nil
		}
		return t.GiveUp()
	})
}

// OrderExpired gives up on the active transfer funding the given order.
func (s *Service) OrderExpired(ctx context.Context, orderId string) error {
	active, err := s.repo.GetActiveTransfers(ctx)
	if err != nil {
		return err
	}
	for _, t := range active {
		if t.Direction != domain.TransferToSpending || t.LspOrderId != orderId {
			continue
		}
		if err := s.repo.UpdateTransfer(
			ctx, t.Id, func(t *domain.Transfer) (*domain.Transfer, error) {
				if _, err := t.GiveUp(); err != nil {
					return nil, err
				}
				return t, nil
			},
		); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"transfer": t.Id,
			"order":    orderId,
		}).Info("order expired, gave up transfer to spending")
	}
	return nil
}

// MarkSettled settles the transfer with the given id.
func (s *Service) MarkSettled(ctx context.Context, id string) error {
	var settled *domain.Transfer
	if err := s.repo.UpdateTransfer(
		ctx, id, func(t *domain.Transfer) (*domain.Transfer, error) {
			ok, err := t.Settle(s.now().Unix())
			if err != nil {
				return nil, err
			}
			if ok {
				settled = t
			}
			return t, nil
		},
	); err != nil {
		return err
	}
	if settled == nil {
		return nil
	}

	log.WithField("transfer", id).Info("settled transfer")
	s.publishSettled(*settled)
	return nil
}

func (s *Service) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

func (s *Service) ListActive(ctx context.Context) ([]domain.Transfer, error) {
	return s.repo.GetActiveTransfers(ctx)
}

func (s *Service) ListAll(ctx context.Context) ([]domain.Transfer, error) {
	return s.repo.GetAllTransfers(ctx)
}

// SyncTransferStates settles the active transfers whose goal is reached:
// a transfer to spending when its channel is usable, a transfer to savings
// when its channel is no longer listed by the node. The channel of a
// transfer to spending is resolved through the funding tx of its order,
// falling back to the order id set as user channel id and finally to the
// stored channel id. It returns the settled transfers.
func (s *Service) SyncTransferStates(
	ctx context.Context,
	channels []domain.ChannelInfo,
	orders []domain.PendingOrder,
) ([]domain.Transfer, error) {
	active, err := s.repo.GetActiveTransfers(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) <= 0 {
		return nil, nil
	}

	log.Debugf("syncing %d active transfer(s)", len(active))

	settled := make([]domain.Transfer, 0)
	for _, t := range active {
		var (
			transfer *domain.Transfer
			err      error
		)
		switch t.Direction {
		case domain.TransferToSpending:
			transfer, err = s.syncToSpending(ctx, t, channels, orders)
		case domain.TransferToSavings:
			transfer, err = s.syncToSavings(ctx, t, channels)
		default:
			err = domain.ErrTransferInvalidDirection
		}
		if err != nil {
			return settled, fmt.Errorf("failed to sync transfer %s: %w", t.Id, err)
		}
		if transfer != nil {
			settled = append(settled, *transfer)
		}
	}
	return settled, nil
}

// PruneSettled deletes the transfers settled before the given time.
func (s *Service) PruneSettled(ctx context.Context, before time.Time) (int, error) {
	count, err := s.repo.DeleteSettledBefore(ctx, before.Unix())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		log.Infof("pruned %d settled transfer(s)", count)
	}
	return count, nil
}

func (s *Service) syncToSpending(
	ctx context.Context, t domain.Transfer,
	channels []domain.ChannelInfo, orders []domain.PendingOrder,
) (*domain.Transfer, error) {
	fundingTxid := t.FundingTxid
	for _, o := range orders {
		if o.Id == t.LspOrderId && len(o.FundingTxid) > 0 {
			fundingTxid = o.FundingTxid
			break
		}
	}

	channel, ok := resolveChannel(channels, func(c domain.ChannelInfo) bool {
		return c.HasFundingTxid(fundingTxid)
	}, func(c domain.ChannelInfo) bool {
		return len(t.LspOrderId) > 0 && c.UserChannelId == t.LspOrderId
	}, func(c domain.ChannelInfo) bool {
		return len(t.ChannelId) > 0 && c.ChannelId == t.ChannelId
	})
	if !ok {
		log.WithFields(log.Fields{
			"transfer": t.Id,
			"order":    t.LspOrderId,
		}).Debug("could not resolve channel for transfer")

		if fundingTxid != t.FundingTxid {
			return nil, s.repo.UpdateTransfer(
				ctx, t.Id, func(t *domain.Transfer) (*domain.Transfer, error) {
					t.FundingTxid = fundingTxid
					return t, nil
				},
			)
		}
		return nil, nil
	}

	var settled *domain.Transfer
	if err := s.repo.UpdateTransfer(
		ctx, t.Id, func(t *domain.Transfer) (*domain.Transfer, error) {
			t.ChannelId = channel.ChannelId
			if len(channel.FundingTxid) > 0 {
				t.FundingTxid = channel.FundingTxid
			}
			if !channel.IsUsable {
				if _, err := t.AwaitConfirmation(); err != nil {
					return nil, err
				}
				return t, nil
			}
			if _, err := t.Settle(s.now().Unix()); err != nil {
				return nil, err
			}
			settled = t
			return t, nil
		},
	); err != nil {
		return nil, err
	}

	if settled == nil {
		log.WithFields(log.Fields{
			"transfer": t.Id,
			"channel":  channel.ChannelId,
		}).Debug("channel exists but is not usable yet")
		return nil, nil
	}

	log.WithFields(log.Fields{
		"transfer": t.Id,
		"channel":  channel.ChannelId,
	}).Info("channel ready, settled transfer to spending")
	s.publishSettled(*settled)
	return settled, nil
}

func (s *Service) syncToSavings(
	ctx context.Context, t domain.Transfer, channels []domain.ChannelInfo,
) (*domain.Transfer, error) {
	if len(t.ChannelId) <= 0 {
		return nil, nil
	}
	if _, stillOpen := resolveChannel(channels, func(c domain.ChannelInfo) bool {
		return c.ChannelId == t.ChannelId
	}); stillOpen {
		return nil, nil
	}

	var settled *domain.Transfer
	if err := s.repo.UpdateTransfer(
		ctx, t.Id, func(t *domain.Transfer) (*domain.Transfer, error) {
			if _, err := t.Settle(s.now().Unix()); err != nil {
				return nil, err
			}
			settled = t
			return t, nil
		},
	); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"transfer": t.Id,
		"channel":  t.ChannelId,
	}).Info("channel closed, settled transfer to savings")
	s.publishSettled(*settled)
	return settled, nil
}

func (s *Service) updateSavingsTransfers(
	ctx context.Context, channelIds []string,
	fn func(t *domain.Transfer) (bool, error),
) error {
	active, err := s.repo.GetActiveTransfers(ctx)
	if err != nil {
		return err
	}

	ids := make(map[string]struct{}, len(channelIds))
	for _, id := range channelIds {
		ids[id] = struct{}{}
	}

	for _, t := range active {
		if t.Direction != domain.TransferToSavings {
			continue
		}
		if _, ok := ids[t.ChannelId]; !ok {
			continue
		}
		if err := s.repo.UpdateTransfer(
			ctx, t.Id, func(t *domain.Transfer) (*domain.Transfer, error) {
				if _, err := fn(t); err != nil {
					return nil, err
				}
				return t, nil
			},
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) store(ctx context.Context, transfer *domain.Transfer) error {
	return s.repo.UpdateTransfer(
		ctx, transfer.Id, func(t *domain.Transfer) (*domain.Transfer, error) {
			return transfer, nil
		},
	)
}

func (s *Service) publishSettled(transfer domain.Transfer) {
	if s.publisher == nil {
		return
	}
	go func() {
		if err := s.publisher.PublishTransferSettledEvent(transfer); err != nil {
			log.WithError(err).Warn("failed to publish settled transfer")
		}
	}()
}

func findTransfer(
	transfers []domain.Transfer, match func(domain.Transfer) bool,
) (*domain.Transfer, bool) {
	for i := range transfers {
		if match(transfers[i]) {
			t := transfers[i]
			return &t, true
		}
	}
	return nil, false
}

// resolveChannel tries the given predicates in order and returns the first
// channel satisfying one of them.
func resolveChannel(
	channels []domain.ChannelInfo, predicates ...func(domain.ChannelInfo) bool,
) (domain.ChannelInfo, bool) {
	for _, match := range predicates {
		for _, c := range channels {
			if match(c) {
				return c, true
			}
		}
	}
	return domain.ChannelInfo{}, false
}
