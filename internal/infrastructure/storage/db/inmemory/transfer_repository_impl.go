package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

type transferRepositoryImpl struct {
	store map[string]domain.Transfer
	lock  *sync.RWMutex
}

func NewTransferRepositoryImpl() domain.TransferRepository {
	return &transferRepositoryImpl{
		store: make(map[string]domain.Transfer),
		lock:  &sync.RWMutex{},
	}
}

func (r *transferRepositoryImpl) AddTransfer(
	_ context.Context, transfer domain.Transfer,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.store[transfer.Id]; ok {
		return domain.ErrTransferAlreadyExists
	}
	r.store[transfer.Id] = transfer
	return nil
}

func (r *transferRepositoryImpl) GetTransfer(
	_ context.Context, id string,
) (*domain.Transfer, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	transfer, ok := r.store[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	return &transfer, nil
}

func (r *transferRepositoryImpl) UpdateTransfer(
	_ context.Context, id string,
	updateFn func(t *domain.Transfer) (*domain.Transfer, error),
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	transfer, ok := r.store[id]
	if !ok {
		return domain.ErrTransferNotFound
	}

	updatedTransfer, err := updateFn(&transfer)
	if err != nil {
		return err
	}

	r.store[id] = *updatedTransfer
	return nil
}

func (r *transferRepositoryImpl) GetActiveTransfers(
	_ context.Context,
) ([]domain.Transfer, error) {
	return r.filter(func(t domain.Transfer) bool {
		return t.IsActive()
	}), nil
}

func (r *transferRepositoryImpl) GetAllTransfers(
	_ context.Context,
) ([]domain.Transfer, error) {
	return r.filter(func(domain.Transfer) bool { return true }), nil
}

func (r *transferRepositoryImpl) DeleteSettledBefore(
	_ context.Context, timestamp int64,
) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	count := 0
	for id, t := range r.store {
		if t.Status == domain.TransferStatusSettled && t.SettledAt < timestamp {
			delete(r.store, id)
			count++
		}
	}
	return count, nil
}

func (r *transferRepositoryImpl) filter(
	match func(domain.Transfer) bool,
) []domain.Transfer {
	r.lock.RLock()
	defer r.lock.RUnlock()

	transfers := make([]domain.Transfer, 0, len(r.store))
	for _, t := range r.store {
		if match(t) {
			transfers = append(transfers, t)
		}
	}

	sort.SliceStable(transfers, func(i, j int) bool {
		if transfers[i].CreatedAt == transfers[j].CreatedAt {
			return transfers[i].Id < transfers[j].Id
		}
		return transfers[i].CreatedAt < transfers[j].CreatedAt
	})
	return transfers
}
