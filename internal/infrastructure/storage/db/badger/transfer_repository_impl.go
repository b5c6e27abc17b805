package dbbadger

import (
	"context"
	"sort"
	"sync"

	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type transferRepositoryImpl struct {
	store *badgerhold.Store
	lock  *sync.Mutex
}

func NewTransferRepositoryImpl(store *badgerhold.Store) domain.TransferRepository {
	return &transferRepositoryImpl{store, &sync.Mutex{}}
}

func (r *transferRepositoryImpl) AddTransfer(
	_ context.Context, transfer domain.Transfer,
) error {
	if err := r.store.Insert(transfer.Id, transfer); err != nil {
		if err == badgerhold.ErrKeyExists {
			return domain.ErrTransferAlreadyExists
		}
		return err
	}
	return nil
}

func (r *transferRepositoryImpl) GetTransfer(
	_ context.Context, id string,
) (*domain.Transfer, error) {
	return r.getTransfer(id)
}

func (r *transferRepositoryImpl) UpdateTransfer(
	_ context.Context, id string,
	updateFn func(t *domain.Transfer) (*domain.Transfer, error),
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	transfer, err := r.getTransfer(id)
	if err != nil {
		return err
	}

	updatedTransfer, err := updateFn(transfer)
	if err != nil {
		return err
	}

	return r.store.Update(id, *updatedTransfer)
}

func (r *transferRepositoryImpl) GetActiveTransfers(
	_ context.Context,
) ([]domain.Transfer, error) {
	query := badgerhold.Where("Status").Ne(domain.TransferStatusSettled).
		And("Status").Ne(domain.TransferStatusGaveUp)
	return r.findTransfers(query)
}

func (r *transferRepositoryImpl) GetAllTransfers(
	_ context.Context,
) ([]domain.Transfer, error) {
	return r.findTransfers(nil)
}

func (r *transferRepositoryImpl) DeleteSettledBefore(
	_ context.Context, timestamp int64,
) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	query := badgerhold.Where("Status").Eq(domain.TransferStatusSettled).
		And("SettledAt").Lt(timestamp)
	transfers, err := r.findTransfers(query)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, t := range transfers {
		if err := r.store.Delete(t.Id, domain.Transfer{}); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

func (r *transferRepositoryImpl) getTransfer(id string) (*domain.Transfer, error) {
	var transfer domain.Transfer
	if err := r.store.Get(id, &transfer); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrTransferNotFound
		}
		return nil, err
	}
	return &transfer, nil
}

func (r *transferRepositoryImpl) findTransfers(
	query *badgerhold.Query,
) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	if err := r.store.Find(&transfers, query); err != nil {
		return nil, err
	}

	sortTransfers(transfers)
	return transfers, nil
}

func sortTransfers(transfers []domain.Transfer) {
	sort.SliceStable(transfers, func(i, j int) bool {
		if transfers[i].CreatedAt == transfers[j].CreatedAt {
			return transfers[i].Id < transfers[j].Id
		}
		return transfers[i].CreatedAt < transfers[j].CreatedAt
	})
}
