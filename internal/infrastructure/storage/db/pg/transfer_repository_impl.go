package postgresdb

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

const (
	transferColumns = `id, direction, amount_sats, channel_id, funding_txid,
		lsp_order_id, status, created_at, settled_at`

	insertTransferQuery = `INSERT INTO transfer (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	selectTransferQuery = `SELECT ` + transferColumns +
		` FROM transfer WHERE id = $1`
	selectTransferForUpdateQuery = selectTransferQuery + ` FOR UPDATE`
	updateTransferQuery          = `UPDATE transfer SET direction = $2,
		amount_sats = $3, channel_id = $4, funding_txid = $5,
		lsp_order_id = $6, status = $7, created_at = $8, settled_at = $9
		WHERE id = $1`
	selectActiveTransfersQuery = `SELECT ` + transferColumns +
		` FROM transfer WHERE status NOT IN ($1, $2) ORDER BY created_at, id`
	selectAllTransfersQuery = `SELECT ` + transferColumns +
		` FROM transfer ORDER BY created_at, id`
	deleteSettledTransfersQuery = `DELETE FROM transfer
		WHERE status = $1 AND settled_at < $2`
)

type transferRepositoryImpl struct {
	pool   *pgxpool.Pool
	execTx execTxFunc
}

func NewTransferRepositoryImpl(
	pool *pgxpool.Pool, execTx execTxFunc,
) domain.TransferRepository {
	return &transferRepositoryImpl{pool, execTx}
}

func (r *transferRepositoryImpl) AddTransfer(
	ctx context.Context, transfer domain.Transfer,
) error {
	if _, err := r.pool.Exec(
		ctx, insertTransferQuery, transferArgs(transfer)...,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrTransferAlreadyExists
		}
		return err
	}
	return nil
}

func (r *transferRepositoryImpl) GetTransfer(
	ctx context.Context, id string,
) (*domain.Transfer, error) {
	return scanTransfer(r.pool.QueryRow(ctx, selectTransferQuery, id))
}

func (r *transferRepositoryImpl) UpdateTransfer(
	ctx context.Context, id string,
	updateFn func(t *domain.Transfer) (*domain.Transfer, error),
) error {
	return r.execTx(ctx, func(tx pgx.Tx) error {
		transfer, err := scanTransfer(
			tx.QueryRow(ctx, selectTransferForUpdateQuery, id),
		)
		if err != nil {
			return err
		}

		updatedTransfer, err := updateFn(transfer)
		if err != nil {
			return err
		}
		updatedTransfer.Id = id

		_, err = tx.Exec(
			ctx, updateTransferQuery, transferArgs(*updatedTransfer)...,
		)
		return err
	})
}

func (r *transferRepositoryImpl) GetActiveTransfers(
	ctx context.Context,
) ([]domain.Transfer, error) {
	return r.queryTransfers(
		ctx, selectActiveTransfersQuery,
		int(domain.TransferStatusSettled), int(domain.TransferStatusGaveUp),
	)
}

func (r *transferRepositoryImpl) GetAllTransfers(
	ctx context.Context,
) ([]domain.Transfer, error) {
	return r.queryTransfers(ctx, selectAllTransfersQuery)
}

func (r *transferRepositoryImpl) DeleteSettledBefore(
	ctx context.Context, timestamp int64,
) (int, error) {
	tag, err := r.pool.Exec(
		ctx, deleteSettledTransfersQuery,
		int(domain.TransferStatusSettled), timestamp,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *transferRepositoryImpl) queryTransfers(
	ctx context.Context, query string, args ...interface{},
) ([]domain.Transfer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.Transfer, 0)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, rows.Err()
}

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var (
		t                 domain.Transfer
		direction, status int
		amount            int64
	)
	if err := row.Scan(
		&t.Id, &direction, &amount, &t.ChannelId, &t.FundingTxid,
		&t.LspOrderId, &status, &t.CreatedAt, &t.SettledAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, err
	}
	t.Direction = domain.TransferDirection(direction)
	t.Status = domain.TransferStatus(status)
	t.AmountSats = uint64(amount)
	return &t, nil
}

func transferArgs(t domain.Transfer) []interface{} {
	return []interface{}{
		t.Id, int(t.Direction), int64(t.AmountSats), t.ChannelId,
		t.FundingTxid, t.LspOrderId, int(t.Status), t.CreatedAt, t.SettledAt,
	}
}
