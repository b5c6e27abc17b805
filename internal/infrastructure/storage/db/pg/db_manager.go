package postgresdb

import (
	"context"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
)

const (
	postgresDriver = "pgx"

	uniqueViolation = "23505"
)

//go:embed migration/*.sql
var migrations embed.FS

type execTxFunc func(ctx context.Context, txBody func(pgx.Tx) error) error

type repoManager struct {
	pgxPool *pgxpool.Pool

	transferRepository domain.TransferRepository
	webhookRepository  domain.WebhookRepository
}

// DbConfig holds the connection string of the postgres db and, optionally,
// the url of the migrations to apply in place of the embedded ones.
type DbConfig struct {
	DataSourceURL      string
	MigrationSourceURL string
}

func NewService(dbConfig DbConfig) (ports.RepoManager, error) {
	pgxPool, err := connect(dbConfig.DataSourceURL)
	if err != nil {
		return nil, err
	}

	if err = migrateDb(
		dbConfig.DataSourceURL, dbConfig.MigrationSourceURL,
	); err != nil {
		pgxPool.Close()
		return nil, err
	}

	rm := &repoManager{
		pgxPool: pgxPool,
	}

	rm.transferRepository = NewTransferRepositoryImpl(pgxPool, rm.execTx)
	rm.webhookRepository = NewWebhookRepositoryImpl(pgxPool)

	return rm, nil
}

func (r *repoManager) TransferRepository() domain.TransferRepository {
	return r.transferRepository
}

func (r *repoManager) WebhookRepository() domain.WebhookRepository {
	return r.webhookRepository
}

func (r *repoManager) Close() {
	r.pgxPool.Close()
}

func (r *repoManager) execTx(
	ctx context.Context, txBody func(pgx.Tx) error,
) error {
	conn, err := r.pgxPool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}

	// Rollback is a no-op once the tx is committed.
	defer func() {
		err := tx.Rollback(ctx)
		switch {
		case errors.Is(err, pgx.ErrTxClosed):
			return
		case err != nil:
			log.Errorf("unable to rollback db tx: %v", err)
		}
	}()

	if err := txBody(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func connect(dataSource string) (*pgxpool.Pool, error) {
	return pgxpool.Connect(context.Background(), dataSource)
}

func migrateDb(dataSource, migrationSourceUrl string) error {
	pg := postgres.Postgres{}

	d, err := pg.Open(dataSource)
	if err != nil {
		return err
	}

	var m *migrate.Migrate
	if len(migrationSourceUrl) > 0 {
		m, err = migrate.NewWithDatabaseInstance(
			migrationSourceUrl, postgresDriver, d,
		)
	} else {
		var src source.Driver
		src, err = iofs.New(migrations, "migration")
		if err != nil {
			return err
		}
		m, err = migrate.NewWithInstance("iofs", src, postgresDriver, d)
	}
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
