package db_test

import (
	"context"
	"crypto/rand"
	"math/big"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/thanhpk/randstr"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
	dbbadger "github.com/synonymdev/bitkit-balanced/internal/infrastructure/storage/db/badger"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/storage/db/inmemory"
	postgresdb "github.com/synonymdev/bitkit-balanced/internal/infrastructure/storage/db/pg"
)

// pgDataSourceEnv points the tests to a throwaway postgres db. Postgres
// cases are skipped when unset.
const pgDataSourceEnv = "BALANCED_TEST_PG_URL"

var ctx = context.Background()

type repoManagerCase struct {
	Name string
	ports.RepoManager
}

func createRepoManagers(t *testing.T) []repoManagerCase {
	t.Helper()

	inMemoryBadger, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)

	onDiskBadger, err := dbbadger.NewRepoManager(t.TempDir(), nil)
	require.NoError(t, err)

	cases := []repoManagerCase{
		{"InMemory", inmemory.NewRepoManager()},
		{"BadgerInMemory", inMemoryBadger},
		{"BadgerOnDisk", onDiskBadger},
	}

	if dataSource := os.Getenv(pgDataSourceEnv); len(dataSource) > 0 {
		pg, err := postgresdb.NewService(postgresdb.DbConfig{
			DataSourceURL: dataSource,
		})
		require.NoError(t, err)
		require.NoError(t, truncatePgDb(dataSource))
		cases = append(cases, repoManagerCase{"Postgres", pg})
	}

	t.Cleanup(func() {
		for _, c := range cases {
			c.Close()
		}
	})
	return cases
}

func truncatePgDb(dataSource string) error {
	pool, err := pgxpool.Connect(ctx, dataSource)
	if err != nil {
		return err
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, "TRUNCATE TABLE transfer, webhook")
	return err
}

func makeRandomTransferToSavings(createdAt int64) domain.Transfer {
	return domain.Transfer{
		Id:          randomId(),
		Direction:   domain.TransferToSavings,
		AmountSats:  uint64(randomIntInRange(1000, 1000000)),
		ChannelId:   randstr.Hex(32),
		FundingTxid: randstr.Hex(32),
		Status:      domain.TransferStatusAwaitingChannelClose,
		CreatedAt:   createdAt,
	}
}

func makeRandomTransferToSpending(createdAt int64) domain.Transfer {
	return domain.Transfer{
		Id:         randomId(),
		Direction:  domain.TransferToSpending,
		AmountSats: uint64(randomIntInRange(1000, 1000000)),
		LspOrderId: randomId(),
		Status:     domain.TransferStatusInitiated,
		CreatedAt:  createdAt,
	}
}

func randomId() string {
	return uuid.New().String()
}

func randomIntInRange(min, max int) int {
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(max-min)))
	return int(n.Int64()) + min
}
