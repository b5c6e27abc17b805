package dbbadger

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

const (
	transfersDir = "transfers"
	webhooksDir  = "webhooks"

	gcInterval = 30 * time.Minute
)

type repoManager struct {
	transferStore *badgerhold.Store
	webhookStore  *badgerhold.Store

	transferRepository domain.TransferRepository
	webhookRepository  domain.WebhookRepository

	quit chan struct{}
}

// NewRepoManager opens (or creates if not exists) the badger stores on disk.
// It expects a base data dir and an optional logger. If the data dir is
// empty, the stores are kept in memory.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	var transferDir, webhookDir string
	if len(baseDbDir) > 0 {
		transferDir = filepath.Join(baseDbDir, transfersDir)
		webhookDir = filepath.Join(baseDbDir, webhooksDir)
	}

	quit := make(chan struct{})

	transferStore, err := createDb(transferDir, logger, quit)
	if err != nil {
		return nil, fmt.Errorf("opening transfers db: %w", err)
	}

	webhookStore, err := createDb(webhookDir, logger, quit)
	if err != nil {
		close(quit)
		transferStore.Close()
		return nil, fmt.Errorf("opening webhooks db: %w", err)
	}

	return &repoManager{
		transferStore:      transferStore,
		webhookStore:       webhookStore,
		transferRepository: NewTransferRepositoryImpl(transferStore),
		webhookRepository:  NewWebhookRepositoryImpl(webhookStore),
		quit:               quit,
	}, nil
}

func (r *repoManager) TransferRepository() domain.TransferRepository {
	return r.transferRepository
}

func (r *repoManager) WebhookRepository() domain.WebhookRepository {
	return r.webhookRepository
}

func (r *repoManager) Close() {
	close(r.quit)
	r.transferStore.Close()
	r.webhookStore.Close()
}

func createDb(
	dbDir string, logger badger.Logger, quit chan struct{},
) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		ticker := time.NewTicker(gcInterval)

		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := db.Badger().RunValueLogGC(0.5); err != nil &&
						err != badger.ErrNoRewrite {
						log.Error(err)
					}
				case <-quit:
					return
				}
			}
		}()
	}

	return db, nil
}
