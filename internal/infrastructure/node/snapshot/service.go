package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/node"
)

// ErrReadOnly is returned by the operations that would need a live node.
var ErrReadOnly = errors.New("snapshot source is read-only")

type service struct {
	path string
}

// NewService returns the sources backed by the JSON snapshot at path. The
// file is read again on every call so that it can be replaced while the
// daemon is running.
func NewService(path string) (ports.NodeSource, error) {
	if len(path) <= 0 {
		return nil, fmt.Errorf("missing snapshot file path")
	}
	svc := &service{path}
	if _, err := svc.read(); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *service) GetOnchainState(
	_ context.Context,
) (domain.OnchainState, error) {
	snapshot, err := s.read()
	if err != nil {
		return domain.OnchainState{}, err
	}
	return snapshot.Onchain.ToDomain(), nil
}

func (s *service) ListChannels(_ context.Context) ([]domain.ChannelInfo, error) {
	snapshot, err := s.read()
	if err != nil {
		return nil, err
	}
	return node.ChannelsToDomain(snapshot.Channels)
}

func (s *service) CloseChannel(context.Context, domain.ChannelInfo) error {
	return ErrReadOnly
}

// ListOrders returns the orders of the snapshot among the given ids.
func (s *service) ListOrders(
	_ context.Context, ids []string,
) ([]domain.PendingOrder, error) {
	snapshot, err := s.read()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	orders := make([]node.Order, 0, len(ids))
	for _, o := range snapshot.Orders {
		if _, ok := wanted[o.Id]; ok {
			orders = append(orders, o)
		}
	}
	return node.OrdersToDomain(orders)
}

func (s *service) OpenChannel(context.Context, string) error {
	return ErrReadOnly
}

func (s *service) read() (*node.Snapshot, error) {
	buf, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	snapshot := &node.Snapshot{}
	if err := json.Unmarshal(buf, snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", s.path, err)
	}
	return snapshot, nil
}
