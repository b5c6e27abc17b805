package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/node/snapshot"
)

const testSnapshot = `{
	"onchain": {"total_balance_sats": 80000, "spendable_balance_sats": 75000},
	"channels": [
		{"channel_id": "c1", "counterparty_node_id": "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5", "channel_value_sats": 100000,
		 "outbound_capacity_msat": 30000000, "is_channel_ready": true, "is_usable": true}
	],
	"orders": [
		{"id": "o1", "state": "created", "client_balance_sat": 10000},
		{"id": "o2", "state": "executed", "client_balance_sat": 20000}
	]
}`

func writeSnapshot(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing_path", func(*testing.T) string { return "" }},
		{"missing_file", func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "nope.json")
		}},
		{"malformed", func(t *testing.T) string {
			return writeSnapshot(t, "{not json")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := snapshot.NewService(tt.path(t))
			require.Error(t, err)
			require.Nil(t, svc)
		})
	}
}

func TestSnapshotSources(t *testing.T) {
	ctx := context.Background()
	path := writeSnapshot(t, testSnapshot)
	svc, err := snapshot.NewService(path)
	require.NoError(t, err)

	state, err := svc.GetOnchainState(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(75000), state.SpendableBalanceSats)

	channels, err := svc.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.Equal(t, uint64(30000), channels[0].OutboundCapacitySats())

	orders, err := svc.ListOrders(ctx, []string{"o2", "o3"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, domain.OrderStateExecuted, orders[0].State)

	err = svc.CloseChannel(ctx, channels[0])
	require.ErrorIs(t, err, snapshot.ErrReadOnly)
	err = svc.OpenChannel(ctx, "o1")
	require.ErrorIs(t, err, snapshot.ErrReadOnly)

	// The file is read on every call.
	require.NoError(t, os.WriteFile(path, []byte(`{"onchain":{"total_balance_sats":1}}`), 0644))
	state, err = svc.GetOnchainState(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), state.TotalBalanceSats)
	channels, err = svc.ListChannels(ctx)
	require.NoError(t, err)
	require.Empty(t, channels)
}
