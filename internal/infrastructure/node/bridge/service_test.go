package bridge_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/node/bridge"
)

const (
	fundingTxid = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	lspNodeId   = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
)

type fakeBridge struct {
	closed []string
	opened []string
	ids    string
}

func newFakeBridge(t *testing.T) (*fakeBridge, *httptest.Server) {
	fb := &fakeBridge{}
	mux := http.NewServeMux()
	mux.HandleFunc("/onchain", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"total_balance_sats":150000,"spendable_balance_sats":100000}`))
	})
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"channels":[{
			"channel_id":"c1",
			"counterparty_node_id":"` + lspNodeId + `",
			"user_channel_id":"order-1",
			"funding_txid":"` + strings.ToUpper(fundingTxid) + `",
			"channel_value_sats":100000,
			"outbound_capacity_msat":40000500,
			"inbound_capacity_msat":59000000,
			"unspendable_punishment_reserve_sats":1000,
			"is_channel_ready":true,
			"is_usable":true
		}]}`))
	})
	mux.HandleFunc("/channels/close", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		req := map[string]string{}
		require.NoError(t, json.Unmarshal(body, &req))
		if req["channel_id"] == "busy" {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte("peer disconnected"))
			return
		}
		fb.closed = append(fb.closed, req["channel_id"])
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		fb.ids = r.URL.Query().Get("ids")
		w.Write([]byte(`{"orders":[
			{"id":"order-1","state":"paid","client_balance_sat":50000,"lsp_balance_sat":100000,"lsp_node_id":"` + lspNodeId + `","created_at":1700000000},
			{"id":"order-2","state":"expired","client_balance_sat":20000,"lsp_balance_sat":0}
		]}`))
	})
	mux.HandleFunc("/orders/order-1/open", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		fb.opened = append(fb.opened, "order-1")
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return fb, server
}

func TestNewService(t *testing.T) {
	svc, err := bridge.NewService("", 0)
	require.ErrorIs(t, err, bridge.ErrMissingURL)
	require.Nil(t, svc)

	svc, err = bridge.NewService("localhost", 0)
	require.Error(t, err)
	require.Nil(t, svc)

	svc, err = bridge.NewService("http://localhost:9735/", 0)
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestGetOnchainState(t *testing.T) {
	_, server := newFakeBridge(t)
	svc, err := bridge.NewService(server.URL, 0)
	require.NoError(t, err)

	state, err := svc.GetOnchainState(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.OnchainState{
		TotalBalanceSats:     150000,
		SpendableBalanceSats: 100000,
	}, state)
}

func TestListChannels(t *testing.T) {
	_, server := newFakeBridge(t)
	svc, err := bridge.NewService(server.URL, 0)
	require.NoError(t, err)

	channels, err := svc.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 1)

	c := channels[0]
	require.Equal(t, "c1", c.ChannelId)
	require.Equal(t, "order-1", c.UserChannelId)
	require.Equal(t, fundingTxid, c.FundingTxid)
	require.Equal(t, lnwire.MilliSatoshi(40000500), c.OutboundCapacityMsat)
	require.Equal(t, uint64(40000), c.OutboundCapacitySats())
	require.True(t, c.IsUsable)
}

func TestCloseChannel(t *testing.T) {
	fb, server := newFakeBridge(t)
	svc, err := bridge.NewService(server.URL, 0)
	require.NoError(t, err)

	err = svc.CloseChannel(context.Background(), domain.ChannelInfo{
		ChannelId: "c1", CounterpartyNodeId: lspNodeId,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, fb.closed)

	err = svc.CloseChannel(context.Background(), domain.ChannelInfo{
		ChannelId: "busy", CounterpartyNodeId: lspNodeId,
	})
	require.ErrorIs(t, err, bridge.ErrUnexpectedStatus)
	require.Contains(t, err.Error(), "peer disconnected")
}

func TestOrders(t *testing.T) {
	fb, server := newFakeBridge(t)
	svc, err := bridge.NewService(server.URL, 0)
	require.NoError(t, err)

	orders, err := svc.ListOrders(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, orders)
	require.Empty(t, fb.ids)

	orders, err = svc.ListOrders(
		context.Background(), []string{"order-1", "order-2"},
	)
	require.NoError(t, err)
	require.Equal(t, "order-1,order-2", fb.ids)
	require.Len(t, orders, 2)
	require.Equal(t, domain.OrderStatePaid, orders[0].State)
	require.Equal(t, uint64(50000), orders[0].ClientBalanceSat)
	require.Equal(t, lspNodeId, orders[0].LspNodeId)
	require.True(t, orders[1].IsExpired())

	err = svc.OpenChannel(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, []string{"order-1"}, fb.opened)

	err = svc.OpenChannel(context.Background(), "unknown")
	require.ErrorIs(t, err, bridge.ErrUnexpectedStatus)
}

func TestInvalidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"orders":[{"id":"order-1","state":"refunded"}]}`))
		},
	))
	t.Cleanup(server.Close)

	svc, err := bridge.NewService(server.URL, 0)
	require.NoError(t, err)

	_, err = svc.ListOrders(context.Background(), []string{"order-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown order state")
}
