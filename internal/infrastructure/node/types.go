// Package node holds the JSON shapes exchanged with the native node bridge,
// shared by the bridge client and the snapshot reader.
package node

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

type OnchainState struct {
	TotalBalanceSats     uint64 `json:"total_balance_sats"`
	SpendableBalanceSats uint64 `json:"spendable_balance_sats"`
}

func (s OnchainState) ToDomain() domain.OnchainState {
	return domain.OnchainState{
		TotalBalanceSats:     s.TotalBalanceSats,
		SpendableBalanceSats: s.SpendableBalanceSats,
	}
}

type Channel struct {
	ChannelId                        string `json:"channel_id"`
	CounterpartyNodeId               string `json:"counterparty_node_id"`
	UserChannelId                    string `json:"user_channel_id,omitempty"`
	FundingTxid                      string `json:"funding_txid,omitempty"`
	ShortChannelId                   uint64 `json:"short_channel_id,omitempty"`
	ChannelValueSats                 uint64 `json:"channel_value_sats"`
	OutboundCapacityMsat             uint64 `json:"outbound_capacity_msat"`
	InboundCapacityMsat              uint64 `json:"inbound_capacity_msat"`
	UnspendablePunishmentReserveSats uint64 `json:"unspendable_punishment_reserve_sats"`
	IsChannelReady                   bool   `json:"is_channel_ready"`
	IsUsable                         bool   `json:"is_usable"`
}

// NewChannel ...
func NewChannel(c domain.ChannelInfo) Channel {
	return Channel{
		ChannelId:                        c.ChannelId,
		CounterpartyNodeId:               c.CounterpartyNodeId,
		UserChannelId:                    c.UserChannelId,
		FundingTxid:                      c.FundingTxid,
		ShortChannelId:                   c.ShortChannelId,
		ChannelValueSats:                 c.ChannelValueSats,
		OutboundCapacityMsat:             uint64(c.OutboundCapacityMsat),
		InboundCapacityMsat:              uint64(c.InboundCapacityMsat),
		UnspendablePunishmentReserveSats: c.UnspendablePunishmentReserveSats,
		IsChannelReady:                   c.IsChannelReady,
		IsUsable:                         c.IsUsable,
	}
}

// ToDomain validates the channel and returns it with its funding txid in
// canonical form.
func (c Channel) ToDomain() (domain.ChannelInfo, error) {
	if len(c.ChannelId) <= 0 {
		return domain.ChannelInfo{}, fmt.Errorf("channel: missing id")
	}
	txid, err := normalizeTxid(c.FundingTxid)
	if err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("channel %s: %w", c.ChannelId, err)
	}
	nodeId, err := normalizeNodeId(c.CounterpartyNodeId)
	if err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("channel %s: %w", c.ChannelId, err)
	}
	return domain.ChannelInfo{
		ChannelId:                        c.ChannelId,
		CounterpartyNodeId:               nodeId,
		UserChannelId:                    c.UserChannelId,
		FundingTxid:                      txid,
		ShortChannelId:                   c.ShortChannelId,
		ChannelValueSats:                 c.ChannelValueSats,
		OutboundCapacityMsat:             lnwire.MilliSatoshi(c.OutboundCapacityMsat),
		InboundCapacityMsat:              lnwire.MilliSatoshi(c.InboundCapacityMsat),
		UnspendablePunishmentReserveSats: c.UnspendablePunishmentReserveSats,
		IsChannelReady:                   c.IsChannelReady,
		IsUsable:                         c.IsUsable,
	}, nil
}

type Order struct {
	Id               string `json:"id"`
	State            string `json:"state"`
	ClientBalanceSat uint64 `json:"client_balance_sat"`
	LspBalanceSat    uint64 `json:"lsp_balance_sat"`
	LspNodeId        string `json:"lsp_node_id,omitempty"`
	FundingTxid      string `json:"funding_txid,omitempty"`
	ShortChannelId   uint64 `json:"short_channel_id,omitempty"`
	CreatedAt        int64  `json:"created_at"`
}

func (o Order) ToDomain() (domain.PendingOrder, error) {
	if len(o.Id) <= 0 {
		return domain.PendingOrder{}, fmt.Errorf("order: missing id")
	}
	state, err := parseOrderState(o.State)
	if err != nil {
		return domain.PendingOrder{}, fmt.Errorf("order %s: %w", o.Id, err)
	}
	txid, err := normalizeTxid(o.FundingTxid)
	if err != nil {
		return domain.PendingOrder{}, fmt.Errorf("order %s: %w", o.Id, err)
	}
	nodeId, err := normalizeNodeId(o.LspNodeId)
	if err != nil {
		return domain.PendingOrder{}, fmt.Errorf("order %s: %w", o.Id, err)
	}
	return domain.PendingOrder{
		Id:               o.Id,
		State:            state,
		ClientBalanceSat: o.ClientBalanceSat,
		LspBalanceSat:    o.LspBalanceSat,
		LspNodeId:        nodeId,
		FundingTxid:      txid,
		ShortChannelId:   o.ShortChannelId,
		CreatedAt:        o.CreatedAt,
	}, nil
}

// Snapshot is the whole node state as a single document.
type Snapshot struct {
	Onchain  OnchainState `json:"onchain"`
	Channels []Channel    `json:"channels"`
	Orders   []Order      `json:"orders"`
}

// ChannelsToDomain converts all channels, failing on the first invalid one.
func ChannelsToDomain(list []Channel) ([]domain.ChannelInfo, error) {
	channels := make([]domain.ChannelInfo, 0, len(list))
	for _, c := range list {
		channel, err := c.ToDomain()
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

// OrdersToDomain converts all orders, failing on the first invalid one.
func OrdersToDomain(list []Order) ([]domain.PendingOrder, error) {
	orders := make([]domain.PendingOrder, 0, len(list))
	for _, o := range list {
		order, err := o.ToDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func parseOrderState(state string) (domain.OrderState, error) {
	for _, s := range []domain.OrderState{
		domain.OrderStateCreated, domain.OrderStatePaid,
		domain.OrderStateExecuted, domain.OrderStateExpired,
	} {
		if s.String() == state {
			return s, nil
		}
	}
	return -1, fmt.Errorf("unknown order state %q", state)
}

func normalizeTxid(txid string) (string, error) {
	if len(txid) <= 0 {
		return "", nil
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return "", fmt.Errorf("invalid funding txid: %w", err)
	}
	return hash.String(), nil
}

// normalizeNodeId makes sure the node id is a valid public key and returns
// it in compressed lowercase hex form. Empty ids are allowed since the node
// may not know the peer yet.
func normalizeNodeId(nodeId string) (string, error) {
	if len(nodeId) <= 0 {
		return "", nil
	}
	buf, err := hex.DecodeString(nodeId)
	if err != nil {
		return "", fmt.Errorf("invalid node id: %w", err)
	}
	pubkey, err := btcec.ParsePubKey(buf)
	if err != nil {
		return "", fmt.Errorf("invalid node id: %w", err)
	}
	return hex.EncodeToString(pubkey.SerializeCompressed()), nil
}
