package httpinterface

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/coopclose"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/node"
)

type balanceInfo struct {
	TotalOnchainSats            uint64 `json:"total_onchain_sats"`
	SpendableOnchainSats        uint64 `json:"spendable_onchain_sats"`
	TotalLightningSats          uint64 `json:"total_lightning_sats"`
	TotalBalanceSats            uint64 `json:"total_balance_sats"`
	BalanceInTransferToSavings  uint64 `json:"balance_in_transfer_to_savings"`
	BalanceInTransferToSpending uint64 `json:"balance_in_transfer_to_spending"`
	MaxSendLightningSats        uint64 `json:"max_send_lightning_sats"`
	Total                       string `json:"total"`
}

func newBalanceInfo(b domain.BalanceState) balanceInfo {
	return balanceInfo{
		TotalOnchainSats:            b.TotalOnchainSats,
		SpendableOnchainSats:        b.SpendableOnchainSats,
		TotalLightningSats:          b.TotalLightningSats,
		TotalBalanceSats:            b.TotalBalanceSats,
		BalanceInTransferToSavings:  b.BalanceInTransferToSavings,
		BalanceInTransferToSpending: b.BalanceInTransferToSpending,
		MaxSendLightningSats:        b.MaxSendLightningSats,
		Total:                       btcutil.Amount(b.TotalBalanceSats).String(),
	}
}

type channelsInfo []domain.ChannelInfo

func (c channelsInfo) toJSON() []node.Channel {
	list := make([]node.Channel, 0, len(c))
	for _, ch := range c {
		list = append(list, node.NewChannel(ch))
	}
	return list
}

type campaignInfo struct {
	CampaignId      string         `json:"campaign_id,omitempty"`
	State           string         `json:"state"`
	StartedAt       int64          `json:"started_at,omitempty"`
	Rounds          int            `json:"rounds"`
	Working         []node.Channel `json:"working"`
	Accepted        []node.Channel `json:"accepted"`
	NeedsForceClose []node.Channel `json:"needs_force_close"`
}

func newCampaignInfo(
	status coopclose.Status, needsForceClose []domain.ChannelInfo,
) campaignInfo {
	info := campaignInfo{
		CampaignId:      status.CampaignId,
		State:           status.State.String(),
		Rounds:          status.Rounds,
		Working:         channelsInfo(status.Working).toJSON(),
		Accepted:        channelsInfo(status.Accepted).toJSON(),
		NeedsForceClose: channelsInfo(needsForceClose).toJSON(),
	}
	if !status.StartedAt.IsZero() {
		info.StartedAt = status.StartedAt.Unix()
	}
	return info
}

type transferInfo struct {
	Id          string `json:"id"`
	Direction   string `json:"direction"`
	AmountSats  uint64 `json:"amount_sats"`
	ChannelId   string `json:"channel_id,omitempty"`
	FundingTxid string `json:"funding_txid,omitempty"`
	LspOrderId  string `json:"lsp_order_id,omitempty"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	SettledAt   int64  `json:"settled_at,omitempty"`
}

func newTransferInfo(t domain.Transfer) transferInfo {
	return transferInfo{
		Id:          t.Id,
		Direction:   t.Direction.String(),
		AmountSats:  t.AmountSats,
		ChannelId:   t.ChannelId,
		FundingTxid: t.FundingTxid,
		LspOrderId:  t.LspOrderId,
		Status:      t.Status.String(),
		CreatedAt:   t.CreatedAt,
		SettledAt:   t.SettledAt,
	}
}

type transfersInfo []domain.Transfer

func (t transfersInfo) toJSON() []transferInfo {
	list := make([]transferInfo, 0, len(t))
	for _, tr := range t {
		list = append(list, newTransferInfo(tr))
	}
	return list
}

type intentInfo struct {
	Direction   string         `json:"direction"`
	AmountSats  uint64         `json:"amount_sats"`
	Status      string         `json:"status"`
	Channels    []node.Channel `json:"channels"`
	TransferIds []string       `json:"transfer_ids"`
}

func newIntentInfo(i domain.TransferIntent) intentInfo {
	return intentInfo{
		Direction:   i.Direction.String(),
		AmountSats:  i.AmountSats,
		Status:      i.Status.String(),
		Channels:    channelsInfo(i.ChannelsInvolved).toJSON(),
		TransferIds: i.TransferIds,
	}
}

type transferToSavingsRequest struct {
	ChannelIds []string `json:"channel_ids"`
}

type addWebhookRequest struct {
	Event    string `json:"event"`
	Endpoint string `json:"endpoint"`
	Secret   string `json:"secret"`
}

type webhookInfo struct {
	Id        string `json:"id"`
	Event     string `json:"event"`
	Endpoint  string `json:"endpoint"`
	IsSecured bool   `json:"is_secured"`
}

type webhooksInfo []ports.Subscription

func (w webhooksInfo) toJSON() []webhookInfo {
	list := make([]webhookInfo, 0, len(w))
	for _, hook := range w {
		list = append(list, webhookInfo{
			Id:        hook.Id(),
			Event:     hook.Topic(),
			Endpoint:  hook.NotifyAt(),
			IsSecured: hook.IsSecured(),
		})
	}
	return list
}
