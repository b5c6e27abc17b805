package domain

import (
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
)

// ChannelInfo is a Lightning channel as reported by the node. It is created
// when the channel open is broadcast, mutated in place as confirmations and
// readiness change, and removed from the node's list once closed.
type ChannelInfo struct {
	ChannelId          string
	CounterpartyNodeId string
	// UserChannelId is the id assigned by the wallet when opening the
	// channel. Channels bought from the LSP carry the order id here.
	UserChannelId string
	FundingTxid   string
	// ShortChannelId is zero until the funding tx is confirmed.
	ShortChannelId uint64

	ChannelValueSats                 uint64
	OutboundCapacityMsat             lnwire.MilliSatoshi
	InboundCapacityMsat              lnwire.MilliSatoshi
	UnspendablePunishmentReserveSats uint64

	IsChannelReady bool
	IsUsable       bool
}

// OutboundCapacitySats returns the local balance of the channel rounded down
// to the satoshi.
func (c ChannelInfo) OutboundCapacitySats() uint64 {
	return uint64(c.OutboundCapacityMsat.ToSatoshis())
}

// HasFundingTxid returns whether the channel was funded by the transaction
// with the given id. Malformed ids never match.
func (c ChannelInfo) HasFundingTxid(txid string) bool {
	return sameTxid(c.FundingTxid, txid)
}

// HasCounterparty compares node ids case-insensitively since they are hex
// encoded public keys.
func (c ChannelInfo) HasCounterparty(nodeId string) bool {
	if len(nodeId) <= 0 || len(c.CounterpartyNodeId) <= 0 {
		return false
	}
	return strings.EqualFold(c.CounterpartyNodeId, nodeId)
}

// dedupeChannels drops every channel whose id was already seen, keeping the
// first occurrence.
func dedupeChannels(channels []ChannelInfo) []ChannelInfo {
	seen := make(map[string]struct{}, len(channels))
	result := make([]ChannelInfo, 0, len(channels))
	for _, c := range channels {
		if _, ok := seen[c.ChannelId]; ok {
			continue
		}
		seen[c.ChannelId] = struct{}{}
		result = append(result, c)
	}
	return result
}

func sameTxid(a, b string) bool {
	if len(a) <= 0 || len(b) <= 0 {
		return false
	}
	hashA, err := chainhash.NewHashFromStr(a)
	if err != nil {
		return false
	}
	hashB, err := chainhash.NewHashFromStr(b)
	if err != nil {
		return false
	}
	return hashA.IsEqual(hashB)
}
