package domain

import (
	"math"

	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	MatchByFundingTxid MatchReason = iota
	MatchByUserChannelId
	MatchByShortChannelId
	MatchByCounterparty
)

// MatchReason tells which linkage subsumed an order into a channel, in
// decreasing order of reliability.
type MatchReason int

func (r MatchReason) String() string {
	switch r {
	case MatchByFundingTxid:
		return "funding_txid"
	case MatchByUserChannelId:
		return "user_channel_id"
	case MatchByShortChannelId:
		return "short_channel_id"
	case MatchByCounterparty:
		return "counterparty"
	default:
		return "unknown"
	}
}

// OrderMatch is an order already materialized as a live channel.
type OrderMatch struct {
	Order   PendingOrder
	Channel ChannelInfo
	Reason  MatchReason
}

// OrderMatchResult splits a list of orders by how they relate to the live
// channels.
type OrderMatchResult struct {
	// Matched orders are already counted as Lightning balance.
	Matched []OrderMatch
	// Pending orders have no channel yet and are counted as in transfer.
	Pending []PendingOrder
	// Expired orders are dropped.
	Expired []PendingOrder
}

// MatchOrders deduplicates the given orders by id and tries to subsume each
// of them into one of the given channels. Linkage is attempted from the most
// to the least reliable: funding txid, user channel id, short channel id and
// finally the counterparty node id. A channel absorbs at most one order by
// counterparty, and never one when it was already claimed by a stronger
// linkage. Malformed linkage simply does not match.
func MatchOrders(orders []PendingOrder, channels []ChannelInfo) OrderMatchResult {
	orders = DedupeOrders(orders)
	channels = dedupeChannels(channels)

	result := OrderMatchResult{
		Matched: make([]OrderMatch, 0),
		Pending: make([]PendingOrder, 0),
		Expired: make([]PendingOrder, 0),
	}

	candidates := make([]PendingOrder, 0, len(orders))
	for _, o := range orders {
		if o.IsExpired() {
			result.Expired = append(result.Expired, o)
			continue
		}
		candidates = append(candidates, o)
	}

	strong := []struct {
		reason MatchReason
		links  func(PendingOrder, ChannelInfo) bool
	}{
		{MatchByFundingTxid, func(o PendingOrder, c ChannelInfo) bool {
			return c.HasFundingTxid(o.FundingTxid)
		}},
		{MatchByUserChannelId, func(o PendingOrder, c ChannelInfo) bool {
			return len(o.Id) > 0 && c.UserChannelId == o.Id
		}},
		{MatchByShortChannelId, func(o PendingOrder, c ChannelInfo) bool {
			return o.ShortChannelId != 0 && c.ShortChannelId == o.ShortChannelId
		}},
	}

	matched := make(map[string]OrderMatch)
	claimed := make(map[string]struct{})
	for _, linkage := range strong {
		for _, o := range candidates {
			if _, ok := matched[o.Id]; ok {
				continue
			}
			links := linkage.links
			found := findChannel(channels, func(c ChannelInfo) bool {
				return links(o, c)
			})
			found.WhenSome(func(c ChannelInfo) {
				matched[o.Id] = OrderMatch{o, c, linkage.reason}
				claimed[c.ChannelId] = struct{}{}
			})
		}
	}

	for _, o := range candidates {
		if _, ok := matched[o.Id]; ok {
			continue
		}
		found := findChannel(channels, func(c ChannelInfo) bool {
			_, taken := claimed[c.ChannelId]
			return !taken && c.HasCounterparty(o.LspNodeId)
		})
		found.WhenSome(func(c ChannelInfo) {
			matched[o.Id] = OrderMatch{o, c, MatchByCounterparty}
			claimed[c.ChannelId] = struct{}{}
		})
	}

	for _, o := range candidates {
		if m, ok := matched[o.Id]; ok {
			result.Matched = append(result.Matched, m)
			continue
		}
		result.Pending = append(result.Pending, o)
	}
	return result
}

// DeriveBalanceState computes the balance split from the latest snapshot of
// each input. It performs no I/O, holds no state and is total over its
// inputs: every sum saturates instead of overflowing and nothing is ever
// subtracted below zero.
//
// A channel listed in closingChannels is counted once, as in transfer to
// savings: it contributes neither to the lightning total nor to the max
// sendable amount, even if the node still reports it as usable.
func DeriveBalanceState(
	onchain OnchainState,
	channels []ChannelInfo,
	pendingOrders []PendingOrder,
	closingChannels []ChannelInfo,
) BalanceState {
	channels = dedupeChannels(channels)
	closingChannels = dedupeChannels(closingChannels)

	closing := make(map[string]struct{}, len(closingChannels))
	for _, c := range closingChannels {
		closing[c.ChannelId] = struct{}{}
	}

	isClosing := func(c ChannelInfo) bool {
		_, ok := closing[c.ChannelId]
		return ok
	}
	notClosing := fn.Filter(channels, func(c ChannelInfo) bool {
		return !isClosing(c)
	})

	totalLightning := sumOutbound(notClosing)
	maxSend := sumOutbound(fn.Filter(notClosing, func(c ChannelInfo) bool {
		return c.IsUsable
	}))
	toSavings := sumOutbound(closingChannels)

	matches := MatchOrders(pendingOrders, channels)
	toSpending := sumSats(fn.Map(matches.Pending, func(o PendingOrder) uint64 {
		return o.ClientBalanceSat
	}))

	spendable := onchain.SpendableBalanceSats
	if spendable > onchain.TotalBalanceSats {
		spendable = onchain.TotalBalanceSats
	}

	return BalanceState{
		TotalOnchainSats:            onchain.TotalBalanceSats,
		SpendableOnchainSats:        spendable,
		TotalLightningSats:          totalLightning,
		TotalBalanceSats:            addSats(onchain.TotalBalanceSats, totalLightning),
		BalanceInTransferToSavings:  toSavings,
		BalanceInTransferToSpending: toSpending,
		MaxSendLightningSats:        maxSend,
	}
}

func sumOutbound(channels []ChannelInfo) uint64 {
	return sumSats(fn.Map(channels, ChannelInfo.OutboundCapacitySats))
}

// sumSats adds up the given amounts, saturating at MaxUint64.
func sumSats(amounts []uint64) uint64 {
	var sum uint64
	for _, a := range amounts {
		sum = addSats(sum, a)
	}
	return sum
}

func findChannel(
	channels []ChannelInfo, match func(ChannelInfo) bool,
) fn.Option[ChannelInfo] {
	for _, c := range channels {
		if match(c) {
			return fn.Some(c)
		}
	}
	return fn.None[ChannelInfo]()
}

// addSats returns a+b, or MaxUint64 on overflow.
func addSats(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
