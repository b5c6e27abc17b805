package domain

import "github.com/btcsuite/btcd/btcutil"

// BalanceState is the balance split shown to the user. It is derived from
// scratch on every reconciliation pass and never mutated afterwards.
//
// TotalBalanceSats is always TotalOnchainSats + TotalLightningSats, and
// MaxSendLightningSats never exceeds TotalLightningSats.
type BalanceState struct {
	TotalOnchainSats     uint64
	SpendableOnchainSats uint64
	TotalLightningSats   uint64
	TotalBalanceSats     uint64
	// BalanceInTransferToSavings is the Lightning value of the channels
	// being coop-closed, not yet spendable on-chain.
	BalanceInTransferToSavings uint64
	// BalanceInTransferToSpending is the value committed to channel purchase
	// orders whose channel is not open yet.
	BalanceInTransferToSpending uint64
	// MaxSendLightningSats is the outbound capacity of usable channels that
	// are not being closed.
	MaxSendLightningSats uint64
}

// String returns a compact human readable representation of the balance,
// used in logs.
func (b BalanceState) String() string {
	return "total: " + btcutil.Amount(b.TotalBalanceSats).String() +
		", onchain: " + btcutil.Amount(b.TotalOnchainSats).String() +
		", lightning: " + btcutil.Amount(b.TotalLightningSats).String() +
		", to savings: " + btcutil.Amount(b.BalanceInTransferToSavings).String() +
		", to spending: " + btcutil.Amount(b.BalanceInTransferToSpending).String() +
		", max send: " + btcutil.Amount(b.MaxSendLightningSats).String()
}
