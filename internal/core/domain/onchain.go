package domain

// OnchainState is a snapshot of the on-chain wallet. The spendable balance
// excludes unconfirmed and reserved funds.
type OnchainState struct {
	TotalBalanceSats     uint64
	SpendableBalanceSats uint64
}
