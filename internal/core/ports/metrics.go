package ports

import "github.com/synonymdev/bitkit-balanced/internal/core/domain"

// BalanceObserver receives every newly derived balance.
type BalanceObserver interface {
	ObserveBalance(state domain.BalanceState)
}
