package token

import (
	"context"
	"errors"
	"math"
	"sync"

	"vestry.org/internal/addr"
)

var (
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrInvalidAmount     = errors.New("token: invalid amount (must be > 0)")
	ErrBalanceOverflow   = errors.New("token: balance overflow")
)

// Ledger is the fungible-token transfer primitive the vesting engine
// drives. Amounts are in the token's smallest unit. Implementations must
// apply each call atomically: a failed transfer leaves both balances
// untouched.
type Ledger interface {
	Mint(ctx context.Context, to addr.Address, amount uint64) error
	Transfer(ctx context.Context, from, to addr.Address, amount uint64) error
	Balance(ctx context.Context, account addr.Address) (uint64, error)
}

// InMemory implements Ledger with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	balances map[addr.Address]uint64
}

// NewInMemory creates an empty token ledger.
func NewInMemory() *InMemory {
	return &InMemory{balances: make(map[addr.Address]uint64)}
}

func (l *InMemory) Mint(ctx context.Context, to addr.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[to] > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	l.balances[to] += amount
	return nil
}

func (l *InMemory) Transfer(ctx context.Context, from, to addr.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return ErrInsufficientFunds
	}
	if l.balances[to] > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *InMemory) Balance(ctx context.Context, account addr.Address) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account], nil
}
