package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryWallet es un wallet en memoria para el modo simulación y los tests.
// Respeta las referencias: repetir un Debit o Credit con la misma ref es un no-op.
type MemoryWallet struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	applied  map[string]struct{}
	initial  decimal.Decimal
}

// NewMemoryWallet crea un wallet donde cada usuario nuevo arranca con initial SP.
func NewMemoryWallet(initial decimal.Decimal) *MemoryWallet {
	return &MemoryWallet{
		balances: make(map[string]decimal.Decimal),
		applied:  make(map[string]struct{}),
		initial:  initial,
	}
}

// Balance devuelve el saldo actual del usuario.
func (w *MemoryWallet) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balanceLocked(userID), nil
}

// Debit retira amount; ErrInsufficientFunds si no alcanza.
func (w *MemoryWallet) Debit(_ context.Context, userID string, amount decimal.Decimal, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := "debit:" + ref
	if _, ok := w.applied[key]; ok {
		return nil
	}
	bal := w.balanceLocked(userID)
	if bal.LessThan(amount) {
		return fmt.Errorf("wallet.Debit %s: balance %s < %s: %w", userID, bal, amount, ErrInsufficientFunds)
	}
	w.balances[userID] = bal.Sub(amount)
	w.applied[key] = struct{}{}
	return nil
}

// Credit abona amount.
func (w *MemoryWallet) Credit(_ context.Context, userID string, amount decimal.Decimal, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := "credit:" + ref
	if _, ok := w.applied[key]; ok {
		return nil
	}
	w.balances[userID] = w.balanceLocked(userID).Add(amount)
	w.applied[key] = struct{}{}
	return nil
}

func (w *MemoryWallet) balanceLocked(userID string) decimal.Decimal {
	if bal, ok := w.balances[userID]; ok {
		return bal
	}
	return w.initial
}
