// Package wallet credits contributor balances. Balances only grow: the engine
// has no debit path, and a balance row is created at zero on first credit.
package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/internal/ledger"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidUser   = errors.New("invalid user")
)

type Ledger struct {
	store ledger.Store
	now   func() time.Time
}

func New(store ledger.Store) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// CreditTx adds amount to userID's balance inside an open transaction and
// returns the new balance. A zero amount leaves the balance unchanged but still
// creates the wallet at zero.
func CreditTx(tx ledger.Tx, userID string, amount decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, fmt.Errorf("%w: missing user_id", ErrInvalidUser)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return tx.AddBalance(userID, amount, at)
}

// Credit runs CreditTx in its own transaction.
func (l *Ledger) Credit(userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.store.WithTx(func(tx ledger.Tx) error {
		var err error
		balance, err = CreditTx(tx, userID, amount, l.now())
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// BalanceOf returns zero for users that were never credited.
func (l *Ledger) BalanceOf(userID string) (decimal.Decimal, error) {
	return l.store.GetBalance(userID)
}

func (l *Ledger) Balances() ([]ledger.WalletRecord, error) {
	return l.store.ListBalances()
}
