package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/pkg/types"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("already exists")
	ErrImmutable = errors.New("immutable field changed")
)

// Reader is the read surface shared by a Store and an open Tx.
type Reader interface {
	GetContribution(id string) (types.Contribution, error)
	GetBalance(userID string) (decimal.Decimal, error)
	LatestReceipt(contributionID string) (ReceiptRecord, error)
}

type Store interface {
	// WithTx runs fn in one transaction. Every write made through the Tx is
	// committed together, or none is when fn returns an error.
	WithTx(fn func(Tx) error) error

	Reader

	ListContributions(filter Filter) ([]types.Contribution, error)

	ListBalances() ([]WalletRecord, error)

	GetReceipt(receiptID string) (ReceiptRecord, error)
	ListReceipts(contributionID string) ([]ReceiptRecord, error)

	PutOutbox(rec OutboxRecord) error
	GetOutbox(eventID string) (OutboxRecord, error)
	ListOutboxDue(now time.Time, limit int) ([]OutboxRecord, error)

	PutKey(key KeyRecord) error
	GetKey(keyID string) (KeyRecord, error)
}

type Tx interface {
	Reader

	// InsertContribution fails with ErrConflict when the id is taken.
	InsertContribution(rec types.Contribution) error
	// SaveContribution updates an existing record. See CheckUpdate.
	SaveContribution(rec types.Contribution) error

	// AddBalance increments a wallet, creating it at zero, and returns the new balance.
	AddBalance(userID string, amount decimal.Decimal, at time.Time) (decimal.Decimal, error)

	PutReceipt(rec ReceiptRecord) error
	PutOutbox(rec OutboxRecord) error
}

type Filter struct {
	Status    types.Status
	Type      types.ContributionType
	UserID    string
	SpeciesID string
	Limit     int
}

func (f Filter) Match(c types.Contribution) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.UserID != "" && c.UserID != f.UserID {
		return false
	}
	if f.SpeciesID != "" && (c.SpeciesID == nil || *c.SpeciesID != f.SpeciesID) {
		return false
	}
	return true
}

// CheckUpdate validates next as the replacement for prev. Identity, creation
// time, stake and reward are fixed once a contribution is stored.
func CheckUpdate(prev, next types.Contribution) error {
	if err := next.Validate(); err != nil {
		return err
	}
	field := ""
	switch {
	case next.ID != prev.ID:
		field = "id"
	case next.UserID != prev.UserID:
		field = "user_id"
	case next.Type != prev.Type:
		field = "type"
	case !next.CreatedAt.Equal(prev.CreatedAt):
		field = "created_at"
	case !next.Stake.Equal(prev.Stake):
		field = "stake"
	case !sameAmount(prev.Reward, next.Reward):
		field = "reward"
	}
	if field != "" {
		return fmt.Errorf("contribution %s: %w: %s", prev.ID, ErrImmutable, field)
	}
	return nil
}

func sameAmount(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type WalletRecord struct {
	UserID    string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

type ReceiptRecord struct {
	ReceiptID      string
	ContributionID string
	Seq            int64
	Action         string
	BodyJSON       []byte
	BodyDigest     string
	KeyID          string
	Sig            []byte
	CreatedAt      time.Time
}

type OutboxRecord struct {
	EventID        string
	ContributionID string
	Subject        string
	PayloadJSON    []byte
	Status         string // pending | sent
	AttemptCount   int
	NextAttemptAt  time.Time
	LastError      *string
	SentAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type KeyRecord struct {
	KeyID     string
	PublicKey []byte
	CreatedAt time.Time
}

// sortContributions orders by creation time, then id.
func sortContributions(recs []types.Contribution) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
