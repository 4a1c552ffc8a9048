package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/pkg/types"
)

// InMemoryStore keeps everything in maps behind one mutex. WithTx holds the
// mutex for the whole callback and buffers writes until fn returns nil.
type InMemoryStore struct {
	mu sync.Mutex

	contributions map[string]types.Contribution
	wallets       map[string]WalletRecord
	receipts      map[string]ReceiptRecord
	receiptChain  map[string][]string
	outbox        map[string]OutboxRecord
	keys          map[string]KeyRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		contributions: make(map[string]types.Contribution),
		wallets:       make(map[string]WalletRecord),
		receipts:      make(map[string]ReceiptRecord),
		receiptChain:  make(map[string][]string),
		outbox:        make(map[string]OutboxRecord),
		keys:          make(map[string]KeyRecord),
	}
}

func (s *InMemoryStore) WithTx(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		base:          s,
		contributions: make(map[string]types.Contribution),
		wallets:       make(map[string]WalletRecord),
		outbox:        make(map[string]OutboxRecord),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *InMemoryStore) GetContribution(id string) (types.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.contributions[id]
	if !ok {
		return types.Contribution{}, ErrNotFound
	}
	return rec.Clone(), nil
}


func (s *InMemoryStore) ListContributions(filter Filter) ([]types.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.Contribution{}
	for _, rec := range s.contributions {
		if filter.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	sortContributions(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) GetBalance(userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[userID].Balance, nil
}

func (s *InMemoryStore) ListBalances() ([]WalletRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WalletRecord, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *InMemoryStore) GetReceipt(receiptID string) (ReceiptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.receipts[receiptID]
	if !ok {
		return ReceiptRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) ListReceipts(contributionID string) ([]ReceiptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.receiptChain[contributionID]
	out := make([]ReceiptRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.receipts[id])
	}
	return out, nil
}

func (s *InMemoryStore) LatestReceipt(contributionID string) (ReceiptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestReceiptLocked(contributionID)
}

func (s *InMemoryStore) latestReceiptLocked(contributionID string) (ReceiptRecord, error) {
	ids := s.receiptChain[contributionID]
	if len(ids) == 0 {
		return ReceiptRecord{}, ErrNotFound
	}
	return s.receipts[ids[len(ids)-1]], nil
}

func (s *InMemoryStore) PutOutbox(rec OutboxRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutOutbox(rec) })
}

func (s *InMemoryStore) GetOutbox(eventID string) (OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[eventID]
	if !ok {
		return OutboxRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) ListOutboxDue(now time.Time, limit int) ([]OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []OutboxRecord{}
	for _, rec := range s.outbox {
		if rec.Status != "pending" {
			continue
		}
		if rec.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) PutKey(key KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.KeyID]; !ok {
		s.keys[key.KeyID] = key
	}
	return nil
}

func (s *InMemoryStore) GetKey(keyID string) (KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok {
		return KeyRecord{}, ErrNotFound
	}
	return key, nil
}

// memTx reads through its own buffered writes to the base maps.
type memTx struct {
	base *InMemoryStore

	contributions map[string]types.Contribution
	wallets       map[string]WalletRecord
	receipts      []ReceiptRecord
	outbox        map[string]OutboxRecord
}

func (t *memTx) GetContribution(id string) (types.Contribution, error) {
	if rec, ok := t.contributions[id]; ok {
		return rec.Clone(), nil
	}
	rec, ok := t.base.contributions[id]
	if !ok {
		return types.Contribution{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (t *memTx) InsertContribution(rec types.Contribution) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, err := t.GetContribution(rec.ID); err == nil {
		return ErrConflict
	}
	t.contributions[rec.ID] = rec.Clone()
	return nil
}

func (t *memTx) SaveContribution(rec types.Contribution) error {
	prev, err := t.GetContribution(rec.ID)
	if err != nil {
		return err
	}
	if err := CheckUpdate(prev, rec); err != nil {
		return err
	}
	t.contributions[rec.ID] = rec.Clone()
	return nil
}

func (t *memTx) GetBalance(userID string) (decimal.Decimal, error) {
	if w, ok := t.wallets[userID]; ok {
		return w.Balance, nil
	}
	return t.base.wallets[userID].Balance, nil
}

func (t *memTx) AddBalance(userID string, amount decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	current, _ := t.GetBalance(userID)
	next := current.Add(amount)
	t.wallets[userID] = WalletRecord{UserID: userID, Balance: next, UpdatedAt: at}
	return next, nil
}

func (t *memTx) LatestReceipt(contributionID string) (ReceiptRecord, error) {
	for i := len(t.receipts) - 1; i >= 0; i-- {
		if t.receipts[i].ContributionID == contributionID {
			return t.receipts[i], nil
		}
	}
	return t.base.latestReceiptLocked(contributionID)
}

func (t *memTx) PutReceipt(rec ReceiptRecord) error {
	if _, ok := t.base.receipts[rec.ReceiptID]; ok {
		return nil
	}
	for _, staged := range t.receipts {
		if staged.ReceiptID == rec.ReceiptID {
			return nil
		}
	}
	t.receipts = append(t.receipts, rec)
	return nil
}

func (t *memTx) PutOutbox(rec OutboxRecord) error {
	t.outbox[rec.EventID] = rec
	return nil
}

func (t *memTx) commit() {
	s := t.base
	for id, rec := range t.contributions {
		s.contributions[id] = rec
	}
	for id, w := range t.wallets {
		s.wallets[id] = w
	}
	for _, rec := range t.receipts {
		s.receipts[rec.ReceiptID] = rec
		s.receiptChain[rec.ContributionID] = append(s.receiptChain[rec.ContributionID], rec.ReceiptID)
	}
	for id, rec := range t.outbox {
		s.outbox[id] = rec
	}
}
