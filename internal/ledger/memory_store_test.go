package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/pkg/types"
)

func testContribution(id string, created time.Time) types.Contribution {
	return types.Contribution{
		ID:          id,
		UserID:      "u1",
		Type:        types.TypeMorph,
		Payload:     types.Payload{Name: "Banana", Aliases: []string{"bnn"}},
		CreatedAt:   created,
		Status:      types.StatusPending,
		Stake:       decimal.NewFromInt(100),
		StakeStatus: types.StakeLocked,
	}
}

func insertContribution(t *testing.T, s *InMemoryStore, rec types.Contribution) {
	t.Helper()
	if err := s.WithTx(func(tx Tx) error { return tx.InsertContribution(rec) }); err != nil {
		t.Fatalf("insert %s: %v", rec.ID, err)
	}
}

func TestInMemoryStore_CRUD(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	key := KeyRecord{KeyID: "kid", PublicKey: []byte("pub"), CreatedAt: now}
	if err := s.PutKey(key); err != nil {
		t.Fatalf("put key: %v", err)
	}
	if got, err := s.GetKey("kid"); err != nil || got.KeyID != "kid" {
		t.Fatalf("get key mismatch: err=%v got=%+v", err, got)
	}

	insertContribution(t, s, testContribution("c1", now))
	got, err := s.GetContribution("c1")
	if err != nil {
		t.Fatalf("get contribution: %v", err)
	}
	if got.Payload.Name != "Banana" || !got.Stake.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected contribution: %+v", got)
	}

	outbox := OutboxRecord{
		EventID:        "e1",
		ContributionID: "c1",
		Subject:        "curator.decisions",
		PayloadJSON:    []byte(`{"id":"c1"}`),
		Status:         "pending",
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.PutOutbox(outbox); err != nil {
		t.Fatalf("put outbox: %v", err)
	}
	if got, err := s.GetOutbox("e1"); err != nil || got.ContributionID != "c1" {
		t.Fatalf("get outbox mismatch: err=%v got=%+v", err, got)
	}
	if due, err := s.ListOutboxDue(now, 10); err != nil || len(due) != 1 {
		t.Fatalf("list due mismatch: err=%v len=%d", err, len(due))
	}
	if due, err := s.ListOutboxDue(now.Add(-time.Second), 10); err != nil || len(due) != 0 {
		t.Fatalf("expected nothing due yet: err=%v len=%d", err, len(due))
	}

	if _, err := s.GetContribution("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetReceipt("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if bal, err := s.GetBalance("nobody"); err != nil || !bal.IsZero() {
		t.Fatalf("expected zero balance, got %s err=%v", bal, err)
	}
}

func TestInMemoryStore_ReadsAreCopies(t *testing.T) {
	s := NewInMemoryStore()
	insertContribution(t, s, testContribution("c1", time.Now().UTC()))

	got, _ := s.GetContribution("c1")
	got.Payload.Aliases[0] = "mutated"
	note := "mutated"
	got.ModeratorNote = &note

	again, _ := s.GetContribution("c1")
	if again.Payload.Aliases[0] != "bnn" || again.ModeratorNote != nil {
		t.Fatalf("store state leaked through a read: %+v", again)
	}
}

func TestInMemoryStore_TxRollback(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now().UTC()
	insertContribution(t, s, testContribution("c1", now))

	boom := errors.New("boom")
	err := s.WithTx(func(tx Tx) error {
		rec, err := tx.GetContribution("c1")
		if err != nil {
			return err
		}
		rec.Status = types.StatusApproved
		rec.StakeStatus = types.StakeRefunded
		if err := tx.SaveContribution(rec); err != nil {
			return err
		}
		if _, err := tx.AddBalance("u1", decimal.NewFromInt(180), now); err != nil {
			return err
		}
		if err := tx.PutReceipt(ReceiptRecord{ReceiptID: "r1", ContributionID: "c1", Seq: 1, CreatedAt: now}); err != nil {
			return err
		}

		inside, _ := tx.GetContribution("c1")
		if inside.Status != types.StatusApproved {
			t.Fatalf("tx should read its own writes")
		}
		if bal, _ := tx.GetBalance("u1"); !bal.Equal(decimal.NewFromInt(180)) {
			t.Fatalf("tx should read its own balance, got %s", bal)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	rec, _ := s.GetContribution("c1")
	if rec.Status != types.StatusPending || rec.StakeStatus != types.StakeLocked {
		t.Fatalf("rolled back tx leaked record change: %+v", rec)
	}
	if bal, _ := s.GetBalance("u1"); !bal.IsZero() {
		t.Fatalf("rolled back tx leaked credit: %s", bal)
	}
	if _, err := s.GetReceipt("r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rolled back tx leaked receipt")
	}
}

func TestInMemoryStore_InsertConflict(t *testing.T) {
	s := NewInMemoryStore()
	rec := testContribution("c1", time.Now().UTC())
	if err := s.WithTx(func(tx Tx) error { return tx.InsertContribution(rec) }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.WithTx(func(tx Tx) error { return tx.InsertContribution(rec) })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestInMemoryStore_SaveRejectsImmutableChanges(t *testing.T) {
	s := NewInMemoryStore()
	rec := testContribution("c1", time.Now().UTC())
	reward := decimal.NewFromInt(80)
	rec.Reward = &reward
	insertContribution(t, s, rec)

	save := func(next types.Contribution) error {
		return s.WithTx(func(tx Tx) error { return tx.SaveContribution(next) })
	}

	inflated := decimal.NewFromInt(9999)
	changed := rec.Clone()
	changed.Reward = &inflated
	changed.Status = types.StatusApproved
	changed.StakeStatus = types.StakeRefunded
	if err := save(changed); !errors.Is(err, ErrImmutable) {
		t.Fatalf("expected ErrImmutable for reward, got %v", err)
	}

	changed = rec.Clone()
	changed.UserID = "u2"
	if err := save(changed); !errors.Is(err, ErrImmutable) {
		t.Fatalf("expected ErrImmutable for user_id, got %v", err)
	}

	changed = rec.Clone()
	changed.Status = types.StatusApproved
	if err := save(changed); !errors.Is(err, types.ErrInvalidContribution) {
		t.Fatalf("expected approved with locked stake to be rejected, got %v", err)
	}

	if err := save(testContribution("missing", time.Now().UTC())); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	bad := testContribution("c2", time.Now().UTC())
	bad.StakeStatus = ""
	if err := s.WithTx(func(tx Tx) error { return tx.InsertContribution(bad) }); !errors.Is(err, types.ErrInvalidContribution) {
		t.Fatalf("expected invalid insert to fail, got %v", err)
	}

	got, _ := s.GetContribution("c1")
	if got.Reward == nil || !got.Reward.Equal(reward) || got.Status != types.StatusPending || got.UserID != "u1" {
		t.Fatalf("rejected saves changed the record: %+v", got)
	}
}

func TestInMemoryStore_ListFilterAndOrder(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a := testContribution("b", base)
	b := testContribution("a", base)
	c := testContribution("c", base.Add(-time.Hour))
	species := "sp-1"
	c.SpeciesID = &species
	d := testContribution("d", base.Add(time.Hour))
	d.UserID = "u2"
	d.Status = types.StatusApproved
	d.StakeStatus = types.StakeRefunded

	for _, rec := range []types.Contribution{a, b, c, d} {
		insertContribution(t, s, rec)
	}

	all, err := s.ListContributions(Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"c", "a", "b", "d"}
	if len(all) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(all))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, all[i].ID)
		}
	}

	pending, _ := s.ListContributions(Filter{Status: types.StatusPending})
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	byUser, _ := s.ListContributions(Filter{UserID: "u2"})
	if len(byUser) != 1 || byUser[0].ID != "d" {
		t.Fatalf("unexpected user filter result: %+v", byUser)
	}
	bySpecies, _ := s.ListContributions(Filter{SpeciesID: "sp-1"})
	if len(bySpecies) != 1 || bySpecies[0].ID != "c" {
		t.Fatalf("unexpected species filter result: %+v", bySpecies)
	}
	limited, _ := s.ListContributions(Filter{Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d", len(limited))
	}
}

func TestInMemoryStore_ReceiptChain(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now().UTC()
	for i, id := range []string{"r1", "r2"} {
		rec := ReceiptRecord{ReceiptID: id, ContributionID: "c1", Seq: int64(i + 1), CreatedAt: now}
		if err := s.WithTx(func(tx Tx) error { return tx.PutReceipt(rec) }); err != nil {
			t.Fatalf("put receipt: %v", err)
		}
	}
	latest, err := s.LatestReceipt("c1")
	if err != nil || latest.ReceiptID != "r2" {
		t.Fatalf("expected r2 latest, got %+v err=%v", latest, err)
	}
	list, _ := s.ListReceipts("c1")
	if len(list) != 2 || list[0].ReceiptID != "r1" {
		t.Fatalf("unexpected receipt list: %+v", list)
	}
	if _, err := s.LatestReceipt("other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStore_ConcurrentAddBalance(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for _, amount := range []int64{50, 30} {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			_ = s.WithTx(func(tx Tx) error {
				_, err := tx.AddBalance("u1", decimal.NewFromInt(v), time.Now().UTC())
				return err
			})
		}(amount)
	}
	wg.Wait()
	bal, _ := s.GetBalance("u1")
	if !bal.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected 80, got %s", bal)
	}
	wallets, _ := s.ListBalances()
	if len(wallets) != 1 || wallets[0].UserID != "u1" {
		t.Fatalf("unexpected wallets: %+v", wallets)
	}
}
