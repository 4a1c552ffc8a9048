package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/pkg/types"
)

const (
	opApprove = iota
	opReject
	opReopen
)

// TestLifecycleProperties drives one record through random decide and reopen
// sequences and checks the escrow invariant and wallet total after each step.
func TestLifecycleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("stake is locked exactly while pending", prop.ForAll(
		func(stake int64, ops []int) bool {
			store := ledger.NewInMemoryStore()
			rec := pending("P", types.TypeMorph, stake, nil)
			if err := store.WithTx(func(tx ledger.Tx) error { return tx.InsertContribution(rec) }); err != nil {
				return false
			}
			p, err := NewProcessor(Config{Store: store, Now: func() time.Time { return fixedNow }})
			if err != nil {
				return false
			}

			expected := decimal.Zero
			for _, op := range ops {
				before, _ := store.GetContribution("P")
				switch op {
				case opApprove, opReject:
					verdict := types.VerdictApprove
					if op == opReject {
						verdict = types.VerdictReject
					}
					res := p.Decide(context.Background(), DecideRequest{IDs: []string{"P"}, Verdict: verdict, Actor: "m"})
					if (before.Status == types.StatusPending) != (res["P"].Err == nil) {
						return false
					}
					expected = expected.Add(res["P"].Credited)
				case opReopen:
					_, err := p.Reopen(context.Background(), "P", "m")
					if before.Status.Decided() != (err == nil) {
						return false
					}
				}

				after, err := store.GetContribution("P")
				if err != nil || after.Validate() != nil {
					return false
				}
				if after.HasStake() && (after.StakeStatus == types.StakeLocked) != (after.Status == types.StatusPending) {
					return false
				}
				bal, err := store.GetBalance("u1")
				if err != nil || !bal.Equal(expected) {
					return false
				}
			}
			return true
		},
		gen.Int64Range(0, 500),
		gen.SliceOf(gen.IntRange(opApprove, opReopen)),
	))

	properties.Property("approval credits reward plus stake", prop.ForAll(
		func(stake, reward int64) bool {
			store := ledger.NewInMemoryStore()
			rec := pending("P", types.TypeAlias, stake, &reward)
			if err := store.WithTx(func(tx ledger.Tx) error { return tx.InsertContribution(rec) }); err != nil {
				return false
			}
			p, err := NewProcessor(Config{Store: store})
			if err != nil {
				return false
			}
			res := p.Decide(context.Background(), DecideRequest{IDs: []string{"P"}, Verdict: types.VerdictApprove, Actor: "m"})
			if res["P"].Err != nil {
				return false
			}
			bal, _ := store.GetBalance("u1")
			return bal.Equal(decimal.NewFromInt(stake + reward))
		},
		gen.Int64Range(0, 1000),
		gen.Int64Range(0, 1000),
	))

	properties.TestingRun(t)
}
