package moderation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/pkg/types"
)

type staticCatalog map[string]bool

func (c staticCatalog) Contains(id string) bool { return c[id] }

func newTestSubmitter(store ledger.Store) *Submitter {
	s := NewSubmitter(store, staticCatalog{"sp-python-regius": true}, nil)
	s.now = func() time.Time { return fixedNow }
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("c%d", n)
	}
	return s
}

func TestSubmitCreatesPendingRecord(t *testing.T) {
	store := ledger.NewInMemoryStore()
	s := newTestSubmitter(store)
	species := "sp-python-regius"

	rec, err := s.Submit(context.Background(), SubmitRequest{
		UserID:    "u1",
		Type:      types.TypeMorph,
		SpeciesID: &species,
		Payload:   types.Payload{Name: "Banana", GeneticsType: "co-dominant"},
		Stake:     decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", rec.ID)
	assert.Equal(t, types.StatusPending, rec.Status)
	assert.Equal(t, types.StakeLocked, rec.StakeStatus)
	require.NotNil(t, rec.Reward)
	assert.True(t, rec.Reward.Equal(decimal.NewFromInt(80)))
	assert.True(t, rec.CreatedAt.Equal(fixedNow))

	stored, err := store.GetContribution("c1")
	require.NoError(t, err)
	assert.Equal(t, "Banana", stored.Payload.Name)
}

func TestSubmitWithoutStakeHasNoStakeStatus(t *testing.T) {
	store := ledger.NewInMemoryStore()
	s := newTestSubmitter(store)
	empty := ""
	reward := decimal.NewFromInt(7)

	rec, err := s.Submit(context.Background(), SubmitRequest{UserID: "u1", Type: types.TypeSpecies, SpeciesID: &empty, Reward: &reward})
	require.NoError(t, err)
	assert.Nil(t, rec.SpeciesID, "empty species id is treated as absent")
	assert.Equal(t, types.StakeStatus(""), rec.StakeStatus)
	assert.True(t, rec.Reward.Equal(reward))
}

func TestSubmitRejectsBadInput(t *testing.T) {
	store := ledger.NewInMemoryStore()
	s := newTestSubmitter(store)
	unknown := "sp-nope"
	linked := "sp-python-regius"
	negative := decimal.NewFromInt(-1)

	cases := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{"negative stake", SubmitRequest{UserID: "u1", Type: types.TypeMorph, Stake: negative}, ErrInvalidAmount},
		{"negative reward", SubmitRequest{UserID: "u1", Type: types.TypeMorph, Reward: &negative}, ErrInvalidAmount},
		{"unknown species", SubmitRequest{UserID: "u1", Type: types.TypeMorph, SpeciesID: &unknown}, ErrUnknownSpecies},
		{"unknown type", SubmitRequest{UserID: "u1", Type: "snake"}, types.ErrInvalidContribution},
		{"missing user", SubmitRequest{Type: types.TypeMorph}, types.ErrInvalidContribution},
		{"species with species id", SubmitRequest{UserID: "u1", Type: types.TypeSpecies, SpeciesID: &linked}, types.ErrInvalidContribution},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Submit(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	all, err := store.ListContributions(ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmitDuplicateIDConflicts(t *testing.T) {
	store := ledger.NewInMemoryStore()
	s := newTestSubmitter(store)
	s.newID = func() string { return "same" }

	_, err := s.Submit(context.Background(), SubmitRequest{UserID: "u1", Type: types.TypeAlias})
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), SubmitRequest{UserID: "u1", Type: types.TypeAlias})
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Equal(t, "CONFLICT", Code(err))
}

func TestCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotFound, "NOT_FOUND"},
		{ErrInvalidState, "INVALID_STATE"},
		{ErrInvalidVerdict, "INVALID_VERDICT"},
		{ErrInvalidAmount, "INVALID_AMOUNT"},
		{ErrInvalidUser, "INVALID_USER"},
		{fmt.Errorf("%w: missing user_id", ErrInvalidUser), "INVALID_USER"},
		{ErrAlreadyDecided, "ALREADY_DECIDED"},
		{ErrUnknownSpecies, "UNKNOWN_SPECIES"},
		{types.ErrInvalidContribution, "INVALID_CONTRIBUTION"},
		{fmt.Errorf("contribution x: %w", ErrNotFound), "NOT_FOUND"},
		{errors.New("boom"), "INTERNAL"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Code(tc.err), "error %v", tc.err)
	}
}
