package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/pkg/types"
)

// Catalog answers whether a species id exists in the reference list.
type Catalog interface {
	Contains(speciesID string) bool
}

type SubmitRequest struct {
	UserID    string
	Type      types.ContributionType
	SpeciesID *string
	Payload   types.Payload
	Stake     decimal.Decimal
	// Reward overrides the type default when set.
	Reward *decimal.Decimal
}

// Submitter creates pending contributions. It never changes the status of an
// existing record.
type Submitter struct {
	store   ledger.Store
	catalog Catalog
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewSubmitter(store ledger.Store, catalog Catalog, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		store:   store,
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (types.Contribution, error) {
	if err := ctx.Err(); err != nil {
		return types.Contribution{}, err
	}
	if req.Stake.IsNegative() {
		return types.Contribution{}, fmt.Errorf("%w: negative stake %s", ErrInvalidAmount, req.Stake)
	}
	if req.Reward != nil && req.Reward.IsNegative() {
		return types.Contribution{}, fmt.Errorf("%w: negative reward %s", ErrInvalidAmount, req.Reward)
	}
	if req.SpeciesID != nil && *req.SpeciesID == "" {
		req.SpeciesID = nil
	}
	if req.SpeciesID != nil && s.catalog != nil && !s.catalog.Contains(*req.SpeciesID) {
		return types.Contribution{}, fmt.Errorf("%w: %s", ErrUnknownSpecies, *req.SpeciesID)
	}

	reward, ok := types.DefaultReward(req.Type)
	if !ok {
		return types.Contribution{}, fmt.Errorf("%w: unknown type %q", types.ErrInvalidContribution, req.Type)
	}
	if req.Reward != nil {
		reward = *req.Reward
	}

	rec := types.Contribution{
		ID:        s.newID(),
		UserID:    req.UserID,
		Type:      req.Type,
		SpeciesID: req.SpeciesID,
		Payload:   req.Payload.Clone(),
		CreatedAt: s.now(),
		Status:    types.StatusPending,
		Stake:     req.Stake,
		Reward:    &reward,
	}
	if rec.HasStake() {
		rec.StakeStatus = types.StakeLocked
	}
	if err := rec.Validate(); err != nil {
		return types.Contribution{}, err
	}

	err := s.store.WithTx(func(tx ledger.Tx) error { return tx.InsertContribution(rec) })
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return types.Contribution{}, fmt.Errorf("contribution %s: %w", rec.ID, err)
		}
		return types.Contribution{}, err
	}

	submissionsTotal.WithLabelValues(string(rec.Type)).Inc()
	s.logger.Info("contribution submitted", "id", rec.ID, "user_id", rec.UserID, "type", string(rec.Type), "stake", rec.Stake.String())
	return rec, nil
}
