package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ContributionType string

const (
	TypeSpecies  ContributionType = "species"
	TypeMorph    ContributionType = "morph"
	TypeLocality ContributionType = "locality"
	TypeAlias    ContributionType = "alias"
	TypeLocus    ContributionType = "locus"
	TypeGroup    ContributionType = "group"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// StakeStatus is empty when the contribution carries no stake.
type StakeStatus string

const (
	StakeLocked   StakeStatus = "locked"
	StakeRefunded StakeStatus = "refunded"
	StakeBurned   StakeStatus = "burned"
)

var defaultRewards = map[ContributionType]int64{
	TypeSpecies:  250,
	TypeMorph:    80,
	TypeLocality: 40,
	TypeAlias:    15,
	TypeLocus:    60,
	TypeGroup:    50,
}

// ContributionTypes lists every accepted type in display order.
func ContributionTypes() []ContributionType {
	return []ContributionType{TypeSpecies, TypeMorph, TypeLocality, TypeAlias, TypeLocus, TypeGroup}
}

func (t ContributionType) Valid() bool {
	_, ok := defaultRewards[t]
	return ok
}

// DefaultReward returns the fixed reward for a contribution type.
func DefaultReward(t ContributionType) (decimal.Decimal, bool) {
	units, ok := defaultRewards[t]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(units), true
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

func (s Status) Decided() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s StakeStatus) Valid() bool {
	switch s {
	case StakeLocked, StakeRefunded, StakeBurned:
		return true
	default:
		return false
	}
}

type Contribution struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      ContributionType `json:"type"`
	SpeciesID *string          `json:"species_id"`
	Payload   Payload          `json:"payload"`
	CreatedAt time.Time        `json:"created_at"`

	Status      Status           `json:"status"`
	Stake       decimal.Decimal  `json:"stake"`
	StakeStatus StakeStatus      `json:"stake_status,omitempty"`
	Reward      *decimal.Decimal `json:"reward,omitempty"`

	ModeratorNote *string    `json:"moderator_note,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	DecidedBy     *string    `json:"decided_by,omitempty"`
}

// EffectiveReward is the explicit reward, or the type default when none was set.
func (c Contribution) EffectiveReward() decimal.Decimal {
	if c.Reward != nil {
		return *c.Reward
	}
	reward, _ := DefaultReward(c.Type)
	return reward
}

func (c Contribution) HasStake() bool {
	return c.Stake.IsPositive()
}

// Clone returns a copy that shares no pointers or slices with c.
func (c Contribution) Clone() Contribution {
	out := c
	out.SpeciesID = cloneString(c.SpeciesID)
	out.ModeratorNote = cloneString(c.ModeratorNote)
	out.DecidedBy = cloneString(c.DecidedBy)
	if c.Reward != nil {
		reward := *c.Reward
		out.Reward = &reward
	}
	if c.DecidedAt != nil {
		at := *c.DecidedAt
		out.DecidedAt = &at
	}
	out.Payload = c.Payload.Clone()
	return out
}

var ErrInvalidContribution = errors.New("invalid contribution")

// Validate checks the record's structural and stake-escrow invariants.
func (c Contribution) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidContribution)
	}
	if c.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidContribution)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidContribution, c.Type)
	}
	if c.Type == TypeSpecies && c.SpeciesID != nil {
		return fmt.Errorf("%w: species contributions cannot reference a species_id", ErrInvalidContribution)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidContribution, c.Status)
	}
	if c.Stake.IsNegative() {
		return fmt.Errorf("%w: negative stake", ErrInvalidContribution)
	}
	if c.Reward != nil && c.Reward.IsNegative() {
		return fmt.Errorf("%w: negative reward", ErrInvalidContribution)
	}

	if !c.HasStake() {
		if c.StakeStatus != "" {
			return fmt.Errorf("%w: stake_status %q without stake", ErrInvalidContribution, c.StakeStatus)
		}
	} else {
		if !c.StakeStatus.Valid() {
			return fmt.Errorf("%w: stake without stake_status", ErrInvalidContribution)
		}
		locked := c.StakeStatus == StakeLocked
		if locked != (c.Status == StatusPending) {
			return fmt.Errorf("%w: stake_status %q with status %q", ErrInvalidContribution, c.StakeStatus, c.Status)
		}
	}

	if c.Status == StatusPending && (c.DecidedAt != nil || c.DecidedBy != nil) {
		return fmt.Errorf("%w: pending contribution carries decision stamps", ErrInvalidContribution)
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
