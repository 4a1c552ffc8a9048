// Package stats derives read-side moderation figures from stored records.
package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/pkg/types"
)

type Summary struct {
	Total    int                            `json:"total"`
	ByStatus map[types.Status]int           `json:"by_status"`
	ByType   map[types.ContributionType]int `json:"by_type"`

	// AvgDecisionLatency is the mean of decidedAt - createdAt over decided records.
	AvgDecisionLatency time.Duration `json:"-"`
	AvgLatencySeconds  float64       `json:"avg_decision_latency_seconds"`

	// AcceptanceRate is approved / (approved + rejected), zero when nothing is decided.
	AcceptanceRate float64 `json:"acceptance_rate"`

	LockedStake decimal.Decimal `json:"locked_stake"`
	BurnedStake decimal.Decimal `json:"burned_stake"`
}

func Compute(records []types.Contribution) Summary {
	s := Summary{
		ByStatus:    map[types.Status]int{},
		ByType:      map[types.ContributionType]int{},
		LockedStake: decimal.Zero,
		BurnedStake: decimal.Zero,
	}

	var latency time.Duration
	timed := 0
	for _, rec := range records {
		s.Total++
		s.ByStatus[rec.Status]++
		s.ByType[rec.Type]++

		switch rec.StakeStatus {
		case types.StakeLocked:
			s.LockedStake = s.LockedStake.Add(rec.Stake)
		case types.StakeBurned:
			s.BurnedStake = s.BurnedStake.Add(rec.Stake)
		}

		if rec.Status.Decided() && rec.DecidedAt != nil {
			d := rec.DecidedAt.Sub(rec.CreatedAt)
			if d < 0 {
				d = 0
			}
			latency += d
			timed++
		}
	}

	if timed > 0 {
		s.AvgDecisionLatency = latency / time.Duration(timed)
		s.AvgLatencySeconds = s.AvgDecisionLatency.Seconds()
	}
	approved := s.ByStatus[types.StatusApproved]
	decided := approved + s.ByStatus[types.StatusRejected]
	if decided > 0 {
		s.AcceptanceRate = float64(approved) / float64(decided)
	}
	return s
}
