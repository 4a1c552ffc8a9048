// Package moderation owns the contribution lifecycle: submission, batch
// decisions and reopen. Every state change commits together with its wallet
// credit, receipt and outbox event in one store transaction.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/curator/internal/crypto"
	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/internal/receipts"
	"github.com/davidahmann/curator/internal/wallet"
	"github.com/davidahmann/curator/pkg/types"
)

const defaultParallelism = 8

type Config struct {
	Store ledger.Store

	// Signer signs receipts. Receipts are skipped when nil.
	Signer crypto.Signer

	// Locker serializes work per contribution id. Defaults to an in-process KeyedMutex.
	Locker Locker

	// EventSubject enables the outbox when non-empty.
	EventSubject string

	// Parallelism bounds how many ids of one batch run at once.
	Parallelism int

	Logger *slog.Logger
	Now    func() time.Time
}

type Processor struct {
	store       ledger.Store
	signer      crypto.Signer
	locker      Locker
	subject     string
	parallelism int
	logger      *slog.Logger
	now         func() time.Time
}

func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("missing store")
	}
	p := &Processor{
		store:       cfg.Store,
		signer:      cfg.Signer,
		locker:      cfg.Locker,
		subject:     cfg.EventSubject,
		parallelism: cfg.Parallelism,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if p.locker == nil {
		p.locker = NewKeyedMutex()
	}
	if p.parallelism <= 0 {
		p.parallelism = defaultParallelism
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p, nil
}

type DecideRequest struct {
	IDs     []string
	Verdict types.Verdict
	// Note replaces the stored moderator note only when non-empty.
	Note  string
	Actor string
	// At stamps decidedAt. Zero means the processor clock.
	At time.Time
}

type ItemResult struct {
	ID        string
	Record    *types.Contribution
	Credited  decimal.Decimal
	ReceiptID string
	Err       error
}

func (r ItemResult) OK() bool { return r.Err == nil }

// BatchResult holds one entry per distinct requested id.
type BatchResult map[string]ItemResult

// Failed returns the ids whose decision did not commit.
func (b BatchResult) Failed() []string {
	out := []string{}
	for id, res := range b {
		if res.Err != nil {
			out = append(out, id)
		}
	}
	return out
}

// Decide applies verdict to each id independently. A failure on one id never
// affects another, and a failed id leaves no partial update behind.
func (p *Processor) Decide(ctx context.Context, req DecideRequest) BatchResult {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	ids := dedupe(req.IDs)
	results := make(BatchResult, len(ids))

	if !req.Verdict.Valid() {
		for _, id := range ids {
			err := fmt.Errorf("%w: %q", ErrInvalidVerdict, req.Verdict)
			results[id] = ItemResult{ID: id, Err: err}
			decisionsTotal.WithLabelValues("invalid", outcomeLabel(err)).Inc()
		}
		p.logger.Warn("decide rejected", "verdict", string(req.Verdict), "ids", len(ids))
		return results
	}
	if req.At.IsZero() {
		req.At = p.now()
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res := p.decideOne(ctx, id, req)
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Processor) decideOne(ctx context.Context, id string, req DecideRequest) ItemResult {
	res := ItemResult{ID: id}
	defer func() {
		decisionsTotal.WithLabelValues(string(req.Verdict), outcomeLabel(res.Err)).Inc()
		if res.Err != nil {
			p.logger.Warn("decide failed", "id", id, "verdict", string(req.Verdict), "actor", req.Actor, "error", res.Err)
			return
		}
		creditedUnitsTotal.Add(res.Credited.InexactFloat64())
		p.logger.Info("contribution decided", "id", id, "verdict", string(req.Verdict), "actor", req.Actor, "credited", res.Credited.String(), "receipt_id", res.ReceiptID)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	unlock, err := p.locker.Lock(ctx, id)
	if err != nil {
		res.Err = err
		return res
	}
	defer unlock()

	err = p.store.WithTx(func(tx ledger.Tx) error {
		rec, err := tx.GetContribution(id)
		if err != nil {
			return fmt.Errorf("contribution %s: %w", id, err)
		}
		if rec.Status != types.StatusPending {
			return fmt.Errorf("contribution %s is %s: %w", id, rec.Status, ErrAlreadyDecided)
		}

		before := rec.Clone()
		credited := applyVerdict(&rec, req.Verdict, req.Note, req.Actor, req.At)
		if err := rec.Validate(); err != nil {
			return err
		}
		if err := tx.SaveContribution(rec); err != nil {
			return err
		}
		if rec.Status == types.StatusApproved {
			if _, err := wallet.CreditTx(tx, rec.UserID, credited, req.At); err != nil {
				return err
			}
		}

		receiptID, err := p.record(tx, types.ActionDecide, before, rec, req.Verdict, req.Note, req.Actor, req.At, credited)
		if err != nil {
			return err
		}

		res.Record = &rec
		res.Credited = credited
		res.ReceiptID = receiptID
		return nil
	})
	if err != nil {
		res = ItemResult{ID: id, Err: err}
	}
	return res
}

// applyVerdict moves a pending record to its terminal state and returns the
// amount owed to the contributor. Approval pays the reward plus a refund of a
// locked stake. Rejection burns the stake and pays nothing.
func applyVerdict(rec *types.Contribution, verdict types.Verdict, note, actor string, at time.Time) decimal.Decimal {
	credited := decimal.Zero
	switch verdict {
	case types.VerdictApprove:
		credited = rec.EffectiveReward()
		if rec.HasStake() && rec.StakeStatus == types.StakeLocked {
			credited = credited.Add(rec.Stake)
		}
		rec.Status = types.StatusApproved
		if rec.HasStake() {
			rec.StakeStatus = types.StakeRefunded
		}
	case types.VerdictReject:
		rec.Status = types.StatusRejected
		if rec.HasStake() {
			rec.StakeStatus = types.StakeBurned
		}
	}

	if note != "" {
		n := note
		rec.ModeratorNote = &n
	}
	decidedAt := at.UTC()
	decidedBy := actor
	rec.DecidedAt = &decidedAt
	rec.DecidedBy = &decidedBy
	return credited
}

// Reopen returns a decided contribution to pending. Credits already paid are
// not reversed.
func (p *Processor) Reopen(ctx context.Context, id, actor string) (types.Contribution, error) {
	var out types.Contribution
	err := p.reopen(ctx, id, actor, &out)
	reopensTotal.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		p.logger.Warn("reopen failed", "id", id, "actor", actor, "error", err)
		return types.Contribution{}, err
	}
	p.logger.Info("contribution reopened", "id", id, "actor", actor)
	return out, nil
}

func (p *Processor) reopen(ctx context.Context, id, actor string, out *types.Contribution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := p.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	at := p.now()
	return p.store.WithTx(func(tx ledger.Tx) error {
		rec, err := tx.GetContribution(id)
		if err != nil {
			return fmt.Errorf("contribution %s: %w", id, err)
		}
		if !rec.Status.Decided() {
			return fmt.Errorf("contribution %s is %s: %w", id, rec.Status, ErrInvalidState)
		}

		before := rec.Clone()
		rec.Status = types.StatusPending
		rec.DecidedAt = nil
		rec.DecidedBy = nil
		if rec.HasStake() {
			rec.StakeStatus = types.StakeLocked
		} else {
			rec.StakeStatus = ""
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		if err := tx.SaveContribution(rec); err != nil {
			return err
		}
		if _, err := p.record(tx, types.ActionReopen, before, rec, "", "", actor, at, decimal.Zero); err != nil {
			return err
		}
		*out = rec
		return nil
	})
}

// record writes the receipt and outbox event for a committed change inside
// the same transaction.
func (p *Processor) record(tx ledger.Tx, action types.ReceiptAction, before, after types.Contribution, verdict types.Verdict, note, actor string, at time.Time, credited decimal.Decimal) (string, error) {
	receiptID := ""
	if p.signer != nil {
		var prev *ledger.ReceiptRecord
		latest, err := tx.LatestReceipt(after.ID)
		switch {
		case err == nil:
			prev = &latest
		case errors.Is(err, ledger.ErrNotFound):
		default:
			return "", err
		}

		rec, err := receipts.Make(receipts.Input{
			Action:   action,
			Before:   before,
			After:    after,
			Verdict:  verdict,
			Note:     note,
			Actor:    actor,
			At:       at,
			Credited: credited,
			Prev:     prev,
		}, p.signer)
		if err != nil {
			return "", err
		}
		if err := tx.PutReceipt(rec); err != nil {
			return "", err
		}
		receiptID = rec.ReceiptID
	}

	if p.subject != "" {
		out, err := newOutboxRecord(p.subject, Event{
			Type:           eventType(after),
			ContributionID: after.ID,
			UserID:         after.UserID,
			Actor:          actor,
			Status:         after.Status,
			StakeStatus:    after.StakeStatus,
			Credited:       credited.String(),
			ReceiptID:      receiptID,
			At:             at.UTC(),
		})
		if err != nil {
			return "", err
		}
		if err := tx.PutOutbox(out); err != nil {
			return "", err
		}
	}
	return receiptID, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
