// Package outbox delivers decision events that were enqueued in the same
// transaction as the state change they describe.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/davidahmann/curator/internal/ledger"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// Publisher hands one event to the transport. EventID is stable across
// retries so consumers can drop duplicates.
type Publisher interface {
	Publish(ctx context.Context, subject, eventID string, payload []byte) error
}

// Store is the subset of ledger.Store the worker needs.
type Store interface {
	ListOutboxDue(now time.Time, limit int) ([]ledger.OutboxRecord, error)
	PutOutbox(rec ledger.OutboxRecord) error
}

// ProcessDue publishes due pending rows and marks them sent. A failed publish
// schedules the row again with exponential backoff.
func ProcessDue(ctx context.Context, store Store, pub Publisher, now time.Time, limit int) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("missing store")
	}
	if pub == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	now = now.UTC()

	due, err := store.ListOutboxDue(now, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if rec.Status != StatusPending {
			continue
		}

		if !json.Valid(rec.PayloadJSON) {
			// Retrying cannot fix a bad payload.
			msg := "invalid payload_json"
			rec.LastError = &msg
			markSent(&rec, now)
			if err := store.PutOutbox(rec); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		if err := pub.Publish(ctx, rec.Subject, rec.EventID, rec.PayloadJSON); err != nil {
			rec.NextAttemptAt = now.Add(nextAttempt(rec.AttemptCount))
			rec.AttemptCount++
			msg := err.Error()
			rec.LastError = &msg
			rec.UpdatedAt = now
			publishTotal.WithLabelValues("retry").Inc()
			if err := store.PutOutbox(rec); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		rec.AttemptCount++
		markSent(&rec, now)
		publishTotal.WithLabelValues("sent").Inc()
		if err := store.PutOutbox(rec); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

func markSent(rec *ledger.OutboxRecord, now time.Time) {
	sentAt := now
	rec.Status = StatusSent
	rec.SentAt = &sentAt
	rec.UpdatedAt = now
}

func nextAttempt(attemptCount int) time.Duration {
	// 5s, 10s, 20s, 40s, 80s, 160s, then 5m.
	base := 5 * time.Second
	max := 5 * time.Minute
	if attemptCount <= 0 {
		return base
	}
	if attemptCount >= 7 {
		return max
	}
	d := base << attemptCount
	if d > max {
		return max
	}
	return d
}

// RunWorker polls and processes due rows until ctx is cancelled.
func RunWorker(ctx context.Context, store Store, pub Publisher, pollInterval time.Duration, logger *slog.Logger) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := ProcessDue(ctx, store, pub, now, 25)
			if err != nil && ctx.Err() == nil {
				logger.Error("outbox pass failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("outbox pass", "processed", n)
			}
		}
	}
}
