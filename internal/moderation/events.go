package moderation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/pkg/types"
)

const (
	EventApproved = "contribution.approved"
	EventRejected = "contribution.rejected"
	EventReopened = "contribution.reopened"
)

// Event is the message published for every committed decide or reopen.
type Event struct {
	EventID        string            `json:"event_id"`
	Type           string            `json:"type"`
	ContributionID string            `json:"contribution_id"`
	UserID         string            `json:"user_id"`
	Actor          string            `json:"actor"`
	Status         types.Status      `json:"status"`
	StakeStatus    types.StakeStatus `json:"stake_status,omitempty"`
	Credited       string            `json:"credited"`
	ReceiptID      string            `json:"receipt_id,omitempty"`
	At             time.Time         `json:"at"`
}

func eventType(rec types.Contribution) string {
	switch rec.Status {
	case types.StatusApproved:
		return EventApproved
	case types.StatusRejected:
		return EventRejected
	default:
		return EventReopened
	}
}

func newOutboxRecord(subject string, ev Event) (ledger.OutboxRecord, error) {
	ev.EventID = uuid.NewString()
	payload, err := json.Marshal(ev)
	if err != nil {
		return ledger.OutboxRecord{}, err
	}
	return ledger.OutboxRecord{
		EventID:        ev.EventID,
		ContributionID: ev.ContributionID,
		Subject:        subject,
		PayloadJSON:    payload,
		Status:         "pending",
		NextAttemptAt:  ev.At,
		CreatedAt:      ev.At,
		UpdatedAt:      ev.At,
	}, nil
}
