package types

type ReceiptAction string

const (
	ActionDecide ReceiptAction = "decide"
	ActionReopen ReceiptAction = "reopen"
)

// ReceiptBody is the signed view of one moderation action. Amounts are decimal
// strings so the canonical form never contains floats.
type ReceiptBody struct {
	Schema         string        `json:"schema"`
	Action         ReceiptAction `json:"action"`
	ContributionID string        `json:"contribution_id"`
	UserID         string        `json:"user_id"`
	Actor          string        `json:"actor"`
	At             string        `json:"at"`
	PrevReceiptID  string        `json:"prev_receipt_id,omitempty"`

	Verdict Verdict `json:"verdict,omitempty"`
	Note    string  `json:"note,omitempty"`

	StatusBefore      Status      `json:"status_before"`
	StatusAfter       Status      `json:"status_after"`
	StakeStatusBefore StakeStatus `json:"stake_status_before,omitempty"`
	StakeStatusAfter  StakeStatus `json:"stake_status_after,omitempty"`

	Stake    string `json:"stake"`
	Reward   string `json:"reward"`
	Credited string `json:"credited"`
}
