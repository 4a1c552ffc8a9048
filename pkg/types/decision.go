package types

type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

func (v Verdict) Valid() bool {
	return v == VerdictApprove || v == VerdictReject
}

// Target is the status a verdict moves a pending contribution to.
func (v Verdict) Target() Status {
	switch v {
	case VerdictApprove:
		return StatusApproved
	case VerdictReject:
		return StatusRejected
	default:
		return ""
	}
}
