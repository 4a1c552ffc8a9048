package moderation

import (
	"errors"

	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/internal/wallet"
	"github.com/davidahmann/curator/pkg/types"
)

var (
	ErrNotFound       = ledger.ErrNotFound
	ErrInvalidAmount  = wallet.ErrInvalidAmount
	ErrInvalidUser    = wallet.ErrInvalidUser
	ErrInvalidState   = errors.New("invalid state transition")
	ErrInvalidVerdict = errors.New("invalid verdict")
	ErrAlreadyDecided = errors.New("contribution already decided")
	ErrUnknownSpecies = errors.New("unknown species")
)

// Code maps an error to a stable machine-readable code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrInvalidVerdict):
		return "INVALID_VERDICT"
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrInvalidUser):
		return "INVALID_USER"
	case errors.Is(err, ErrAlreadyDecided):
		return "ALREADY_DECIDED"
	case errors.Is(err, ErrUnknownSpecies):
		return "UNKNOWN_SPECIES"
	case errors.Is(err, types.ErrInvalidContribution):
		return "INVALID_CONTRIBUTION"
	case errors.Is(err, ledger.ErrConflict):
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}
