// Package receipts builds and verifies signed moderation receipts. Each
// decide or reopen produces one receipt, chained to the previous receipt for
// the same contribution, so the audit trail survives a reopen clearing the
// record's own decision stamps.
package receipts

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/internal/crypto"
	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/pkg/types"
)

const Schema = "curator.receipt.v1"

var (
	ErrDigestMismatch = errors.New("receipt digest mismatch")
	ErrSignature      = errors.New("receipt signature invalid")
	ErrUnknownKey     = errors.New("receipt signing key unknown")
)

type Input struct {
	Action  types.ReceiptAction
	Before  types.Contribution
	After   types.Contribution
	Verdict types.Verdict
	Note    string
	Actor   string
	At      time.Time

	// Credited is the amount added to the contributor's wallet by this action.
	Credited decimal.Decimal

	// Prev is the latest receipt for the contribution, nil for the first.
	Prev *ledger.ReceiptRecord
}

// Make canonicalizes, hashes and signs the receipt body. The receipt id is
// the body digest.
func Make(in Input, signer crypto.Signer) (ledger.ReceiptRecord, error) {
	if signer == nil {
		return ledger.ReceiptRecord{}, fmt.Errorf("missing signer")
	}
	if in.Before.ID == "" || in.Before.ID != in.After.ID {
		return ledger.ReceiptRecord{}, fmt.Errorf("receipt before/after mismatch")
	}
	switch in.Action {
	case types.ActionDecide, types.ActionReopen:
	default:
		return ledger.ReceiptRecord{}, fmt.Errorf("invalid receipt action: %s", in.Action)
	}

	body := types.ReceiptBody{
		Schema:            Schema,
		Action:            in.Action,
		ContributionID:    in.After.ID,
		UserID:            in.After.UserID,
		Actor:             in.Actor,
		At:                in.At.UTC().Format(time.RFC3339Nano),
		Verdict:           in.Verdict,
		Note:              in.Note,
		StatusBefore:      in.Before.Status,
		StatusAfter:       in.After.Status,
		StakeStatusBefore: in.Before.StakeStatus,
		StakeStatusAfter:  in.After.StakeStatus,
		Stake:             in.After.Stake.String(),
		Reward:            in.After.EffectiveReward().String(),
		Credited:          in.Credited.String(),
	}
	seq := int64(1)
	if in.Prev != nil {
		body.PrevReceiptID = in.Prev.ReceiptID
		seq = in.Prev.Seq + 1
	}

	signed, err := crypto.SignDocument(signer, body)
	if err != nil {
		return ledger.ReceiptRecord{}, err
	}

	return ledger.ReceiptRecord{
		ReceiptID:      signed.ID(),
		ContributionID: in.After.ID,
		Seq:            seq,
		Action:         string(in.Action),
		BodyJSON:       signed.Body,
		BodyDigest:     signed.ID(),
		KeyID:          signed.KeyID,
		Sig:            signed.Sig,
		CreatedAt:      in.At.UTC(),
	}, nil
}

// Verify validates digest consistency and signature.
func Verify(rec ledger.ReceiptRecord, publicKey ed25519.PublicKey) error {
	digest := crypto.DigestWithPrefix(rec.BodyJSON)
	if rec.BodyDigest != digest || rec.ReceiptID != digest {
		return ErrDigestMismatch
	}
	err := crypto.VerifyDocument(publicKey, rec.BodyJSON, rec.BodyDigest, rec.Sig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, crypto.ErrDigestMismatch):
		return ErrDigestMismatch
	case errors.Is(err, crypto.ErrBadSignature):
		return ErrSignature
	default:
		return err
	}
}

func Decode(rec ledger.ReceiptRecord) (types.ReceiptBody, error) {
	var body types.ReceiptBody
	if err := json.Unmarshal(rec.BodyJSON, &body); err != nil {
		return types.ReceiptBody{}, fmt.Errorf("decode receipt %s: %w", rec.ReceiptID, err)
	}
	return body, nil
}

// KeyStore is the subset of ledger.Store needed to resolve signing keys.
type KeyStore interface {
	GetReceipt(receiptID string) (ledger.ReceiptRecord, error)
	GetKey(keyID string) (ledger.KeyRecord, error)
}

type Verification struct {
	Receipt ledger.ReceiptRecord
	Body    types.ReceiptBody
	Valid   bool
	Error   string
}

// VerifyStored loads a receipt and its key from the store and checks it. A
// failing check is reported in the result, not as an error.
func VerifyStored(store KeyStore, receiptID string) (Verification, error) {
	rec, err := store.GetReceipt(receiptID)
	if err != nil {
		return Verification{}, err
	}
	out := Verification{Receipt: rec}

	key, err := store.GetKey(rec.KeyID)
	if errors.Is(err, ledger.ErrNotFound) {
		out.Error = ErrUnknownKey.Error()
		return out, nil
	}
	if err != nil {
		return Verification{}, err
	}

	if err := Verify(rec, ed25519.PublicKey(key.PublicKey)); err != nil {
		out.Error = err.Error()
		return out, nil
	}
	body, err := Decode(rec)
	if err != nil {
		out.Error = err.Error()
		return out, nil
	}
	out.Body = body
	out.Valid = true
	return out, nil
}

// RegisterKey publishes the signer's public key so stored receipts can be
// verified later.
func RegisterKey(store interface{ PutKey(ledger.KeyRecord) error }, kp crypto.KeyPair, now time.Time) error {
	return store.PutKey(ledger.KeyRecord{KeyID: kp.ID, PublicKey: []byte(kp.Public), CreatedAt: now.UTC()})
}
