package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/internal/auth"
	"github.com/davidahmann/curator/internal/catalog"
	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/internal/moderation"
	"github.com/davidahmann/curator/internal/receipts"
	"github.com/davidahmann/curator/internal/stats"
	"github.com/davidahmann/curator/internal/wallet"
	"github.com/davidahmann/curator/pkg/types"
)

type Handler struct {
	Auth      auth.Authenticator
	Store     ledger.Store
	Processor *moderation.Processor
	Submitter *moderation.Submitter
	Wallets   *wallet.Ledger
	// Catalog is optional. Labels are omitted without it.
	Catalog *catalog.Catalog
	Logger  *slog.Logger
}

type contributionView struct {
	types.Contribution
	SpeciesLabel string `json:"species_label,omitempty"`
}

func (h *Handler) view(rec types.Contribution) contributionView {
	out := contributionView{Contribution: rec}
	if rec.SpeciesID != nil {
		out.SpeciesLabel = h.Catalog.Label(*rec.SpeciesID)
	}
	return out
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	UserID    string           `json:"user_id"`
	Type      string           `json:"type"`
	SpeciesID *string          `json:"species_id"`
	Payload   types.Payload    `json:"payload"`
	Stake     decimal.Decimal  `json:"stake"`
	Reward    *decimal.Decimal `json:"reward"`
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.Submitter == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "submission not configured")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	claims := claimsFrom(r.Context())
	switch {
	case req.UserID == "":
		req.UserID = claims.Subject
	case req.UserID != claims.Subject && !claims.Operator:
		writeError(w, http.StatusForbidden, "FORBIDDEN", "cannot submit for another user")
		return
	}

	rec, err := h.Submitter.Submit(r.Context(), moderation.SubmitRequest{
		UserID:    req.UserID,
		Type:      types.ContributionType(req.Type),
		SpeciesID: req.SpeciesID,
		Payload:   req.Payload,
		Stake:     req.Stake,
		Reward:    req.Reward,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(rec))
}

func (h *Handler) ListContributions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.Filter{
		Status:    types.Status(q.Get("status")),
		Type:      types.ContributionType(q.Get("type")),
		UserID:    q.Get("user_id"),
		SpeciesID: q.Get("species_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", "unknown status")
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", "unknown type")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_FILTER", "invalid limit")
			return
		}
		filter.Limit = limit
	}

	recs, err := h.Store.ListContributions(filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]contributionView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.view(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"contributions": out})
}

func (h *Handler) GetContribution(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetContribution(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(rec))
}

type decideRequest struct {
	IDs     []string `json:"ids"`
	Verdict string   `json:"verdict"`
	Note    string   `json:"note"`
}

type decideItem struct {
	OK          bool              `json:"ok"`
	ErrorCode   string            `json:"error_code,omitempty"`
	Error       string            `json:"error,omitempty"`
	Status      types.Status      `json:"status,omitempty"`
	StakeStatus types.StakeStatus `json:"stake_status,omitempty"`
	Credited    string            `json:"credited,omitempty"`
	ReceiptID   string            `json:"receipt_id,omitempty"`
}

// Decide always answers 200 with one entry per id. Per-id failures are in
// the body.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	if h.Processor == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "decisions not configured")
		return
	}
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "MISSING_IDS", "ids must not be empty")
		return
	}

	res := h.Processor.Decide(r.Context(), moderation.DecideRequest{
		IDs:     req.IDs,
		Verdict: types.Verdict(req.Verdict),
		Note:    req.Note,
		Actor:   claimsFrom(r.Context()).Subject,
		At:      time.Now().UTC(),
	})

	items := make(map[string]decideItem, len(res))
	for id, item := range res {
		if item.Err != nil {
			items[id] = decideItem{ErrorCode: moderation.Code(item.Err), Error: item.Err.Error()}
			continue
		}
		out := decideItem{OK: true, Credited: item.Credited.String(), ReceiptID: item.ReceiptID}
		if item.Record != nil {
			out.Status = item.Record.Status
			out.StakeStatus = item.Record.StakeStatus
		}
		items[id] = out
	}
	failed := res.Failed()
	sort.Strings(failed)
	writeJSON(w, http.StatusOK, map[string]any{"results": items, "failed": failed})
}

func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	if h.Processor == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "decisions not configured")
		return
	}
	rec, err := h.Processor.Reopen(r.Context(), chi.URLParam(r, "id"), claimsFrom(r.Context()).Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(rec))
}

type receiptView struct {
	ReceiptID string          `json:"receipt_id"`
	Seq       int64           `json:"seq"`
	Action    string          `json:"action"`
	KeyID     string          `json:"key_id"`
	CreatedAt time.Time       `json:"created_at"`
	Body      json.RawMessage `json:"body"`
}

func (h *Handler) Receipts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetContribution(id); err != nil {
		writeDomainError(w, err)
		return
	}
	recs, err := h.Store.ListReceipts(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]receiptView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, receiptView{
			ReceiptID: rec.ReceiptID,
			Seq:       rec.Seq,
			Action:    rec.Action,
			KeyID:     rec.KeyID,
			CreatedAt: rec.CreatedAt,
			Body:      json.RawMessage(rec.BodyJSON),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"contribution_id": id, "receipts": out})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptID")
	res, err := receipts.VerifyStored(h.Store, receiptID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "receipt not found")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	body := map[string]any{
		"receipt_id": receiptID,
		"valid":      res.Valid,
	}
	if res.Error != "" {
		body["error"] = res.Error
	}
	if res.Valid {
		body["receipt"] = res.Body
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	wallets := h.Wallets
	if wallets == nil {
		wallets = wallet.New(h.Store)
	}
	bal, err := wallets.BalanceOf(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "balance": bal.String()})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Store.ListContributions(ledger.Filter{})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Compute(recs))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
