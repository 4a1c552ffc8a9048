package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/pkg/types"
)

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

const contributionColumns = `id, user_id, type, species_id, payload_json, created_at, status, stake, stake_status, reward, moderator_note, decided_at, decided_by`

const contributionSelect = `SELECT id, user_id, type, species_id, payload_json::text, created_at, status, stake, stake_status, reward, moderator_note, decided_at, decided_by FROM curator_contributions`

func (s *Store) GetContribution(id string) (types.Contribution, error) {
	return scanContribution(s.db.QueryRow(contributionSelect+` WHERE id = $1`, id))
}

func (s *Store) ListContributions(filter ledger.Filter) ([]types.Contribution, error) {
	where := []string{}
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.SpeciesID != "" {
		add("species_id = $%d", filter.SpeciesID)
	}

	query := contributionSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Contribution{}
	for rows.Next() {
		rec, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetBalance(userID string) (decimal.Decimal, error) {
	return getBalance(s.db, userID)
}

func (s *Store) ListBalances() ([]ledger.WalletRecord, error) {
	rows, err := s.db.Query(`SELECT user_id, balance, updated_at FROM curator_wallets ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.WalletRecord{}
	for rows.Next() {
		var rec ledger.WalletRecord
		if err := rows.Scan(&rec.UserID, &rec.Balance, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

const receiptColumns = `receipt_id, contribution_id, seq, action, body_json, body_digest, key_id, sig, created_at`

func (s *Store) GetReceipt(receiptID string) (ledger.ReceiptRecord, error) {
	return scanReceipt(s.db.QueryRow(`SELECT `+receiptColumns+` FROM curator_decision_receipts WHERE receipt_id = $1`, receiptID))
}

func (s *Store) ListReceipts(contributionID string) ([]ledger.ReceiptRecord, error) {
	rows, err := s.db.Query(`SELECT `+receiptColumns+` FROM curator_decision_receipts WHERE contribution_id = $1 ORDER BY seq ASC`, contributionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.ReceiptRecord{}
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) LatestReceipt(contributionID string) (ledger.ReceiptRecord, error) {
	return latestReceipt(s.db, contributionID)
}

const outboxColumns = `event_id, contribution_id, subject, payload_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`

func (s *Store) PutOutbox(rec ledger.OutboxRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutOutbox(rec) })
}

func (s *Store) GetOutbox(eventID string) (ledger.OutboxRecord, error) {
	return scanOutbox(s.db.QueryRow(`SELECT `+outboxColumns+` FROM curator_event_outbox WHERE event_id = $1`, eventID))
}

func (s *Store) ListOutboxDue(now time.Time, limit int) ([]ledger.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+outboxColumns+`
FROM curator_event_outbox
WHERE status = 'pending' AND next_attempt_at <= $1
ORDER BY created_at ASC
LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.OutboxRecord{}
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutKey(key ledger.KeyRecord) error {
	_, err := s.db.Exec(`INSERT INTO curator_keys(key_id, public_key, created_at) VALUES($1,$2,$3) ON CONFLICT(key_id) DO NOTHING`,
		key.KeyID, key.PublicKey, key.CreatedAt.UTC())
	return err
}

func (s *Store) GetKey(keyID string) (ledger.KeyRecord, error) {
	var rec ledger.KeyRecord
	row := s.db.QueryRow(`SELECT key_id, public_key, created_at FROM curator_keys WHERE key_id = $1`, keyID)
	if err := row.Scan(&rec.KeyID, &rec.PublicKey, &rec.CreatedAt); err != nil {
		return ledger.KeyRecord{}, notFound(err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

type Tx struct {
	tx *sql.Tx
}

// GetContribution locks the row until the transaction ends.
func (t *Tx) GetContribution(id string) (types.Contribution, error) {
	return scanContribution(t.tx.QueryRow(contributionSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *Tx) InsertContribution(rec types.Contribution) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	args, err := contributionArgs(rec)
	if err != nil {
		return err
	}
	res, err := t.tx.Exec(`INSERT INTO curator_contributions(`+contributionColumns+`)
VALUES($1,$2,$3,$4,$5::jsonb,$6,$7,$8,$9,$10,$11,$12,$13) ON CONFLICT(id) DO NOTHING`, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrConflict
	}
	return nil
}

// SaveContribution writes the lifecycle fields of an existing record. The
// prior state is read under FOR UPDATE so the immutable fields can be checked.
func (t *Tx) SaveContribution(rec types.Contribution) error {
	prev, err := t.GetContribution(rec.ID)
	if err != nil {
		return err
	}
	if err := ledger.CheckUpdate(prev, rec); err != nil {
		return err
	}
	args, err := contributionArgs(rec)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`UPDATE curator_contributions SET
  species_id=$2,
  payload_json=$3::jsonb,
  status=$4,
  stake_status=$5,
  moderator_note=$6,
  decided_at=$7,
  decided_by=$8
WHERE id = $1`, rec.ID, args[3], args[4], args[6], args[8], args[10], args[11], args[12])
	return err
}

func (t *Tx) GetBalance(userID string) (decimal.Decimal, error) {
	return getBalance(t.tx, userID)
}

// AddBalance is a single upsert so concurrent credits to one user never lose
// an update, whatever the isolation level.
func (t *Tx) AddBalance(userID string, amount decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(`INSERT INTO curator_wallets(user_id, balance, updated_at) VALUES($1,$2,$3)
ON CONFLICT(user_id) DO UPDATE SET
  balance=curator_wallets.balance + EXCLUDED.balance,
  updated_at=EXCLUDED.updated_at
RETURNING balance`, userID, amount, at.UTC()).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (t *Tx) LatestReceipt(contributionID string) (ledger.ReceiptRecord, error) {
	return latestReceipt(t.tx, contributionID)
}

func (t *Tx) PutReceipt(rec ledger.ReceiptRecord) error {
	if rec.ReceiptID == "" {
		return fmt.Errorf("missing receipt_id")
	}
	_, err := t.tx.Exec(`INSERT INTO curator_decision_receipts(`+receiptColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9) ON CONFLICT(receipt_id) DO NOTHING`,
		rec.ReceiptID,
		rec.ContributionID,
		rec.Seq,
		rec.Action,
		rec.BodyJSON,
		rec.BodyDigest,
		rec.KeyID,
		rec.Sig,
		rec.CreatedAt.UTC(),
	)
	return err
}

func (t *Tx) PutOutbox(rec ledger.OutboxRecord) error {
	if !json.Valid(rec.PayloadJSON) {
		return errors.New("invalid outbox payload_json")
	}
	var sentAt *time.Time
	if rec.SentAt != nil {
		v := rec.SentAt.UTC()
		sentAt = &v
	}
	_, err := t.tx.Exec(`INSERT INTO curator_event_outbox(`+outboxColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT(event_id) DO UPDATE SET
  status=EXCLUDED.status,
  attempt_count=EXCLUDED.attempt_count,
  next_attempt_at=EXCLUDED.next_attempt_at,
  last_error=EXCLUDED.last_error,
  sent_at=EXCLUDED.sent_at,
  updated_at=EXCLUDED.updated_at`,
		rec.EventID,
		rec.ContributionID,
		rec.Subject,
		rec.PayloadJSON,
		rec.Status,
		rec.AttemptCount,
		rec.NextAttemptAt.UTC(),
		rec.LastError,
		sentAt,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	return err
}

func getBalance(q queryer, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(`SELECT balance FROM curator_wallets WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func latestReceipt(q queryer, contributionID string) (ledger.ReceiptRecord, error) {
	return scanReceipt(q.QueryRow(`SELECT `+receiptColumns+` FROM curator_decision_receipts WHERE contribution_id = $1 ORDER BY seq DESC LIMIT 1`, contributionID))
}

type scanner interface {
	Scan(dest ...any) error
}

func contributionArgs(rec types.Contribution) ([]any, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, err
	}
	var stakeStatus *string
	if rec.StakeStatus != "" {
		v := string(rec.StakeStatus)
		stakeStatus = &v
	}
	reward := decimal.NullDecimal{}
	if rec.Reward != nil {
		reward = decimal.NullDecimal{Decimal: *rec.Reward, Valid: true}
	}
	var decidedAt *time.Time
	if rec.DecidedAt != nil {
		v := rec.DecidedAt.UTC()
		decidedAt = &v
	}
	return []any{
		rec.ID,
		rec.UserID,
		string(rec.Type),
		rec.SpeciesID,
		string(payload),
		rec.CreatedAt.UTC(),
		string(rec.Status),
		rec.Stake,
		stakeStatus,
		reward,
		rec.ModeratorNote,
		decidedAt,
		rec.DecidedBy,
	}, nil
}

func scanContribution(row scanner) (types.Contribution, error) {
	var (
		rec                    types.Contribution
		typ, status, payload   string
		speciesID, stakeStatus sql.NullString
		note, decidedBy        sql.NullString
		reward                 decimal.NullDecimal
		decidedAt              sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &typ, &speciesID, &payload, &rec.CreatedAt, &status, &rec.Stake, &stakeStatus, &reward, &note, &decidedAt, &decidedBy); err != nil {
		return types.Contribution{}, notFound(err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return types.Contribution{}, fmt.Errorf("contribution %s payload: %w", rec.ID, err)
	}
	rec.Type = types.ContributionType(typ)
	rec.Status = types.Status(status)
	rec.StakeStatus = types.StakeStatus(stakeStatus.String)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.SpeciesID = nullString(speciesID)
	rec.ModeratorNote = nullString(note)
	rec.DecidedBy = nullString(decidedBy)
	if reward.Valid {
		v := reward.Decimal
		rec.Reward = &v
	}
	if decidedAt.Valid {
		v := decidedAt.Time.UTC()
		rec.DecidedAt = &v
	}
	return rec, nil
}

func scanReceipt(row scanner) (ledger.ReceiptRecord, error) {
	var rec ledger.ReceiptRecord
	if err := row.Scan(&rec.ReceiptID, &rec.ContributionID, &rec.Seq, &rec.Action, &rec.BodyJSON, &rec.BodyDigest, &rec.KeyID, &rec.Sig, &rec.CreatedAt); err != nil {
		return ledger.ReceiptRecord{}, notFound(err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func scanOutbox(row scanner) (ledger.OutboxRecord, error) {
	var rec ledger.OutboxRecord
	var lastErr sql.NullString
	var sentAt sql.NullTime
	if err := row.Scan(&rec.EventID, &rec.ContributionID, &rec.Subject, &rec.PayloadJSON, &rec.Status, &rec.AttemptCount, &rec.NextAttemptAt, &lastErr, &sentAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.OutboxRecord{}, notFound(err)
	}
	rec.LastError = nullString(lastErr)
	if sentAt.Valid {
		v := sentAt.Time.UTC()
		rec.SentAt = &v
	}
	rec.NextAttemptAt = rec.NextAttemptAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return err
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
