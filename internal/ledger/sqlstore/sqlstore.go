package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/pkg/types"
)

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

// OpenSQLite opens dsn with a single connection. SQLite allows one writer, and
// pinning the pool to one connection makes every WithTx a serial section.
func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

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
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const contributionColumns = `id, user_id, type, species_id, payload_json, created_at, status, stake, stake_status, reward, moderator_note, decided_at, decided_by`

func (s *Store) GetContribution(id string) (types.Contribution, error) {
	return getContribution(s.db, id)
}

func (s *Store) ListContributions(filter ledger.Filter) ([]types.Contribution, error) {
	where := []string{}
	args := []any{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.SpeciesID != "" {
		where = append(where, "species_id = ?")
		args = append(args, filter.SpeciesID)
	}

	query := `SELECT ` + contributionColumns + ` FROM contributions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
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
	rows, err := s.db.Query(`SELECT user_id, balance, updated_at FROM wallets ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.WalletRecord{}
	for rows.Next() {
		var rec ledger.WalletRecord
		var balance, updated string
		if err := rows.Scan(&rec.UserID, &balance, &updated); err != nil {
			return nil, err
		}
		if rec.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("wallet %s: %w", rec.UserID, err)
		}
		if rec.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetReceipt(receiptID string) (ledger.ReceiptRecord, error) {
	row := s.db.QueryRow(`SELECT `+receiptColumns+` FROM decision_receipts WHERE receipt_id = ?`, receiptID)
	return scanReceipt(row)
}

func (s *Store) ListReceipts(contributionID string) ([]ledger.ReceiptRecord, error) {
	rows, err := s.db.Query(`SELECT `+receiptColumns+` FROM decision_receipts WHERE contribution_id = ? ORDER BY seq ASC`, contributionID)
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

func (s *Store) PutOutbox(rec ledger.OutboxRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutOutbox(rec) })
}

func (s *Store) GetOutbox(eventID string) (ledger.OutboxRecord, error) {
	row := s.db.QueryRow(`SELECT `+outboxColumns+` FROM event_outbox WHERE event_id = ?`, eventID)
	return scanOutbox(row)
}

func (s *Store) ListOutboxDue(now time.Time, limit int) ([]ledger.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+outboxColumns+`
FROM event_outbox
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY created_at ASC
LIMIT ?`, formatTime(now), limit)
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
	_, err := s.db.Exec(`INSERT INTO keys(key_id, public_key, created_at) VALUES(?,?,?) ON CONFLICT(key_id) DO NOTHING`,
		key.KeyID, key.PublicKey, formatTime(key.CreatedAt))
	return err
}

func (s *Store) GetKey(keyID string) (ledger.KeyRecord, error) {
	var rec ledger.KeyRecord
	var created string
	row := s.db.QueryRow(`SELECT key_id, public_key, created_at FROM keys WHERE key_id = ?`, keyID)
	if err := row.Scan(&rec.KeyID, &rec.PublicKey, &created); err != nil {
		return ledger.KeyRecord{}, notFound(err)
	}
	var err error
	rec.CreatedAt, err = parseTime(created)
	return rec, err
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) GetContribution(id string) (types.Contribution, error) {
	return getContribution(t.tx, id)
}

func (t *Tx) InsertContribution(rec types.Contribution) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	args, err := contributionArgs(rec)
	if err != nil {
		return err
	}
	res, err := t.tx.Exec(`INSERT INTO contributions(`+contributionColumns+`)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`, args...)
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

// SaveContribution writes the lifecycle fields of an existing record.
// Identity, stake and reward are never part of the update.
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
	_, err = t.tx.Exec(`UPDATE contributions SET
  species_id=?,
  payload_json=?,
  status=?,
  stake_status=?,
  moderator_note=?,
  decided_at=?,
  decided_by=?
WHERE id = ?`, args[3], args[4], args[6], args[8], args[10], args[11], args[12], rec.ID)
	return err
}

func (t *Tx) GetBalance(userID string) (decimal.Decimal, error) {
	return getBalance(t.tx, userID)
}

func (t *Tx) AddBalance(userID string, amount decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	current, err := getBalance(t.tx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	next := current.Add(amount)
	_, err = t.tx.Exec(`INSERT INTO wallets(user_id, balance, updated_at) VALUES(?,?,?)
ON CONFLICT(user_id) DO UPDATE SET balance=excluded.balance, updated_at=excluded.updated_at`,
		userID, next.String(), formatTime(at))
	if err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

func (t *Tx) LatestReceipt(contributionID string) (ledger.ReceiptRecord, error) {
	return latestReceipt(t.tx, contributionID)
}

func (t *Tx) PutReceipt(rec ledger.ReceiptRecord) error {
	if rec.ReceiptID == "" {
		return fmt.Errorf("missing receipt_id")
	}
	_, err := t.tx.Exec(`INSERT INTO decision_receipts(`+receiptColumns+`)
VALUES(?,?,?,?,?,?,?,?,?) ON CONFLICT(receipt_id) DO NOTHING`,
		rec.ReceiptID,
		rec.ContributionID,
		rec.Seq,
		rec.Action,
		rec.BodyJSON,
		rec.BodyDigest,
		rec.KeyID,
		rec.Sig,
		formatTime(rec.CreatedAt),
	)
	return err
}

func (t *Tx) PutOutbox(rec ledger.OutboxRecord) error {
	var sentAt *string
	if rec.SentAt != nil {
		v := formatTime(*rec.SentAt)
		sentAt = &v
	}
	_, err := t.tx.Exec(`INSERT INTO event_outbox(`+outboxColumns+`)
VALUES(?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(event_id) DO UPDATE SET
  status=excluded.status,
  attempt_count=excluded.attempt_count,
  next_attempt_at=excluded.next_attempt_at,
  last_error=excluded.last_error,
  sent_at=excluded.sent_at,
  updated_at=excluded.updated_at`,
		rec.EventID,
		rec.ContributionID,
		rec.Subject,
		rec.PayloadJSON,
		rec.Status,
		rec.AttemptCount,
		formatTime(rec.NextAttemptAt),
		rec.LastError,
		sentAt,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	return err
}

func getContribution(q queryer, id string) (types.Contribution, error) {
	row := q.QueryRow(`SELECT `+contributionColumns+` FROM contributions WHERE id = ?`, id)
	return scanContribution(row)
}

func getBalance(q queryer, userID string) (decimal.Decimal, error) {
	var balance string
	err := q.QueryRow(`SELECT balance FROM wallets WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(balance)
}

func latestReceipt(q queryer, contributionID string) (ledger.ReceiptRecord, error) {
	row := q.QueryRow(`SELECT `+receiptColumns+` FROM decision_receipts WHERE contribution_id = ? ORDER BY seq DESC LIMIT 1`, contributionID)
	return scanReceipt(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func contributionArgs(rec types.Contribution) ([]any, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, err
	}
	var stakeStatus, reward, decidedAt *string
	if rec.StakeStatus != "" {
		v := string(rec.StakeStatus)
		stakeStatus = &v
	}
	if rec.Reward != nil {
		v := rec.Reward.String()
		reward = &v
	}
	if rec.DecidedAt != nil {
		v := formatTime(*rec.DecidedAt)
		decidedAt = &v
	}
	return []any{
		rec.ID,
		rec.UserID,
		string(rec.Type),
		rec.SpeciesID,
		string(payload),
		formatTime(rec.CreatedAt),
		string(rec.Status),
		rec.Stake.String(),
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
		created, stake         string
		speciesID, stakeStatus sql.NullString
		reward, note           sql.NullString
		decidedAt, decidedBy   sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &typ, &speciesID, &payload, &created, &status, &stake, &stakeStatus, &reward, &note, &decidedAt, &decidedBy); err != nil {
		return types.Contribution{}, notFound(err)
	}
	rec.Type = types.ContributionType(typ)
	rec.Status = types.Status(status)
	rec.StakeStatus = types.StakeStatus(stakeStatus.String)
	rec.SpeciesID = nullString(speciesID)
	rec.ModeratorNote = nullString(note)
	rec.DecidedBy = nullString(decidedBy)
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return types.Contribution{}, fmt.Errorf("contribution %s payload: %w", rec.ID, err)
	}

	var err error
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return types.Contribution{}, err
	}
	if rec.Stake, err = decimal.NewFromString(stake); err != nil {
		return types.Contribution{}, fmt.Errorf("contribution %s stake: %w", rec.ID, err)
	}
	if reward.Valid {
		v, err := decimal.NewFromString(reward.String)
		if err != nil {
			return types.Contribution{}, fmt.Errorf("contribution %s reward: %w", rec.ID, err)
		}
		rec.Reward = &v
	}
	if decidedAt.Valid {
		v, err := parseTime(decidedAt.String)
		if err != nil {
			return types.Contribution{}, err
		}
		rec.DecidedAt = &v
	}
	return rec, nil
}

const receiptColumns = `receipt_id, contribution_id, seq, action, body_json, body_digest, key_id, sig, created_at`

func scanReceipt(row scanner) (ledger.ReceiptRecord, error) {
	var rec ledger.ReceiptRecord
	var created string
	if err := row.Scan(&rec.ReceiptID, &rec.ContributionID, &rec.Seq, &rec.Action, &rec.BodyJSON, &rec.BodyDigest, &rec.KeyID, &rec.Sig, &created); err != nil {
		return ledger.ReceiptRecord{}, notFound(err)
	}
	var err error
	rec.CreatedAt, err = parseTime(created)
	return rec, err
}

const outboxColumns = `event_id, contribution_id, subject, payload_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`

func scanOutbox(row scanner) (ledger.OutboxRecord, error) {
	var rec ledger.OutboxRecord
	var next, created, updated string
	var lastErr, sentAt sql.NullString
	if err := row.Scan(&rec.EventID, &rec.ContributionID, &rec.Subject, &rec.PayloadJSON, &rec.Status, &rec.AttemptCount, &next, &lastErr, &sentAt, &created, &updated); err != nil {
		return ledger.OutboxRecord{}, notFound(err)
	}
	rec.LastError = nullString(lastErr)

	var err error
	if rec.NextAttemptAt, err = parseTime(next); err != nil {
		return ledger.OutboxRecord{}, err
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return ledger.OutboxRecord{}, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return ledger.OutboxRecord{}, err
	}
	if sentAt.Valid {
		v, err := parseTime(sentAt.String)
		if err != nil {
			return ledger.OutboxRecord{}, err
		}
		rec.SentAt = &v
	}
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

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}
