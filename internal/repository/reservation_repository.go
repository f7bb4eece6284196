package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

// ReservationRepo is the MySQL reservation ledger.  A reservation's lines
// are stored in reservation_lines and are immutable once written; only
// status, payment_reference and updated_at change afterwards, and only
// through TransitionReservation.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, event_id, user_id, status, expires_at, payment_reference, created_at, updated_at`

// InsertReservation writes the reservation and its lines in one
// transaction.
func (r *ReservationRepo) InsertReservation(ctx context.Context, res model.Reservation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin insert reservation", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q,
		res.ID, res.EventID, res.UserID, string(res.Status), res.ExpiresAt.UTC(),
		res.PaymentReference, res.CreatedAt.UTC(), res.UpdatedAt.UTC(),
	); err != nil {
		if isDuplicate(err) {
			return &model.ValidationError{Field: "id", Message: "reservation " + res.ID + " already exists"}
		}
		return classify("insert reservation", err)
	}

	if len(res.Lines) > 0 {
		query := `INSERT INTO reservation_lines (reservation_id, position, tier_id, name, quantity, unit_price_cents) VALUES `
		args := make([]any, 0, len(res.Lines)*6)
		for i, l := range res.Lines {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?)"
			args = append(args, res.ID, i, l.TierID, l.Name, l.Quantity, l.UnitPriceCents)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return classify("insert reservation lines", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("commit insert reservation", err)
	}
	return nil
}

func scanReservation(row rowScanner) (model.Reservation, error) {
	var res model.Reservation
	var status string
	if err := row.Scan(&res.ID, &res.EventID, &res.UserID, &status, &res.ExpiresAt,
		&res.PaymentReference, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return model.Reservation{}, err
	}
	res.Status = model.ReservationStatus(status)
	res.ExpiresAt = res.ExpiresAt.UTC()
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	res.Lines = []model.ReservationLine{}
	return res, nil
}

// GetReservation loads a reservation with its lines.
func (r *ReservationRepo) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, &model.NotFoundError{Kind: "reservation", ID: id}
	}
	if err != nil {
		return model.Reservation{}, classify("get reservation", err)
	}
	lines, err := r.loadLines(ctx, []string{res.ID})
	if err != nil {
		return model.Reservation{}, err
	}
	res.Lines = lines[res.ID]
	return res, nil
}

func (r *ReservationRepo) loadLines(ctx context.Context, ids []string) (map[string][]model.ReservationLine, error) {
	out := make(map[string][]model.ReservationLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := `SELECT reservation_id, tier_id, name, quantity, unit_price_cents
		FROM reservation_lines WHERE reservation_id IN (` + placeholders(len(ids)) + `)
		ORDER BY reservation_id, position`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("load reservation lines", err)
	}
	defer rows.Close()
	for rows.Next() {
		var resID string
		var l model.ReservationLine
		if err := rows.Scan(&resID, &l.TierID, &l.Name, &l.Quantity, &l.UnitPriceCents); err != nil {
			return nil, classify("scan reservation line", err)
		}
		out[resID] = append(out[resID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load reservation lines", err)
	}
	return out, nil
}

// TransitionReservation moves a reservation from t.From to t.To in a single
// conditional UPDATE.  The expiry guards are evaluated against t.At in the
// same statement, so a confirmation and an expiry racing on the same hold
// cannot both apply.
func (r *ReservationRepo) TransitionReservation(ctx context.Context, t model.ReservationTransition) (bool, error) {
	q := `UPDATE reservations
		SET status = ?, updated_at = ?,
		    payment_reference = CASE WHEN ? <> '' THEN ? ELSE payment_reference END
		WHERE id = ? AND status = ?`
	args := []any{string(t.To), t.At.UTC(), t.PaymentReference, t.PaymentReference, t.ID, string(t.From)}
	if t.RequireUnexpired {
		q += ` AND expires_at > ?`
		args = append(args, t.At.UTC())
	}
	if t.RequireExpired {
		q += ` AND expires_at <= ?`
		args = append(args, t.At.UTC())
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, classify("transition reservation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("transition reservation", err)
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM reservations WHERE id = ?`, t.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &model.NotFoundError{Kind: "reservation", ID: t.ID}
	}
	if err != nil {
		return false, classify("transition reservation", err)
	}
	return false, nil
}

// ListExpiredPending returns pending reservations whose hold lapsed at or
// before now, oldest first.  It uses ix_reservations_status_expires.
func (r *ReservationRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`
	return r.list(ctx, "list expired reservations", q, string(model.ReservationPending), now.UTC(), limit)
}

// ListReservations returns reservations matching q, newest first.
func (r *ReservationRepo) ListReservations(ctx context.Context, q model.ReservationQuery) ([]model.Reservation, error) {
	where := []string{}
	args := []any{}
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.EventID != "" {
		where = append(where, "event_id = ?")
		args = append(args, q.EventID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = model.MaxPageSize
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` + cond + ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	return r.list(ctx, "list reservations", query, args...)
}

func (r *ReservationRepo) list(ctx context.Context, op, query string, args ...any) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	out := []model.Reservation{}
	ids := []string{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			rows.Close()
			return nil, classify(op, err)
		}
		out = append(out, res)
		ids = append(ids, res.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, classify(op, err)
	}
	rows.Close()

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if ls, ok := lines[out[i].ID]; ok {
			out[i].Lines = ls
		}
	}
	return out, nil
}
