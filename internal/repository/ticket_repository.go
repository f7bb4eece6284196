package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

// TicketRepo stores issued tickets.  The unique key on
// (reservation_id, tier_id) makes issuance idempotent.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the given database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

const ticketColumns = `id, reservation_id, event_id, user_id, tier_id, tier_name, quantity,
	unit_price_cents, total_price_cents, status, payment_status, purchase_date, check_in_date,
	payment_method, payment_transaction_id, updated_at`

// InsertTickets writes tickets in one statement.  A ticket whose
// reservation and tier already have a row is skipped.
func (r *TicketRepo) InsertTickets(ctx context.Context, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	query := `INSERT INTO tickets (` + ticketColumns + `) VALUES `
	args := make([]any, 0, len(tickets)*16)
	for i, t := range tickets {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		var checkIn sql.NullTime
		if t.CheckInDate != nil {
			checkIn = nullTime(*t.CheckInDate)
		}
		args = append(args,
			t.ID, t.ReservationID, t.EventID, t.UserID, t.TierID, t.TierName, t.Quantity,
			t.UnitPriceCents, t.TotalPriceCents, string(t.Status), string(t.PaymentStatus),
			t.PurchaseDate.UTC(), checkIn, t.PaymentMethod, t.PaymentTransactionID, t.UpdatedAt.UTC())
	}
	query += ` ON DUPLICATE KEY UPDATE id = id`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return classify("insert tickets", err)
	}
	return nil
}

func scanTicket(row rowScanner) (model.Ticket, error) {
	var t model.Ticket
	var status, payment string
	var checkIn sql.NullTime
	if err := row.Scan(&t.ID, &t.ReservationID, &t.EventID, &t.UserID, &t.TierID, &t.TierName,
		&t.Quantity, &t.UnitPriceCents, &t.TotalPriceCents, &status, &payment, &t.PurchaseDate,
		&checkIn, &t.PaymentMethod, &t.PaymentTransactionID, &t.UpdatedAt); err != nil {
		return model.Ticket{}, err
	}
	t.Status = model.TicketStatus(status)
	t.PaymentStatus = model.PaymentStatus(payment)
	t.PurchaseDate = t.PurchaseDate.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if checkIn.Valid {
		d := checkIn.Time.UTC()
		t.CheckInDate = &d
	}
	return t, nil
}

func (r *TicketRepo) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`
	t, err := scanTicket(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, &model.NotFoundError{Kind: "ticket", ID: id}
	}
	if err != nil {
		return model.Ticket{}, classify("get ticket", err)
	}
	return t, nil
}

func (r *TicketRepo) ListTicketsByReservation(ctx context.Context, reservationID string) ([]model.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE reservation_id = ? ORDER BY purchase_date, id`
	return r.list(ctx, "list reservation tickets", q, reservationID)
}

// ListTickets returns tickets matching q, newest first.
func (r *TicketRepo) ListTickets(ctx context.Context, q model.TicketQuery) ([]model.Ticket, error) {
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
	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = model.MaxPageSize
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ` + cond + ` ORDER BY purchase_date DESC, id DESC LIMIT ?`
	args = append(args, limit)
	return r.list(ctx, "list tickets", query, args...)
}

func (r *TicketRepo) list(ctx context.Context, op, query string, args ...any) ([]model.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	out := []model.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// TransitionTicket is a compare-and-set on the ticket status.
func (r *TicketRepo) TransitionTicket(ctx context.Context, t model.TicketTransition) (bool, error) {
	var checkIn sql.NullTime
	if t.CheckInDate != nil {
		checkIn = nullTime(*t.CheckInDate)
	}
	const q = `UPDATE tickets
		SET status = ?,
		    payment_status = CASE WHEN ? <> '' THEN ? ELSE payment_status END,
		    check_in_date = COALESCE(?, check_in_date),
		    updated_at = ?
		WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q,
		string(t.To), string(t.PaymentStatus), string(t.PaymentStatus), checkIn, t.At.UTC(), t.ID, string(t.From))
	if err != nil {
		return false, classify("transition ticket", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("transition ticket", err)
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM tickets WHERE id = ?`, t.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &model.NotFoundError{Kind: "ticket", ID: t.ID}
	}
	if err != nil {
		return false, classify("transition ticket", err)
	}
	return false, nil
}
