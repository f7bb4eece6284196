package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

// EventRepo stores events and their tiers.  It is the MySQL inventory
// store: tier counters live in event_tiers and only AdjustAvailability
// writes available_quantity after the event is created.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

// CreateEvent inserts the event row and all of its tiers in one
// transaction.
func (r *EventRepo) CreateEvent(ctx context.Context, ev model.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin create event", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO events (id, name, description, venue, starts_at, ends_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q,
		ev.ID, ev.Name, ev.Description, ev.Venue,
		nullTime(ev.StartsAt), nullTime(ev.EndsAt), ev.CreatedAt.UTC(), ev.UpdatedAt.UTC(),
	); err != nil {
		if isDuplicate(err) {
			return &model.ValidationError{Field: "id", Message: "event " + ev.ID + " already exists"}
		}
		return classify("insert event", err)
	}

	if len(ev.Tiers) > 0 {
		query := `INSERT INTO event_tiers (id, event_id, position, name, unit_price_cents, total_quantity, available_quantity) VALUES `
		args := make([]any, 0, len(ev.Tiers)*7)
		for i, t := range ev.Tiers {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?, ?)"
			args = append(args, t.ID, ev.ID, i, t.Name, t.UnitPriceCents, t.TotalQuantity, t.AvailableQuantity)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return classify("insert tiers", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("commit create event", err)
	}
	return nil
}

// GetEvent loads an event with its tiers in display order.
func (r *EventRepo) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	const q = `SELECT id, name, description, venue, starts_at, ends_at, created_at, updated_at
		FROM events WHERE id = ?`
	ev, err := scanEvent(r.db.QueryRowContext(ctx, q, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, &model.NotFoundError{Kind: "event", ID: eventID}
	}
	if err != nil {
		return model.Event{}, classify("get event", err)
	}
	tiers, err := r.loadTiers(ctx, []string{ev.ID})
	if err != nil {
		return model.Event{}, err
	}
	ev.Tiers = tiers[ev.ID]
	return ev, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.Event, error) {
	var ev model.Event
	var starts, ends sql.NullTime
	if err := row.Scan(&ev.ID, &ev.Name, &ev.Description, &ev.Venue, &starts, &ends, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return model.Event{}, err
	}
	ev.StartsAt = fromNullTime(starts)
	ev.EndsAt = fromNullTime(ends)
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
	ev.Tiers = []model.Tier{}
	return ev, nil
}

// loadTiers returns the tiers of every listed event keyed by event ID.
func (r *EventRepo) loadTiers(ctx context.Context, eventIDs []string) (map[string][]model.Tier, error) {
	out := make(map[string][]model.Tier, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}
	q := `SELECT event_id, id, name, unit_price_cents, total_quantity, available_quantity
		FROM event_tiers WHERE event_id IN (` + placeholders(len(eventIDs)) + `)
		ORDER BY event_id, position`
	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("load tiers", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventID string
		var t model.Tier
		if err := rows.Scan(&eventID, &t.ID, &t.Name, &t.UnitPriceCents, &t.TotalQuantity, &t.AvailableQuantity); err != nil {
			return nil, classify("scan tier", err)
		}
		out[eventID] = append(out[eventID], t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load tiers", err)
	}
	return out, nil
}

// GetTier returns a single tier of an event.
func (r *EventRepo) GetTier(ctx context.Context, eventID, tierID string) (model.Tier, error) {
	const q = `SELECT id, name, unit_price_cents, total_quantity, available_quantity
		FROM event_tiers WHERE event_id = ? AND id = ?`
	var t model.Tier
	err := r.db.QueryRowContext(ctx, q, eventID, tierID).Scan(
		&t.ID, &t.Name, &t.UnitPriceCents, &t.TotalQuantity, &t.AvailableQuantity)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Tier{}, &model.NotFoundError{Kind: "tier", ID: tierID}
	}
	if err != nil {
		return model.Tier{}, classify("get tier", err)
	}
	return t, nil
}

// AdjustAvailability adds delta to the tier's available_quantity in a
// single guarded UPDATE.  InnoDB takes the row lock, re-evaluates the
// guard and applies the change atomically, so two requests for the last
// ticket cannot both succeed.  When no row changes, the tier is re-read
// to tell a missing tier from a refused delta.
func (r *EventRepo) AdjustAvailability(ctx context.Context, eventID, tierID string, delta int) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin adjust availability", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const upd = `UPDATE event_tiers
		SET available_quantity = available_quantity + ?
		WHERE event_id = ? AND id = ?
		  AND available_quantity + ? >= 0
		  AND available_quantity + ? <= total_quantity`
	res, err := tx.ExecContext(ctx, upd, delta, eventID, tierID, delta, delta)
	if err != nil {
		return 0, classify("adjust availability", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("adjust availability", err)
	}

	const sel = `SELECT available_quantity, total_quantity FROM event_tiers WHERE event_id = ? AND id = ?`
	var available, total int
	err = tx.QueryRowContext(ctx, sel, eventID, tierID).Scan(&available, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &model.NotFoundError{Kind: "tier", ID: tierID}
	}
	if err != nil {
		return 0, classify("read availability", err)
	}
	if n == 0 {
		return available, &model.CapacityError{
			EventID: eventID, TierID: tierID, Delta: delta,
			Available: available, Total: total,
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("commit adjust availability", err)
	}
	return available, nil
}

// SearchEvents pages through events that match every filter in q, ordered
// by start time.
func (r *EventRepo) SearchEvents(ctx context.Context, q model.EventSearchQuery) ([]model.Event, int64, error) {
	q = q.Normalize()
	where := []string{}
	args := []any{}

	if s := strings.TrimSpace(q.Query); s != "" {
		where = append(where, "(LOWER(e.name) LIKE ? OR LOWER(e.venue) LIKE ?)")
		like := "%" + strings.ToLower(s) + "%"
		args = append(args, like, like)
	}
	if !q.From.IsZero() {
		where = append(where, "e.starts_at >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		where = append(where, "e.starts_at < ?")
		args = append(args, q.To.UTC())
	}
	if q.AvailableOnly {
		where = append(where, "EXISTS (SELECT 1 FROM event_tiers t WHERE t.event_id = e.id AND t.available_quantity > 0)")
	}

	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int64
	countSQL := `SELECT COUNT(*) FROM events e WHERE ` + cond
	if err := r.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, classify("count events", err)
	}

	dataSQL := `SELECT e.id, e.name, e.description, e.venue, e.starts_at, e.ends_at, e.created_at, e.updated_at
		FROM events e
		WHERE ` + cond + `
		ORDER BY e.starts_at ASC, e.id ASC
		LIMIT ? OFFSET ?`
	argsData := append(append([]any{}, args...), q.PageSize, q.Offset())

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, classify("search events", err)
	}
	out := make([]model.Event, 0, q.PageSize)
	ids := make([]string, 0, q.PageSize)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, 0, classify("scan event", err)
		}
		out = append(out, ev)
		ids = append(ids, ev.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, classify("search events", err)
	}
	rows.Close()

	tiers, err := r.loadTiers(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		if ts, ok := tiers[out[i].ID]; ok {
			out[i].Tiers = ts
		}
	}
	return out, total, nil
}
