package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewStore(db), mock
}

func TestAdjustAvailability(t *testing.T) {
	ctx := context.Background()

	t.Run("applies a guarded delta", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE event_tiers`).
			WithArgs(-2, "ev-1", "t-1", -2, -2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT available_quantity, total_quantity FROM event_tiers`).
			WithArgs("ev-1", "t-1").
			WillReturnRows(sqlmock.NewRows([]string{"available_quantity", "total_quantity"}).AddRow(8, 10))
		mock.ExpectCommit()

		n, err := s.AdjustAvailability(ctx, "ev-1", "t-1", -2)
		if err != nil || n != 8 {
			t.Fatalf("expected 8, got %d (%v)", n, err)
		}
	})

	t.Run("guard miss is a capacity error", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE event_tiers`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT available_quantity, total_quantity FROM event_tiers`).
			WillReturnRows(sqlmock.NewRows([]string{"available_quantity", "total_quantity"}).AddRow(1, 10))
		mock.ExpectRollback()

		_, err := s.AdjustAvailability(ctx, "ev-1", "t-1", -2)
		var ce *model.CapacityError
		if !errors.As(err, &ce) {
			t.Fatalf("expected CapacityError, got %v", err)
		}
		if ce.Available != 1 || ce.Total != 10 || ce.Delta != -2 {
			t.Fatalf("unexpected detail %+v", ce)
		}
	})

	t.Run("missing tier", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE event_tiers`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT available_quantity, total_quantity FROM event_tiers`).
			WillReturnRows(sqlmock.NewRows([]string{"available_quantity", "total_quantity"}))
		mock.ExpectRollback()

		if _, err := s.AdjustAvailability(ctx, "ev-1", "t-9", 1); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("deadlock is retryable", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE event_tiers`).WillReturnError(&mysql.MySQLError{Number: errDeadlock, Message: "Deadlock found"})
		mock.ExpectRollback()

		_, err := s.AdjustAvailability(ctx, "ev-1", "t-1", -1)
		if !model.IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})
}

func TestTransitionReservation(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := model.ReservationTransition{
		ID: "r-1", From: model.ReservationPending, To: model.ReservationPaid,
		At: at, RequireUnexpired: true, PaymentReference: "pay_1",
	}

	t.Run("wins the compare-and-set", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectExec(`UPDATE reservations .* WHERE id = \? AND status = \? AND expires_at > \?`).
			WithArgs("paid", at, "pay_1", "pay_1", "r-1", "pending", at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := s.TransitionReservation(ctx, tr)
		if err != nil || !ok {
			t.Fatalf("expected success, got %v %v", ok, err)
		}
	})

	t.Run("loses to another writer", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectExec(`UPDATE reservations`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT 1 FROM reservations WHERE id = \?`).
			WithArgs("r-1").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		ok, err := s.TransitionReservation(ctx, tr)
		if err != nil || ok {
			t.Fatalf("expected a lost race, got %v %v", ok, err)
		}
	})

	t.Run("unknown reservation", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectExec(`UPDATE reservations`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT 1 FROM reservations`).WillReturnRows(sqlmock.NewRows([]string{"1"}))

		if _, err := s.TransitionReservation(ctx, tr); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("expire uses the lapsed guard", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectExec(`UPDATE reservations .* AND expires_at <= \?`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := s.TransitionReservation(ctx, model.ReservationTransition{
			ID: "r-1", From: model.ReservationPending, To: model.ReservationExpired, At: at, RequireExpired: true,
		})
		if err != nil || !ok {
			t.Fatalf("expected success, got %v %v", ok, err)
		}
	})
}

func TestInsertTicketsIsIdempotent(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO tickets .* ON DUPLICATE KEY UPDATE id = id`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := s.InsertTickets(context.Background(), []model.Ticket{
		{ID: "tk-1", ReservationID: "r-1", TierID: "t-1", Quantity: 1, Status: model.TicketPurchased, PurchaseDate: now, UpdatedAt: now},
		{ID: "tk-2", ReservationID: "r-1", TierID: "t-2", Quantity: 2, Status: model.TicketPurchased, PurchaseDate: now, UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestGetEventLoadsTiers(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, name, description, venue, starts_at, ends_at, created_at, updated_at\s+FROM events WHERE id = \?`).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "venue", "starts_at", "ends_at", "created_at", "updated_at"}).
			AddRow("ev-1", "Seminar", "", "Hall A", now, nil, now, now))
	mock.ExpectQuery(`FROM event_tiers WHERE event_id IN \(\?\)`).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "id", "name", "unit_price_cents", "total_quantity", "available_quantity"}).
			AddRow("ev-1", "t-1", "General", int64(2500), 100, 40).
			AddRow("ev-1", "t-2", "Student", int64(1000), 20, 0))

	ev, err := s.GetEvent(context.Background(), "ev-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if len(ev.Tiers) != 2 || ev.Tiers[0].AvailableQuantity != 40 || !ev.EndsAt.IsZero() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestClassify(t *testing.T) {
	if err := classify("op", &mysql.MySQLError{Number: errLockWaitTimeout}); !model.IsConflict(err) {
		t.Fatalf("lock wait timeout should be a conflict, got %v", err)
	}
	plain := errors.New("boom")
	if err := classify("op", plain); model.IsConflict(err) || !errors.Is(err, plain) {
		t.Fatalf("unexpected classification %v", err)
	}
	if !isDuplicate(&mysql.MySQLError{Number: errDupEntry}) {
		t.Fatalf("1062 should be a duplicate")
	}
	if placeholders(3) != "?, ?, ?" {
		t.Fatalf("unexpected placeholders %q", placeholders(3))
	}
}
