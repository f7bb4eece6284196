package mongorepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

// openTestStore connects to MONGO_TEST_URI and drops the test database
// afterwards.  Tests are skipped when the variable is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	db := client.Database(fmt.Sprintf("tickets_test_%d", time.Now().UnixNano()))
	s := New(client, db)
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return s
}

func TestConcurrentAdjustments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev := model.Event{
		ID:   "ev-1",
		Name: "Seminar",
		Tiers: []model.Tier{
			{ID: "t-1", Name: "General", UnitPriceCents: 1000, TotalQuantity: 5, AvailableQuantity: 5},
			{ID: "t-2", Name: "VIP", UnitPriceCents: 5000, TotalQuantity: 2, AvailableQuantity: 2},
		},
	}
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("create event: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	var ok int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AdjustAvailability(ctx, "ev-1", "t-1", -1)
			var ce *model.CapacityError
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.As(err, &ce):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 5 {
		t.Fatalf("expected 5 successful decrements, got %d", ok)
	}
	tier, err := s.GetTier(ctx, "ev-1", "t-1")
	if err != nil || tier.AvailableQuantity != 0 {
		t.Fatalf("expected 0 available, got %+v (%v)", tier, err)
	}
	other, _ := s.GetTier(ctx, "ev-1", "t-2")
	if other.AvailableQuantity != 2 {
		t.Fatalf("sibling tier changed: %+v", other)
	}

	var ce *model.CapacityError
	if _, err := s.AdjustAvailability(ctx, "ev-1", "t-2", 1); !errors.As(err, &ce) {
		t.Fatalf("restore above total must fail, got %v", err)
	}
	if _, err := s.AdjustAvailability(ctx, "ev-1", "t-9", 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReservationTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := model.Reservation{
		ID: "r-1", EventID: "ev-1", UserID: "u", Status: model.ReservationPending, ExpiresAt: expires,
		Lines: []model.ReservationLine{{TierID: "t-1", Name: "General", Quantity: 2, UnitPriceCents: 1000}},
	}
	if err := s.InsertReservation(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}

	won, err := s.TransitionReservation(ctx, model.ReservationTransition{
		ID: "r-1", From: model.ReservationPending, To: model.ReservationPaid, At: expires, RequireUnexpired: true, PaymentReference: "p",
	})
	if err != nil || won {
		t.Fatalf("confirm at the expiry instant must lose, got %v %v", won, err)
	}
	due, err := s.ListExpiredPending(ctx, expires, 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected one lapsed reservation, got %d (%v)", len(due), err)
	}
	won, err = s.TransitionReservation(ctx, model.ReservationTransition{
		ID: "r-1", From: model.ReservationPending, To: model.ReservationExpired, At: expires, RequireExpired: true,
	})
	if err != nil || !won {
		t.Fatalf("expire should win, got %v %v", won, err)
	}
	got, _ := s.GetReservation(ctx, "r-1")
	if got.Status != model.ReservationExpired || len(got.Lines) != 1 {
		t.Fatalf("unexpected reservation %+v", got)
	}
	if _, err := s.TransitionReservation(ctx, model.ReservationTransition{ID: "missing", From: model.ReservationPending}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInsertTicketsSkipsDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tk := model.Ticket{ID: "tk-1", ReservationID: "r-1", EventID: "ev-1", UserID: "u", TierID: "t-1", Quantity: 1,
		Status: model.TicketPurchased, PaymentStatus: model.PaymentCompleted, PurchaseDate: now, UpdatedAt: now}
	if err := s.InsertTickets(ctx, []model.Ticket{tk}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := tk
	dup.ID = "tk-2"
	if err := s.InsertTickets(ctx, []model.Ticket{dup}); err != nil {
		t.Fatalf("duplicate insert should be ignored: %v", err)
	}
	got, err := s.ListTicketsByReservation(ctx, "r-1")
	if err != nil || len(got) != 1 || got[0].ID != "tk-1" {
		t.Fatalf("expected only tk-1, got %+v (%v)", got, err)
	}
}

func TestOnlyDuplicates(t *testing.T) {
	dup := mongo.BulkWriteError{WriteError: mongo.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key"}}
	other := mongo.BulkWriteError{WriteError: mongo.WriteError{Index: 1, Code: 121, Message: "document failed validation"}}

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"all duplicates", mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{dup, dup}}, true},
		{"duplicate plus real failure", mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{dup, other}}, false},
		{"write concern failure", mongo.BulkWriteException{
			WriteErrors:       []mongo.BulkWriteError{dup},
			WriteConcernError: &mongo.WriteConcernError{Code: 64, Message: "waiting for replication timed out"},
		}, false},
		{"wrapped duplicates", fmt.Errorf("insert: %w", mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{dup}}), true},
		{"not a bulk error", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := onlyDuplicates(tc.err); got != tc.want {
				t.Fatalf("onlyDuplicates = %v, want %v", got, tc.want)
			}
		})
	}
}
