// Package mongorepo is the MongoDB implementation of the inventory store,
// reservation ledger and ticket store.  Tiers are embedded in their event
// document, so a tier adjustment is a single-document update and is atomic
// without a transaction.
package mongorepo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	events       *mongo.Collection
	reservations *mongo.Collection
	tickets      *mongo.Collection
}

// New binds a Store to db.  Call EnsureIndexes once at start-up.
func New(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:       client,
		db:           db,
		events:       db.Collection("events"),
		reservations: db.Collection("reservations"),
		tickets:      db.Collection("tickets"),
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "starts_at", Value: 1}},
			Options: options.Index().SetName("events_starts_at"),
		},
		{
			Keys:    bson.D{{Key: "tiers.id", Value: 1}},
			Options: options.Index().SetName("events_tier_ids"),
		},
	})
	if err != nil {
		return fmt.Errorf("events indexes: %w", err)
	}

	_, err = s.reservations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("reservations_user"),
		},
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("reservations_event"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("reservations_status_expires"),
		},
	})
	if err != nil {
		return fmt.Errorf("reservations indexes: %w", err)
	}

	_, err = s.tickets.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "reservation_id", Value: 1}, {Key: "tier_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("tickets_reservation_tier_unique"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("tickets_user"),
		},
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("tickets_event"),
		},
	})
	if err != nil {
		return fmt.Errorf("tickets indexes: %w", err)
	}
	return nil
}

// classify turns transient write conflicts into *model.ConflictError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorLabel("TransientTransactionError") || se.HasErrorCode(112)) {
		return &model.ConflictError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ---- events and inventory ----

func (s *Store) CreateEvent(ctx context.Context, ev model.Event) error {
	if ev.Tiers == nil {
		ev.Tiers = []model.Tier{}
	}
	if _, err := s.events.InsertOne(ctx, ev); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &model.ValidationError{Field: "id", Message: "event " + ev.ID + " already exists"}
		}
		return classify("insert event", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	var ev model.Event
	if err := s.events.FindOne(ctx, bson.M{"_id": eventID}).Decode(&ev); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Event{}, &model.NotFoundError{Kind: "event", ID: eventID}
		}
		return model.Event{}, classify("get event", err)
	}
	return ev, nil
}

func (s *Store) GetTier(ctx context.Context, eventID, tierID string) (model.Tier, error) {
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return model.Tier{}, err
	}
	t, ok := ev.Tier(tierID)
	if !ok {
		return model.Tier{}, &model.NotFoundError{Kind: "tier", ID: tierID}
	}
	return t, nil
}

// tierGuard matches the event only when applying delta to the tier keeps
// its available quantity within [0, total_quantity].
func tierGuard(eventID, tierID string, delta int) bson.M {
	next := bson.M{"$add": bson.A{"$$t.available_quantity", delta}}
	return bson.M{
		"_id":      eventID,
		"tiers.id": tierID,
		"$expr": bson.M{"$let": bson.M{
			"vars": bson.M{"t": bson.M{"$arrayElemAt": bson.A{
				bson.M{"$filter": bson.M{
					"input": "$tiers",
					"as":    "x",
					"cond":  bson.M{"$eq": bson.A{"$$x.id", tierID}},
				}},
				0,
			}}},
			"in": bson.M{"$and": bson.A{
				bson.M{"$gte": bson.A{next, 0}},
				bson.M{"$lte": bson.A{next, "$$t.total_quantity"}},
			}},
		}},
	}
}

// AdjustAvailability applies delta to one tier with a guarded
// FindOneAndUpdate.  When nothing matches, the event is re-read to tell a
// missing tier from a refused delta.
func (s *Store) AdjustAvailability(ctx context.Context, eventID, tierID string, delta int) (int, error) {
	update := bson.M{
		"$inc": bson.M{"tiers.$[t].available_quantity": delta},
		"$set": bson.M{"updated_at": time.Now().UTC().Truncate(time.Millisecond)},
	}
	opts := options.FindOneAndUpdate().
		SetArrayFilters(options.ArrayFilters{Filters: []interface{}{bson.M{"t.id": tierID}}}).
		SetReturnDocument(options.After)

	var ev model.Event
	err := s.events.FindOneAndUpdate(ctx, tierGuard(eventID, tierID, delta), update, opts).Decode(&ev)
	if err == nil {
		t, _ := ev.Tier(tierID)
		return t.AvailableQuantity, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, classify("adjust availability", err)
	}

	// Post-check: the guard or the lookup failed.
	t, err := s.GetTier(ctx, eventID, tierID)
	if err != nil {
		return 0, err
	}
	return t.AvailableQuantity, &model.CapacityError{
		EventID: eventID, TierID: tierID, Delta: delta,
		Available: t.AvailableQuantity, Total: t.TotalQuantity,
	}
}

func (s *Store) SearchEvents(ctx context.Context, q model.EventSearchQuery) ([]model.Event, int64, error) {
	q = q.Normalize()
	filter := bson.M{}
	if text := strings.TrimSpace(q.Query); text != "" {
		re := bson.M{"$regex": regexp.QuoteMeta(text), "$options": "i"}
		filter["$or"] = bson.A{bson.M{"name": re}, bson.M{"venue": re}}
	}
	starts := bson.M{}
	if !q.From.IsZero() {
		starts["$gte"] = q.From.UTC()
	}
	if !q.To.IsZero() {
		starts["$lt"] = q.To.UTC()
	}
	if len(starts) > 0 {
		filter["starts_at"] = starts
	}
	if q.AvailableOnly {
		filter["tiers"] = bson.M{"$elemMatch": bson.M{"available_quantity": bson.M{"$gt": 0}}}
	}

	total, err := s.events.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, classify("count events", err)
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "starts_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(q.Offset())).
		SetLimit(int64(q.PageSize))
	cur, err := s.events.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, classify("search events", err)
	}
	defer cur.Close(ctx)

	out := make([]model.Event, 0, q.PageSize)
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, classify("decode events", err)
	}
	return out, total, nil
}

// ---- reservations ----

func (s *Store) InsertReservation(ctx context.Context, r model.Reservation) error {
	if _, err := s.reservations.InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &model.ValidationError{Field: "id", Message: "reservation " + r.ID + " already exists"}
		}
		return classify("insert reservation", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	var r model.Reservation
	if err := s.reservations.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Reservation{}, &model.NotFoundError{Kind: "reservation", ID: id}
		}
		return model.Reservation{}, classify("get reservation", err)
	}
	return r, nil
}

// TransitionReservation is a compare-and-set on status with the expiry
// guards in the same filter.
func (s *Store) TransitionReservation(ctx context.Context, t model.ReservationTransition) (bool, error) {
	filter := bson.M{"_id": t.ID, "status": t.From}
	switch {
	case t.RequireUnexpired:
		filter["expires_at"] = bson.M{"$gt": t.At.UTC()}
	case t.RequireExpired:
		filter["expires_at"] = bson.M{"$lte": t.At.UTC()}
	}
	set := bson.M{"status": t.To, "updated_at": t.At.UTC()}
	if t.PaymentReference != "" {
		set["payment_reference"] = t.PaymentReference
	}
	res, err := s.reservations.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, classify("transition reservation", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	n, err := s.reservations.CountDocuments(ctx, bson.M{"_id": t.ID})
	if err != nil {
		return false, classify("transition reservation", err)
	}
	if n == 0 {
		return false, &model.NotFoundError{Kind: "reservation", ID: t.ID}
	}
	return false, nil
}

func (s *Store) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	filter := bson.M{"status": model.ReservationPending, "expires_at": bson.M{"$lte": now.UTC()}}
	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findReservations(ctx, "list expired reservations", filter, opts)
}

func (s *Store) ListReservations(ctx context.Context, q model.ReservationQuery) ([]model.Reservation, error) {
	filter := bson.M{}
	if q.UserID != "" {
		filter["user_id"] = q.UserID
	}
	if q.EventID != "" {
		filter["event_id"] = q.EventID
	}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	limit := q.Limit
	if limit <= 0 {
		limit = model.MaxPageSize
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return s.findReservations(ctx, "list reservations", filter, opts)
}

func (s *Store) findReservations(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]model.Reservation, error) {
	cur, err := s.reservations.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(op, err)
	}
	defer cur.Close(ctx)
	out := []model.Reservation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// ---- tickets ----

// InsertTickets inserts unordered so one duplicate does not stop the rest;
// duplicates of (reservation_id, tier_id) are ignored.
func (s *Store) InsertTickets(ctx context.Context, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	docs := make([]interface{}, len(tickets))
	for i := range tickets {
		docs[i] = tickets[i]
	}
	_, err := s.tickets.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicates(err) {
		return classify("insert tickets", err)
	}
	return nil
}

// onlyDuplicates reports whether every failed write in a bulk insert hit a
// unique index.  Any other write error or a write concern error counts as
// a real failure.
func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		switch we.Code {
		case 11000, 11001, 12582:
		default:
			return false
		}
	}
	return true
}

func (s *Store) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	var t model.Ticket
	if err := s.tickets.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Ticket{}, &model.NotFoundError{Kind: "ticket", ID: id}
		}
		return model.Ticket{}, classify("get ticket", err)
	}
	return t, nil
}

func (s *Store) ListTicketsByReservation(ctx context.Context, reservationID string) ([]model.Ticket, error) {
	opts := options.Find().SetSort(bson.D{{Key: "purchase_date", Value: 1}, {Key: "_id", Value: 1}})
	return s.findTickets(ctx, "list reservation tickets", bson.M{"reservation_id": reservationID}, opts)
}

func (s *Store) ListTickets(ctx context.Context, q model.TicketQuery) ([]model.Ticket, error) {
	filter := bson.M{}
	if q.UserID != "" {
		filter["user_id"] = q.UserID
	}
	if q.EventID != "" {
		filter["event_id"] = q.EventID
	}
	limit := q.Limit
	if limit <= 0 {
		limit = model.MaxPageSize
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "purchase_date", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return s.findTickets(ctx, "list tickets", filter, opts)
}

func (s *Store) findTickets(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]model.Ticket, error) {
	cur, err := s.tickets.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(op, err)
	}
	defer cur.Close(ctx)
	out := []model.Ticket{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (s *Store) TransitionTicket(ctx context.Context, t model.TicketTransition) (bool, error) {
	set := bson.M{"status": t.To, "updated_at": t.At.UTC()}
	if t.PaymentStatus != "" {
		set["payment_status"] = t.PaymentStatus
	}
	if t.CheckInDate != nil {
		set["check_in_date"] = t.CheckInDate.UTC()
	}
	res, err := s.tickets.UpdateOne(ctx, bson.M{"_id": t.ID, "status": t.From}, bson.M{"$set": set})
	if err != nil {
		return false, classify("transition ticket", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	n, err := s.tickets.CountDocuments(ctx, bson.M{"_id": t.ID})
	if err != nil {
		return false, classify("transition ticket", err)
	}
	if n == 0 {
		return false, &model.NotFoundError{Kind: "ticket", ID: t.ID}
	}
	return false, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }
