package repository

import (
	"context"
	"database/sql"
)

// Store bundles the MySQL repositories into the single handle the
// services take.
type Store struct {
	*EventRepo
	*ReservationRepo
	*TicketRepo
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		EventRepo:       NewEventRepo(db),
		ReservationRepo: NewReservationRepo(db),
		TicketRepo:      NewTicketRepo(db),
		db:              db,
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close(context.Context) error { return s.db.Close() }
