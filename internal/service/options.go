package service

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultHoldDuration     = 5 * time.Minute
	defaultCreateAttempts   = 3
	defaultRollbackAttempts = 5
	defaultRetryBackoff     = 50 * time.Millisecond
	maxRetryBackoff         = 2 * time.Second
)

type settings struct {
	log              *slog.Logger
	publisher        Publisher
	holdDuration     time.Duration
	createAttempts   int
	rollbackAttempts int
	backoff          time.Duration
	newID            func() string
}

func defaultSettings() settings {
	return settings{
		log:              slog.Default(),
		publisher:        NopPublisher(),
		holdDuration:     defaultHoldDuration,
		createAttempts:   defaultCreateAttempts,
		rollbackAttempts: defaultRollbackAttempts,
		backoff:          defaultRetryBackoff,
		newID:            uuid.NewString,
	}
}

// Option configures the reservation, ticket and catalog services.
type Option func(*settings)

// WithHoldDuration overrides how long a pending reservation holds tickets.
func WithHoldDuration(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.holdDuration = d
		}
	}
}

// WithCreateMaxAttempts bounds retries of a tier decrement that lost an
// optimistic-concurrency race.
func WithCreateMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.createAttempts = n
		}
	}
}

// WithRollbackMaxAttempts bounds retries of an inventory restore before the
// incident is handed to manual reconciliation.
func WithRollbackMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.rollbackAttempts = n
		}
	}
}

// WithRetryBackoff sets the first retry delay; it doubles per attempt.
// Zero disables sleeping between attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *settings) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithIDGenerator replaces uuid.NewString (tests use deterministic IDs).
func WithIDGenerator(fn func() string) Option {
	return func(s *settings) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func applyOptions(opts []Option) settings {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
