package repository

import (
	"context"
	"database/sql"
)

// schema creates the tables the service needs.  Timestamps are DATETIME(3)
// in UTC; the connection is opened with parseTime=true&loc=UTC.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id          CHAR(36)     NOT NULL PRIMARY KEY,
		name        VARCHAR(255) NOT NULL,
		description TEXT         NOT NULL,
		venue       VARCHAR(255) NOT NULL DEFAULT '',
		starts_at   DATETIME(3)  NULL,
		ends_at     DATETIME(3)  NULL,
		created_at  DATETIME(3)  NOT NULL,
		updated_at  DATETIME(3)  NOT NULL,
		KEY ix_events_starts_at (starts_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS event_tiers (
		id                 CHAR(36)     NOT NULL PRIMARY KEY,
		event_id           CHAR(36)     NOT NULL,
		position           INT          NOT NULL,
		name               VARCHAR(255) NOT NULL,
		unit_price_cents   BIGINT       NOT NULL,
		total_quantity     INT          NOT NULL,
		available_quantity INT          NOT NULL,
		KEY ix_event_tiers_event (event_id, position),
		CONSTRAINT fk_event_tiers_event FOREIGN KEY (event_id) REFERENCES events (id),
		CONSTRAINT ck_event_tiers_available CHECK (available_quantity BETWEEN 0 AND total_quantity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id                CHAR(36)     NOT NULL PRIMARY KEY,
		event_id          CHAR(36)     NOT NULL,
		user_id           VARCHAR(191) NOT NULL,
		status            VARCHAR(16)  NOT NULL,
		expires_at        DATETIME(3)  NOT NULL,
		payment_reference VARCHAR(191) NOT NULL DEFAULT '',
		created_at        DATETIME(3)  NOT NULL,
		updated_at        DATETIME(3)  NOT NULL,
		KEY ix_reservations_user (user_id),
		KEY ix_reservations_event (event_id),
		KEY ix_reservations_status_expires (status, expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS reservation_lines (
		reservation_id   CHAR(36)     NOT NULL,
		position         INT          NOT NULL,
		tier_id          CHAR(36)     NOT NULL,
		name             VARCHAR(255) NOT NULL,
		quantity         INT          NOT NULL,
		unit_price_cents BIGINT       NOT NULL,
		PRIMARY KEY (reservation_id, tier_id),
		CONSTRAINT fk_reservation_lines_reservation FOREIGN KEY (reservation_id) REFERENCES reservations (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id                     CHAR(36)     NOT NULL PRIMARY KEY,
		reservation_id         CHAR(36)     NOT NULL,
		event_id               CHAR(36)     NOT NULL,
		user_id                VARCHAR(191) NOT NULL,
		tier_id                CHAR(36)     NOT NULL,
		tier_name              VARCHAR(255) NOT NULL,
		quantity               INT          NOT NULL,
		unit_price_cents       BIGINT       NOT NULL,
		total_price_cents      BIGINT       NOT NULL,
		status                 VARCHAR(16)  NOT NULL,
		payment_status         VARCHAR(16)  NOT NULL,
		purchase_date          DATETIME(3)  NOT NULL,
		check_in_date          DATETIME(3)  NULL,
		payment_method         VARCHAR(64)  NOT NULL DEFAULT '',
		payment_transaction_id VARCHAR(191) NOT NULL DEFAULT '',
		updated_at             DATETIME(3)  NOT NULL,
		UNIQUE KEY ux_tickets_reservation_tier (reservation_id, tier_id),
		KEY ix_tickets_user (user_id),
		KEY ix_tickets_event (event_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates any missing tables.  It is safe to run on every
// start.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classify("ensure schema", err)
		}
	}
	return nil
}
