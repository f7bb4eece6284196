// Package repository is the MySQL implementation of the inventory store,
// reservation ledger and ticket store.  Every counter change is a single
// guarded UPDATE so that concurrent requests serialise on the tier row
// inside InnoDB rather than in application code.
package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

// MySQL server error numbers that the repository reacts to.
const (
	errDupEntry        = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// classify wraps err with op.  Deadlocks and lock wait timeouts become a
// *model.ConflictError so the service layer can retry them.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errDeadlock, errLockWaitTimeout:
			return &model.ConflictError{Op: op, Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isDuplicate reports whether err is a unique key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDupEntry
}

// placeholders returns "?, ?, ?" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
