// Package history provides the optional dispatch-history store.
//
// It is an audit log of send attempts (it never persists pending queues):
//   - one row per dispatch (single or album, success or failure)
//   - aggregate summaries for the /stats command and the daily digest
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "albumbot/pkg/logx"
)

var ErrDisabled = errors.New("history disabled")

// Config configures the history store.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// DispatchEntry records one dispatch attempt. Keep it compact and
// schema-stable.
type DispatchEntry struct {
	At      time.Time
	UserID  int64
	ChatID  int64
	Items   int
	Grouped bool
	OK      bool
	Error   string
}

// Summary aggregates dispatch activity since some instant.
type Summary struct {
	Dispatches int
	Items      int
	Failures   int
	Users      int
}

// UserTotals aggregates one user's dispatch activity over all time.
type UserTotals struct {
	Dispatches int
	Items      int
	Failures   int
}

// Store is the persistence API used by the dispatcher and the digest job.
type Store interface {
	RecordDispatch(ctx context.Context, e DispatchEntry) error
	Summary(ctx context.Context, since time.Time) (Summary, error)
	UserTotals(ctx context.Context, userID int64) (UserTotals, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
