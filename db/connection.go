// Package db provides the SQLite connection helper shared by the event
// store: pragma tuning for sustained write throughput, lazy directory
// creation, and schema migrations.
package db

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/logger"
)

const (
	// SQLiteJournalMode enables concurrent reads during writes.
	SQLiteJournalMode = "WAL"

	// SQLiteSynchronous trades durability-per-write for throughput; WAL mode
	// makes NORMAL safe against application crashes (only an OS crash can
	// lose the last few transactions).
	SQLiteSynchronous = "NORMAL"

	// SQLiteCacheSizePages is the number of database pages SQLite keeps in
	// its page cache; chosen for sustained write throughput against a
	// high-rate event stream.
	SQLiteCacheSizePages = 10000

	// SQLiteBusyTimeoutMS sets how long to wait for locks before returning SQLITE_BUSY.
	SQLiteBusyTimeoutMS = 5000
)

// InMemoryPath is the sentinel recognized throughout the event store:
// it bypasses day-rotation and backup/restore.
const InMemoryPath = ":memory:"

// Open opens a SQLite database at the specified path with the pragmas
// the event store requires. If log is provided, logs database operations; otherwise
// operates silently (tests construct stores with a nil logger routinely).
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	if log != nil {
		logger.AddDBSymbol(log).Debugw("opening database", "path", path)
	}

	if path != InMemoryPath {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, errors.Wrapf(err, "failed to create database directory: %s", dir)
			}
			if log != nil {
				logger.AddDBSymbol(log).Debugw("created database directory", "dir", dir)
			}
		}
	}

	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	pragmas := []string{
		"PRAGMA journal_mode = " + SQLiteJournalMode,
		"PRAGMA synchronous = " + SQLiteSynchronous,
		"PRAGMA cache_size = " + itoa(SQLiteCacheSizePages),
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, errors.Wrapf(err, "failed to apply %q for %s", pragma, path)
		}
	}

	if log != nil {
		logger.AddDBSymbol(log).Infow("database opened",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return sqlDB, nil
}

// OpenWithMigrations opens a SQLite database and runs migrations.
// Migrations are idempotent and have low overhead for SQLite.
func OpenWithMigrations(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	sqlDB, err := Open(path, log)
	if err != nil {
		return nil, err
	}

	if err := Migrate(sqlDB, log); err != nil {
		sqlDB.Close()
		return nil, errors.Wrapf(err, "failed to run migrations for %s", path)
	}

	return sqlDB, nil
}

// itoa avoids pulling in strconv just for one pragma string.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
