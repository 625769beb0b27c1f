// Package eventstore is the durable event sink (C6): a buffered batch
// writer over day-rotated SQLite databases, with retention sweeping and
// backup/restore/export/import.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qrwc/gateway/changegroup"
	"github.com/qrwc/gateway/db"
	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/logger"
)

// Config bounds the store's buffering and retention behavior.
type Config struct {
	DBDir           string // directory holding one SQLite file per day
	BufferSize      int
	FlushInterval   time.Duration
	RetentionDays   int
	BackupDir       string
	MaxBackups      int
	BackupInterval  time.Duration
	RetentionHour   int // local hour the daily sweep runs at, default 3
}

// DefaultConfig mirrors the documented environment-variable defaults
// (EVENT_MONITORING_* / EVENT_BACKUP_*, see config.Load), except BackupDir,
// which defaults to a "backups" directory inside dbDir rather than to
// EVENT_BACKUP_PATH's default.
func DefaultConfig(dbDir string) Config {
	return Config{
		DBDir:          dbDir,
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		RetentionDays:  30,
		BackupDir:      filepath.Join(dbDir, "backups"),
		MaxBackups:     7,
		BackupInterval: 24 * time.Hour,
		RetentionHour:  3,
	}
}

// Store is the durable half of the event pipeline: changegroup.Registry
// calls Append on every tick; a background flusher drains the buffer into
// the SQLite file for the event's own day.
type Store struct {
	cfg Config
	log *zap.SugaredLogger
	now func() time.Time

	mu      sync.Mutex
	pending []changegroup.ChangeEvent

	dbMu sync.Mutex
	dbs  map[string]*sql.DB // day key (YYYY-MM-DD) -> open handle

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a store. Call Run to start the background flush/retention
// loops; Append is safe to call before Run.
func New(cfg Config, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.RetentionHour == 0 {
		cfg.RetentionHour = 3
	}
	return &Store{
		cfg:    cfg,
		log:    logger.AddDBSymbol(log),
		now:    time.Now,
		dbs:    make(map[string]*sql.DB),
		stopCh: make(chan struct{}),
	}
}

// Append satisfies changegroup.Sink: events are buffered, not written
// synchronously, so a slow disk never backs up the poll loop.
func (s *Store) Append(changes []changegroup.ChangeEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, changes...)
	full := s.cfg.BufferSize > 0 && len(s.pending) >= s.cfg.BufferSize
	s.mu.Unlock()

	if full {
		if err := s.Flush(context.Background()); err != nil {
			s.log.Errorw("buffer flush failed", "error", err)
		}
	}
}

// Run starts the periodic flush and daily retention sweep loops. It
// returns once ctx is canceled, after a final flush.
func (s *Store) Run(ctx context.Context) {
	s.wg.Add(2)
	go s.flushLoop(ctx)
	go s.retentionLoop(ctx)
	s.wg.Wait()
}

// Stop requests the background loops to exit; Run's caller should still
// cancel its context for a clean return.
func (s *Store) Stop() {
	close(s.stopCh)
}

func (s *Store) flushLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.Flush(context.Background())
			return
		case <-s.stopCh:
			_ = s.Flush(context.Background())
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.log.Errorw("periodic flush failed", "error", err)
			}
		}
	}
}

func (s *Store) retentionLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		next := s.nextRetentionRun()
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Errorw("retention sweep failed", "error", err)
			}
		}
	}
}

func (s *Store) nextRetentionRun() time.Time {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.RetentionHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Flush drains the pending buffer into a single transaction per affected
// day's database. The events of any day whose write fails are re-queued at
// the front of the buffer so no event is silently dropped; days that
// committed are not re-queued.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	byDay := make(map[string][]changegroup.ChangeEvent)
	for _, e := range batch {
		day := dayKey(time.UnixMilli(e.TimestampMillis))
		byDay[day] = append(byDay[day], e)
	}

	var failed []changegroup.ChangeEvent
	var firstErr error
	for day, events := range byDay {
		if err := s.writeDay(ctx, day, events); err != nil {
			failed = append(failed, events...)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(failed) > 0 {
		s.mu.Lock()
		s.pending = append(failed, s.pending...)
		s.mu.Unlock()
	}
	return firstErr
}

func (s *Store) writeDay(ctx context.Context, day string, events []changegroup.ChangeEvent) error {
	handle, err := s.dayDB(day)
	if err != nil {
		return err
	}

	tx, err := handle.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapCategory(errors.CategoryCommandFailed, err, "begin event batch transaction")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (timestamp, change_group_id, control_path, component_name, control_name, value, string_value, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.WrapCategory(errors.CategoryCommandFailed, err, "prepare event insert")
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.TimestampMillis, e.ChangeGroupID, e.ControlPath, e.ComponentName, e.ControlName, e.Value, e.StringValue, e.Source); err != nil {
			tx.Rollback()
			return errors.WrapCategory(errors.CategoryCommandFailed, err, "insert event")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapCategory(errors.CategoryCommandFailed, err, "commit event batch")
	}
	return nil
}

// dayDB returns the (lazily opened, migrated, cached) handle for a day key.
func (s *Store) dayDB(day string) (*sql.DB, error) {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if handle, ok := s.dbs[day]; ok {
		return handle, nil
	}

	path := s.pathFor(day)
	handle, err := db.OpenWithMigrations(path, s.log)
	if err != nil {
		return nil, err
	}
	s.dbs[day] = handle
	return handle, nil
}

func (s *Store) pathFor(day string) string {
	if s.cfg.DBDir == db.InMemoryPath {
		return db.InMemoryPath
	}
	return filepath.Join(s.cfg.DBDir, "events-"+day+".db")
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Close flushes any pending events and closes every open day handle.
func (s *Store) Close() error {
	_ = s.Flush(context.Background())

	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	var firstErr error
	for day, handle := range s.dbs {
		if err := handle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, day)
	}
	return firstErr
}

// Sweep deletes day databases older than RetentionDays and VACUUMs today's.
func (s *Store) Sweep(ctx context.Context) error {
	if s.cfg.DBDir == db.InMemoryPath || s.cfg.RetentionDays <= 0 {
		return nil
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	entries, err := os.ReadDir(s.cfg.DBDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read event db directory %s", s.cfg.DBDir)
	}

	for _, entry := range entries {
		day, ok := parseDayFilename(entry.Name())
		if !ok {
			continue
		}
		if day.Before(cutoff) {
			s.dbMu.Lock()
			key := dayKey(day)
			if handle, open := s.dbs[key]; open {
				handle.Close()
				delete(s.dbs, key)
			}
			s.dbMu.Unlock()

			if err := os.Remove(filepath.Join(s.cfg.DBDir, entry.Name())); err != nil {
				s.log.Errorw("failed to remove expired event db", "file", entry.Name(), "error", err)
			}
		}
	}

	today := dayKey(s.now())
	if handle, ok := s.dbs[today]; ok {
		if _, err := handle.ExecContext(ctx, "VACUUM"); err != nil {
			s.log.Errorw("vacuum failed", "error", err)
		}
	}
	return nil
}

func parseDayFilename(name string) (time.Time, bool) {
	const prefix, suffix = "events-", ".db"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Statistics is the health/diagnostic shape returned by GetStatistics.
type Statistics struct {
	PendingEvents int      `json:"pendingEvents"`
	OpenDatabases []string `json:"openDatabases"`
	DBDir         string   `json:"dbDir"`
}

// GetStatistics reports the store's current buffering and file state.
func (s *Store) GetStatistics() Statistics {
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()

	s.dbMu.Lock()
	days := make([]string, 0, len(s.dbs))
	for d := range s.dbs {
		days = append(days, d)
	}
	s.dbMu.Unlock()
	sort.Strings(days)

	return Statistics{PendingEvents: pending, OpenDatabases: days, DBDir: s.cfg.DBDir}
}

// exportRecord is the JSON shape used by Export/Import.
type exportRecord struct {
	Timestamp     int64   `json:"timestamp"`
	ChangeGroupID string  `json:"changeGroupId"`
	ControlPath   string  `json:"controlPath"`
	ComponentName string  `json:"componentName"`
	ControlName   string  `json:"controlName"`
	Value         float64 `json:"value"`
	StringValue   string  `json:"stringValue"`
	Source        string  `json:"source"`
}

// ValueFilterOp is one of the operators recognized by Query's ValueFilter.
type ValueFilterOp string

const (
	OpEQ       ValueFilterOp = "eq"
	OpNE       ValueFilterOp = "ne"
	OpGT       ValueFilterOp = "gt"
	OpGTE      ValueFilterOp = "gte"
	OpLT       ValueFilterOp = "lt"
	OpLTE      ValueFilterOp = "lte"
	OpContains ValueFilterOp = "contains"
)

// ValueFilter restricts a query to events matching an operator against Value.
type ValueFilter struct {
	Op    ValueFilterOp
	Value float64
}

// Query is the same parameter surface as ringcache.Query, translated to SQL
// instead of an in-memory scan.
type Query struct {
	GroupID        string
	StartTime      *int64
	EndTime        *int64
	ControlNames   []string
	ControlPaths   []string
	ComponentNames []string
	ValueFilter    *ValueFilter
	Limit          int
	Offset         int
}

const defaultQueryLimit = 10000

// Query returns events matching q across every day database the requested
// time range touches, ordered by timestamp descending, capped at Limit
// (default 10000). Offset/Limit apply to the merged, sorted result, since
// a single day's rows alone can't honor a global offset.
func (s *Store) Query(ctx context.Context, q Query) ([]exportRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	where, params := s.buildQueryWhere(q)

	var all []exportRecord
	for _, day := range s.queryDays(q.StartTime, q.EndTime) {
		handle, err := s.dayDB(day)
		if err != nil {
			continue
		}
		rows, err := handle.QueryContext(ctx, `
			SELECT timestamp, change_group_id, control_path, component_name, control_name, value, string_value, source
			FROM events`+where+`
			ORDER BY timestamp DESC`, params...)
		if err != nil {
			return nil, errors.WrapCategory(errors.CategoryCommandFailed, err, "query event store")
		}
		for rows.Next() {
			var rec exportRecord
			if err := rows.Scan(&rec.Timestamp, &rec.ChangeGroupID, &rec.ControlPath, &rec.ComponentName, &rec.ControlName, &rec.Value, &rec.StringValue, &rec.Source); err != nil {
				rows.Close()
				return nil, err
			}
			all = append(all, rec)
		}
		rows.Close()
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp > all[j].Timestamp })

	if q.Offset > 0 {
		if q.Offset >= len(all) {
			return nil, nil
		}
		all = all[q.Offset:]
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// queryDays lists the day keys a [start,end] range touches. With both
// bounds nil it falls back to every day file actually present in DBDir; with
// one nil bound, a nil start counts from the Unix epoch and a nil end runs
// to today. An in-memory store always lists its open handles.
func (s *Store) queryDays(start, end *int64) []string {
	if s.cfg.DBDir == db.InMemoryPath {
		s.dbMu.Lock()
		defer s.dbMu.Unlock()
		days := make([]string, 0, len(s.dbs))
		for d := range s.dbs {
			days = append(days, d)
		}
		return days
	}

	if start == nil && end == nil {
		entries, err := os.ReadDir(s.cfg.DBDir)
		if err != nil {
			return nil
		}
		var days []string
		for _, entry := range entries {
			if day, ok := parseDayFilename(entry.Name()); ok {
				days = append(days, dayKey(day))
			}
		}
		return days
	}

	startDay := time.UnixMilli(0).UTC()
	if start != nil {
		startDay = time.UnixMilli(*start).UTC()
	}
	endDay := s.now().UTC()
	if end != nil {
		endDay = time.UnixMilli(*end).UTC()
	}

	var days []string
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		days = append(days, dayKey(d))
	}
	return days
}

func (s *Store) buildQueryWhere(q Query) (string, []interface{}) {
	var clauses []string
	var params []interface{}

	if q.StartTime != nil {
		clauses = append(clauses, "timestamp >= ?")
		params = append(params, *q.StartTime)
	}
	if q.EndTime != nil {
		clauses = append(clauses, "timestamp <= ?")
		params = append(params, *q.EndTime)
	}
	if q.GroupID != "" {
		clauses = append(clauses, "change_group_id = ?")
		params = append(params, q.GroupID)
	}
	if len(q.ControlNames) > 0 {
		clauses = append(clauses, inClause("control_name", len(q.ControlNames)))
		for _, v := range q.ControlNames {
			params = append(params, v)
		}
	}
	if len(q.ControlPaths) > 0 {
		clauses = append(clauses, inClause("control_path", len(q.ControlPaths)))
		for _, v := range q.ControlPaths {
			params = append(params, v)
		}
	}
	if len(q.ComponentNames) > 0 {
		clauses = append(clauses, inClause("component_name", len(q.ComponentNames)))
		for _, v := range q.ComponentNames {
			params = append(params, v)
		}
	}
	if q.ValueFilter != nil {
		clause, param, ok := valueFilterClause(*q.ValueFilter)
		if !ok {
			// Contains has no meaning against a numeric value (matches
			// ringcache's in-memory semantics); exclude everything.
			clauses = append(clauses, "0")
		} else {
			clauses = append(clauses, clause)
			params = append(params, param)
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), params
}

func inClause(column string, n int) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", n), ",")
	return column + " IN (" + placeholders + ")"
}

func valueFilterClause(f ValueFilter) (string, float64, bool) {
	switch f.Op {
	case OpEQ:
		return "value = ?", f.Value, true
	case OpNE:
		return "value != ?", f.Value, true
	case OpGT:
		return "value > ?", f.Value, true
	case OpGTE:
		return "value >= ?", f.Value, true
	case OpLT:
		return "value < ?", f.Value, true
	case OpLTE:
		return "value <= ?", f.Value, true
	default:
		return "", 0, false
	}
}

// exportEnvelope is the documented export artifact shape: a JSON object
// (not a bare array) so the file is self-describing without re-deriving
// its time range from the filename.
type exportEnvelope struct {
	ExportedAt  string         `json:"exportedAt"`
	EventsCount int            `json:"eventsCount"`
	StartTime   *int64         `json:"startTime,omitempty"`
	EndTime     *int64         `json:"endTime,omitempty"`
	Events      []exportRecord `json:"events"`
}

// Export writes every event in [start,end] across all day databases as the
// documented {exportedAt, eventsCount, startTime, endTime, events[]}
// envelope, as plain (uncompressed) JSON.
func (s *Store) Export(ctx context.Context, start, end time.Time, w io.Writer) error {
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	records, err := s.queryAllInRange(ctx, startMs, endMs)
	if err != nil {
		return err
	}

	envelope := exportEnvelope{
		ExportedAt:  s.now().UTC().Format(time.RFC3339),
		EventsCount: len(records),
		StartTime:   &startMs,
		EndTime:     &endMs,
		Events:      records,
	}

	enc := json.NewEncoder(w)
	return enc.Encode(envelope)
}

// queryAllInRange runs Query repeatedly, paging past defaultQueryLimit,
// until a page comes back short.
func (s *Store) queryAllInRange(ctx context.Context, startMs, endMs int64) ([]exportRecord, error) {
	var all []exportRecord
	offset := 0
	for {
		page, err := s.Query(ctx, Query{StartTime: &startMs, EndTime: &endMs, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < defaultQueryLimit {
			return all, nil
		}
		offset += defaultQueryLimit
	}
}

// Import reads the {events[]} envelope produced by Export and inserts every
// record unless a row with the same timestamp, group, path, value, string
// value and source is already stored, so re-importing the same file is safe.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	var envelope exportEnvelope
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return 0, errors.Wrap(err, "decode import payload")
	}
	records := envelope.Events

	byDay := make(map[string][]exportRecord)
	for _, rec := range records {
		day := dayKey(time.UnixMilli(rec.Timestamp))
		byDay[day] = append(byDay[day], rec)
	}

	inserted := 0
	for day, recs := range byDay {
		handle, err := s.dayDB(day)
		if err != nil {
			return inserted, err
		}
		tx, err := handle.BeginTx(ctx, nil)
		if err != nil {
			return inserted, err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO events (timestamp, change_group_id, control_path, component_name, control_name, value, string_value, source)
			SELECT ?, ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM events
				WHERE timestamp = ? AND change_group_id = ? AND control_path = ?
					AND value IS ? AND string_value IS ? AND source = ?)`)
		if err != nil {
			tx.Rollback()
			return inserted, err
		}
		for _, rec := range recs {
			res, err := stmt.ExecContext(ctx, rec.Timestamp, rec.ChangeGroupID, rec.ControlPath, rec.ComponentName, rec.ControlName, rec.Value, rec.StringValue, rec.Source,
				rec.Timestamp, rec.ChangeGroupID, rec.ControlPath, rec.Value, rec.StringValue, rec.Source)
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return inserted, err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// Backup copies every currently-open day database to cfg.BackupDir via
// SQLite's online backup mechanism (VACUUM INTO, which is equivalent to a
// consistent snapshot for our purposes and needs no CGo callback plumbing),
// then retires backups beyond MaxBackups.
func (s *Store) Backup(ctx context.Context) error {
	if s.cfg.BackupDir == "" {
		return errors.NewCategory(errors.CategoryValidationFailed, "no backup directory configured")
	}
	if err := os.MkdirAll(s.cfg.BackupDir, 0755); err != nil {
		return errors.Wrapf(err, "create backup directory %s", s.cfg.BackupDir)
	}

	s.dbMu.Lock()
	days := make([]string, 0, len(s.dbs))
	for d := range s.dbs {
		days = append(days, d)
	}
	s.dbMu.Unlock()

	sort.Strings(days) // deterministic ordering so the per-day second offset below is stable
	base := s.now().UTC()
	for i, day := range days {
		handle, err := s.dayDB(day)
		if err != nil {
			continue
		}
		// One backup file per day database; offsetting by i second guarantees
		// distinct names within a single Backup call while keeping the
		// documented events-backup-YYYY-MM-DDTHH-MM-SS(.gz)? pattern intact.
		stamp := base.Add(time.Duration(i) * time.Second).Format("2006-01-02T15-04-05")
		dest := filepath.Join(s.cfg.BackupDir, fmt.Sprintf("events-backup-%s.db", stamp))
		if _, err := handle.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
			return errors.WrapCategory(errors.CategoryCommandFailed, err, "backup "+day)
		}
	}

	return s.retireOldBackups()
}

func (s *Store) retireOldBackups() error {
	if s.cfg.MaxBackups <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.cfg.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var files []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".db") {
			files = append(files, e)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	if len(files) <= s.cfg.MaxBackups {
		return nil
	}
	for _, f := range files[:len(files)-s.cfg.MaxBackups] {
		os.Remove(filepath.Join(s.cfg.BackupDir, f.Name()))
	}
	return nil
}

// Restore replaces the live day database for dayStr with the contents of a
// backup file, after an integrity check.
func (s *Store) Restore(ctx context.Context, dayStr, backupPath string) error {
	check, err := sql.Open("sqlite3", backupPath)
	if err != nil {
		return errors.Wrapf(err, "open backup %s", backupPath)
	}
	defer check.Close()

	var result string
	if err := check.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return errors.WrapCategory(errors.CategoryCommandFailed, err, "integrity check")
	}
	if result != "ok" {
		return errors.NewCategoryf(errors.CategoryCommandFailed, "backup failed integrity check: %s", result)
	}

	s.dbMu.Lock()
	if handle, open := s.dbs[dayStr]; open {
		handle.Close()
		delete(s.dbs, dayStr)
	}
	s.dbMu.Unlock()

	dest := s.pathFor(dayStr)
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return errors.Wrapf(err, "read backup %s", backupPath)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return errors.Wrapf(err, "write restored db %s", dest)
	}
	return nil
}
