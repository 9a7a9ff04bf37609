// Package indexdb maintains a queryable SQLite view of the audit trail and
// backup history. It is a secondary index: the JSONL audit logs and the
// snapshot files remain the source of truth, so writes may be dropped
// under backlog rather than stall the command path.
package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"commoncoin.gg/internal/ledger"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqBackup
	reqSync
)

type req struct {
	kind reqKind

	audit  ledger.AuditEntry
	backup BackupRecord
	done   chan struct{}
}

type BackupRecord struct {
	Path       string
	CreatedAt  string
	Accounts   int
	TotalMinor int64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			kind TEXT NOT NULL,
			command TEXT,
			actor TEXT,
			target TEXT,
			amount TEXT,
			ok INTEGER NOT NULL,
			code TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_time ON audits(actor, time);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_command_time ON audits(command, time);`,
		`CREATE TABLE IF NOT EXISTS backups (
			path TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			accounts INTEGER NOT NULL,
			total_minor INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteAudit(entry ledger.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
	}
	return nil
}

func (s *SQLiteIndex) RecordBackup(path string, accounts int, totalMinor int64) {
	if s == nil || s.closed.Load() {
		return
	}
	r := BackupRecord{
		Path:       path,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Accounts:   accounts,
		TotalMinor: totalMinor,
	}
	select {
	case s.ch <- req{kind: reqBackup, backup: r}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqAudit:
			s.insertAudit(r.audit)
		case reqBackup:
			s.insertBackup(r.backup)
		case reqSync:
			close(r.done)
		}
	}
}

func (s *SQLiteIndex) insertAudit(e ledger.AuditEntry) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	okInt := 0
	if e.OK {
		okInt = 1
	}
	_, _ = s.db.Exec(
		`INSERT INTO audits (time, kind, command, actor, target, amount, ok, code, raw_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time, e.Kind, e.Command, e.Actor, e.Target, e.Amount, okInt, e.Code, string(raw),
	)
}

func (s *SQLiteIndex) insertBackup(r BackupRecord) {
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO backups (path, created_at, accounts, total_minor) VALUES (?, ?, ?, ?)`,
		r.Path, r.CreatedAt, r.Accounts, r.TotalMinor,
	)
}

// RecentAudits returns up to limit entries, newest first.
func (s *SQLiteIndex) RecentAudits(limit int) ([]ledger.AuditEntry, error) {
	rows, err := s.db.Query(`SELECT raw_json FROM audits ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e ledger.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Backups returns up to limit backup records, newest first.
func (s *SQLiteIndex) Backups(limit int) ([]BackupRecord, error) {
	rows, err := s.db.Query(
		`SELECT path, created_at, accounts, total_minor FROM backups ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BackupRecord
	for rows.Next() {
		var r BackupRecord
		if err := rows.Scan(&r.Path, &r.CreatedAt, &r.Accounts, &r.TotalMinor); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Flush blocks until every write enqueued before the call is applied.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqSync, done: done}
	<-done
}
