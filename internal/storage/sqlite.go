package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"subwatch/internal/record"
	logx "subwatch/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The monitor loop is the only writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (record.Snapshot, error) {
	if s == nil || s.db == nil {
		return record.Snapshot{}, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT account_id, display_name FROM accounts ORDER BY position`)
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("load accounts: %w", err)
	}
	snap, index, err := scanAccounts(rows)
	if err != nil {
		_ = rows.Close()
		return record.Snapshot{}, err
	}
	if err := rows.Close(); err != nil {
		return record.Snapshot{}, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT account_id, post_date, problem_number, problem_name FROM records ORDER BY account_id, position`)
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			r  record.Record
		)
		if err := rows.Scan(&id, &r.PostDate, &r.ProblemNumber, &r.ProblemName); err != nil {
			return record.Snapshot{}, fmt.Errorf("%w: %w: %w", ErrCorrupt, ErrBackupFailed, err)
		}
		i, ok := index[id]
		if !ok {
			s.log.Warn("orphan record row", logx.String("account", id))
			continue
		}
		snap[i].Records = append(snap[i].Records, r)
	}
	return snap, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context, snap record.Snapshot) (err error) {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return err
	}

	accStmt, err := tx.PrepareContext(ctx, `INSERT INTO accounts(position, account_id, display_name) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer accStmt.Close()
	recStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO records(account_id, position, post_date, problem_number, problem_name) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer recStmt.Close()

	for i, h := range snap {
		if _, err = accStmt.ExecContext(ctx, i, h.AccountID, h.DisplayName); err != nil {
			return fmt.Errorf("save account %s: %w", h.AccountID, err)
		}
		for j, r := range h.Records {
			if _, err = recStmt.ExecContext(ctx, h.AccountID, j, r.PostDate, r.ProblemNumber, r.ProblemName); err != nil {
				return fmt.Errorf("save record %s/%s: %w", h.AccountID, r.ProblemNumber, err)
			}
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendCycle(ctx context.Context, e CycleEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles(at, session, cycle, accounts, fetched, added, total, pruned, fetch_errors, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Session, int64(e.Cycle), e.Accounts, e.Fetched, e.Added,
		e.Total, e.Pruned, e.FetchErrors, nullStr(e.Error), e.TookMS,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// accountRows is the part of *sql.Rows that scanAccounts reads.
type accountRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanAccounts reads account rows in store order. An iteration error fails
// the load; a partial account list must never reach Save.
func scanAccounts(rows accountRows) (record.Snapshot, map[string]int, error) {
	snap := record.Snapshot{}
	index := map[string]int{}
	for rows.Next() {
		var h record.AccountHistory
		if err := rows.Scan(&h.AccountID, &h.DisplayName); err != nil {
			return nil, nil, fmt.Errorf("%w: %w: %w", ErrCorrupt, ErrBackupFailed, err)
		}
		index[h.AccountID] = len(snap)
		snap = append(snap, h)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load accounts: %w", err)
	}
	return snap, index, nil
}
