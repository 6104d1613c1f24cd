package invitecount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS invite_members (
	user_id      TEXT PRIMARY KEY,
	position     INTEGER NOT NULL,
	nickname     TEXT NOT NULL DEFAULT '',
	inviter      TEXT,
	inviter_name TEXT,
	join_type    TEXT,
	join_time    TEXT,
	leave_type   TEXT,
	leave_time   TEXT
);
CREATE INDEX IF NOT EXISTS invite_members_inviter ON invite_members (inviter);
`

// SQLiteStore persists the ledger as one table, rewritten per save.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLiteStore opens or creates a SQLite ledger at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("open sqlite store: empty path")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("open sqlite store create dir: %w", err)
	}

	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Load reads every row in first-recorded order.
func (s *SQLiteStore) Load(ctx context.Context) (Records, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT user_id, nickname, inviter, inviter_name, join_type, join_time, leave_type, leave_time
FROM invite_members
ORDER BY position`)
	if err != nil {
		return Records{}, fmt.Errorf("sqlite store load query: %w", err)
	}
	defer rows.Close()

	var records Records
	for rows.Next() {
		var (
			userID      string
			nickname    string
			inviter     sql.NullString
			inviterName sql.NullString
			joinType    sql.NullString
			joinTime    sql.NullString
			leaveType   sql.NullString
			leaveTime   sql.NullString
		)
		if err := rows.Scan(&userID, &nickname, &inviter, &inviterName, &joinType, &joinTime, &leaveType, &leaveTime); err != nil {
			return Records{}, fmt.Errorf("sqlite store load scan: %w", err)
		}
		records.Set(userID, MemberRecord{
			Nickname:    nickname,
			Inviter:     inviter.String,
			InviterName: inviterName.String,
			JoinType:    JoinType(joinType.String),
			JoinTime:    joinTime.String,
			Leave:       ParseLeaveType(leaveType.String),
			LeaveTime:   leaveTime.String,
		})
	}
	if err := rows.Err(); err != nil {
		return Records{}, fmt.Errorf("sqlite store load rows: %w", err)
	}

	return records, nil
}

// Save replaces the table contents in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, records Records) (err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store save begin: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, ignoreTxDone(tx.Rollback()))
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM invite_members`); err != nil {
		return fmt.Errorf("sqlite store save clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO invite_members (user_id, position, nickname, inviter, inviter_name, join_type, join_time, leave_type, leave_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite store save prepare: %w", err)
	}
	defer stmt.Close()

	position := 0
	for userID, record := range records.All() {
		if _, err := stmt.ExecContext(ctx,
			userID,
			position,
			record.Nickname,
			nullString(record.Inviter),
			nullString(record.InviterName),
			nullString(string(record.JoinType)),
			nullString(record.JoinTime),
			nullString(record.Leave.String()),
			nullString(record.LeaveTime),
		); err != nil {
			return fmt.Errorf("sqlite store save insert %s: %w", userID, err)
		}
		position++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store save commit: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}

	return s.sqlDB.Close()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func ignoreTxDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}

var _ Store = (*SQLiteStore)(nil)
