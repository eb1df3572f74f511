package resource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const KindSQL = "sql"

// Drivers maps the names scripts use to registered database/sql drivers.
var Drivers = map[string]string{
	"mysql":    "mysql",
	"postgres": "postgres",
	"sqlite3":  "sqlite3", // cgo, mattn/go-sqlite3
	"sqlite":   "sqlite",  // pure Go, modernc.org/sqlite
}

// SQL is a connection with at most one open transaction.
type SQL struct {
	DB     *sql.DB
	Driver string

	mu sync.Mutex
	tx *sql.Tx
}

// ExecResult mirrors sql.Result.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// OpenSQL connects and pings. The returned handle closes the pool on its
// last release, rolling back any open transaction first.
func OpenSQL(ctx context.Context, name, driver, dsn string) (*Handle, error) {
	drv, ok := Drivers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown sql driver %q", driver)
	}
	db, err := sql.Open(drv, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	if (drv == "sqlite" || drv == "sqlite3") && strings.Contains(dsn, ":memory:") {
		// each pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	conn := &SQL{DB: db, Driver: driver}
	return New(name, KindSQL, conn, conn.close), nil
}

func (s *SQL) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rbErr error
	if s.tx != nil {
		rbErr = s.tx.Rollback()
		s.tx = nil
	}
	return errors.Join(rbErr, s.DB.Close())
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQL) target() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.DB
}

// Query returns every row as a column-name keyed map.
func (s *SQL) Query(ctx context.Context, query string, params ...any) ([]map[string]any, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.target().QueryContext(ctx, query, params...)
	if err != nil {
		return nil, nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	types, _ := rows.ColumnTypes()
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			var typeName string
			if i < len(types) {
				typeName = types[i].DatabaseTypeName()
			}
			row[col] = normalizeValue(values[i], typeName)
		}
		out = append(out, row)
	}
	return out, columns, rows.Err()
}

func (s *SQL) Exec(ctx context.Context, query string, params ...any) (ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.target().ExecContext(ctx, query, params...)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec failed: %w", err)
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return ExecResult{RowsAffected: affected, LastInsertID: lastID}, nil
}

func (s *SQL) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return errors.New("transaction already in progress")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

func (s *SQL) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return errors.New("no transaction in progress")
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

func (s *SQL) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return errors.New("no transaction in progress")
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

// normalizeValue narrows driver values to int64, float64, string, bool,
// []byte or nil.
func normalizeValue(v any, dbType string) any {
	switch x := v.(type) {
	case nil, int64, float64, string, bool:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		switch dbType {
		case "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB", "BINARY", "VARBINARY", "BYTEA":
			return x
		}
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}
