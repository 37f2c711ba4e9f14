package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	customError "github.com/segyhp/fleet-billing/pkg/errors"
)

// Dialect is the database/sql driver name a store runs on.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ErrUniqueViolation is wrapped around driver errors caused by a unique constraint.
var ErrUniqueViolation = errors.New("unique constraint violated")

func init() {
	sqlx.BindDriver(string(DialectSQLite), sqlx.QUESTION)
}

// Options configures the connection pool.
type Options struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the database. SQLite gets a single connection so that
// transactions are serialized, which stands in for row locks.
func Open(ctx context.Context, opts Options) (*sqlx.DB, error) {
	switch Dialect(opts.Driver) {
	case DialectPostgres:
		db, err := sqlx.ConnectContext(ctx, opts.Driver, opts.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
		return db, nil

	case DialectSQLite:
		db, err := sqlx.ConnectContext(ctx, opts.Driver, sqliteDSN(opts.URL))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		db.SetMaxOpenConns(1)
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

type sqlStore struct {
	db *sqlx.DB
	repos
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db, repos: repos{q: db}}
}

func (s *sqlStore) WithTx(ctx context.Context, fn func(tx Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	defer tx.Rollback()

	if err := fn(repos{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// repos binds every repository to the same querier.
type repos struct {
	q sqlx.ExtContext
}

func (r repos) Obligations() ObligationRepository   { return &obligationRepository{q: r.q} }
func (r repos) Installments() InstallmentRepository { return &installmentRepository{q: r.q} }
func (r repos) Transactions() TransactionRepository { return &transactionRepository{q: r.q} }
func (r repos) Payments() PaymentRepository         { return &paymentRepository{q: r.q} }
func (r repos) Ledger() LedgerRepository            { return &ledgerRepository{q: r.q} }
func (r repos) Directory() DirectoryRepository      { return &directoryRepository{q: r.q} }

// forUpdate returns the row lock suffix for the querier's dialect.
// SQLite has no row locks; its single connection serializes writers instead.
func forUpdate(q sqlx.ExtContext) string {
	if Dialect(q.DriverName()) == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func getOne(ctx context.Context, q sqlx.ExtContext, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
}

func selectAll(ctx context.Context, q sqlx.ExtContext, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}

func exec(ctx context.Context, q sqlx.ExtContext, query string, args ...interface{}) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %v", ErrUniqueViolation, err)
		}
		return 0, err
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")
	}
	return false
}

// utc normalizes timestamps before they are written so both dialects compare them the same way.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
