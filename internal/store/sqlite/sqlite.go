package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/revittco/mcpmux/internal/store"
	_ "modernc.org/sqlite"
)

// Compile-time check that DB satisfies store.Store.
var _ store.Store = (*DB)(nil)

// Cipher seals secret columns (remote bearer tokens) at rest.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// queryable abstracts *sql.DB and *sql.Tx for shared query code.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the SQLite-backed store implementation.
type DB struct {
	db     *sql.DB
	q      queryable // points to db or active tx
	cipher Cipher    // nil stores secrets as plaintext
}

// Option configures a DB.
type Option func(*DB)

// WithCipher seals bearer tokens with c before they are written.
func WithCipher(c Cipher) Option {
	return func(d *DB) { d.cipher = c }
}

// New opens a SQLite database at the given path and runs migrations.
func New(ctx context.Context, path string, opts ...Option) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	d := &DB{db: db, q: db}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Tx executes fn within a database transaction.
func (d *DB) Tx(ctx context.Context, fn func(store.Store) error) error {
	if _, ok := d.q.(*sql.Tx); ok {
		return fn(d)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	txDB := &DB{db: d.db, q: tx, cipher: d.cipher}
	if err := fn(txDB); err != nil {
		return err
	}
	return tx.Commit()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
