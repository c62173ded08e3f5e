package storage

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = eris.New("not found")
)

// SQLiteStorage implements CatalogStore using SQLite with FTS5
type SQLiteStorage struct {
	db *sql.DB
}

var _ CatalogStore = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "storage: enable WAL mode")
	}

	// SQLite benefits from a single writer; this also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "storage: enable foreign keys")
	}

	return db, nil
}

// NewSQLiteStorage opens the catalog at dbPath and applies pending migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: open %s", dbPath)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "storage: apply migrations")
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "storage: begin transaction")
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertSegment(ctx context.Context, segment *types.Segment) error {
	return upsertSegment(ctx, t.tx, segment)
}

func (t *sqliteTx) SetNegotiatedCPM(ctx context.Context, principalID, segmentID string, cpm float64) error {
	return setNegotiatedCPM(ctx, t.tx, principalID, segmentID, cpm)
}

// Stats returns catalog row counts
func (s *SQLiteStorage) Stats(ctx context.Context) (*CatalogStats, error) {
	var stats CatalogStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM segments),
			(SELECT COUNT(*) FROM segment_embeddings),
			(SELECT COUNT(*) FROM principal_segment_access)
	`).Scan(&stats.Segments, &stats.Embeddings, &stats.NegotiatedPrices)
	if err != nil {
		return nil, eris.Wrap(err, "storage: read stats")
	}
	return &stats, nil
}
