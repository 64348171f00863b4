// Package sqlcatalog reads a relational mirror of the WFCatalog, one row per
// daily stream holding its most recent file. PostgreSQL and SQLite are
// supported.
package sqlcatalog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/eida/wfcc/pkg/consistency/catalog"
	"github.com/eida/wfcc/pkg/consistency/model"
)

var log = logging.Logger("consistency/catalog/sqlcatalog")

// Store is a catalog.Store over a SQL database.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

var _ catalog.Store = (*Store)(nil)

// IsPostgres reports whether dsn points to a PostgreSQL server.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to dsn, a postgres:// URL or the path of a SQLite file.
func Open(ctx context.Context, dsn string) (*Store, error) {
	driver, dialect := "sqlite", DialectSQLite
	if IsPostgres(dsn) {
		driver, dialect = "postgres", DialectPostgres
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s catalog: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	driver := "sqlite"
	if dialect == DialectPostgres {
		driver = "postgres"
	}
	return &Store{db: sqlx.NewDb(db, driver), dialect: dialect}
}

// Migrate creates or upgrades the catalog mirror schema.
func (s *Store) Migrate(ctx context.Context) error {
	migrations, err := gooseMigrations(s.dialect)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(s.dialect.goose(), s.db.DB, nil,
		goose.WithGoMigrations(migrations...),
	)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying catalog migrations: %w", err)
	}
	log.Debugw("applied catalog migrations", "count", len(results))
	return nil
}

type fileRow struct {
	FileName string         `db:"file_name"`
	Checksum sql.NullString `db:"checksum"`
	Created  int64          `db:"created"`
}

// Records streams the rows of the query window.
func (s *Store) Records(ctx context.Context, q catalog.Query, cb func(catalog.Record) error) error {
	start, end := q.Window()
	query := `SELECT file_name, checksum, created FROM wf_files WHERE ts >= ? AND ts <= ?`
	args := []any{start.UnixMicro(), end.UnixMicro()}
	if len(q.Excluded) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND net NOT IN (?)`, start.UnixMicro(), end.UnixMicro(), q.Excluded.Sorted())
		if err != nil {
			return fmt.Errorf("building catalog query: %w", err)
		}
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row fileRow
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("scanning catalog row: %w", err)
		}
		var checksum []byte
		if row.Checksum.Valid {
			if checksum, err = hex.DecodeString(row.Checksum.String); err != nil {
				log.Debugw("catalog checksum is not hex", "file", row.FileName, "checksum", row.Checksum.String)
				checksum = nil
			}
		}
		if err := cb(catalog.Record{
			FileName: row.FileName,
			Checksum: checksum,
			Created:  time.UnixMicro(row.Created).UTC(),
		}); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Put inserts or replaces the catalog row of entry's identity.
func (s *Store) Put(ctx context.Context, entry model.CatalogEntry) error {
	id := entry.Identity
	var checksum sql.NullString
	if entry.Checksum != nil {
		checksum = sql.NullString{String: hex.EncodeToString(entry.Checksum), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO wf_files (file_name, net, sta, loc, cha, ts, checksum, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_name) DO UPDATE SET checksum = excluded.checksum, created = excluded.created`),
		entry.FileName, id.Network, id.Station, id.Location, id.Channel,
		id.Date().UnixMicro(), checksum, entry.AddedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("storing catalog row %s: %w", entry.FileName, err)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}
