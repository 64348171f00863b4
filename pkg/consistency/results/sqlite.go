package results

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/eida/wfcc/pkg/consistency/model"
)

//go:embed migrations/*.sql
var MigrationsFS embed.FS

const (
	defaultBusyTimeout        = 60 * time.Second
	defaultPreparedStmtCache  = 16
	insertRecordQueryTemplate = `INSERT OR REPLACE INTO %s (net, sta, loc, cha, year, jday, fileName) VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// SQLiteSink writes a result artifact as a SQLite database. Rows go to a
// temporary file next to the target, which replaces the target on Commit.
type SQLiteSink struct {
	target        string
	tmpPath       string
	db            *sql.DB
	tx            *sql.Tx
	preparedStmts *lru.Cache[string, *sql.Stmt]
	done          bool
}

var _ Sink = (*SQLiteSink)(nil)

// OpenSQLite prepares a fresh artifact that will replace target on Commit.
func OpenSQLite(ctx context.Context, target string) (*SQLiteSink, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temporary results file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		return nil, errors.Join(err, os.Remove(tmpPath))
	}

	s := &SQLiteSink{target: target, tmpPath: tmpPath}
	if err := s.open(ctx); err != nil {
		return nil, errors.Join(err, s.Abort())
	}
	return s, nil
}

func (s *SQLiteSink) open(ctx context.Context) error {
	db, err := openDB(s.tmpPath, false)
	if err != nil {
		return err
	}
	s.db = db

	if err := migrate(ctx, db); err != nil {
		return err
	}

	cache, err := lru.NewWithEvict(defaultPreparedStmtCache, func(key string, stmt *sql.Stmt) {
		stmt.Close()
	})
	if err != nil {
		return err
	}
	s.preparedStmts = cache

	// The pool holds a single connection, which the transaction keeps until
	// Commit, so every insert is prepared before it starts.
	for _, table := range model.Tables {
		if _, err := s.prepareStmt(ctx, insertQuery(table)); err != nil {
			return fmt.Errorf("preparing insert into %s: %w", table, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting results transaction: %w", err)
	}
	s.tx = tx
	return nil
}

func openDB(path string, readOnly bool) (*sql.DB, error) {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", defaultBusyTimeout.Milliseconds()),
	}
	if readOnly {
		pragmas = append(pragmas, "mode=ro")
	} else {
		pragmas = append(pragmas, "_pragma=journal_mode(DELETE)", "_pragma=synchronous(FULL)")
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?%s", path, strings.Join(pragmas, "&")))
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(MigrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("applying result migrations: %w", err)
	}
	return nil
}

func (s *SQLiteSink) prepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.preparedStmts.Get(query); ok {
		return stmt, nil
	}
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	_ = s.preparedStmts.Add(query, stmt)
	return stmt, nil
}

func insertQuery(table model.Table) string {
	return fmt.Sprintf(insertRecordQueryTemplate, table)
}

func (s *SQLiteSink) write(ctx context.Context, table model.Table, recs []model.Record) error {
	if s.done {
		return errors.New("result sink already closed")
	}
	stmt, ok := s.preparedStmts.Get(insertQuery(table))
	if !ok {
		return fmt.Errorf("no insert prepared for table %s", table)
	}
	txStmt := s.tx.StmtContext(ctx, stmt)
	defer txStmt.Close()

	for _, rec := range recs {
		_, err := txStmt.ExecContext(ctx,
			nullString(rec.Network, rec.HasCodes),
			nullString(rec.Station, rec.HasCodes),
			nullString(rec.Location, rec.HasCodes),
			nullString(rec.Channel, rec.HasCodes),
			nullInt(rec.Year, rec.HasDate),
			nullInt(rec.JulianDay, rec.HasDate),
			rec.FileName,
		)
		if err != nil {
			return fmt.Errorf("inserting %s into %s: %w", rec.FileName, table, err)
		}
	}
	return nil
}

func nullString(s string, valid bool) sql.NullString {
	return sql.NullString{String: s, Valid: valid}
}

func nullInt(i int, valid bool) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: valid}
}

func (s *SQLiteSink) WriteInconsistentMetadata(ctx context.Context, recs []model.Record) error {
	return s.write(ctx, model.InconsistentMetadata, recs)
}

func (s *SQLiteSink) WriteMissingInCatalog(ctx context.Context, recs []model.Record) error {
	return s.write(ctx, model.MissingInCatalog, recs)
}

func (s *SQLiteSink) WriteInconsistentChecksum(ctx context.Context, recs []model.Record) error {
	return s.write(ctx, model.InconsistentChecksum, recs)
}

func (s *SQLiteSink) WriteOlderDate(ctx context.Context, recs []model.Record) error {
	return s.write(ctx, model.OlderDate, recs)
}

func (s *SQLiteSink) WriteRemoveFromCatalog(ctx context.Context, recs []model.Record) error {
	return s.write(ctx, model.RemoveFromCatalog, recs)
}

func (s *SQLiteSink) WriteInappropriateNaming(ctx context.Context, recs []model.Record) error {
	return s.write(ctx, model.InappropriateNaming, recs)
}

// Commit records the run, closes the database and moves it over the target.
func (s *SQLiteSink) Commit(ctx context.Context, info RunInfo) error {
	if s.done {
		return errors.New("result sink already closed")
	}
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, year_start, year_end, excluded, checksum, strict_epochs, files, file_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID.String(),
		info.StartedAt.UnixMicro(),
		info.FinishedAt.UnixMicro(),
		info.YearStart,
		info.YearEnd,
		strings.Join(info.Excluded, ","),
		info.Checksum,
		info.StrictEpochs,
		info.Files,
		info.FileErrors,
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("committing results transaction: %w", err)
	}
	s.tx = nil
	if err := s.closeDB(); err != nil {
		return err
	}
	if err := os.Rename(s.tmpPath, s.target); err != nil {
		return fmt.Errorf("moving results into place: %w", err)
	}
	s.done = true
	return nil
}

// Abort discards the temporary artifact. It is safe to call more than once
// and after a failed Commit.
func (s *SQLiteSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	var errs []error
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		s.tx = nil
	}
	errs = append(errs, s.closeDB())
	for _, p := range []string{s.tmpPath, s.tmpPath + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SQLiteSink) closeDB() error {
	if s.preparedStmts != nil {
		s.preparedStmts.Purge()
	}
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("closing results database: %w", err)
	}
	return nil
}
