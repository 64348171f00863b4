package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/eida/wfcc/pkg/consistency/model"
)

// ErrNoRuns is returned when an artifact carries no run record.
var ErrNoRuns = errors.New("no runs recorded")

// Reader gives read-only access to a committed result artifact.
type Reader struct {
	db *sqlx.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening results: %w", err)
	}
	db, err := openDB(path, true)
	if err != nil {
		return nil, err
	}
	return &Reader{db: sqlx.NewDb(db, "sqlite")}, nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}

// Counts returns the number of rows in every result table.
func (r *Reader) Counts(ctx context.Context) (map[model.Table]int, error) {
	counts := make(map[model.Table]int, len(model.Tables))
	for _, t := range model.Tables {
		var n int
		if err := r.db.GetContext(ctx, &n, fmt.Sprintf("SELECT COUNT(*) FROM %s", t)); err != nil {
			return nil, fmt.Errorf("counting %s: %w", t, err)
		}
		counts[t] = n
	}
	return counts, nil
}

type recordRow struct {
	Network   sql.NullString `db:"net"`
	Station   sql.NullString `db:"sta"`
	Location  sql.NullString `db:"loc"`
	Channel   sql.NullString `db:"cha"`
	Year      sql.NullInt64  `db:"year"`
	JulianDay sql.NullInt64  `db:"jday"`
	FileName  string         `db:"fileName"`
}

func (row recordRow) record() model.Record {
	return model.Record{
		Network:   row.Network.String,
		Station:   row.Station.String,
		Location:  row.Location.String,
		Channel:   row.Channel.String,
		Year:      int(row.Year.Int64),
		JulianDay: int(row.JulianDay.Int64),
		FileName:  row.FileName,
		HasCodes:  row.Network.Valid,
		HasDate:   row.Year.Valid && row.JulianDay.Valid,
	}
}

// Records lists the rows of table ordered by file name. A limit of zero or
// less returns every row.
func (r *Reader) Records(ctx context.Context, table model.Table, limit int) ([]model.Record, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("unknown result table %q", table)
	}
	query := fmt.Sprintf("SELECT net, sta, loc, cha, year, jday, fileName FROM %s ORDER BY fileName", table)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	recs := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.record())
	}
	return recs, nil
}

type runRow struct {
	ID           string `db:"id"`
	StartedAt    int64  `db:"started_at"`
	FinishedAt   int64  `db:"finished_at"`
	YearStart    int    `db:"year_start"`
	YearEnd      int    `db:"year_end"`
	Excluded     string `db:"excluded"`
	Checksum     bool   `db:"checksum"`
	StrictEpochs bool   `db:"strict_epochs"`
	Files        int    `db:"files"`
	FileErrors   int    `db:"file_errors"`
}

// LatestRun returns the most recent run stored in the artifact.
func (r *Reader) LatestRun(ctx context.Context) (RunInfo, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, started_at, finished_at, year_start, year_end, excluded, checksum, strict_epochs, files, file_errors
		FROM runs ORDER BY finished_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, ErrNoRuns
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("reading run: %w", err)
	}
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return RunInfo{}, fmt.Errorf("parsing run id %q: %w", row.ID, err)
	}
	var excluded []string
	if row.Excluded != "" {
		excluded = strings.Split(row.Excluded, ",")
	}
	return RunInfo{
		ID:           ResultID(id),
		StartedAt:    time.UnixMicro(row.StartedAt),
		FinishedAt:   time.UnixMicro(row.FinishedAt),
		YearStart:    row.YearStart,
		YearEnd:      row.YearEnd,
		Excluded:     excluded,
		Checksum:     row.Checksum,
		StrictEpochs: row.StrictEpochs,
		Files:        row.Files,
		FileErrors:   row.FileErrors,
	}, nil
}
