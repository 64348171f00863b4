package sqlcatalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect is the SQL flavour of the catalog mirror.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) goose() goose.Dialect {
	if d == DialectPostgres {
		return goose.DialectPostgres
	}
	return goose.DialectSQLite3
}

var migrationVersionRe = regexp.MustCompile(`^(\d+)_`)

// gooseMigrations reads the embedded migrations and adapts them to dialect.
func gooseMigrations(dialect Dialect) ([]*goose.Migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})

	var migrations []*goose.Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		match := migrationVersionRe.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("migration file %q does not have a version prefix", entry.Name())
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration file %q has invalid version: %w", entry.Name(), err)
		}
		raw, err := migrationsFS.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration file %q: %w", entry.Name(), err)
		}

		upSQL, downSQL := parseGooseSQL(string(raw))
		migrations = append(migrations, goose.NewGoMigration(version,
			execFunc(transformSQL(upSQL, dialect)),
			execFunc(transformSQL(downSQL, dialect))))
	}
	return migrations, nil
}

func execFunc(stmt string) *goose.GoFunc {
	if stmt == "" {
		return nil
	}
	return &goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, stmt)
		return err
	}}
}

// parseGooseSQL splits a goose annotated file into its up and down sections.
func parseGooseSQL(content string) (upSQL, downSQL string) {
	var upLines, downLines []string
	var current *[]string
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case "-- +goose Up":
			current = &upLines
		case "-- +goose Down":
			current = &downLines
		case "-- +goose StatementBegin", "-- +goose StatementEnd":
			continue
		default:
			if current != nil {
				*current = append(*current, line)
			}
		}
	}
	return strings.TrimSpace(strings.Join(upLines, "\n")),
		strings.TrimSpace(strings.Join(downLines, "\n"))
}

// transformSQL rewrites SQLite DDL for Postgres, where INTEGER is 32 bits
// wide and the microsecond timestamps would overflow it.
func transformSQL(stmt string, dialect Dialect) string {
	if dialect != DialectPostgres {
		return stmt
	}
	return strings.ReplaceAll(stmt, " INTEGER", " BIGINT")
}
