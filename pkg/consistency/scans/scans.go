package scans

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eida/wfcc/pkg/consistency/model"
	"github.com/eida/wfcc/pkg/consistency/types"
)

var (
	log    = logging.Logger("consistency/scans")
	tracer = otel.Tracer("consistency/scans")
)

const scanLogInterval = 10_000

// Params restricts a scan to a year range and drops excluded networks.
type Params struct {
	YearStart int
	YearEnd   int
	Excluded  model.NetworkSet
}

// Stats summarizes a finished scan.
type Stats struct {
	Files     int
	Malformed int
	Skipped   int
}

// Scanner walks an archive laid out as <root>/<year>/<NET>/<STA>/<CHA>.<NEL>/<file>.
type Scanner struct {
	Fs   afero.Fs
	Root string
}

// New returns a Scanner over the host filesystem.
func New(root string) Scanner {
	return Scanner{Fs: afero.NewOsFs(), Root: root}
}

// CheckRoot verifies that the archive root exists and is a directory.
func (s Scanner) CheckRoot() error {
	info, err := s.Fs.Stat(s.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.ConfigError{Field: "archive path", Reason: fmt.Sprintf("%s does not exist", s.Root)}
		}
		return fmt.Errorf("checking archive root: %w", err)
	}
	if !info.IsDir() {
		return types.ConfigError{Field: "archive path", Reason: fmt.Sprintf("%s is not a directory", s.Root)}
	}
	return nil
}

// Scan streams every file of the requested years to cb, one at a time. Files
// whose names do not parse are passed with a nil identity. Unreadable
// directories and files are logged and skipped; an error from cb or a
// canceled context stops the scan.
func (s Scanner) Scan(ctx context.Context, params Params, cb func(model.ParsedFile) error) (Stats, error) {
	ctx, span := tracer.Start(ctx, "archive-scan", trace.WithAttributes(
		attribute.String("archive.root", s.Root),
		attribute.Int("archive.year_start", params.YearStart),
		attribute.Int("archive.year_end", params.YearEnd),
	))
	defer span.End()

	var stats Stats
	for year := params.YearStart; year <= params.YearEnd; year++ {
		yearDir := filepath.Join(s.Root, strconv.Itoa(year))
		networks, err := afero.ReadDir(s.Fs, yearDir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Debugw("no archive directory for year", "year", year, "dir", yearDir)
				continue
			}
			log.Warnw("skipping unreadable year directory", "dir", yearDir, "err", err)
			stats.Skipped++
			continue
		}

		for _, netInfo := range networks {
			if !netInfo.IsDir() || hidden(netInfo.Name()) {
				continue
			}
			if params.Excluded.Contains(netInfo.Name()) {
				log.Debugw("skipping excluded network", "year", year, "network", netInfo.Name())
				continue
			}
			if err := s.walkNetwork(ctx, filepath.Join(yearDir, netInfo.Name()), params, &stats, cb); err != nil {
				return stats, err
			}
		}
	}

	span.SetAttributes(attribute.Int("archive.files", stats.Files))
	log.Infow("archive scan complete", "files", stats.Files, "malformed", stats.Malformed, "skipped", stats.Skipped)
	return stats, nil
}

func (s Scanner) walkNetwork(ctx context.Context, dir string, params Params, stats *Stats, cb func(model.ParsedFile) error) error {
	return afero.Walk(s.Fs, dir, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.Warnw("skipping unreadable archive entry", "path", path, "err", err)
			stats.Skipped++
			return nil
		}
		if path != dir && hidden(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := s.Fs.Stat(path)
			if err != nil {
				log.Warnw("skipping dangling symlink", "path", path, "err", err)
				stats.Skipped++
				return nil
			}
			info = target
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		file := model.ParsedFile{
			Path:    path,
			Name:    filepath.Base(path),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if id, err := model.ParseFileName(file.Name); err == nil {
			if params.Excluded.Contains(id.Network) {
				return nil
			}
			file.Identity = &id
		} else {
			log.Debugw("malformed archive file name", "path", path, "err", err)
			stats.Malformed++
		}

		stats.Files++
		if stats.Files%scanLogInterval == 0 {
			log.Infow("scanning archive", "files", stats.Files)
		}
		if err := cb(file); err != nil {
			return fmt.Errorf("handling %s: %w", path, err)
		}
		return nil
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
