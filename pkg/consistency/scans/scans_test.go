package scans_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/eida/wfcc/pkg/consistency/model"
	"github.com/eida/wfcc/pkg/consistency/scans"
	"github.com/eida/wfcc/pkg/consistency/types"
)

func writeArchive(t *testing.T, memFS afero.Fs, files ...string) {
	t.Helper()
	mtime := time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC)
	for _, f := range files {
		require.NoError(t, memFS.MkdirAll(filepath.Dir(f), 0755))
		require.NoError(t, afero.WriteFile(memFS, f, []byte("data of "+f), 0644))
		require.NoError(t, memFS.Chtimes(f, mtime, mtime))
	}
}

func collect(t *testing.T, s scans.Scanner, params scans.Params) ([]model.ParsedFile, scans.Stats) {
	t.Helper()
	var files []model.ParsedFile
	stats, err := s.Scan(t.Context(), params, func(f model.ParsedFile) error {
		files = append(files, f)
		return nil
	})
	require.NoError(t, err)
	slices.SortFunc(files, func(a, b model.ParsedFile) int {
		if a.Path < b.Path {
			return -1
		}
		if a.Path > b.Path {
			return 1
		}
		return 0
	})
	return files, stats
}

func TestScan(t *testing.T) {
	t.Run("streams parsed and malformed files", func(t *testing.T) {
		memFS := afero.NewMemMapFs()
		writeArchive(t, memFS,
			"/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.010",
			"/archive/2020/NET1/STA1/HHZ.D/garbage_file.mseed",
			"/archive/2020/NET1/STA1/HHZ.D/.NET1.STA1.00.HHZ.D.2020.011.swp",
			"/archive/2020/NET1/.hidden/HHZ.D/NET1.STA1.00.HHZ.D.2020.012",
		)

		s := scans.Scanner{Fs: memFS, Root: "/archive"}
		files, stats := collect(t, s, scans.Params{YearStart: 2020, YearEnd: 2020})

		require.Len(t, files, 2)
		require.Equal(t, "NET1.STA1.00.HHZ.D.2020.010", files[0].Name)
		require.NotNil(t, files[0].Identity)
		require.Equal(t, "HHZ", files[0].Identity.Channel)
		require.Equal(t, "/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.010", files[0].Path)
		require.Equal(t, time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC), files[0].ModTime.UTC())

		require.Equal(t, "garbage_file.mseed", files[1].Name)
		require.Nil(t, files[1].Identity)

		require.Equal(t, scans.Stats{Files: 2, Malformed: 1}, stats)
	})

	t.Run("only walks years in range and tolerates missing years", func(t *testing.T) {
		memFS := afero.NewMemMapFs()
		writeArchive(t, memFS,
			"/archive/2018/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2018.001",
			"/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.001",
			"/archive/2022/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2022.001",
		)

		s := scans.Scanner{Fs: memFS, Root: "/archive"}
		files, _ := collect(t, s, scans.Params{YearStart: 2019, YearEnd: 2021})
		require.Len(t, files, 1)
		require.Equal(t, 2020, files[0].Identity.Year)
	})

	t.Run("skips excluded networks by directory and by name", func(t *testing.T) {
		memFS := afero.NewMemMapFs()
		writeArchive(t, memFS,
			"/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.001",
			"/archive/2020/NET2/STA1/HHZ.D/NET2.STA1.00.HHZ.D.2020.001",
			"/archive/2020/NET1/STA2/HHZ.D/NET2.STA2.00.HHZ.D.2020.001",
		)

		s := scans.Scanner{Fs: memFS, Root: "/archive"}
		files, _ := collect(t, s, scans.Params{YearStart: 2020, YearEnd: 2020, Excluded: model.NewNetworkSet("NET2")})
		require.Len(t, files, 1)
		require.Equal(t, "NET1", files[0].Identity.Network)
	})

	t.Run("callback errors stop the scan", func(t *testing.T) {
		memFS := afero.NewMemMapFs()
		writeArchive(t, memFS,
			"/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.001",
			"/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.002",
		)

		boom := errors.New("boom")
		calls := 0
		s := scans.Scanner{Fs: memFS, Root: "/archive"}
		_, err := s.Scan(t.Context(), scans.Params{YearStart: 2020, YearEnd: 2020}, func(model.ParsedFile) error {
			calls++
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, calls)
	})

	t.Run("stops on a canceled context", func(t *testing.T) {
		memFS := afero.NewMemMapFs()
		writeArchive(t, memFS, "/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.001")

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		s := scans.Scanner{Fs: memFS, Root: "/archive"}
		_, err := s.Scan(ctx, scans.Params{YearStart: 2020, YearEnd: 2020}, func(model.ParsedFile) error {
			return nil
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestCheckRoot(t *testing.T) {
	memFS := afero.NewMemMapFs()
	writeArchive(t, memFS, "/archive/file")

	require.NoError(t, scans.Scanner{Fs: memFS, Root: "/archive"}.CheckRoot())

	var cfgErr types.ConfigError
	require.ErrorAs(t, scans.Scanner{Fs: memFS, Root: "/missing"}.CheckRoot(), &cfgErr)
	require.ErrorAs(t, scans.Scanner{Fs: memFS, Root: "/archive/file"}.CheckRoot(), &cfgErr)
}

// deniedFs refuses to open or stat the listed paths.
type deniedFs struct {
	afero.Fs
	denied map[string]bool
}

func (d deniedFs) Open(name string) (afero.File, error) {
	if d.denied[name] {
		return nil, &os.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
	}
	return d.Fs.Open(name)
}

func (d deniedFs) Stat(name string) (os.FileInfo, error) {
	if d.denied[name] {
		return nil, &os.PathError{Op: "stat", Path: name, Err: fs.ErrPermission}
	}
	return d.Fs.Stat(name)
}

func TestScanSkipsUnreadableEntries(t *testing.T) {
	memFS := afero.NewMemMapFs()
	writeArchive(t, memFS,
		"/archive/2019/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2019.001",
		"/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.001",
		"/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.002",
		"/archive/2020/NET1/STA2/HHZ.D/NET1.STA2.00.HHZ.D.2020.001",
	)
	s := scans.Scanner{
		Fs: deniedFs{Fs: memFS, denied: map[string]bool{
			"/archive/2019":           true,
			"/archive/2020/NET1/STA2": true,
			"/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.002": true,
		}},
		Root: "/archive",
	}

	files, stats := collect(t, s, scans.Params{YearStart: 2019, YearEnd: 2020})
	require.Len(t, files, 1)
	require.Equal(t, "/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.001", files[0].Path)
	require.NotNil(t, files[0].Identity)
	require.Equal(t, scans.Stats{Files: 1, Skipped: 3}, stats)
}
