package consistency_test

import (
	"crypto/md5"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/eida/wfcc/internal/testdb"
	"github.com/eida/wfcc/pkg/bus"
	"github.com/eida/wfcc/pkg/bus/events"
	"github.com/eida/wfcc/pkg/consistency"
	"github.com/eida/wfcc/pkg/consistency/metadata"
	"github.com/eida/wfcc/pkg/consistency/model"
	"github.com/eida/wfcc/pkg/consistency/results"
	"github.com/eida/wfcc/pkg/consistency/scans"
	"github.com/eida/wfcc/pkg/consistency/types"
)

const inventory = `#Network|Station|Location|Channel|Latitude|Longitude|Elevation|Depth|Azimuth|Dip|SensorDescription|Scale|ScaleFreq|ScaleUnits|SampleRate|StartTime|EndTime
NET1|STA1|00|HHZ|45.0|5.0|100|0|0|-90|STS-2|1.0E9|1.0|M/S|100|2010-01-01T00:00:00|
`

var (
	fileTime    = time.Date(2020, time.February, 1, 0, 0, 0, 0, time.UTC)
	catalogedAt = fileTime.Add(time.Hour)
)

func fdsnServer(t *testing.T, body string, status int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

type archive struct {
	fs      afero.Fs
	entries []model.CatalogEntry
}

func (a *archive) file(t *testing.T, name, content string) string {
	t.Helper()
	id, err := model.ParseFileName(name)
	dir := "/archive/2020/NET1/STA1/HHZ.D"
	if err == nil {
		dir = filepath.Join("/archive", "2020", id.Network, id.Station, id.Channel+"."+id.Quality)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, a.fs.MkdirAll(dir, 0755))
	require.NoError(t, afero.WriteFile(a.fs, path, []byte(content), 0644))
	require.NoError(t, a.fs.Chtimes(path, fileTime, fileTime))
	return path
}

func (a *archive) cataloged(t *testing.T, name, content string) {
	t.Helper()
	id, err := model.ParseFileName(name)
	require.NoError(t, err)
	sum := md5.Sum([]byte(content))
	a.entries = append(a.entries, model.CatalogEntry{Identity: id, FileName: name, Checksum: sum[:], AddedAt: catalogedAt})
}

func newAPI(t *testing.T, a *archive, fdsnURL, resultsPath string, opts ...consistency.Option) consistency.API {
	t.Helper()
	store := testdb.CreateCatalogDB(t, a.entries...)
	fetcher := metadata.NewFDSNClient(fdsnURL, metadata.WithBackOff(&backoff.ZeroBackOff{}), metadata.WithRetries(1))
	opts = append([]consistency.Option{consistency.WithResultsPath(resultsPath), consistency.WithWorkers(2)}, opts...)
	return consistency.NewAPI(scans.Scanner{Fs: a.fs, Root: "/archive"}, fetcher, store, opts...)
}

func TestRun(t *testing.T) {
	a := &archive{fs: afero.NewMemMapFs()}
	a.file(t, "NET1.STA1.00.HHZ.D.2020.001", "consistent")
	a.cataloged(t, "NET1.STA1.00.HHZ.D.2020.001", "consistent")
	missing := a.file(t, "NET1.STA1.00.HHZ.D.2020.002", "not cataloged")
	corrupted := a.file(t, "NET1.STA1.00.HHZ.D.2020.003", "rewritten")
	a.cataloged(t, "NET1.STA1.00.HHZ.D.2020.003", "original")
	orphan := a.file(t, "NET3.STA3..BHZ.D.2020.004", "no metadata")
	a.cataloged(t, "NET3.STA3..BHZ.D.2020.004", "no metadata")
	a.file(t, "garbage.txt", "junk")
	a.cataloged(t, "NET1.STA1.00.HHZ.D.2020.005", "deleted from archive")
	a.cataloged(t, "NET1.STA1.00.HHZ.D.2019.005", "outside the window")

	resultsPath := filepath.Join(t.TempDir(), results.DefaultFileName)
	b := bus.New()
	var mu sync.Mutex
	var phases []events.PhaseView
	require.NoError(t, b.Subscribe(events.TopicPhase, func(v events.PhaseView) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, v)
	}))
	api := newAPI(t, a, fdsnServer(t, inventory, http.StatusOK), resultsPath, consistency.WithEventBus(b))

	report, err := api.Run(t.Context(), consistency.Params{YearStart: 2020, YearEnd: 2020, Checksum: true})
	require.NoError(t, err)

	require.Equal(t, map[model.Table]int{
		model.InconsistentMetadata: 1,
		model.MissingInCatalog:     1,
		model.InconsistentChecksum: 1,
		model.OlderDate:            0,
		model.RemoveFromCatalog:    2,
		model.InappropriateNaming:  1,
	}, report.Counts)
	require.Equal(t, map[model.RemovalReason]int{
		model.ReasonOrphaned: 1,
		model.ReasonAbsent:   1,
	}, report.Reasons)
	require.Equal(t, scans.Stats{Files: 5, Malformed: 1}, report.Scan)
	require.Equal(t, 1, report.MetadataChannels)
	require.Equal(t, 4, report.CatalogEntries)
	require.Positive(t, report.BytesHashed)
	require.Empty(t, report.Errors)
	require.Len(t, phases, 6)

	r, err := results.OpenReader(resultsPath)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	fileNames := func(table model.Table) []string {
		recs, err := r.Records(t.Context(), table, 0)
		require.NoError(t, err)
		var names []string
		for _, rec := range recs {
			names = append(names, rec.FileName)
		}
		return names
	}
	require.Equal(t, []string{missing}, fileNames(model.MissingInCatalog))
	require.Equal(t, []string{corrupted}, fileNames(model.InconsistentChecksum))
	require.Equal(t, []string{"NET3.STA3..BHZ.D.2020.004"}, fileNames(model.InconsistentMetadata))
	require.Equal(t, []string{orphan, "NET1.STA1.00.HHZ.D.2020.005"}, fileNames(model.RemoveFromCatalog))
	require.Equal(t, []string{"garbage.txt"}, fileNames(model.InappropriateNaming))

	run, err := r.LatestRun(t.Context())
	require.NoError(t, err)
	require.Equal(t, report.ID, run.ID)
	require.True(t, run.Checksum)
}

func TestRunWithoutChecksum(t *testing.T) {
	a := &archive{fs: afero.NewMemMapFs()}
	a.file(t, "NET1.STA1.00.HHZ.D.2020.003", "rewritten")
	a.cataloged(t, "NET1.STA1.00.HHZ.D.2020.003", "original")

	api := newAPI(t, a, fdsnServer(t, inventory, http.StatusOK), filepath.Join(t.TempDir(), "results.db"))
	report, err := api.Run(t.Context(), consistency.Params{YearStart: 2020, YearEnd: 2020})
	require.NoError(t, err)
	require.Zero(t, report.Counts[model.InconsistentChecksum])
	require.Zero(t, report.BytesHashed)
	require.Zero(t, report.Rows())
}

func TestRunFatalErrors(t *testing.T) {
	t.Run("start after end", func(t *testing.T) {
		a := &archive{fs: afero.NewMemMapFs()}
		a.file(t, "NET1.STA1.00.HHZ.D.2020.001", "x")
		resultsPath := filepath.Join(t.TempDir(), "results.db")
		api := newAPI(t, a, fdsnServer(t, inventory, http.StatusOK), resultsPath)

		_, err := api.Run(t.Context(), consistency.Params{YearStart: 2021, YearEnd: 2020})
		var cfgErr types.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		require.NoFileExists(t, resultsPath)
	})

	t.Run("missing archive root", func(t *testing.T) {
		a := &archive{fs: afero.NewMemMapFs()}
		resultsPath := filepath.Join(t.TempDir(), "results.db")
		api := newAPI(t, a, fdsnServer(t, inventory, http.StatusOK), resultsPath)

		_, err := api.Run(t.Context(), consistency.Params{YearStart: 2020, YearEnd: 2020})
		var cfgErr types.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		require.True(t, types.IsFatal(err))
		require.NoFileExists(t, resultsPath)
	})

	t.Run("metadata service without data", func(t *testing.T) {
		a := &archive{fs: afero.NewMemMapFs()}
		a.file(t, "NET1.STA1.00.HHZ.D.2020.001", "x")
		resultsPath := filepath.Join(t.TempDir(), "results.db")
		api := newAPI(t, a, fdsnServer(t, "", http.StatusNotFound), resultsPath)

		_, err := api.Run(t.Context(), consistency.Params{YearStart: 2020, YearEnd: 2020})
		var srcErr types.SourceError
		require.ErrorAs(t, err, &srcErr)
		require.Equal(t, "metadata", srcErr.Source)
		require.NoFileExists(t, resultsPath)
	})
}

func TestRunKeepsPreviousResultsOnFailure(t *testing.T) {
	a := &archive{fs: afero.NewMemMapFs()}
	a.file(t, "NET1.STA1.00.HHZ.D.2020.002", "not cataloged")
	resultsPath := filepath.Join(t.TempDir(), "results.db")

	api := newAPI(t, a, fdsnServer(t, inventory, http.StatusOK), resultsPath)
	_, err := api.Run(t.Context(), consistency.Params{YearStart: 2020, YearEnd: 2020})
	require.NoError(t, err)
	before, err := os.ReadFile(resultsPath)
	require.NoError(t, err)

	failing := newAPI(t, a, fdsnServer(t, "", http.StatusServiceUnavailable), resultsPath)
	_, err = failing.Run(t.Context(), consistency.Params{YearStart: 2020, YearEnd: 2020})
	require.Error(t, err)

	after, err := os.ReadFile(resultsPath)
	require.NoError(t, err)
	require.Equal(t, before, after)
}
