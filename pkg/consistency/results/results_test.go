package results_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eida/wfcc/pkg/consistency/model"
	"github.com/eida/wfcc/pkg/consistency/results"
)

func identity(t *testing.T, name string) model.FileIdentity {
	t.Helper()
	id, err := model.ParseFileName(name)
	require.NoError(t, err)
	return id
}

func sampleClassification(t *testing.T) *model.Classification {
	t.Helper()
	class := model.NewClassification()
	missing := identity(t, "NET1.STA1.00.HHZ.D.2020.001")
	class.Add(model.MissingInCatalog, model.NewRecord(missing, "/archive/2020/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2020.001"))
	orphan := identity(t, "NET9.STA9..BHZ.D.2020.010")
	class.Add(model.InconsistentMetadata, model.NewRecord(orphan, orphan.FileName()))
	class.AddRemoval(model.NewRecord(orphan, "/archive/2020/NET9/STA9/BHZ.D/NET9.STA9..BHZ.D.2020.010"), model.ReasonOrphaned)
	class.Add(model.InappropriateNaming, model.NamingRecord("garbage.txt"))
	class.Scanned = 3
	return class
}

func persist(t *testing.T, target string, class *model.Classification) results.ResultID {
	t.Helper()
	sink, err := results.OpenSQLite(t.Context(), target)
	require.NoError(t, err)
	id, err := results.Persist(t.Context(), sink, class, results.RunInfo{
		StartedAt:  time.Unix(1000, 0),
		FinishedAt: time.Unix(2000, 0),
		YearStart:  2020,
		YearEnd:    2020,
		Excluded:   []string{"XX", "YY"},
		Checksum:   true,
		Files:      class.Scanned,
	})
	require.NoError(t, err)
	return id
}

func TestPersistAndRead(t *testing.T) {
	target := filepath.Join(t.TempDir(), results.DefaultFileName)
	id := persist(t, target, sampleClassification(t))

	r, err := results.OpenReader(target)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	counts, err := r.Counts(t.Context())
	require.NoError(t, err)
	require.Equal(t, map[model.Table]int{
		model.InconsistentMetadata: 1,
		model.MissingInCatalog:     1,
		model.InconsistentChecksum: 0,
		model.OlderDate:            0,
		model.RemoveFromCatalog:    1,
		model.InappropriateNaming:  1,
	}, counts)

	t.Run("identity columns", func(t *testing.T) {
		recs, err := r.Records(t.Context(), model.InconsistentMetadata, 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, "NET9", recs[0].Network)
		require.Equal(t, "", recs[0].Location)
		require.Equal(t, 2020, recs[0].Year)
		require.Equal(t, 10, recs[0].JulianDay)
		require.Equal(t, "NET9.STA9..BHZ.D.2020.010", recs[0].FileName)
		require.True(t, recs[0].HasCodes)
	})

	t.Run("naming rows keep unknown columns empty", func(t *testing.T) {
		recs, err := r.Records(t.Context(), model.InappropriateNaming, 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, "garbage.txt", recs[0].FileName)
		require.False(t, recs[0].HasCodes)
		require.False(t, recs[0].HasDate)
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := r.Records(t.Context(), model.Table("sqlite_master"), 0)
		require.Error(t, err)
	})

	t.Run("run record", func(t *testing.T) {
		run, err := r.LatestRun(t.Context())
		require.NoError(t, err)
		require.Equal(t, id, run.ID)
		require.Equal(t, []string{"XX", "YY"}, run.Excluded)
		require.True(t, run.Checksum)
		require.False(t, run.StrictEpochs)
		require.Equal(t, 3, run.Files)
		require.Equal(t, int64(2000), run.FinishedAt.Unix())
	})
}

func TestPersistReplacesPreviousArtifact(t *testing.T) {
	target := filepath.Join(t.TempDir(), results.DefaultFileName)
	persist(t, target, sampleClassification(t))

	second := model.NewClassification()
	second.Add(model.OlderDate, model.NewRecord(identity(t, "NET1.STA1.00.HHZ.D.2021.005"), "/archive/2021/NET1/STA1/HHZ.D/NET1.STA1.00.HHZ.D.2021.005"))
	id := persist(t, target, second)

	r, err := results.OpenReader(target)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	counts, err := r.Counts(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.OlderDate])
	require.Equal(t, 0, counts[model.MissingInCatalog])
	require.Equal(t, 0, counts[model.InappropriateNaming])

	run, err := r.LatestRun(t.Context())
	require.NoError(t, err)
	require.Equal(t, id, run.ID)
}

type failingSink struct {
	results.Sink
	aborted bool
}

func (f *failingSink) WriteOlderDate(context.Context, []model.Record) error {
	return errors.New("disk full")
}

func (f *failingSink) Abort() error {
	f.aborted = true
	return f.Sink.Abort()
}

func TestPersistFailureKeepsPreviousArtifact(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, results.DefaultFileName)
	persist(t, target, sampleClassification(t))

	sink, err := results.OpenSQLite(t.Context(), target)
	require.NoError(t, err)
	fs := &failingSink{Sink: sink}
	_, err = results.Persist(t.Context(), fs, model.NewClassification(), results.RunInfo{})
	require.ErrorContains(t, err, "disk full")
	require.True(t, fs.aborted)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must be cleaned up")

	r, err := results.OpenReader(target)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	counts, err := r.Counts(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.MissingInCatalog])
}

func TestEmptyRunCreatesEveryTable(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", results.DefaultFileName)
	persist(t, target, model.NewClassification())

	r, err := results.OpenReader(target)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	counts, err := r.Counts(t.Context())
	require.NoError(t, err)
	require.Len(t, counts, len(model.Tables))
	for table, n := range counts {
		require.Zero(t, n, table)
	}
}

func TestOpenReaderMissingArtifact(t *testing.T) {
	_, err := results.OpenReader(filepath.Join(t.TempDir(), "nope.db"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPersistCompletesOnSingleConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	target := filepath.Join(t.TempDir(), results.DefaultFileName)
	for _, class := range []*model.Classification{model.NewClassification(), sampleClassification(t)} {
		sink, err := results.OpenSQLite(ctx, target)
		require.NoError(t, err)
		_, err = results.Persist(ctx, sink, class, results.RunInfo{
			StartedAt:  time.UnixMicro(1_000_000_123),
			FinishedAt: time.UnixMicro(2_000_000_456),
			YearStart:  2020,
			YearEnd:    2020,
		})
		require.NoError(t, err)
	}

	r, err := results.OpenReader(target)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	run, err := r.LatestRun(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2_000_000_456), run.FinishedAt.UnixMicro())
}
