package sqlcatalog_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eida/wfcc/internal/testdb"
	"github.com/eida/wfcc/pkg/consistency/catalog"
	"github.com/eida/wfcc/pkg/consistency/catalog/sqlcatalog"
	"github.com/eida/wfcc/pkg/consistency/model"
)

func entry(t *testing.T, name string, checksum []byte, added time.Time) model.CatalogEntry {
	t.Helper()
	id, err := model.ParseFileName(name)
	require.NoError(t, err)
	return model.CatalogEntry{Identity: id, FileName: name, Checksum: checksum, AddedAt: added}
}

func records(t *testing.T, s catalog.Store, q catalog.Query) map[string]catalog.Record {
	t.Helper()
	out := make(map[string]catalog.Record)
	require.NoError(t, s.Records(t.Context(), q, func(r catalog.Record) error {
		out[r.FileName] = r
		return nil
	}))
	return out
}

func TestIsPostgres(t *testing.T) {
	require.True(t, sqlcatalog.IsPostgres("postgres://wfcc@localhost/wfrepo"))
	require.True(t, sqlcatalog.IsPostgres("postgresql://wfcc@localhost/wfrepo"))
	require.False(t, sqlcatalog.IsPostgres("/var/lib/wfcc/catalog.db"))
}

func TestRecords(t *testing.T) {
	added := time.Date(2021, time.February, 3, 4, 5, 6, 789000, time.UTC)
	store := testdb.CreateCatalogDB(t,
		entry(t, "NET1.STA1.00.HHZ.D.2019.365", []byte{0x01}, added),
		entry(t, "NET1.STA1.00.HHZ.D.2020.001", []byte{0xde, 0xad, 0xbe, 0xef}, added),
		entry(t, "NET1.STA1.00.HHZ.D.2020.366", nil, added),
		entry(t, "NET2.STA1.00.HHZ.D.2020.001", []byte{0x02}, added),
		entry(t, "NET1.STA1.00.HHZ.D.2021.001", []byte{0x03}, added),
	)

	t.Run("selects the year window", func(t *testing.T) {
		got := records(t, store, catalog.Query{YearStart: 2020, YearEnd: 2020})
		require.Len(t, got, 3)
		require.Contains(t, got, "NET1.STA1.00.HHZ.D.2020.366")

		rec := got["NET1.STA1.00.HHZ.D.2020.001"]
		require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, rec.Checksum)
		require.Equal(t, added, rec.Created)
		require.Nil(t, got["NET1.STA1.00.HHZ.D.2020.366"].Checksum)
	})

	t.Run("excludes networks", func(t *testing.T) {
		got := records(t, store, catalog.Query{YearStart: 2019, YearEnd: 2021, Excluded: model.NewNetworkSet("NET2")})
		require.Len(t, got, 4)
		require.NotContains(t, got, "NET2.STA1.00.HHZ.D.2020.001")
	})

	t.Run("put replaces an existing row", func(t *testing.T) {
		later := added.Add(time.Hour)
		require.NoError(t, store.Put(t.Context(), entry(t, "NET1.STA1.00.HHZ.D.2021.001", []byte{0x04}, later)))
		got := records(t, store, catalog.Query{YearStart: 2021, YearEnd: 2021})
		require.Equal(t, []byte{0x04}, got["NET1.STA1.00.HHZ.D.2021.001"].Checksum)
		require.Equal(t, later, got["NET1.STA1.00.HHZ.D.2021.001"].Created)
	})
}

func TestBuildFromSQLCatalog(t *testing.T) {
	added := time.Date(2021, time.February, 3, 0, 0, 0, 0, time.UTC)
	store := testdb.CreateCatalogDB(t,
		entry(t, "NET1.STA1.00.HHZ.D.2020.001", []byte{0x01}, added),
		entry(t, "NET2.STA1.00.HHZ.D.2020.001", []byte{0x02}, added),
	)

	idx, err := catalog.Build(t.Context(), store, catalog.Query{YearStart: 2020, YearEnd: 2020, Excluded: model.NewNetworkSet("NET2")})
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())

	id, err := model.ParseFileName("NET1.STA1.00.HHZ.D.2020.001")
	require.NoError(t, err)
	e, ok := idx.Entry(id)
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, e.Checksum)
}
