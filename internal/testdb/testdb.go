package testdb

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eida/wfcc/pkg/consistency/catalog/sqlcatalog"
	"github.com/eida/wfcc/pkg/consistency/model"
)

// CreateCatalogDB creates a migrated SQLite catalog mirror in a temporary
// directory and seeds it with entries. The store is closed when the test
// ends.
func CreateCatalogDB(t *testing.T, entries ...model.CatalogEntry) *sqlcatalog.Store {
	t.Helper()

	// Give each test its own database file to avoid cross-test contention.
	path := filepath.Join(t.TempDir(), fmt.Sprintf("catalog_%d.db", time.Now().UnixNano()))
	store, err := sqlcatalog.Open(t.Context(), path)
	require.NoError(t, err, "failed to open SQLite catalog")
	t.Cleanup(func() {
		store.Close(t.Context())
	})

	require.NoError(t, store.Migrate(t.Context()), "failed to apply catalog migrations")
	for _, e := range entries {
		require.NoError(t, store.Put(t.Context(), e), "failed to seed catalog")
	}
	return store
}
