package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Integration coverage for the Postgres backend; needs a reachable server.
// Run with OFFLINESYNC_TEST_POSTGRES_DSN=postgres://... go test ./internal/store
func TestPostgresStoreIntegration(t *testing.T) {
	dsn := os.Getenv("OFFLINESYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("OFFLINESYNC_TEST_POSTGRES_DSN not set")
	}
	st, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	runStoreSuite(t, st)
	require.NoError(t, st.Close())
}
