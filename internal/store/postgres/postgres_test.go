package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"lingochat/internal/store/postgres"
	"lingochat/internal/store/storetest"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := postgres.Open(context.Background(), dsn)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL")
	require.NoError(t, postgres.Migrate(db))

	s := postgres.New(db)
	t.Cleanup(func() { s.Close() })

	storetest.Run(t, s)
}
