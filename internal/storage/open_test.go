package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/config"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "harmony.db")
	s, err := Open(context.Background(), config.StoreConfig{Driver: config.DriverSQLite, SQLitePath: path}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	counts, err := s.TableCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 6)
	require.FileExists(t, path)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.StoreConfig{Driver: "mysql"}, nil)
	require.ErrorContains(t, err, "unknown store driver")
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.StoreConfig{Driver: config.DriverPostgres}, nil)
	require.Error(t, err)
}

func TestPostgresConfigCarriesPoolSettings(t *testing.T) {
	t.Parallel()

	got := postgresConfig(config.StoreConfig{
		Driver:          config.DriverPostgres,
		DSN:             "postgres://harmony@localhost/harmony",
		MaxConns:        8,
		MaxConnLifetime: 45 * time.Minute,
	})
	require.Equal(t, "postgres://harmony@localhost/harmony", got.DSN)
	require.Equal(t, int32(8), got.MaxConns)
	require.Equal(t, 45*time.Minute, got.MaxConnLifetime)
}
