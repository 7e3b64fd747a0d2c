package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfig_SetDefaults(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "postgres"}
	cfg.SetDefaults()

	assert.Equal(t, 25, cfg.MaxConns)
	assert.Equal(t, 5, cfg.MaxIdle)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "disable", cfg.SSLMode)
}

func TestDatabaseConfig_SetDefaults_MySQLPort(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "mysql"}
	cfg.SetDefaults()
	assert.Equal(t, 3306, cfg.Port)
}

func TestDatabaseConfig_Validate_RejectsUnknownDriver(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "oracle", Database: "x"}
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfig_Validate_RequiresDatabase(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "sqlite"}
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfig_Validate_RequiresHostForNetworkedDrivers(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "postgres", Database: "sim"}
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfig_Validate_SQLiteNeedsNoHost(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "sqlite", Database: "sim.db"}
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseConfig_DSN_Postgres(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432, Database: "sim", Username: "sim", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5432 dbname=sim user=sim sslmode=disable", cfg.DSN())
}

func TestDatabaseConfig_DSN_MySQL(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "mysql", Host: "localhost", Port: 3306, Database: "sim", Username: "sim", Password: "secret"}
	assert.Equal(t, "sim:secret@tcp(localhost:3306)/sim", cfg.DSN())
}

func TestDatabaseConfig_DSN_SQLiteIsBarePath(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "sqlite", Database: "/tmp/sim.db"}
	assert.Equal(t, "/tmp/sim.db", cfg.DSN())
}

func TestDatabaseConfig_DriverName_NormalizesSQLite(t *testing.T) {
	assert.Equal(t, "sqlite3", (&DatabaseConfig{Driver: "sqlite"}).DriverName())
	assert.Equal(t, "postgres", (&DatabaseConfig{Driver: "postgres"}).DriverName())
}

func TestDBPool_GetReturnsSharedConnectionForSameDSN(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pool.db")
	cfg := &DatabaseConfig{Driver: "sqlite", Database: dbPath}
	cfg.SetDefaults()

	pool := NewDBPool()
	defer pool.Close()

	db1, err := pool.Get(cfg)
	require.NoError(t, err)
	db2, err := pool.Get(cfg)
	require.NoError(t, err)

	assert.Same(t, db1, db2, "same DSN must reuse the pooled connection")
}

func TestDBPool_Close_ClearsPool(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pool.db")
	cfg := &DatabaseConfig{Driver: "sqlite", Database: dbPath}
	cfg.SetDefaults()

	pool := NewDBPool()
	_, err := pool.Get(cfg)
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	assert.Empty(t, pool.pools)
}
