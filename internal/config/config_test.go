package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8800", cfg.Server.TerminalAddr)
	assert.Equal(t, ":8801", cfg.Server.AdminAddr)
	assert.Equal(t, 100, cfg.Server.MaxTerminals)
	assert.Equal(t, 30*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Admin.KickGrace)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.True(t, cfg.Database.Seed)
	assert.Equal(t, time.Minute, cfg.Billing.TickInterval)
	assert.Equal(t, int64(100), cfg.Billing.UnitPrice)
	assert.Equal(t, "data", cfg.Catalog.DataPath)
	assert.Equal(t, 65536, cfg.Transfer.MaxChunkSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()
	content := []byte(`
server:
  terminal_addr: ":9900"
  max_terminals: 8
billing:
  unit_price: 250
database:
  driver: postgres
  host: db.lan
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))
	t.Setenv("BILLING_UNIT_PRICE", "300")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9900", cfg.Server.TerminalAddr)
	assert.Equal(t, 8, cfg.Server.MaxTerminals)
	assert.Equal(t, int64(300), cfg.Billing.UnitPrice)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://netboot:@db.lan:5432/netboot?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_DRIVER", "mysql")

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{MaxTerminals: 1},
			Database: DatabaseConfig{Driver: DriverSQLite},
			Billing:  BillingConfig{TickInterval: time.Minute, UnitPrice: 100},
			Transfer: TransferConfig{MaxChunkSize: 1024},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Server.MaxTerminals = 0 }},
		{"zero tick", func(c *Config) { c.Billing.TickInterval = 0 }},
		{"negative price", func(c *Config) { c.Billing.UnitPrice = -1 }},
		{"zero chunk", func(c *Config) { c.Transfer.MaxChunkSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
