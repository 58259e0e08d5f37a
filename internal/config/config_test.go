package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsFromEnvOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Kind)
	assert.Equal(t, 30*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, "latin1", cfg.Source.Encoding)
	assert.Equal(t, '|', cfg.Source.DelimiterRune())
	assert.Equal(t, "sdr_raw", cfg.Mirror.Schema)
	assert.Equal(t, 1000, cfg.Curated.BatchSize)
	assert.Equal(t, 25.0, cfg.Curated.MinLat)
	assert.Equal(t, -93.0, cfg.Curated.MaxLon)
	assert.Equal(t, 50.0, cfg.Link.RadiusM)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "welletl.yaml")
	yaml := `
database:
  kind: sqlite
  max_connections: 1
source:
  dir: /data/sdr
  encoding: windows-1252
curated:
  aliases: /data/aliases.json
  batch_size: 500
link:
  radius_m: 100
log:
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("WELLETL_BATCH_SIZE", "250")
	t.Setenv("WELLETL_DATABASE_URL", "file:wells.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Kind)
	assert.Equal(t, "file:wells.db", cfg.Database.URL)
	assert.EqualValues(t, 1, cfg.Database.MaxConnections)
	assert.Equal(t, "/data/sdr", cfg.Source.Dir)
	assert.Equal(t, "windows-1252", cfg.Source.Encoding)
	assert.Equal(t, "/data/aliases.json", cfg.Curated.Aliases)
	assert.Equal(t, 250, cfg.Curated.BatchSize)
	assert.Equal(t, 100.0, cfg.Link.RadiusM)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_Issues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Database.Kind = "oracle"
	cfg.Source.Delimiter = "||"
	cfg.Curated.BatchSize = 0
	cfg.Curated.MinLat = 40
	cfg.Link.RadiusM = 0
	cfg.Metrics.Backend = "statsd"

	issues := cfg.Validate()
	paths := map[string]Severity{}
	for _, iss := range issues {
		paths[iss.Path] = iss.Severity
	}
	for _, p := range []string{"database.kind", "source.delimiter", "curated.batch_size", "curated", "link.radius_m", "metrics.backend"} {
		assert.Equal(t, SeverityError, paths[p], "expected error at %s", p)
	}
	assert.True(t, HasErrors(issues))
	assert.Equal(t, '|', cfg.Source.DelimiterRune())
}

func TestValidate_WarningsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Curated.BatchSize = 50000

	issues := cfg.Validate()
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.False(t, HasErrors(issues))
	assert.Contains(t, issues[0].String(), "warning: curated.batch_size")
}
