package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "researcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "graphweave-research", cfg.Temporal.TaskQueue)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 60, cfg.Research.MaxIterations)
	assert.Equal(t, 2112, cfg.Service.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Service.GracefulTimeout)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadReadsFileValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
temporal:
  host_port: temporal.internal:7233
  namespace: research
llm:
  provider: openai
  model: gpt-4o
  api_key: sk-test
database:
  driver: postgres
  dsn: postgres://research@db/research
research:
  max_iterations: 120
  human_in_loop: true
`))
	require.NoError(t, err)

	assert.Equal(t, "temporal.internal:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "research", cfg.Temporal.Namespace)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 120, cfg.Research.MaxIterations)
	assert.True(t, cfg.Research.HumanInLoop)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("RESEARCHER_TEMPORAL_HOST_PORT", "override:7233")
	t.Setenv("RESEARCHER_LLM_API_KEY", "sk-env")

	cfg, err := Load(writeConfig(t, `
temporal:
  host_port: file:7233
`))
	require.NoError(t, err)

	assert.Equal(t, "override:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	_, err := Load(writeConfig(t, `
llm:
  provider: oracle
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  driver: mysql
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestExplicitMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultPathIsOptional(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}
