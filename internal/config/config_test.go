package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Admin.Port)
	require.Equal(t, "data", cfg.Storage.DataDir)
	require.Equal(t, 730, cfg.Scanner.DateRangeDays)
	require.Equal(t, 5, cfg.GitHub.MaxRetries)
	require.Equal(t, 60, cfg.Sync.IntervalSeconds)
	require.Equal(t, 2, cfg.Sync.Workers)
	require.True(t, cfg.Scanner.ResetQueriesPerPass)
	require.Equal(t, "gemini-2.5-flash", cfg.Validator.Model)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
github:
  tokens: "tok-a, tok-b,,tok-c"
scanner:
  date_range_days: 30
  path_blacklist: "Readme, DOCS ,"
sync:
  balancer:
    enabled: true
    url: "https://balancer.example.com"
    auth: "secret"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"tok-a", "tok-b", "tok-c"}, cfg.GitHub.TokenList())
	require.Equal(t, []string{"readme", "docs"}, cfg.Scanner.BlacklistTokens())
	require.Equal(t, 30, cfg.Scanner.DateRangeDays)
	require.True(t, cfg.Sync.Balancer.Enabled)
}

func TestValidateRejectsEnabledBalancerWithoutAuth(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Sync.Balancer.Enabled = true
	cfg.Sync.Balancer.URL = "https://balancer.example.com"
	require.Error(t, cfg.Validate())

	cfg.Sync.Balancer.Auth = "secret"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadLimits(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Scanner.DateRangeDays = 0
	require.Error(t, cfg.Validate())
}

func TestTokenListEmptyPool(t *testing.T) {
	var gh GitHubConfig
	require.Empty(t, gh.TokenList())
}
