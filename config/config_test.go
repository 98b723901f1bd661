package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agorad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
run:
  budget: "100.00"
providers:
  - name: alpha
    endpoint: https://alpha.example
    price: "1.00"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "agorad", cfg.Service)
	require.Equal(t, "agorad.db", cfg.DatabasePath)
	require.Equal(t, "USDC", cfg.Run.Token)
	require.Equal(t, 5.0, cfg.Run.Threshold)
	require.Equal(t, 10*time.Minute, cfg.Run.TTL.Duration)
	require.Equal(t, 5*time.Minute, cfg.Run.DeadlineWindow.Duration)
	require.Equal(t, time.Second, cfg.Commit.PollInterval.Duration)
	require.Equal(t, 15, cfg.Commit.MaxAttempts)
	require.Equal(t, 20*time.Second, cfg.Commit.VerifyBudget.Duration)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
run:
  budget: "50.00"
  ttl: 30m
  deadline_window: 90s
commit:
  poll_interval: 250ms
  verify_budget: 1m
providers:
  - name: alpha
    endpoint: https://alpha.example
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, cfg.Run.TTL.Duration)
	require.Equal(t, 90*time.Second, cfg.Run.DeadlineWindow.Duration)
	require.Equal(t, 250*time.Millisecond, cfg.Commit.PollInterval.Duration)
	require.Equal(t, time.Minute, cfg.Commit.VerifyBudget.Duration)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing budget", `
providers:
  - name: alpha
    endpoint: https://alpha.example
`},
		{"no providers", `
run:
  budget: "10.00"
`},
		{"duplicate provider", `
run:
  budget: "10.00"
providers:
  - name: alpha
    endpoint: https://a.example
  - name: alpha
    endpoint: https://b.example
`},
		{"provider without endpoint", `
run:
  budget: "10.00"
providers:
  - name: alpha
`},
		{"threshold out of range", `
run:
  budget: "10.00"
  threshold: 11
providers:
  - name: alpha
    endpoint: https://alpha.example
`},
		{"bad duration", `
run:
  budget: "10.00"
  ttl: soon
providers:
  - name: alpha
    endpoint: https://alpha.example
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
