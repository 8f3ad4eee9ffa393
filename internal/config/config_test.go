package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Governor.MaxRequestsPerHour != 3600 || cfg.Governor.BudgetMargin != 5 {
		t.Fatalf("unexpected governor budget defaults: %+v", cfg.Governor)
	}
	if cfg.Schedule.RunInterval() != 168*time.Hour {
		t.Fatalf("expected 168h run interval, got %v", cfg.Schedule.RunInterval())
	}
	if !cfg.Schedule.Repeat() {
		t.Fatalf("expected repeated runs by default")
	}
	if cfg.Search.ResultLimit != -1 {
		t.Fatalf("expected unlimited results by default, got %d", cfg.Search.ResultLimit)
	}
	if cfg.Search.EffectiveFilterStep() != 10000 {
		t.Fatalf("expected default filter step, got %d", cfg.Search.EffectiveFilterStep())
	}
	if len(cfg.Governor.ChallengeMarkers) != 3 {
		t.Fatalf("expected default challenge markers, got %v", cfg.Governor.ChallengeMarkers)
	}
	if cfg.DB.Driver != "memory" {
		t.Fatalf("expected memory driver, got %q", cfg.DB.Driver)
	}
	since, err := cfg.Search.NewCompaniesSinceDate()
	if err != nil {
		t.Fatalf("NewCompaniesSinceDate() error = %v", err)
	}
	if !since.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected since date %v", since)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
app:
  debug: true
schedule:
  hours_between_runs: 24
  run_repeatedly: 0
governor:
  seconds_between_searches: 1.5
  max_requests_per_hour: 100
  budget_margin: 10
search:
  custom_filter_step: 2500
  result_limit: 40
  refresh_only: true
db:
  driver: postgres
  dsn: postgres://localhost/crawler
export:
  provider: local
  base_dir: /tmp/exports
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.App.Debug {
		t.Fatalf("expected debug override")
	}
	if cfg.Schedule.Repeat() {
		t.Fatalf("expected one-shot schedule")
	}
	if cfg.Schedule.RunInterval() != 24*time.Hour {
		t.Fatalf("expected 24h interval, got %v", cfg.Schedule.RunInterval())
	}
	if got := Delay(cfg.Governor.SecondsBetweenSearches); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s search delay, got %v", got)
	}
	if cfg.Search.EffectiveFilterStep() != 2500 {
		t.Fatalf("expected custom filter step, got %d", cfg.Search.EffectiveFilterStep())
	}
	if !cfg.Search.RefreshOnly || cfg.Search.ResultLimit != 40 {
		t.Fatalf("expected search overrides, got %+v", cfg.Search)
	}
	if cfg.DB.Driver != "postgres" || cfg.Export.Provider != "local" {
		t.Fatalf("expected storage overrides, got %+v %+v", cfg.DB, cfg.Export)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"budget", func(c *Config) { c.Governor.MaxRequestsPerHour = 0 }, "max_requests_per_hour"},
		{"margin", func(c *Config) { c.Governor.BudgetMargin = c.Governor.MaxRequestsPerHour }, "budget_margin"},
		{"cooldown", func(c *Config) { c.Governor.CooldownMax = time.Minute }, "cooldown_max"},
		{"probe", func(c *Config) { c.Governor.ProbeRate = 2 }, "probe_rate"},
		{"page size", func(c *Config) { c.Search.PageSize = 0 }, "page_size"},
		{"date", func(c *Config) { c.Search.NewCompaniesSince = "2020-01-01" }, "new_companies_since"},
		{"driver", func(c *Config) { c.DB.Driver = "sqlite" }, "db.driver"},
		{"dsn", func(c *Config) { c.DB.Driver = "postgres"; c.DB.DSN = "" }, "db.dsn"},
		{"gcs", func(c *Config) { c.Export.Provider = "gcs" }, "gcs_bucket"},
		{"pubsub", func(c *Config) { c.PubSub.TopicName = "profiles" }, "project_id"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CRAWLER_SEARCH_PAGE_LIMIT", "7")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Search.PageLimit != 7 {
		t.Fatalf("expected env override, got %d", cfg.Search.PageLimit)
	}
}
