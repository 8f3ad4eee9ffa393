// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Input     InputConfig     `mapstructure:"input"`
	Output    OutputConfig    `mapstructure:"output"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Governor  GovernorConfig  `mapstructure:"governor"`
	Search    SearchConfig    `mapstructure:"search"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	DB        DBConfig        `mapstructure:"db"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Export    ExportConfig    `mapstructure:"export"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AppConfig holds process-wide switches.
type AppConfig struct {
	// Debug bypasses the inter-run guard and enables development logging.
	Debug bool `mapstructure:"debug"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// InputConfig locates the task list.
type InputConfig struct {
	File string `mapstructure:"file"`
}

// OutputConfig controls the CSV output surface.
type OutputConfig struct {
	File   string `mapstructure:"file"`
	Resume bool   `mapstructure:"resume"`
}

// ScheduleConfig governs repeated runs.
type ScheduleConfig struct {
	HoursBetweenRuns int           `mapstructure:"hours_between_runs"`
	RunRepeatedly    int           `mapstructure:"run_repeatedly"`
	Margin           time.Duration `mapstructure:"margin"`
}

// GovernorConfig configures pacing, hourly budget, and anti-bot cooldown.
type GovernorConfig struct {
	SecondsBetweenSearches float64       `mapstructure:"seconds_between_searches"`
	SecondsBetweenProfiles float64       `mapstructure:"seconds_between_profiles"`
	MaxRequestsPerHour     int           `mapstructure:"max_requests_per_hour"`
	BudgetMargin           int           `mapstructure:"budget_margin"`
	CooldownMin            time.Duration `mapstructure:"cooldown_min"`
	CooldownMax            time.Duration `mapstructure:"cooldown_max"`
	ProbeRate              float64       `mapstructure:"probe_rate"`
	ProbeURL               string        `mapstructure:"probe_url"`
	ChallengeMarkers       []string      `mapstructure:"challenge_markers"`
}

// SearchConfig configures partitioning and pagination.
type SearchConfig struct {
	ResultLimit         int    `mapstructure:"result_limit"`
	FilterStep          int    `mapstructure:"filter_step"`
	CustomFilterStep    int    `mapstructure:"custom_filter_step"`
	MaxFilterValue      int    `mapstructure:"max_filter_value"`
	PageLimit           int    `mapstructure:"page_limit"`
	PageSize            int    `mapstructure:"page_size"`
	RefreshOnly         bool   `mapstructure:"refresh_only"`
	NewCompaniesSince   string `mapstructure:"new_companies_since"`
	UseSecondaryEngine  bool   `mapstructure:"use_secondary_engine"`
	SecondaryMaxResults int    `mapstructure:"secondary_max_results"`
}

// HTTPConfig configures the target-site client.
type HTTPConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	HeadersFile        string        `mapstructure:"headers_file"`
	UserAgent          string        `mapstructure:"user_agent"`
	RandomizeUserAgent bool          `mapstructure:"randomize_user_agent"`
}

// DiscoveryConfig configures the secondary search engine.
type DiscoveryConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ProxyConfig locates the proxy list.
type ProxyConfig struct {
	ListFile string `mapstructure:"list_file"`
	ListURL  string `mapstructure:"list_url"`
}

// DBConfig controls access to the durable store.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DedupConfig enables the Redis recently-processed cache.
type DedupConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
}

// ExportConfig controls where the output surface is copied after each run.
type ExportConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status HTTP server; port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.debug", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("input.file", "user-data/input/input.csv")
	v.SetDefault("output.file", "user-data/output/output.csv")
	v.SetDefault("output.resume", true)
	v.SetDefault("schedule.hours_between_runs", 7*24)
	v.SetDefault("schedule.run_repeatedly", 1)
	v.SetDefault("schedule.margin", time.Minute)
	v.SetDefault("governor.seconds_between_searches", 0)
	v.SetDefault("governor.seconds_between_profiles", 0)
	v.SetDefault("governor.max_requests_per_hour", 3600)
	v.SetDefault("governor.budget_margin", 5)
	v.SetDefault("governor.cooldown_min", 60*time.Minute)
	v.SetDefault("governor.cooldown_max", 120*time.Minute)
	v.SetDefault("governor.probe_rate", 0.01)
	v.SetDefault("governor.probe_url", "https://api.ipify.org?format=json")
	v.SetDefault("governor.challenge_markers", []string{
		"prove you are human",
		"px-captcha",
		"captcha-delivery.com",
	})
	v.SetDefault("search.result_limit", -1)
	v.SetDefault("search.filter_step", 10000)
	v.SetDefault("search.custom_filter_step", 0)
	v.SetDefault("search.max_filter_value", 100000)
	v.SetDefault("search.page_limit", 500)
	v.SetDefault("search.page_size", 50)
	v.SetDefault("search.refresh_only", false)
	v.SetDefault("search.new_companies_since", "01/01/2020")
	v.SetDefault("search.use_secondary_engine", true)
	v.SetDefault("search.secondary_max_results", 5)
	v.SetDefault("http.base_url", "https://www.crunchbase.com")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.headers_file", "resources/headers.har")
	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("http.randomize_user_agent", true)
	v.SetDefault("discovery.base_url", "https://www.google.com")
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("export.provider", "none")
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("server.port", 9090)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Input.File) == "" {
		return fmt.Errorf("input.file must be set")
	}
	if strings.TrimSpace(c.Output.File) == "" {
		return fmt.Errorf("output.file must be set")
	}
	if c.Schedule.HoursBetweenRuns < 0 {
		return fmt.Errorf("schedule.hours_between_runs must be >= 0")
	}
	if c.Governor.MaxRequestsPerHour <= 0 {
		return fmt.Errorf("governor.max_requests_per_hour must be > 0")
	}
	if c.Governor.BudgetMargin < 0 || c.Governor.BudgetMargin >= c.Governor.MaxRequestsPerHour {
		return fmt.Errorf("governor.budget_margin must be >= 0 and below max_requests_per_hour")
	}
	if c.Governor.CooldownMax < c.Governor.CooldownMin {
		return fmt.Errorf("governor.cooldown_max must be >= cooldown_min")
	}
	if c.Governor.ProbeRate < 0 || c.Governor.ProbeRate > 1 {
		return fmt.Errorf("governor.probe_rate must be within [0,1]")
	}
	if c.Search.EffectiveFilterStep() <= 0 {
		return fmt.Errorf("search.filter_step must be > 0")
	}
	if c.Search.MaxFilterValue <= 0 {
		return fmt.Errorf("search.max_filter_value must be > 0")
	}
	if c.Search.PageLimit <= 0 {
		return fmt.Errorf("search.page_limit must be > 0")
	}
	if c.Search.PageSize <= 0 {
		return fmt.Errorf("search.page_size must be > 0")
	}
	if _, err := c.Search.NewCompaniesSinceDate(); err != nil {
		return fmt.Errorf("search.new_companies_since: %w", err)
	}
	if strings.TrimSpace(c.HTTP.BaseURL) == "" {
		return fmt.Errorf("http.base_url must be set")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.driver is postgres")
		}
	default:
		return fmt.Errorf("db.driver must be memory or postgres, got %q", c.DB.Driver)
	}
	switch c.Export.Provider {
	case "", "none", "memory":
	case "local":
		if c.Export.BaseDir == "" {
			return fmt.Errorf("export.base_dir must be set when export.provider is local")
		}
	case "gcs":
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket must be set when export.provider is gcs")
		}
	default:
		return fmt.Errorf("export.provider must be none, memory, local or gcs, got %q", c.Export.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	return nil
}

// RunInterval is the minimum time between completed runs.
func (c ScheduleConfig) RunInterval() time.Duration {
	return time.Duration(c.HoursBetweenRuns) * time.Hour
}

// Repeat reports whether the crawl loops forever rather than running once.
func (c ScheduleConfig) Repeat() bool {
	return c.RunRepeatedly != 0
}

// EffectiveFilterStep returns the custom step when set, otherwise the default step.
func (c SearchConfig) EffectiveFilterStep() int {
	if c.CustomFilterStep > 0 {
		return c.CustomFilterStep
	}
	return c.FilterStep
}

// NewCompaniesSinceDate parses the MM/DD/YYYY refresh cutoff.
func (c SearchConfig) NewCompaniesSinceDate() (time.Time, error) {
	t, err := time.Parse("01/02/2006", strings.TrimSpace(c.NewCompaniesSince))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", c.NewCompaniesSince, err)
	}
	return t, nil
}

// Delay converts a fractional seconds value to a duration.
func Delay(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
