// Package config loads the immutable run configuration. A RunConfig is
// built once at startup from the config file, environment variables and
// defaults, then threaded through every component constructor; nothing
// reads ambient state after that.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/casaops/harvester/internal/logger"
	"github.com/casaops/harvester/internal/planner"
)

// envPrefix namespaces environment overrides, e.g. HARVESTER_TIME_BUDGET.
const envPrefix = "HARVESTER"

// Defaults for knobs without another owner.
const (
	DefaultSitesFile      = "sites.yaml"
	DefaultRequestTimeout = 30 * time.Second
	DefaultUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// RunConfig is the complete configuration of one harvest run.
type RunConfig struct {
	// SitesFile is the path of the site adapter collection.
	SitesFile string `mapstructure:"sites_file"`
	// EnabledSites restricts the run to these site keys; empty means all
	// enabled adapters.
	EnabledSites []string `mapstructure:"enabled_sites"`

	// PageCap is the global per-site page limit.
	PageCap int `mapstructure:"page_cap"`
	// QualityThreshold is the global minimum quality score.
	QualityThreshold int `mapstructure:"quality_threshold"`

	// Geocode toggles enrichment globally.
	Geocode bool `mapstructure:"geocode"`
	// GeocodeMaxCalls caps provider calls per run.
	GeocodeMaxCalls int `mapstructure:"geocode_max_calls"`
	// GeocodeCallsPerSecond bounds the outbound provider rate.
	GeocodeCallsPerSecond float64 `mapstructure:"geocode_calls_per_second"`

	// TimeBudget is the external wall-clock cap for the whole run.
	TimeBudget time.Duration `mapstructure:"time_budget"`
	// SafetyMultiplier inflates per-site estimates during planning.
	SafetyMultiplier float64 `mapstructure:"safety_multiplier"`
	// SessionParallelism bounds concurrent sessions.
	SessionParallelism int `mapstructure:"session_parallelism"`
	// WorkerOverride, when positive, replaces the derived per-session
	// site worker count.
	WorkerOverride int `mapstructure:"worker_override"`
	// Costs is the planner's per-unit cost model.
	Costs planner.CostModel `mapstructure:"costs"`

	// UserAgent is the default request user agent.
	UserAgent string `mapstructure:"user_agent"`
	// RequestTimeout bounds one HTTP fetch.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// MaxRetries bounds fetch attempts per page.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelay is the initial backoff delay.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// RenderingEnabled turns the browser fallback on.
	RenderingEnabled bool `mapstructure:"rendering_enabled"`
	// ChromePath overrides browser binary discovery.
	ChromePath string `mapstructure:"chrome_path"`
	// SnapshotDir stores diagnostic page snapshots; empty disables them.
	SnapshotDir string `mapstructure:"snapshot_dir"`

	// DatabaseURL selects the Postgres aggregate store; empty means the
	// in-memory store.
	DatabaseURL string `mapstructure:"database_url"`
	// RedisAddr selects the Redis geocode cache; empty means in-memory.
	RedisAddr string `mapstructure:"redis_addr"`
	// RedisPassword authenticates the Redis connection.
	RedisPassword string `mapstructure:"redis_password"`

	// Log configures the structured logger.
	Log logger.Config `mapstructure:"log"`
}

// Load builds the RunConfig from the given config file (optional), the
// environment and defaults.
func Load(cfgFile string) (*RunConfig, error) {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("harvester")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		// The config file is optional unless one was named explicitly.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sites_file", DefaultSitesFile)
	v.SetDefault("page_cap", planner.DefaultPageCap)
	v.SetDefault("quality_threshold", 0)
	v.SetDefault("geocode", false)
	v.SetDefault("geocode_max_calls", 200)
	v.SetDefault("geocode_calls_per_second", 1.0)
	v.SetDefault("time_budget", planner.DefaultTimeBudget)
	v.SetDefault("safety_multiplier", planner.DefaultSafetyMultiplier)
	v.SetDefault("session_parallelism", planner.DefaultSessionParallelism)
	v.SetDefault("worker_override", 0)
	v.SetDefault("user_agent", DefaultUserAgent)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_base_delay", 2*time.Second)
	v.SetDefault("rendering_enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
}

// Validate checks the knobs that have hard requirements.
func (c *RunConfig) Validate() error {
	if c.SitesFile == "" {
		return errors.New("sites_file is required")
	}
	if c.TimeBudget <= 0 {
		return errors.New("time_budget must be positive")
	}
	if c.SafetyMultiplier < 1 {
		return errors.New("safety_multiplier must be at least 1")
	}
	if c.SessionParallelism <= 0 {
		return errors.New("session_parallelism must be positive")
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 100 {
		return errors.New("quality_threshold must be between 0 and 100")
	}
	return nil
}

// SiteEnabled reports whether a site key participates in the run.
func (c *RunConfig) SiteEnabled(key string) bool {
	if len(c.EnabledSites) == 0 {
		return true
	}
	for _, enabled := range c.EnabledSites {
		if enabled == key {
			return true
		}
	}
	return false
}
