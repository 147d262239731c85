// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/novel-crawler/internal/browser"
	"github.com/JakeFAU/novel-crawler/internal/fetch"
	"github.com/JakeFAU/novel-crawler/internal/logging"
	"github.com/JakeFAU/novel-crawler/internal/orchestrator"
)

// EnvPrefix prefixes every environment override, e.g. NOVELCRAWLER_DB_DSN.
const EnvPrefix = "NOVELCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging      logging.Config     `mapstructure:"logging"`
	Browser      BrowserConfig      `mapstructure:"browser"`
	Fetch        FetchConfig        `mapstructure:"fetch"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Captcha      CaptchaConfig      `mapstructure:"captcha"`
	Assets       AssetsConfig       `mapstructure:"assets"`
	DB           DBConfig           `mapstructure:"db"`
	Storage      StorageConfig      `mapstructure:"storage"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Glyph        GlyphConfig        `mapstructure:"glyph"`
	Server       ServerConfig       `mapstructure:"server"`
	Lock         LockConfig         `mapstructure:"lock"`
}

// BrowserConfig controls the session pool and the automation process.
type BrowserConfig struct {
	MaxSessions        int           `mapstructure:"max_sessions"`
	MinUses            int           `mapstructure:"min_uses"`
	MaxUses            int           `mapstructure:"max_uses"`
	Headless           bool          `mapstructure:"headless"`
	NoSandbox          bool          `mapstructure:"no_sandbox"`
	ChromePath         string        `mapstructure:"chrome_path"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	StartTimeout       time.Duration `mapstructure:"start_timeout"`
	BlockedURLPatterns []string      `mapstructure:"blocked_url_patterns"`
}

// FetchConfig tunes the retry protocol.
type FetchConfig struct {
	Retries       int           `mapstructure:"retries"`
	ChallengeWait time.Duration `mapstructure:"challenge_wait"`
	PacingMin     time.Duration `mapstructure:"pacing_min"`
	PacingMax     time.Duration `mapstructure:"pacing_max"`
}

// OrchestratorConfig paces the batches.
type OrchestratorConfig struct {
	NovelDelayMin               time.Duration `mapstructure:"novel_delay_min"`
	NovelDelayMax               time.Duration `mapstructure:"novel_delay_max"`
	ChapterDelayMin             time.Duration `mapstructure:"chapter_delay_min"`
	ChapterDelayMax             time.Duration `mapstructure:"chapter_delay_max"`
	NovelPenalty                time.Duration `mapstructure:"novel_penalty"`
	ChapterPenalty              time.Duration `mapstructure:"chapter_penalty"`
	RecycleOnPenaltyProbability float64       `mapstructure:"recycle_on_penalty_probability"`
}

// CaptchaConfig selects the solving provider.
type CaptchaConfig struct {
	// Provider is "none" or "2captcha".
	Provider     string        `mapstructure:"provider"`
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// AssetsConfig controls font and stylesheet downloads.
type AssetsConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	RPS          float64       `mapstructure:"rps"`
	Burst        int           `mapstructure:"burst"`
}

// DBConfig selects and configures the persistent store.
type DBConfig struct {
	// Driver is "postgres", "sqlite" or "memory".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// StorageConfig selects where raw chapter pages are archived.
type StorageConfig struct {
	// Backend is "none", "memory", "local" or "gcs".
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds the chapter notification target. An empty project
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// GlyphConfig points at the precomputed geometry catalog.
type GlyphConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

// ServerConfig controls the ops HTTP endpoint.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LockConfig names the file guarding against overlapping runs.
type LockConfig struct {
	Path string `mapstructure:"path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	pool := browser.DefaultConfig()
	v.SetDefault("browser.max_sessions", pool.MaxSessions)
	v.SetDefault("browser.min_uses", pool.MinUses)
	v.SetDefault("browser.max_uses", pool.MaxUses)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.nav_timeout", pool.NavigationTimeout)
	v.SetDefault("browser.start_timeout", 30*time.Second)
	v.SetDefault("browser.blocked_url_patterns", pool.BlockedURLs)

	f := fetch.DefaultConfig()
	v.SetDefault("fetch.retries", f.Retries)
	v.SetDefault("fetch.challenge_wait", f.ChallengeWait)
	v.SetDefault("fetch.pacing_min", f.PacingMin)
	v.SetDefault("fetch.pacing_max", f.PacingMax)

	o := orchestrator.DefaultConfig()
	v.SetDefault("orchestrator.novel_delay_min", o.NovelDelayMin)
	v.SetDefault("orchestrator.novel_delay_max", o.NovelDelayMax)
	v.SetDefault("orchestrator.chapter_delay_min", o.ChapterDelayMin)
	v.SetDefault("orchestrator.chapter_delay_max", o.ChapterDelayMax)
	v.SetDefault("orchestrator.novel_penalty", o.NovelPenalty)
	v.SetDefault("orchestrator.chapter_penalty", o.ChapterPenalty)
	v.SetDefault("orchestrator.recycle_on_penalty_probability", o.PenaltyRecycleProbability)

	v.SetDefault("captcha.provider", "none")
	v.SetDefault("captcha.poll_interval", 5*time.Second)
	v.SetDefault("captcha.timeout", 120*time.Second)

	v.SetDefault("assets.timeout", 20*time.Second)
	v.SetDefault("assets.max_body_bytes", 8<<20)
	v.SetDefault("assets.rps", 1.0)
	v.SetDefault("assets.burst", 2)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "novels.db")
	v.SetDefault("db.migrate", true)

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "raw")

	v.SetDefault("pubsub.topic", "chapter-ready")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)

	v.SetDefault("lock.path", "novel-crawler.lock")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be > 0")
	}
	if c.Browser.MinUses <= 0 || c.Browser.MaxUses < c.Browser.MinUses {
		return fmt.Errorf("browser.min_uses must be > 0 and <= browser.max_uses")
	}
	if c.Browser.NavTimeout <= 0 {
		return fmt.Errorf("browser.nav_timeout must be > 0")
	}
	if c.Fetch.Retries <= 0 {
		return fmt.Errorf("fetch.retries must be > 0")
	}
	if c.Fetch.PacingMax < c.Fetch.PacingMin {
		return fmt.Errorf("fetch.pacing_max must be >= fetch.pacing_min")
	}
	if c.Orchestrator.NovelDelayMax < c.Orchestrator.NovelDelayMin ||
		c.Orchestrator.ChapterDelayMax < c.Orchestrator.ChapterDelayMin {
		return fmt.Errorf("orchestrator delay max must be >= min")
	}
	if p := c.Orchestrator.RecycleOnPenaltyProbability; p < 0 || p > 1 {
		return fmt.Errorf("orchestrator.recycle_on_penalty_probability must be within [0,1]")
	}
	switch c.Captcha.Provider {
	case "", "none":
	case "2captcha":
		if c.Captcha.APIKey == "" {
			return fmt.Errorf("captcha.api_key must be set for provider 2captcha")
		}
	default:
		return fmt.Errorf("unknown captcha.provider %q", c.Captcha.Provider)
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for driver %s", c.DB.Driver)
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	switch c.Storage.Backend {
	case "", "none", "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for backend local")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for backend gcs")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// PoolConfig converts the browser section for browser.NewPoolManager.
func (c Config) PoolConfig() browser.Config {
	return browser.Config{
		MaxSessions:       c.Browser.MaxSessions,
		MinUses:           c.Browser.MinUses,
		MaxUses:           c.Browser.MaxUses,
		NavigationTimeout: c.Browser.NavTimeout,
		BlockedURLs:       c.Browser.BlockedURLPatterns,
	}
}

// FetchPolicy overlays the fetch section on the default retry policy.
func (c Config) FetchPolicy() fetch.Config {
	f := fetch.DefaultConfig()
	f.Retries = c.Fetch.Retries
	f.ChallengeWait = c.Fetch.ChallengeWait
	f.PacingMin = c.Fetch.PacingMin
	f.PacingMax = c.Fetch.PacingMax
	return f
}

// RunnerConfig converts the orchestrator section.
func (c Config) RunnerConfig() orchestrator.Config {
	topic := ""
	if c.PubSub.ProjectID != "" {
		topic = c.PubSub.Topic
	}
	return orchestrator.Config{
		NovelDelayMin:             c.Orchestrator.NovelDelayMin,
		NovelDelayMax:             c.Orchestrator.NovelDelayMax,
		ChapterDelayMin:           c.Orchestrator.ChapterDelayMin,
		ChapterDelayMax:           c.Orchestrator.ChapterDelayMax,
		NovelPenalty:              c.Orchestrator.NovelPenalty,
		ChapterPenalty:            c.Orchestrator.ChapterPenalty,
		PenaltyRecycleProbability: c.Orchestrator.RecycleOnPenaltyProbability,
		Topic:                     topic,
	}
}
