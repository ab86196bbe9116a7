package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Storefront configures listing and detail page retrieval.
type Storefront struct {
	BaseURL               string   `toml:"base_url"`
	Categories            []string `toml:"categories"`
	PageSize              int      `toml:"page_size"`
	PageDelaySeconds      int      `toml:"page_delay_seconds"`
	Start                 int      `toml:"start"`
	End                   int      `toml:"end"` // 0 crawls to the storefront total
	UserAgent             string   `toml:"user_agent"`
	RequestTimeoutSeconds int      `toml:"request_timeout_seconds"`
	RequestsPerSecond     float64  `toml:"requests_per_second"`
	MaxRetries            int      `toml:"max_retries"`
}

// ISBN configures the bibliographic lookup site.
type ISBN struct {
	BaseURL string `toml:"base_url"`
}

// Series configures the metadata API and the resolver memo.
type Series struct {
	BaseURL                string `toml:"base_url"`
	CacheBackend           string `toml:"cache_backend"` // memory | bigcache
	CacheLifeWindowMinutes int    `toml:"cache_life_window_minutes"`
}

// Pipeline configures item concurrency.
type Pipeline struct {
	FirstPageWorkers int `toml:"first_page_workers"`
	Workers          int `toml:"workers"`
}

// Policy holds the switches that decide which sources are consulted and
// whether stored records are overwritten.
type Policy struct {
	RefreshSeriesData    bool `toml:"refresh_series_data"`
	RefreshVolumeDetails bool `toml:"refresh_volume_details"`
	QueryISBNDB          bool `toml:"query_isbndb"`
	QueryDetailPage      bool `toml:"query_detail_page"`
	QueryAlternateShop   bool `toml:"query_alternate_shop"`
}

// Storage selects the persistence backend.
type Storage struct {
	Driver string `toml:"driver"` // sqlite | memory
	Path   string `toml:"path"`
}

// Control configures cancellation/progress sharing and the operator API.
type Control struct {
	Backend     string `toml:"backend"` // memory | redis
	RedisAddr   string `toml:"redis_addr"`
	RedisPrefix string `toml:"redis_prefix"`
	APIBind     string `toml:"api_bind"`
	JWTSecret   string `toml:"jwt_secret"`
	JWTIssuer   string `toml:"jwt_issuer"`
	JWTTTLHours int    `toml:"jwt_ttl_hours"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"` // console | json
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Schedule configures recurring crawls in serve mode.
type Schedule struct {
	Cron string `toml:"cron"`
}

// Config encapsulates all configuration values.
type Config struct {
	Storefront Storefront `toml:"storefront"`
	ISBN       ISBN       `toml:"isbn"`
	Series     Series     `toml:"series"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Policy     Policy     `toml:"policy"`
	Storage    Storage    `toml:"storage"`
	Control    Control    `toml:"control"`
	Logging    Logging    `toml:"logging"`
	Schedule   Schedule   `toml:"schedule"`
	LockPath   string     `toml:"lock_path"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mangacatalog/config.toml")
}

// SampleConfig returns the annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the sample configuration to path.
func CreateSample(path string) error {
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// Load parses the configuration at path (or the default locations when
// empty), applies .env and environment overrides, and validates the result.
// It returns the resolved path and whether a file was found there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, "", false, err
	}
	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

// PageDelay is the pause between listing page fetches.
func (c *Config) PageDelay() time.Duration {
	return time.Duration(c.Storefront.PageDelaySeconds) * time.Second
}

// RequestTimeout bounds a single outbound request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Storefront.RequestTimeoutSeconds) * time.Second
}

// SeriesCacheLifeWindow is how long resolved series metadata stays memoized.
func (c *Config) SeriesCacheLifeWindow() time.Duration {
	return time.Duration(c.Series.CacheLifeWindowMinutes) * time.Minute
}

// JWTDuration is the lifetime of minted operator tokens.
func (c *Config) JWTDuration() time.Duration {
	return time.Duration(c.Control.JWTTTLHours) * time.Hour
}

// EnsureDirectories creates the parent directories of the database and lock.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.LockPath)}
	if c.Storage.Driver == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("mangacatalog.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			home = "."
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
