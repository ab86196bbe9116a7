package config

import (
	"fmt"
	"strings"

	"mangacatalog/pkg/utils"
)

// applyEnv layers MANGACATALOG_* variables over file values.
func (c *Config) applyEnv() {
	utils.EnvString("STOREFRONT_URL", &c.Storefront.BaseURL)
	utils.EnvList("CATEGORIES", &c.Storefront.Categories)
	utils.EnvInt("PAGE_SIZE", &c.Storefront.PageSize)
	utils.EnvInt("START", &c.Storefront.Start)
	utils.EnvInt("END", &c.Storefront.End)
	utils.EnvString("USER_AGENT", &c.Storefront.UserAgent)
	utils.EnvFloat("REQUESTS_PER_SECOND", &c.Storefront.RequestsPerSecond)
	utils.EnvString("ISBN_URL", &c.ISBN.BaseURL)
	utils.EnvString("SERIES_URL", &c.Series.BaseURL)
	utils.EnvString("SERIES_CACHE", &c.Series.CacheBackend)
	utils.EnvInt("WORKERS", &c.Pipeline.Workers)

	utils.EnvBool("REFRESH_SERIES_DATA", &c.Policy.RefreshSeriesData)
	utils.EnvBool("REFRESH_VOLUME_DETAILS", &c.Policy.RefreshVolumeDetails)
	utils.EnvBool("QUERY_ISBNDB", &c.Policy.QueryISBNDB)
	utils.EnvBool("QUERY_DETAIL_PAGE", &c.Policy.QueryDetailPage)
	utils.EnvBool("QUERY_ALTERNATE_SHOP", &c.Policy.QueryAlternateShop)

	utils.EnvString("STORAGE_DRIVER", &c.Storage.Driver)
	utils.EnvString("DB_PATH", &c.Storage.Path)

	utils.EnvString("CONTROL_BACKEND", &c.Control.Backend)
	utils.EnvString("REDIS_ADDR", &c.Control.RedisAddr)
	utils.EnvString("API_BIND", &c.Control.APIBind)
	utils.EnvString("JWT_SECRET", &c.Control.JWTSecret)
	utils.EnvString("JWT_ISSUER", &c.Control.JWTIssuer)
	c.Control.JWTTTLHours = int(utils.HoursOr("JWT_TTL_HOURS", c.JWTDuration()).Hours())

	utils.EnvString("LOG_LEVEL", &c.Logging.Level)
	utils.EnvString("LOG_FORMAT", &c.Logging.Format)
	utils.EnvString("LOG_FILE", &c.Logging.File)
	utils.EnvString("SCHEDULE", &c.Schedule.Cron)
	utils.EnvString("LOCK_PATH", &c.LockPath)
}

func (c *Config) normalize() error {
	c.normalizeStorefront()
	c.Series.CacheBackend = strings.ToLower(strings.TrimSpace(c.Series.CacheBackend))
	if c.Series.CacheBackend == "" {
		c.Series.CacheBackend = defaultSeriesCacheBackend
	}
	c.ISBN.BaseURL = strings.TrimRight(strings.TrimSpace(c.ISBN.BaseURL), "/")
	c.Series.BaseURL = strings.TrimRight(strings.TrimSpace(c.Series.BaseURL), "/")

	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.Control.Backend = strings.ToLower(strings.TrimSpace(c.Control.Backend))
	c.Control.RedisPrefix = strings.TrimSpace(c.Control.RedisPrefix)
	if c.Control.RedisPrefix == "" {
		c.Control.RedisPrefix = defaultRedisPrefix
	}
	c.normalizeLogging()
	c.Schedule.Cron = strings.TrimSpace(c.Schedule.Cron)
	return nil
}

func (c *Config) normalizeStorefront() {
	c.Storefront.BaseURL = strings.TrimRight(strings.TrimSpace(c.Storefront.BaseURL), "/")
	cats := make([]string, 0, len(c.Storefront.Categories))
	seen := make(map[string]struct{}, len(c.Storefront.Categories))
	for _, cat := range c.Storefront.Categories {
		cat = strings.TrimSpace(cat)
		if cat == "" {
			continue
		}
		if _, dup := seen[cat]; dup {
			continue
		}
		seen[cat] = struct{}{}
		cats = append(cats, cat)
	}
	if len(cats) == 0 {
		cats = append(cats, defaultCategories...)
	}
	c.Storefront.Categories = cats
	if c.Storefront.PageSize <= 0 {
		c.Storefront.PageSize = defaultPageSize
	}
	if c.Storefront.RequestTimeoutSeconds <= 0 {
		c.Storefront.RequestTimeoutSeconds = defaultRequestTimeout
	}
	if c.Pipeline.FirstPageWorkers <= 0 {
		c.Pipeline.FirstPageWorkers = defaultFirstPageWorkers
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = defaultWorkers
	}
}

func (c *Config) normalizeStorage() error {
	var err error
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = defaultStorageDriver
	}
	if c.Storage.Driver == "sqlite" {
		if strings.TrimSpace(c.Storage.Path) == "" {
			c.Storage.Path = defaultStoragePath
		}
		if c.Storage.Path, err = expandPath(c.Storage.Path); err != nil {
			return fmt.Errorf("storage.path: %w", err)
		}
	}
	if strings.TrimSpace(c.LockPath) == "" {
		c.LockPath = defaultLockPath
	}
	if c.LockPath, err = expandPath(c.LockPath); err != nil {
		return fmt.Errorf("lock_path: %w", err)
	}
	if c.Logging.File != "" {
		if c.Logging.File, err = expandPath(c.Logging.File); err != nil {
			return fmt.Errorf("logging.file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
