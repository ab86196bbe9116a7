package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorefront(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule.cron: %w", err)
		}
	}
	return nil
}

func (c *Config) validateStorefront() error {
	if c.Storefront.BaseURL == "" {
		return errors.New("storefront.base_url must be set")
	}
	if c.Storefront.Start < 0 {
		return errors.New("storefront.start must be >= 0")
	}
	if c.Storefront.End != 0 && c.Storefront.End <= c.Storefront.Start {
		return errors.New("storefront.end must be greater than storefront.start")
	}
	if c.Storefront.PageDelaySeconds < 0 {
		return errors.New("storefront.page_delay_seconds must be >= 0")
	}
	if c.Storefront.MaxRetries < 0 {
		return errors.New("storefront.max_retries must be >= 0")
	}
	if c.ISBN.BaseURL == "" {
		return errors.New("isbn.base_url must be set")
	}
	if c.Series.BaseURL == "" {
		return errors.New("series.base_url must be set")
	}
	return nil
}

func (c *Config) validateBackends() error {
	switch c.Series.CacheBackend {
	case "memory", "bigcache":
	default:
		return fmt.Errorf("series.cache_backend must be memory or bigcache, got %q", c.Series.CacheBackend)
	}
	if c.Series.CacheBackend == "bigcache" && c.Series.CacheLifeWindowMinutes <= 0 {
		return errors.New("series.cache_life_window_minutes must be positive for bigcache")
	}
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver must be sqlite or memory, got %q", c.Storage.Driver)
	}
	switch c.Control.Backend {
	case "memory":
	case "redis":
		if c.Control.RedisAddr == "" {
			return errors.New("control.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("control.backend must be memory or redis, got %q", c.Control.Backend)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
