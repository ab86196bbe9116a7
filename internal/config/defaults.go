package config

const (
	defaultStorefrontURL        = "https://store.crunchyroll.com"
	defaultPageSize             = 100
	defaultPageDelaySeconds     = 5
	defaultRequestTimeout       = 30
	defaultRequestsPerSecond    = 4.0
	defaultMaxRetries           = 2
	defaultISBNURL              = "https://www.campusbooks.com"
	defaultSeriesURL            = "https://api.mangaupdates.com"
	defaultSeriesCacheBackend   = "memory"
	defaultSeriesCacheLife      = 360
	defaultFirstPageWorkers     = 3
	defaultWorkers              = 8
	defaultStorageDriver        = "sqlite"
	defaultStoragePath          = "~/.mangacatalog/data.db"
	defaultLockPath             = "~/.mangacatalog/crawl.lock"
	defaultControlBackend       = "memory"
	defaultRedisAddr            = "127.0.0.1:6379"
	defaultRedisPrefix          = "mangacatalog:crawl"
	defaultAPIBind              = "127.0.0.1:7480"
	defaultJWTIssuer            = "mangacatalog"
	defaultJWTTTLHours          = 24
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultScheduleCron         = ""
	defaultQueryDetailPage      = true
	defaultQueryAlternateShop   = true
	defaultRefreshSeriesData    = false
	defaultRefreshVolumeDetails = false
	defaultQueryISBNDB          = false
)

// defaultCategories are the storefront subcategories crawled by default.
var defaultCategories = []string{"Novels", "Manhwa", "Manhua", "Light Novels", "Manga"}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storefront: Storefront{
			BaseURL:               defaultStorefrontURL,
			Categories:            append([]string(nil), defaultCategories...),
			PageSize:              defaultPageSize,
			PageDelaySeconds:      defaultPageDelaySeconds,
			RequestTimeoutSeconds: defaultRequestTimeout,
			RequestsPerSecond:     defaultRequestsPerSecond,
			MaxRetries:            defaultMaxRetries,
		},
		ISBN: ISBN{
			BaseURL: defaultISBNURL,
		},
		Series: Series{
			BaseURL:                defaultSeriesURL,
			CacheBackend:           defaultSeriesCacheBackend,
			CacheLifeWindowMinutes: defaultSeriesCacheLife,
		},
		Pipeline: Pipeline{
			FirstPageWorkers: defaultFirstPageWorkers,
			Workers:          defaultWorkers,
		},
		Policy: Policy{
			RefreshSeriesData:    defaultRefreshSeriesData,
			RefreshVolumeDetails: defaultRefreshVolumeDetails,
			QueryISBNDB:          defaultQueryISBNDB,
			QueryDetailPage:      defaultQueryDetailPage,
			QueryAlternateShop:   defaultQueryAlternateShop,
		},
		Storage: Storage{
			Driver: defaultStorageDriver,
			Path:   defaultStoragePath,
		},
		Control: Control{
			Backend:     defaultControlBackend,
			RedisAddr:   defaultRedisAddr,
			RedisPrefix: defaultRedisPrefix,
			APIBind:     defaultAPIBind,
			JWTIssuer:   defaultJWTIssuer,
			JWTTTLHours: defaultJWTTTLHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Schedule: Schedule{
			Cron: defaultScheduleCron,
		},
		LockPath: defaultLockPath,
	}
}
