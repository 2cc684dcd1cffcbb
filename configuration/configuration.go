// Package configuration loads the runtime configuration from the
// environment, with an optional .env file for development setups.
package configuration

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/globegl/globeview/fetch"
)

type (
	Configuration struct {
		Provider Provider `envPrefix:"GLOBEVIEW_PROVIDER_"`
		Cache    Cache    `envPrefix:"GLOBEVIEW_CACHE_"`
		Fetch    Fetch    `envPrefix:"GLOBEVIEW_FETCH_"`
		GPU      GPU      `envPrefix:"GLOBEVIEW_GPU_"`
		Render   Render   `envPrefix:"GLOBEVIEW_RENDER_"`
		Logger   Logger   `envPrefix:"GLOBEVIEW_LOG_"`
	}

	// Provider selects a builtin tile source by name, or describes a
	// custom one when URLTemplate is set. Subdomains is a string of
	// letters rotated per tile, e.g. "abc".
	Provider struct {
		Name        string `env:"NAME" envDefault:"osm"`
		URLTemplate string `env:"URL_TEMPLATE"`
		Subdomains  string `env:"SUBDOMAINS"`
		MaxZoom     int32  `env:"MAX_ZOOM" envDefault:"21"`
		Format      string `env:"FORMAT" envDefault:"png"`
		APIKey      string `env:"API_KEY"`
		Username    string `env:"USERNAME"`
		Password    string `env:"PASSWORD"`
	}

	Cache struct {
		// Dir defaults to <user cache dir>/globeview/tiles.
		Dir         string        `env:"DIR"`
		MemoryBytes int64         `env:"MEMORY_BYTES" envDefault:"268435456"`
		DiskBytes   int64         `env:"DISK_BYTES" envDefault:"1073741824"`
		TTL         time.Duration `env:"TTL" envDefault:"720h"`
	}

	Fetch struct {
		Workers      int           `env:"WORKERS" envDefault:"4"`
		MaxRetries   int           `env:"MAX_RETRIES" envDefault:"3"`
		BackoffBase  time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
		HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
		QueueBound   int           `env:"QUEUE_BOUND" envDefault:"1024"`
		FailCooldown time.Duration `env:"FAIL_COOLDOWN" envDefault:"30s"`
	}

	GPU struct {
		PoolCapacity     int   `env:"POOL_CAPACITY" envDefault:"1024"`
		WindowSize       int32 `env:"WINDOW_SIZE" envDefault:"1024"`
		FullCoverageZoom int32 `env:"FULL_COVERAGE_ZOOM" envDefault:"12"`
	}

	Render struct {
		DeepZoomThreshold int32  `env:"DEEP_ZOOM_THRESHOLD" envDefault:"13"`
		UploadBudget      int    `env:"UPLOAD_BUDGET" envDefault:"6"`
		UploadQueueBound  int    `env:"UPLOAD_QUEUE_BOUND" envDefault:"256"`
		MaxTilesPerFrame  int    `env:"MAX_TILES_PER_FRAME" envDefault:"256"`
		IdleEvictFrames   uint64 `env:"IDLE_EVICT_FRAMES" envDefault:"3"`
	}

	Logger struct {
		Level string `env:"LEVEL" envDefault:"info"`
	}
)

// Load reads the configuration from the environment. A missing .env
// file is not an error.
func Load() (*Configuration, error) {
	_ = godotenv.Load()
	conf, err := env.ParseAs[Configuration]()
	if err != nil {
		return nil, err
	}
	if conf.Cache.Dir == "" {
		conf.Cache.Dir = defaultCacheDir()
	}
	return &conf, nil
}

func defaultCacheDir() string {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "globeview", "tiles")
	}
	return filepath.Join(userCacheDir, "globeview", "tiles")
}

// TileProvider resolves the configured provider: a custom descriptor
// when URL_TEMPLATE is set, a builtin one otherwise. Credentials from
// the configuration are applied either way.
func (c *Configuration) TileProvider() (fetch.Provider, error) {
	var p fetch.Provider
	if c.Provider.URLTemplate != "" {
		p = fetch.Provider{
			Name:        c.Provider.Name,
			URLTemplate: c.Provider.URLTemplate,
			Subdomains:  c.Provider.Subdomains,
			MaxZoom:     c.Provider.MaxZoom,
			Format:      c.Provider.Format,
		}
	} else {
		builtin, err := fetch.BuiltinProvider(c.Provider.Name)
		if err != nil {
			return fetch.Provider{}, err
		}
		p = builtin
	}
	if c.Provider.APIKey != "" {
		p.Auth = fetch.AuthAPIKey
		p.APIKey = c.Provider.APIKey
	}
	if c.Provider.Username != "" {
		p.Auth = fetch.AuthBasic
		p.Username = c.Provider.Username
		p.Password = c.Provider.Password
	}
	return p, nil
}

// NewLogger builds a zap logger at the configured level. Unparseable
// levels fall back to info.
func (c *Configuration) NewLogger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Logger.Level)); err != nil {
		level = zapcore.InfoLevel
	}
	zapConf := zap.NewDevelopmentConfig()
	zapConf.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zapConf.Level = zap.NewAtomicLevelAt(level)
	return zapConf.Build()
}
