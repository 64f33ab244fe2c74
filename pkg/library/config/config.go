package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "HV"

// Config is the process configuration read once at startup.
type Config struct {
	DatabaseDSN       string        `envconfig:"DATABASE_DSN"`
	DataDir           string        `envconfig:"DATA_DIR" default:"./data"`
	ListenAddr        string        `envconfig:"LISTEN_ADDR" default:":1337"`
	PublicURL         string        `envconfig:"PUBLIC_URL" default:"http://localhost:1337/v1"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat         string        `envconfig:"LOG_FORMAT" default:"text"`
	SyncInterval      time.Duration `envconfig:"SYNC_INTERVAL" default:"2m"`
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"10m"`
	SyncOnStart       bool          `envconfig:"SYNC_ON_START" default:"true"`
	AuthMode          string        `envconfig:"AUTH_MODE" default:"none"`

	// embedded so the settings keep the plain HV_ prefix
	Settings
}

// Settings are the values that can change at runtime through Store.Update.
type Settings struct {
	SessionCookie   string        `envconfig:"SESSION_COOKIE"`
	LibraryPath     string        `envconfig:"LIBRARY_PATH"`
	StorefrontURL   string        `envconfig:"STOREFRONT_URL" default:"https://www.humblebundle.com"`
	Platforms       []string      `envconfig:"PLATFORMS"`
	IncludeExt      []string      `envconfig:"INCLUDE_EXT"`
	ExcludeExt      []string      `envconfig:"EXCLUDE_EXT"`
	AIURL           string        `envconfig:"AI_URL"`
	AIModel         string        `envconfig:"AI_MODEL"`
	AIAPIKey        string        `envconfig:"AI_API_KEY"`
	AITimeout       time.Duration `envconfig:"AI_TIMEOUT" default:"8s"`
	DownloadWorkers int           `envconfig:"DOWNLOAD_WORKERS" default:"4"`
	Trove           bool          `envconfig:"TROVE"`
	AuthHeaderName  string        `envconfig:"AUTH_HEADER_NAME"`
	AuthHeaderValue string        `envconfig:"AUTH_HEADER_VALUE"`
}

// Load reads .env files (when present) and the HV_* environment.
func Load(envFiles ...string) (Config, error) {
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		cfg.DatabaseDSN = filepath.Join(cfg.DataDir, "library.db")
	}
	cfg.Settings = cfg.Settings.normalized()
	return cfg, nil
}

// Ready reports whether a sync can run.
func (s Settings) Ready() bool {
	return strings.TrimSpace(s.SessionCookie) != "" && strings.TrimSpace(s.LibraryPath) != ""
}

// AIEnabled reports whether a classification endpoint is configured.
func (s Settings) AIEnabled() bool {
	return strings.TrimSpace(s.AIURL) != "" && strings.TrimSpace(s.AIModel) != ""
}

// PlatformAllowed applies the platform allow-list; an empty list allows all.
func (s Settings) PlatformAllowed(platform string) bool {
	if len(s.Platforms) == 0 {
		return true
	}
	platform = strings.ToLower(platform)
	for _, p := range s.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// FileAllowed applies the include list first, then the exclude list.
func (s Settings) FileAllowed(ext string) bool {
	ext = strings.ToLower(ext)
	if len(s.IncludeExt) > 0 {
		return contains(s.IncludeExt, ext)
	}
	if len(s.ExcludeExt) > 0 {
		return !contains(s.ExcludeExt, ext)
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (s Settings) normalized() Settings {
	s.SessionCookie = strings.TrimSpace(s.SessionCookie)
	s.LibraryPath = strings.TrimSpace(s.LibraryPath)
	s.StorefrontURL = strings.TrimRight(strings.TrimSpace(s.StorefrontURL), "/")
	s.Platforms = normalizeList(s.Platforms)
	s.IncludeExt = normalizeList(s.IncludeExt)
	s.ExcludeExt = normalizeList(s.ExcludeExt)
	s.AIURL = strings.TrimSpace(s.AIURL)
	s.AIModel = strings.TrimSpace(s.AIModel)
	s.AIAPIKey = strings.TrimSpace(s.AIAPIKey)
	if s.AITimeout <= 0 {
		s.AITimeout = 8 * time.Second
	}
	if s.DownloadWorkers <= 0 {
		s.DownloadWorkers = 4
	}
	return s
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(v), "."))
		if v != "" && !contains(out, v) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
