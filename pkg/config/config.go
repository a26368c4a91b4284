// Package config loads the exercise store configuration from defaults, an
// optional YAML file, EXSTORE_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pp-content/exercise-store/pkg/audit"
	"github.com/pp-content/exercise-store/pkg/cache"
	"github.com/pp-content/exercise-store/pkg/exercise/media"
	"github.com/pp-content/exercise-store/pkg/journal"
	"github.com/pp-content/exercise-store/pkg/watch"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EXSTORE"

// Config is the complete configuration of the store and its server.
type Config struct {
	// Root is the exercise storage directory.
	Root string `mapstructure:"root" yaml:"root"`
	// MediaRoot is the directory uploaded media is stored under. Empty
	// disables media handling.
	MediaRoot      string `mapstructure:"media_root" yaml:"media_root"`
	MediaURLPrefix string `mapstructure:"media_url_prefix" yaml:"media_url_prefix"`

	Listen         string `mapstructure:"listen" yaml:"listen"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`

	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`

	Watch   WatchConfig       `mapstructure:"watch" yaml:"watch"`
	Journal JournalConfig     `mapstructure:"journal" yaml:"journal"`
	Cache   cache.CacheConfig `mapstructure:"cache" yaml:"cache"`
	Audit   audit.AuditConfig `mapstructure:"audit" yaml:"audit"`
}

// WatchConfig controls the storage root watcher.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// JournalConfig controls the git history of the storage root.
type JournalConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	AuthorName  string `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail string `mapstructure:"author_email" yaml:"author_email"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Root:           "data/exercises",
		MediaRoot:      "static/media/exercises",
		MediaURLPrefix: media.DefaultURLPrefix,
		Listen:         ":8080",
		MaxUploadBytes: 64 << 20,
		LogFormat:      "text",
		LogLevel:       "info",
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: watch.DefaultDebounce,
		},
		Journal: JournalConfig{
			Enabled:     false,
			AuthorName:  journal.DefaultAuthorName,
			AuthorEmail: journal.DefaultAuthorEmail,
		},
		Cache: *cache.DefaultCacheConfig(),
		Audit: *audit.DefaultAuditConfig(),
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"root":       "root",
	"media-root": "media_root",
	"listen":     "listen",
	"log-format": "log_format",
	"log-level":  "log_level",
	"watch":      "watch.enabled",
	"journal":    "journal.enabled",
	"audit":      "audit.enabled",
}

// Load builds the configuration. path names an optional YAML file; flags
// may be nil. Only flags the user actually set override other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("root", d.Root)
	v.SetDefault("media_root", d.MediaRoot)
	v.SetDefault("media_url_prefix", d.MediaURLPrefix)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("max_upload_bytes", d.MaxUploadBytes)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.author_name", d.Journal.AuthorName)
	v.SetDefault("journal.author_email", d.Journal.AuthorEmail)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.listing_ttl", d.Cache.ListingTTL)
	v.SetDefault("cache.exercise_ttl", d.Cache.ExerciseTTL)
	v.SetDefault("cache.payload_ttl", d.Cache.PayloadTTL)
	v.SetDefault("cache.max_size", d.Cache.MaxSize)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.driver", d.Audit.Driver)
	v.SetDefault("audit.dsn", d.Audit.DSN)
	v.SetDefault("audit.retention_days", d.Audit.RetentionDays)
}

// secondsHook decodes durations written as Go duration strings ("90s") or
// as a bare number of seconds, the form the EXSTORE_CACHE_*_TTL variables
// use.
func secondsHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			s := strings.TrimSpace(data.(string))
			if n, err := strconv.Atoi(s); err == nil {
				return time.Duration(n) * time.Second, nil
			}
			return time.ParseDuration(s)
		case reflect.Int, reflect.Int64, reflect.Int32:
			n := reflect.ValueOf(data).Int()
			if from == durationType {
				return time.Duration(n), nil
			}
			return time.Duration(n) * time.Second, nil
		default:
			return data, nil
		}
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("root must be set"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q is not one of text, json", c.LogFormat))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.MediaURLPrefix != "" && !strings.HasPrefix(c.MediaURLPrefix, "/") {
		errs = append(errs, fmt.Errorf("media_url_prefix %q must start with /", c.MediaURLPrefix))
	}
	if c.Audit.Enabled {
		switch c.Audit.Driver {
		case audit.DriverSQLite, audit.DriverPostgres, audit.DriverMySQL:
		default:
			errs = append(errs, fmt.Errorf("audit.driver %q is not supported", c.Audit.Driver))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return level, nil
}
