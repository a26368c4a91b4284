package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("root", "ignored-default", "")
	fs.String("listen", ":9999", "")
	fs.Bool("watch", false, "")
	fs.String("log-level", "info", "")
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
root: /srv/exercises
listen: ":8081"
log_format: json
cache:
  listing_ttl: 45
  exercise_ttl: 2m
journal:
  enabled: true
  author_name: Editora
audit:
  driver: postgres
  dsn: host=db user=exstore
`)
	t.Setenv("EXSTORE_LISTEN", ":8082")
	t.Setenv("EXSTORE_CACHE_PAYLOAD_TTL", "10")
	t.Setenv("EXSTORE_AUDIT_RETENTION_DAYS", "7")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--watch", "--log-level=debug"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "/srv/exercises", cfg.Root, "file overrides default; unset flag does not override")
	assert.Equal(t, ":8082", cfg.Listen, "env overrides file")
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel, "flag overrides everything")
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Cache.ListingTTL, "bare numbers are seconds")
	assert.Equal(t, 2*time.Minute, cfg.Cache.ExerciseTTL)
	assert.Equal(t, 10*time.Second, cfg.Cache.PayloadTTL)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "Editora", cfg.Journal.AuthorName)
	assert.Equal(t, "exercise-store@localhost", cfg.Journal.AuthorEmail)
	assert.Equal(t, "postgres", cfg.Audit.Driver)
	assert.Equal(t, 7, cfg.Audit.RetentionDays)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.ErrorContains(t, err, "failed to read")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty root", func(c *Config) { c.Root = " " }, "root must be set"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"media prefix", func(c *Config) { c.MediaURLPrefix = "media" }, "media_url_prefix"},
		{"audit driver", func(c *Config) { c.Audit.Driver = "oracle" }, "audit.driver"},
		{"audit driver ignored when disabled", func(c *Config) {
			c.Audit.Enabled = false
			c.Audit.Driver = "oracle"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}
