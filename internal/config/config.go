package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Backend names accepted in Storage.Backend.
const (
	BackendNull        = "null"
	BackendPostgres    = "postgres"
	BackendSQLite      = "sqlite"
	BackendArtifactory = "artifactory"
	BackendS3          = "s3"
)

type Postgres struct {
	URL    string `toml:"url"`
	Schema string `toml:"schema"`
}

type SQLite struct {
	Path string `toml:"path"`
}

type Artifactory struct {
	URL        string `toml:"url"`
	Repository string `toml:"repository"`
	APIToken   string `toml:"api_token"`
	// CacheDir enables the local response cache when set.
	CacheDir string `toml:"cache_dir"`
}

type S3 struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
	Region    string `toml:"region"`
}

// Storage selects and parameterizes the scan result storage backend.
type Storage struct {
	Backend string `toml:"backend"`
	// Compatibility is the scanner reuse policy: "exact", "minor", "major" or
	// a version range such as ">=3.2.0 <3.3.0".
	Compatibility string `toml:"compatibility"`
	// ScratchDir holds temporary files written before object uploads.
	ScratchDir string `toml:"scratch_dir"`

	Postgres    Postgres    `toml:"postgres"`
	SQLite      SQLite      `toml:"sqlite"`
	Artifactory Artifactory `toml:"artifactory"`
	S3          S3          `toml:"s3"`
}

type Config struct {
	Storage Storage `toml:"storage"`
}

// FieldError reports a backend-required field that is blank.
type FieldError struct {
	Backend string
	Field   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s storage: required field %q must not be blank", e.Backend, e.Field)
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// Load reads the TOML file at path, if any, and applies SCANCACHE_*
// environment overrides on top. The S3 settings also accept the unprefixed
// S3_ENDPOINT, S3_BUCKET, S3_ACCESS_KEY, S3_SECRET_KEY, S3_USE_SSL and
// S3_REGION names shared with other S3 tooling; the SCANCACHE_S3_* form wins
// when both are set.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	s := &cfg.Storage
	s.Backend = getString("SCANCACHE_BACKEND", s.Backend)
	s.Compatibility = getString("SCANCACHE_COMPATIBILITY", s.Compatibility)
	s.ScratchDir = getString("SCANCACHE_SCRATCH_DIR", s.ScratchDir)

	s.Postgres.URL = getString("SCANCACHE_POSTGRES_URL", s.Postgres.URL)
	s.Postgres.Schema = getString("SCANCACHE_POSTGRES_SCHEMA", s.Postgres.Schema)

	s.SQLite.Path = getString("SCANCACHE_SQLITE_PATH", s.SQLite.Path)

	s.Artifactory.URL = getString("SCANCACHE_ARTIFACTORY_URL", s.Artifactory.URL)
	s.Artifactory.Repository = getString("SCANCACHE_ARTIFACTORY_REPOSITORY", s.Artifactory.Repository)
	s.Artifactory.APIToken = getString("SCANCACHE_ARTIFACTORY_API_TOKEN", s.Artifactory.APIToken)
	s.Artifactory.CacheDir = getString("SCANCACHE_ARTIFACTORY_CACHE_DIR", s.Artifactory.CacheDir)

	s.S3.Endpoint = getString("SCANCACHE_S3_ENDPOINT", getString("S3_ENDPOINT", s.S3.Endpoint))
	s.S3.Bucket = getString("SCANCACHE_S3_BUCKET", getString("S3_BUCKET", s.S3.Bucket))
	s.S3.AccessKey = getString("SCANCACHE_S3_ACCESS_KEY", getString("S3_ACCESS_KEY", s.S3.AccessKey))
	s.S3.SecretKey = getString("SCANCACHE_S3_SECRET_KEY", getString("S3_SECRET_KEY", s.S3.SecretKey))
	s.S3.UseSSL = getBool("SCANCACHE_S3_USE_SSL", getBool("S3_USE_SSL", s.S3.UseSSL))
	s.S3.Region = getString("SCANCACHE_S3_REGION", getString("S3_REGION", s.S3.Region))

	if s.Backend == "" {
		s.Backend = BackendNull
	}
	s.Backend = strings.ToLower(s.Backend)
	if s.ScratchDir == "" {
		s.ScratchDir = os.TempDir()
	}
	return cfg, nil
}

// Validate checks that every field the selected backend requires is set. It
// returns a *FieldError naming the first blank field.
func (s Storage) Validate() error {
	var required []struct{ name, value string }
	add := func(name, value string) {
		required = append(required, struct{ name, value string }{name, value})
	}

	switch s.Backend {
	case BackendNull:
	case BackendPostgres:
		add("url", s.Postgres.URL)
		add("schema", s.Postgres.Schema)
	case BackendSQLite:
		add("path", s.SQLite.Path)
	case BackendArtifactory:
		add("url", s.Artifactory.URL)
		add("repository", s.Artifactory.Repository)
		add("api_token", s.Artifactory.APIToken)
	case BackendS3:
		add("endpoint", s.S3.Endpoint)
		add("bucket", s.S3.Bucket)
		add("access_key", s.S3.AccessKey)
		add("secret_key", s.S3.SecretKey)
	default:
		return fmt.Errorf("unknown storage backend %q", s.Backend)
	}

	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &FieldError{Backend: s.Backend, Field: f.name}
		}
	}
	return nil
}
