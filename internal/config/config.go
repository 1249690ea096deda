// Package config loads runtime settings from defaults, an optional .env file,
// the process environment and CLI flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvFile is read when no --env-file is given. It may be absent.
const DefaultEnvFile = ".env"

// DB holds connection settings.
type DB struct {
	Kind     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	// SSLMode applies to postgres only.
	SSLMode string
	// Encrypt applies to mssql only.
	Encrypt string
	// Path is the sqlite file path or DSN.
	Path string
	// Params are extra "k=v&k2=v2" DSN parameters.
	Params      string
	DSNOverride string
}

// API holds source API settings.
type API struct {
	BaseURL string
	Timeout time.Duration
	Retries int
}

// Transform holds downstream command settings.
type Transform struct {
	Enabled    bool
	Command    string
	Dir        string
	Retries    int
	RetryDelay time.Duration
}

// Metrics holds metrics backend settings.
type Metrics struct {
	Backend        string
	PushgatewayURL string
	Tags           string
	Job            string
}

// Config is the full runtime configuration.
type Config struct {
	DB        DB
	Schema    string
	API       API
	Transform Transform
	Metrics   Metrics
}

var defaults = map[string]any{
	"db_kind":               "postgres",
	"bronze_schema":         "bronze",
	"api_base_url":          "https://fakestoreapi.com",
	"api_timeout":           "10s",
	"api_retries":           0,
	"transform_enabled":     true,
	"transform_command":     "dbt build",
	"transform_dir":         "dbt_project",
	"transform_retries":     2,
	"transform_retry_delay": "10s",
	"metrics_backend":       "none",
	"metrics_job":           "elt",
}

// keys lists every recognised setting; each is read from the upper-case
// environment variable of the same name.
var keys = []string{
	"db_kind", "db_host", "db_port", "db_name", "db_user", "db_password",
	"db_sslmode", "db_encrypt", "db_path", "db_params", "db_dsn",
	"bronze_schema",
	"api_base_url", "api_timeout", "api_retries",
	"transform_enabled", "transform_command", "transform_dir",
	"transform_retries", "transform_retry_delay",
	"metrics_backend", "pushgateway_url", "metrics_tags", "metrics_job",
}

// flagKeys maps CLI flag names to setting keys.
var flagKeys = map[string]string{
	"metrics-backend": "metrics_backend",
	"db-kind":         "db_kind",
	"db-dsn":          "db_dsn",
	"schema":          "bronze_schema",
}

// Load resolves the configuration.
//
// envFile names a dotenv file; an empty name means DefaultEnvFile, which is
// skipped when missing. An explicitly named file must exist. The file does
// not modify the process environment. flags may be nil; only flags that were
// set on the command line override other sources.
func Load(envFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	fileVals, err := readEnvFile(envFile)
	if err != nil {
		return Config{}, err
	}
	for k, val := range fileVals {
		v.SetDefault(strings.ToLower(k), val)
	}

	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", k, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	apiTimeout, err := seconds(v.GetString("api_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("config: API_TIMEOUT: %w", err)
	}
	retryDelay, err := seconds(v.GetString("transform_retry_delay"))
	if err != nil {
		return Config{}, fmt.Errorf("config: TRANSFORM_RETRY_DELAY: %w", err)
	}
	apiRetries, err := integer(v.GetString("api_retries"))
	if err != nil {
		return Config{}, fmt.Errorf("config: API_RETRIES: %w", err)
	}
	transformRetries, err := integer(v.GetString("transform_retries"))
	if err != nil {
		return Config{}, fmt.Errorf("config: TRANSFORM_RETRIES: %w", err)
	}

	return Config{
		DB: DB{
			Kind:        NormalizeKind(v.GetString("db_kind")),
			Host:        v.GetString("db_host"),
			Port:        v.GetString("db_port"),
			Name:        v.GetString("db_name"),
			User:        v.GetString("db_user"),
			Password:    v.GetString("db_password"),
			SSLMode:     v.GetString("db_sslmode"),
			Encrypt:     v.GetString("db_encrypt"),
			Path:        v.GetString("db_path"),
			Params:      v.GetString("db_params"),
			DSNOverride: v.GetString("db_dsn"),
		},
		Schema: strings.TrimSpace(v.GetString("bronze_schema")),
		API: API{
			BaseURL: strings.TrimSpace(v.GetString("api_base_url")),
			Timeout: apiTimeout,
			Retries: apiRetries,
		},
		Transform: Transform{
			Enabled:    v.GetBool("transform_enabled"),
			Command:    v.GetString("transform_command"),
			Dir:        v.GetString("transform_dir"),
			Retries:    transformRetries,
			RetryDelay: retryDelay,
		},
		Metrics: Metrics{
			Backend:        strings.ToLower(strings.TrimSpace(v.GetString("metrics_backend"))),
			PushgatewayURL: v.GetString("pushgateway_url"),
			Tags:           v.GetString("metrics_tags"),
			Job:            v.GetString("metrics_job"),
		},
	}, nil
}

func readEnvFile(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read env file %q: %w", path, err)
	}
	return vals, nil
}

// seconds parses a Go duration ("1m30s") or a plain number of seconds.
func seconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func integer(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
