package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/jphoke/mailtls-assessor/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	yamlLineRegex = regexp.MustCompile(`line (\d+)`)
)

// Environment variables that override file values.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvRedisURL    = "REDIS_URL"
	EnvCAPath      = "CUSTOM_CA_PATH"
	EnvMode        = "ASSESSOR_MODE"
	EnvWorkers     = "ASSESSOR_WORKERS"
	EnvLogLevel    = "LOG_LEVEL"
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validateInst = v
	})
	return validateInst
}

// NormalizeMode maps the accepted mode spellings onto chain or matrix.
// "simplified" and "full" name the catalogs each mode runs.
func NormalizeMode(mode string) string {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case "simplified":
		return "chain"
	case "full":
		return "matrix"
	default:
		return m
	}
}

// Load reads the YAML file at path over the defaults, applies
// environment overrides and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, apperrors.NewConfigError(path, "cannot read configuration", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			msg := "invalid YAML"
			if line := extractLine(err); line > 0 {
				msg = fmt.Sprintf("invalid YAML at line %d", line)
			}
			return Config{}, apperrors.NewConfigError(path, msg, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		cfg.Database.URL = v
	}
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		cfg.Redis.URL = v
	}
	if v, ok := lookup(EnvCAPath); ok && v != "" {
		cfg.Trust.Dir = v
	}
	if v, ok := lookup(EnvMode); ok && v != "" {
		cfg.Mode = v
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.NewConfigError(EnvWorkers, fmt.Sprintf("not a number: %q", v), err)
		}
		cfg.Workers = n
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	return nil
}

// Validate checks field constraints and the dependencies between
// sections.
func Validate(cfg *Config) error {
	if cfg == nil {
		return apperrors.NewConfigError("", "configuration is nil", nil)
	}
	cfg.Mode = NormalizeMode(cfg.Mode)

	if err := validatorInstance().Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	needsRedis := cfg.Queue.Driver == "redis" || cfg.Publish.RedisChannel != "" ||
		(cfg.Revocation.Enabled && cfg.Revocation.Cache == "redis")
	if needsRedis && cfg.Redis.URL == "" {
		return apperrors.NewConfigError("redis.url", "required by the queue, publisher or revocation cache", nil)
	}
	needsDatabase := cfg.Queue.Driver == "postgres" || cfg.Publish.PostgresTable != ""
	if needsDatabase && cfg.Database.URL == "" {
		return apperrors.NewConfigError("database.url", "required by the queue or publisher", nil)
	}
	if _, err := cfg.Policy(); err != nil {
		return apperrors.NewConfigError("ciphers", err.Error(), err)
	}
	return nil
}

func convertValidationError(err error) error {
	if ves, ok := err.(validator.ValidationErrors); ok && len(ves) > 0 {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("failed validation for tag '%s'", ve.Tag())
		if ve.Param() != "" {
			msg = fmt.Sprintf("failed validation for tag '%s=%s'", ve.Tag(), ve.Param())
		}
		return apperrors.NewConfigError(field, msg, err)
	}
	return apperrors.NewConfigError("", err.Error(), err)
}

// yamlishFieldName drops the root struct name from the namespace, which
// is already spelled with yaml keys.
func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func extractLine(err error) int {
	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}
	line, convErr := strconv.Atoi(matches[1])
	if convErr != nil {
		return 0
	}
	return line
}
