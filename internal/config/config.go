package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ILYESS24/AiEditor/internal/hooks"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/aichat.ini"
	dotEnvFile       = ".env"
	envPrefix        = "AICHAT_"

	DefaultProvidersFile         = "config/providers.yaml"
	DefaultResponseHeaderTimeout = 60 * time.Second
	DefaultHookTimeout           = 5 * time.Second
)

// Ledger backends.
const (
	LedgerNone     = "none"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// LedgerConfig selects where consumed tokens are recorded.
type LedgerConfig struct {
	Backend       string
	Path          string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Async         bool
}

// Config is the host configuration of the aichat CLI.
type Config struct {
	Environment   string
	LogLevel      string
	LogFile       string
	LogMaxBytes   int64
	ProvidersFile string
	// DefaultModel is the provider used when chat gets no -model flag.
	DefaultModel          string
	MetricsAddress        string
	ResponseHeaderTimeout time.Duration
	Ledger                LedgerConfig
	Hooks                 hooks.Config
}

// Load reads config/setting.ini, the environment specific
// config/<env>/aichat.ini and AICHAT_* overrides below root. A .env file in
// root is loaded first; variables already set in the process win over it.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	if err := godotenv.Load(filepath.Join(root, dotEnvFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", dotEnvFile, err)
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENVIRONMENT"), s.Environment)

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, env)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string, fallback ...string) string {
		return firstNonEmpty(append([]string{os.Getenv(envPrefix + strings.ToUpper(key)), merged[key]}, fallback...)...)
	}

	cfg := Config{
		Environment:    env,
		LogLevel:       strings.ToLower(get("log_level", "info")),
		LogFile:        get("log_file"),
		ProvidersFile:  get("providers_file", DefaultProvidersFile),
		DefaultModel:   get("default_model", "auto"),
		MetricsAddress: get("metrics_address"),
	}
	if !filepath.IsAbs(cfg.ProvidersFile) {
		cfg.ProvidersFile = filepath.Join(root, cfg.ProvidersFile)
	}
	if v := get("log_max_bytes"); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid log_max_bytes %q", v)
		}
		cfg.LogMaxBytes = n
	}
	if cfg.ResponseHeaderTimeout, err = parseDuration("response_header_timeout", get("response_header_timeout"), DefaultResponseHeaderTimeout); err != nil {
		return Config{}, err
	}

	cfg.Ledger = LedgerConfig{
		Backend:       strings.ToLower(get("ledger_backend", LedgerSQLite)),
		Path:          get("ledger_path", DefaultLedgerPath()),
		DSN:           get("ledger_dsn"),
		RedisAddr:     get("redis_addr", "localhost:6379"),
		RedisPassword: get("redis_password"),
		RedisDB:       parseOptionalInt(get("redis_db"), 0),
		Async:         parseBool(get("ledger_async")),
	}
	if err := cfg.Ledger.Validate(); err != nil {
		return Config{}, err
	}

	cfg.Hooks = hooks.Config{
		Enabled:    parseBool(get("hooks_enabled")),
		ScriptPath: get("hooks_script_path"),
		ScriptArgs: parseCSV(get("hooks_script_args")),
		Env:        parseMap(get("hooks_script_env")),
	}
	if cfg.Hooks.Timeout, err = parseDuration("hooks_timeout", get("hooks_timeout"), DefaultHookTimeout); err != nil {
		return Config{}, err
	}
	if err := cfg.Hooks.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (l LedgerConfig) Validate() error {
	switch l.Backend {
	case LedgerNone:
	case LedgerSQLite:
		if strings.TrimSpace(l.Path) == "" {
			return errors.New("ledger: ledger_path required for sqlite")
		}
	case LedgerPostgres:
		if strings.TrimSpace(l.DSN) == "" {
			return errors.New("ledger: ledger_dsn required for postgres")
		}
	case LedgerRedis:
		if strings.TrimSpace(l.RedisAddr) == "" {
			return errors.New("ledger: redis_addr required for redis")
		}
	default:
		return fmt.Errorf("ledger: unknown backend %q", l.Backend)
	}
	return nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "[") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseDuration(key, v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	result := make(map[string]string)
	for _, entry := range strings.Split(input, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			result[key] = strings.TrimSpace(value)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// DefaultLedgerPath returns the fallback ledger location under the user's home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "aichat-ledger.db"
	}
	return filepath.Join(home, ".aichat", "ledger.db")
}
