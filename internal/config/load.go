package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "LABELGEN"

// ConfigFileEnv names the environment variable holding an explicit config file path.
const ConfigFileEnv = "LABELGEN_CONFIG_FILE"

// setDefaults registers every key with a default value. Registering a key is
// also what lets viper's AutomaticEnv resolve it from the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "labelgen.db")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_read_conns", 8)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 60*24)

	v.SetDefault("llm.api_keys", []string{})
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.prompt_template_path", "")
	v.SetDefault("llm.call_timeout_seconds", 60)
	v.SetDefault("llm.rate_limit_cooldown_seconds", 60)
	v.SetDefault("llm.acquire_timeout_seconds", 30)
	v.SetDefault("llm.pool_exhausted_backoff_secs", 30)

	v.SetDefault("dispatcher.batch_size", 5)
	v.SetDefault("dispatcher.worker_budget", 16)
	v.SetDefault("dispatcher.poll_interval_millis", 2000)
	v.SetDefault("dispatcher.max_attempts", 3)
	v.SetDefault("dispatcher.stale_after_minutes", 10)
	v.SetDefault("dispatcher.stale_check_interval_seconds", 60)
	v.SetDefault("dispatcher.recover_on_start", true)

	v.SetDefault("store.retry_max_attempts", 10)
	v.SetDefault("store.retry_base_delay_millis", 50)
	v.SetDefault("store.retry_max_delay_millis", 2000)
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile is Load with an explicit config file path. An empty path falls
// back to ./config.yaml when it exists.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables: LABELGEN_SERVER_PORT, LABELGEN_LLM_API_KEYS, ...
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.LLM.APIKeys = normalizeKeys(cfg.LLM.APIKeys)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// normalizeKeys trims whitespace and drops empty entries, so that
// "key-a, key-b," in an environment variable yields two keys.
func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, raw := range keys {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
	}
	return out
}
