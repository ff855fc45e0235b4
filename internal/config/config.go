package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string   `yaml:"port"`
	DatabaseURL    string   `yaml:"database_url"`
	RedisURL       string   `yaml:"redis_url"`
	KafkaBrokers   []string `yaml:"kafka_brokers"`
	NatsURL        string   `yaml:"nats_url"`
	JaegerEndpoint string   `yaml:"jaeger_endpoint"`
	JWTSecret      string   `yaml:"jwt_secret"`

	MidtransServerKey  string `yaml:"midtrans_server_key"`
	MidtransProduction bool   `yaml:"midtrans_production"`

	StorageTimeout       time.Duration `yaml:"storage_timeout"`
	NotifyTimeout        time.Duration `yaml:"notify_timeout"`
	ReconcileMaxAttempts int           `yaml:"reconcile_max_attempts"`
	BillLockTTL          time.Duration `yaml:"bill_lock_ttl"`
}

// Load reads the environment, then overlays CONFIG_FILE when set.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getenvDefault("PORT", "8082"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		KafkaBrokers:         splitCSV(os.Getenv("KAFKA_BROKERS")),
		NatsURL:              os.Getenv("NATS_URL"),
		JaegerEndpoint:       os.Getenv("JAEGER_ENDPOINT"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		MidtransServerKey:    os.Getenv("MIDTRANS_SERVER_KEY"),
		MidtransProduction:   getenvBoolDefault("MIDTRANS_PRODUCTION", false),
		StorageTimeout:       getenvDurationDefault("STORAGE_TIMEOUT", 5*time.Second),
		NotifyTimeout:        getenvDurationDefault("NOTIFY_TIMEOUT", 3*time.Second),
		ReconcileMaxAttempts: getenvIntDefault("RECONCILE_MAX_ATTEMPTS", 3),
		BillLockTTL:          getenvDurationDefault("BILL_LOCK_TTL", 10*time.Second),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("config: port required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("config: JWT_SECRET required"))
	}
	if c.ReconcileMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("config: reconcile max attempts must be positive, got %d", c.ReconcileMaxAttempts))
	}
	if c.StorageTimeout <= 0 || c.NotifyTimeout <= 0 {
		errs = append(errs, errors.New("config: timeouts must be positive"))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	parsed, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	parsed, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
