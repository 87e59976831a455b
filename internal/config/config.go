package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// DefaultPIN unlocks the board when no PIN is configured
const DefaultPIN = "7788"

var pinPattern = regexp.MustCompile(`^\d{4}$`)

type Config struct {
	Port         int
	LogLevel     string
	Env          string
	StoreDriver  string
	PIN          string
	DB           DBConfig
	Kafka        KafkaConfig
	Autocomplete AutocompleteConfig
	Outbox       OutboxConfig
	// EnvFile is the dotenv file that was loaded, if any
	EnvFile string
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// KafkaConfig holds the change feed configuration. An empty broker list
// turns the feed off.
type KafkaConfig struct {
	Brokers       []string
	OrdersTopic   string
	ConsumerGroup string
	// InstanceID tells replicas apart; a random one is used when unset
	InstanceID string
}

// Enabled reports whether any broker is configured
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// GroupID is the consumer group this replica joins. Every replica needs
// every change for its own SSE clients, so each gets a group of its own.
func (k KafkaConfig) GroupID() string {
	if k.InstanceID == "" {
		return k.ConsumerGroup
	}
	return k.ConsumerGroup + "-" + k.InstanceID
}

// AutocompleteConfig controls the scheduler that completes past appointments
type AutocompleteConfig struct {
	Grace    time.Duration
	Interval time.Duration
}

// OutboxConfig controls the outbox publisher
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// getEnv retrieves the value of an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v, err := time.ParseDuration(getEnv(key, defaultValue.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads envFile when given, otherwise .env.<APP_ENV> and then
// .env. Variables already set in the environment are never overridden.
func loadEnvFile(envFile string) (string, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return "", fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		return envFile, nil
	}

	candidate := fmt.Sprintf(".env.%s", getEnv("APP_ENV", "development"))
	if err := godotenv.Load(candidate); err == nil {
		return candidate, nil
	}

	if err := godotenv.Load(); err == nil {
		return ".env", nil
	}

	// plain environment variables are fine, e.g. in containers
	return "", nil
}

// Load reads the configuration from an optional dotenv file and the
// environment, then validates it
func Load(envFile string) (*Config, error) {
	loaded, err := loadEnvFile(envFile)
	if err != nil {
		return nil, err
	}

	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, err
	}

	dbPort, err := getInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	grace, err := getDuration("AUTOCOMPLETE_GRACE", 2*time.Hour)
	if err != nil {
		return nil, err
	}

	interval, err := getDuration("AUTOCOMPLETE_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	pollInterval, err := getDuration("OUTBOX_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}

	batchSize, err := getInt("OUTBOX_BATCH_SIZE", 10)
	if err != nil {
		return nil, err
	}

	maxRetries, err := getInt("OUTBOX_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        port,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Env:         getEnv("APP_ENV", "development"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		PIN:         getEnv("DISPATCH_PIN", getEnv("DISPATCH_SHARED_PIN", DefaultPIN)),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "dispatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "")),
			OrdersTopic:   getEnv("KAFKA_ORDERS_TOPIC", "dispatch.orders"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "dispatch-board"),
			InstanceID:    getEnv("KAFKA_INSTANCE_ID", uuid.NewString()),
		},
		Autocomplete: AutocompleteConfig{
			Grace:    grace,
			Interval: interval,
		},
		Outbox: OutboxConfig{
			PollInterval: pollInterval,
			BatchSize:    batchSize,
			MaxRetries:   maxRetries,
		},
		EnvFile: loaded,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values Load cannot reject while parsing
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.StoreDriver != DriverMemory && c.StoreDriver != DriverPostgres {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverMemory, DriverPostgres, c.StoreDriver)
	}

	if !pinPattern.MatchString(c.PIN) {
		return fmt.Errorf("DISPATCH_PIN must be exactly 4 digits")
	}

	if c.Autocomplete.Grace <= 0 {
		return fmt.Errorf("AUTOCOMPLETE_GRACE must be positive")
	}

	if c.Autocomplete.Interval <= 0 {
		return fmt.Errorf("AUTOCOMPLETE_INTERVAL must be positive")
	}

	if c.Kafka.Enabled() && c.StoreDriver != DriverPostgres {
		return fmt.Errorf("KAFKA_BROKERS requires STORE_DRIVER=%s", DriverPostgres)
	}

	if c.Kafka.Enabled() && c.Kafka.OrdersTopic == "" {
		return fmt.Errorf("KAFKA_ORDERS_TOPIC is required when KAFKA_BROKERS is set")
	}

	if c.Outbox.PollInterval <= 0 || c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL and OUTBOX_BATCH_SIZE must be positive")
	}

	return nil
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
