package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"escrowflow/internal/models"
	"escrowflow/pkg/crypto"
	"escrowflow/pkg/retry"
)

// Config содержит всю конфигурацию сервисов конвейера.
// Один файл на все бинарники; каждый читает свои секции.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Listener  ListenerConfig  `yaml:"listener"`
	Retry     RetryConfig     `yaml:"retry"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
	Projector ProjectorConfig `yaml:"projector"`
	Risk      RiskConfig      `yaml:"risk"`
	API       APIConfig       `yaml:"api"`
	Notifier  NotifierConfig  `yaml:"notifier"`
}

// LoggerConfig - настройки логирования
type LoggerConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Output      string `yaml:"output"`
	Development bool   `yaml:"development"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
}

// MonitorConfig - /metrics и /healthz
type MonitorConfig struct {
	Port int `yaml:"port"`
}

// KafkaConfig - шина событий
type KafkaConfig struct {
	// Driver: kafka или memory (локальный прогон в одном процессе)
	Driver           string   `yaml:"driver"`
	Brokers          []string `yaml:"brokers"`
	EventsTopic      string   `yaml:"events_topic"`
	AlertsTopic      string   `yaml:"alerts_topic"`
	GroupID          string   `yaml:"group_id"`
	SessionTimeoutMs int      `yaml:"session_timeout_ms"`
	PollTimeoutMs    int      `yaml:"poll_timeout_ms"`
	MessageTimeoutMs int      `yaml:"message_timeout_ms"`
	// Partitions - число партиций in-memory шины
	Partitions int `yaml:"partitions"`
}

// DatabaseConfig - настройки подключения к PostgreSQL
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// RedisConfig - хранилище ключей идемпотентности
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ListenerConfig - источник логов программы
type ListenerConfig struct {
	WSURL            string        `yaml:"ws_url"`
	ProgramID        string        `yaml:"program_id"`
	Cluster          string        `yaml:"cluster"`
	Commitment       string        `yaml:"commitment"`
	AllowUnfinalized bool          `yaml:"allow_unfinalized"`
	MaxInFlight      int           `yaml:"max_in_flight"`
	Buffer           int           `yaml:"buffer"`
	// DrainTimeout - дописывание принятых записей в шину при остановке
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
}

// RetryConfig - bounded backoff для транзиентных ошибок
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// Policy переводит настройки в конфигурацию pkg/retry
func (r RetryConfig) Policy() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = r.MaxAttempts
	cfg.InitialDelay = r.InitialDelay
	cfg.MaxDelay = r.MaxDelay
	return cfg
}

// ConsumerConfig - воркеры партиций
type ConsumerConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	ApplyTimeout time.Duration `yaml:"apply_timeout"`
}

// ProjectorConfig - проекция событий в таблицы
type ProjectorConfig struct {
	OrphanMaxAttempts int           `yaml:"orphan_max_attempts"`
	OrphanBackoff     time.Duration `yaml:"orphan_backoff"`
	// AuditSchedule - cron-выражение сверки; пусто = выключено
	AuditSchedule  string `yaml:"audit_schedule"`
	ReplayPageSize int    `yaml:"replay_page_size"`
}

// RiskConfig - пороги правил
type RiskConfig struct {
	LargeAmountThreshold string        `yaml:"large_amount_threshold"`
	CancelThreshold      int           `yaml:"cancel_threshold"`
	CancelWindow         time.Duration `yaml:"cancel_window"`
	FastFillSlots        uint64        `yaml:"fast_fill_slots"`
	HistoryMakers        int           `yaml:"history_makers"`
	HistoryDepth         int           `yaml:"history_depth"`
}

// APIConfig - HTTP API чтения
type APIConfig struct {
	Port           int      `yaml:"port"`
	AdminTokenHash string   `yaml:"admin_token_hash"`
	RateLimit      float64  `yaml:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst"`
	// AllowedOrigins - CORS; пусто или "*" - любой origin
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// NotifierConfig - websocket-поток уведомлений
type NotifierConfig struct {
	WSPort         int      `yaml:"ws_port"`
	// AllowedOrigins пусто или "*" - разрешены все
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Logger:  LoggerConfig{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 5, Compress: true},
		Monitor: MonitorConfig{Port: 9100},
		Kafka: KafkaConfig{
			Driver:           "kafka",
			Brokers:          []string{"localhost:9092"},
			EventsTopic:      "escrow.events.v1",
			AlertsTopic:      "escrow.alerts.v1",
			SessionTimeoutMs: 6000,
			PollTimeoutMs:    100,
			MessageTimeoutMs: 5000,
			Partitions:       8,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "escrowflow",
			User:            "escrowflow",
			Password:        "escrowflow",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{Enabled: true, Addr: "localhost:6379", TTL: 7 * 24 * time.Hour},
		Listener: ListenerConfig{
			WSURL:       "ws://127.0.0.1:8900",
			Cluster:     "localnet",
			Commitment:  string(models.CommitmentFinalized),
			MaxInFlight:  16,
			Buffer:       1024,
			DrainTimeout: 10 * time.Second,
		},
		Retry:    RetryConfig{MaxAttempts: 6, InitialDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second},
		Consumer: ConsumerConfig{QueueSize: 1000, ApplyTimeout: 30 * time.Second},
		Projector: ProjectorConfig{
			OrphanMaxAttempts: 5,
			OrphanBackoff:     200 * time.Millisecond,
			ReplayPageSize:    1000,
		},
		Risk: RiskConfig{
			LargeAmountThreshold: "1000000000",
			CancelThreshold:      5,
			CancelWindow:         10 * time.Minute,
			FastFillSlots:        2,
			HistoryMakers:        10000,
			HistoryDepth:         64,
		},
		API:      APIConfig{Port: 8080, RateLimit: 20, RateBurst: 40},
		Notifier: NotifierConfig{WSPort: 8090},
	}
}

// Load загружает конфигурацию: значения по умолчанию, затем YAML-файл (если path
// не пуст), затем переменные окружения (с учётом .env в рабочем каталоге).
func Load(path string) (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv переопределяет значения переменными окружения
func (c *Config) applyEnv() {
	c.Logger.Level = getEnv("LOG_LEVEL", c.Logger.Level)
	c.Logger.Format = getEnv("LOG_FORMAT", c.Logger.Format)
	c.Logger.Output = getEnv("LOG_OUTPUT", c.Logger.Output)

	c.Monitor.Port = getEnvAsInt("MONITOR_PORT", c.Monitor.Port)

	c.Kafka.Driver = getEnv("BUS_DRIVER", c.Kafka.Driver)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.EventsTopic = getEnv("KAFKA_EVENTS_TOPIC", c.Kafka.EventsTopic)
	c.Kafka.AlertsTopic = getEnv("KAFKA_ALERTS_TOPIC", c.Kafka.AlertsTopic)
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.Migrate = getEnvAsBool("DB_MIGRATE", c.Database.Migrate)

	c.Redis.Enabled = getEnvAsBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.TTL = getEnvAsDuration("REDIS_TTL", c.Redis.TTL)

	c.Listener.WSURL = getEnv("SOLANA_WS_URL", c.Listener.WSURL)
	c.Listener.ProgramID = getEnv("PROGRAM_ID", c.Listener.ProgramID)
	c.Listener.Cluster = getEnv("CLUSTER", c.Listener.Cluster)
	c.Listener.Commitment = getEnv("COMMITMENT", c.Listener.Commitment)
	c.Listener.AllowUnfinalized = getEnvAsBool("ALLOW_UNFINALIZED", c.Listener.AllowUnfinalized)

	c.Projector.OrphanMaxAttempts = getEnvAsInt("ORPHAN_MAX_ATTEMPTS", c.Projector.OrphanMaxAttempts)
	c.Projector.OrphanBackoff = getEnvAsDuration("ORPHAN_BACKOFF", c.Projector.OrphanBackoff)
	c.Projector.AuditSchedule = getEnv("AUDIT_SCHEDULE", c.Projector.AuditSchedule)

	c.API.Port = getEnvAsInt("API_PORT", c.API.Port)
	c.API.AdminTokenHash = getEnv("ADMIN_TOKEN_HASH", c.API.AdminTokenHash)
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		c.API.AllowedOrigins = splitList(origins)
	}
	c.Notifier.WSPort = getEnvAsInt("NOTIFIER_WS_PORT", c.Notifier.WSPort)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.Notifier.AllowedOrigins = splitList(origins)
	}
}

// Validate проверяет согласованность и диапазоны параметров
func (c *Config) Validate() error {
	if err := c.validateCommitment(); err != nil {
		return err
	}
	return c.validateRanges()
}

// validateCommitment: незавершённые уровни подтверждения допустимы только явно
func (c *Config) validateCommitment() error {
	commitment, err := models.ParseCommitment(c.Listener.Commitment)
	if err != nil {
		return fmt.Errorf("COMMITMENT: %w", err)
	}
	c.Listener.Commitment = string(commitment)

	if !commitment.IsFinal() && !c.Listener.AllowUnfinalized {
		return fmt.Errorf("COMMITMENT=%s may be rolled back; set ALLOW_UNFINALIZED=true to accept it", commitment)
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	for name, port := range map[string]int{
		"MONITOR_PORT":     c.Monitor.Port,
		"API_PORT":         c.API.Port,
		"NOTIFIER_WS_PORT": c.Notifier.WSPort,
		"DB_PORT":          c.Database.Port,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}

	switch c.Kafka.Driver {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("KAFKA_BROKERS is required for kafka driver")
		}
	case "memory":
		if c.Kafka.Partitions < 1 {
			return fmt.Errorf("kafka.partitions must be positive, got %d", c.Kafka.Partitions)
		}
	default:
		return fmt.Errorf("BUS_DRIVER must be kafka or memory, got %q", c.Kafka.Driver)
	}
	if c.Kafka.EventsTopic == "" || c.Kafka.AlertsTopic == "" {
		return errors.New("kafka topics must not be empty")
	}
	if c.Kafka.EventsTopic == c.Kafka.AlertsTopic {
		return errors.New("events and alerts topics must differ")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry delays invalid: initial=%v max=%v", c.Retry.InitialDelay, c.Retry.MaxDelay)
	}

	if c.Listener.DrainTimeout <= 0 {
		return fmt.Errorf("listener.drain_timeout must be positive, got %v", c.Listener.DrainTimeout)
	}
	if c.Listener.MaxInFlight < 1 {
		return fmt.Errorf("listener.max_in_flight must be positive, got %d", c.Listener.MaxInFlight)
	}
	if c.Consumer.QueueSize < 1 {
		return fmt.Errorf("consumer.queue_size must be positive, got %d", c.Consumer.QueueSize)
	}
	if c.Consumer.ApplyTimeout <= 0 {
		return fmt.Errorf("consumer.apply_timeout must be positive, got %v", c.Consumer.ApplyTimeout)
	}

	if c.Projector.OrphanMaxAttempts < 0 {
		return fmt.Errorf("ORPHAN_MAX_ATTEMPTS cannot be negative, got %d", c.Projector.OrphanMaxAttempts)
	}
	if c.Projector.ReplayPageSize < 1 {
		return fmt.Errorf("projector.replay_page_size must be positive, got %d", c.Projector.ReplayPageSize)
	}

	threshold, err := decimal.NewFromString(c.Risk.LargeAmountThreshold)
	if err != nil || threshold.IsNegative() {
		return fmt.Errorf("risk.large_amount_threshold must be a non-negative number, got %q", c.Risk.LargeAmountThreshold)
	}
	if c.Risk.CancelThreshold < 1 {
		return fmt.Errorf("risk.cancel_threshold must be positive, got %d", c.Risk.CancelThreshold)
	}
	if c.Risk.HistoryMakers < 1 || c.Risk.HistoryDepth < 1 {
		return errors.New("risk history sizes must be positive")
	}

	if c.API.AdminTokenHash != "" && !crypto.ValidHash(c.API.AdminTokenHash) {
		return errors.New("ADMIN_TOKEN_HASH is not a bcrypt hash")
	}
	if c.API.RateLimit <= 0 || c.API.RateBurst < 1 {
		return fmt.Errorf("api rate limit invalid: rate=%v burst=%d", c.API.RateLimit, c.API.RateBurst)
	}
	return nil
}

// GroupFor возвращает group id потребителя; по умолчанию - имя сервиса
func (k KafkaConfig) GroupFor(service string) string {
	if k.GroupID != "" {
		return k.GroupID
	}
	return "escrowflow-" + service
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	if d.URL != "" {
		return "url=<redacted>"
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
