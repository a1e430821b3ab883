package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	App          AppConfig          `yaml:"app"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Logging      LoggingConfig      `yaml:"logging"`
	Worker       WorkerConfig       `yaml:"worker"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Stream       StreamConfig       `yaml:"stream"`
	Storage      StorageConfig      `yaml:"storage"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the job store
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// WorkerConfig holds the evaluation pool configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OrchestratorConfig tunes job state persistence
type OrchestratorConfig struct {
	PersistRetries int           `yaml:"persist_retries"`
	PersistBackoff time.Duration `yaml:"persist_backoff"`
	PersistTimeout time.Duration `yaml:"persist_timeout"`
}

// StreamConfig tunes progress streaming
type StreamConfig struct {
	GracePeriod       time.Duration `yaml:"grace_period"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// StorageConfig holds blob storage settings
type StorageConfig struct {
	UploadDir     string `yaml:"upload_dir"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
}

// PipelineConfig describes the external evaluator process
type PipelineConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	WorkingDir string   `yaml:"working_dir"`
	Env        []string `yaml:"env"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment and unset fields get their defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills every unset field that has a sensible default
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ai-recruiter"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.Driver == DriverPostgres {
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
		if c.Database.MaxOpenConns == 0 {
			c.Database.MaxOpenConns = 25
		}
		if c.Database.MaxIdleConns == 0 {
			c.Database.MaxIdleConns = 5
		}
	}

	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = 5672
	}
	if c.RabbitMQ.VHost == "" {
		c.RabbitMQ.VHost = "/"
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "topic"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "job.*"
	}
	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.RabbitMQ.Connection.RetryInterval == 0 {
		c.RabbitMQ.Connection.RetryInterval = 2 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}

	if c.Orchestrator.PersistRetries == 0 {
		c.Orchestrator.PersistRetries = 3
	}
	if c.Orchestrator.PersistBackoff == 0 {
		c.Orchestrator.PersistBackoff = 100 * time.Millisecond
	}
	if c.Orchestrator.PersistTimeout == 0 {
		c.Orchestrator.PersistTimeout = 5 * time.Second
	}

	if c.Stream.GracePeriod == 0 {
		c.Stream.GracePeriod = 5 * time.Minute
	}
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = 15 * time.Second
	}

	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "data"
	}
	if c.Storage.MaxUploadSize == 0 {
		c.Storage.MaxUploadSize = 20 << 20
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.Database.validate(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if err := c.RabbitMQ.validate(); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %q (must be console or json)", c.Logging.Format)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker job_timeout must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Orchestrator.PersistRetries < 0 {
		return fmt.Errorf("orchestrator persist_retries must not be negative")
	}

	if c.Orchestrator.PersistTimeout <= 0 {
		return fmt.Errorf("orchestrator persist_timeout must be greater than 0")
	}

	if c.Stream.GracePeriod <= 0 {
		return fmt.Errorf("stream grace_period must be greater than 0")
	}

	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage upload_dir is required")
	}

	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("storage max_upload_size must be greater than 0")
	}

	if strings.TrimSpace(c.Pipeline.Command) == "" {
		return fmt.Errorf("pipeline command is required")
	}

	return nil
}

func (d *DatabaseConfig) validate() error {
	switch d.Driver {
	case DriverPostgres:
		if d.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if d.Port < MinPort || d.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", d.Port, MinPort, MaxPort)
		}
		if d.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case DriverSQLite:
		if d.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver: %q", d.Driver)
	}
	return nil
}

func (r *RabbitMQConfig) validate() error {
	if r.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if r.Port < MinPort || r.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", r.Port, MinPort, MaxPort)
	}

	if r.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if r.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
