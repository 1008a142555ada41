package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/htquang/jobcore/internal/backoff"
	"github.com/htquang/jobcore/internal/job"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	RabbitMQ RabbitMQConfig  `yaml:"rabbitmq"`
	Logging  LoggingConfig   `yaml:"logging"`
	App      AppConfig       `yaml:"app"`
	Worker   WorkerConfig    `yaml:"worker"`
	JobTypes []JobTypeConfig `yaml:"job_types"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and topology configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   string           `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Topology   TopologyConfig   `yaml:"topology"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// TopologyConfig holds queue topology settings shared by all job types.
type TopologyConfig struct {
	// DefaultQueueTTL is the message TTL applied to the shared priority
	// queues; dedicated queues derive theirs from the type's timeout
	// multiplied by TTLSafetyFactor.
	DefaultQueueTTL time.Duration `yaml:"default_queue_ttl"`
	TTLSafetyFactor float64       `yaml:"ttl_safety_factor"`
	// WaitBuckets are the fixed retry-delay tiers. A computed backoff
	// delay is routed through the smallest bucket that covers it.
	WaitBuckets []time.Duration `yaml:"wait_buckets"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	PrefetchCount   int           `yaml:"prefetch_count"`
	OpsPort         int           `yaml:"ops_port"`
	RateLimitDefer  time.Duration `yaml:"rate_limit_defer"`
	DepthPoll       time.Duration `yaml:"depth_poll_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// JobTypeConfig is one entry of the job type catalog.
type JobTypeConfig struct {
	Name           string         `yaml:"name"`
	DedicatedQueue bool           `yaml:"dedicated_queue"`
	Priority       string         `yaml:"priority"`
	MaxRetries     int            `yaml:"max_retries"`
	Timeout        time.Duration  `yaml:"timeout"`
	Backoff        backoff.Config `yaml:"backoff"`
	RateLimit      job.RateLimit  `yaml:"rate_limit"`
	Severity       string         `yaml:"severity"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Definitions converts the job type catalog into registry definitions.
func (c *Config) Definitions() ([]*job.Definition, error) {
	defs := make([]*job.Definition, 0, len(c.JobTypes))
	for _, jt := range c.JobTypes {
		if jt.Name == "" {
			return nil, fmt.Errorf("job type entry missing name")
		}

		priority := job.PriorityNormal
		if jt.Priority != "" {
			p, err := job.ParsePriority(jt.Priority)
			if err != nil {
				return nil, fmt.Errorf("job type %q: %w", jt.Name, err)
			}
			priority = p
		}

		severity := job.SeverityRoutine
		switch jt.Severity {
		case "", string(job.SeverityRoutine):
		case string(job.SeverityCritical):
			severity = job.SeverityCritical
		case string(job.SeverityUser):
			severity = job.SeverityUser
		default:
			return nil, fmt.Errorf("job type %q: invalid severity %q", jt.Name, jt.Severity)
		}

		if _, err := backoff.New(jt.Backoff); err != nil {
			return nil, fmt.Errorf("job type %q: %w", jt.Name, err)
		}

		timeout := jt.Timeout
		if timeout <= 0 {
			timeout = time.Minute
		}

		defs = append(defs, &job.Definition{
			Type:            jt.Name,
			DedicatedQueue:  jt.DedicatedQueue,
			DefaultPriority: priority,
			MaxRetries:      jt.MaxRetries,
			Timeout:         timeout,
			Backoff:         jt.Backoff,
			RateLimit:       jt.RateLimit,
			Severity:        severity,
		})
	}
	return defs, nil
}

// ValidateAPIConfig checks the fields the API service depends on.
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateShared()
}

// ValidateWorkerConfig checks the fields the worker service depends on.
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.PrefetchCount <= 0 {
		return fmt.Errorf("worker prefetch_count must be greater than 0")
	}

	if c.Worker.RateLimitDefer <= 0 {
		return fmt.Errorf("worker rate_limit_defer must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return c.validateShared()
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if len(c.JobTypes) == 0 {
		return fmt.Errorf("at least one job type must be configured")
	}

	return nil
}
