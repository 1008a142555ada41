package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htquang/jobcore/internal/job"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "jobcore_db", cfg.Database.Database)
				assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange)
				assert.Equal(t, 3.0, cfg.RabbitMQ.Topology.TTLSafetyFactor)
				assert.Len(t, cfg.RabbitMQ.Topology.WaitBuckets, 5)
				assert.Equal(t, 8, cfg.Worker.Concurrency)
				assert.Equal(t, 16, cfg.Worker.PrefetchCount)
				assert.Len(t, cfg.JobTypes, 4)
			}
		})
	}
}

func TestDefinitions(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	defs, err := cfg.Definitions()
	require.NoError(t, err)
	require.Len(t, defs, 4)

	byType := make(map[string]*job.Definition, len(defs))
	for _, d := range defs {
		byType[d.Type] = d
	}

	rec := byType["recognition"]
	require.NotNil(t, rec)
	assert.True(t, rec.DedicatedQueue)
	assert.Equal(t, job.PriorityNormal, rec.DefaultPriority)
	assert.Equal(t, 3, rec.MaxRetries)
	assert.Equal(t, 2*time.Minute, rec.Timeout)
	assert.Equal(t, 2, rec.RateLimit.MaxConcurrentPerOwner)
	assert.Equal(t, job.SeverityUser, rec.Severity)

	bulk := byType["bulk-import"]
	require.NotNil(t, bulk)
	assert.Equal(t, job.PriorityLow, bulk.DefaultPriority)
	assert.Equal(t, job.SeverityCritical, bulk.Severity)
	assert.Equal(t, "linear", bulk.Backoff.Strategy)

	notif := byType["notification"]
	require.NotNil(t, notif)
	assert.Equal(t, job.PriorityHigh, notif.DefaultPriority)
	assert.Equal(t, job.SeverityRoutine, notif.Severity)
}

func TestDefinitions_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		jobTypes  []JobTypeConfig
		errString string
	}{
		{
			name:      "missing name",
			jobTypes:  []JobTypeConfig{{}},
			errString: "missing name",
		},
		{
			name:      "bad priority",
			jobTypes:  []JobTypeConfig{{Name: "a", Priority: "urgent"}},
			errString: "invalid priority",
		},
		{
			name:      "bad severity",
			jobTypes:  []JobTypeConfig{{Name: "a", Severity: "fatal"}},
			errString: "invalid severity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{JobTypes: tt.jobTypes}
			_, err := cfg.Definitions()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "jobcore_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: "jobs_exchange",
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			PrefetchCount:   8,
			RateLimitDefer:  time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		JobTypes: []JobTypeConfig{{Name: "recognition"}},
	}
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "invalid server port",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "missing exchange",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange = "" },
			wantErr:   true,
			errString: "exchange name is required",
		},
		{
			name:      "no job types",
			mutate:    func(c *Config) { c.JobTypes = nil },
			wantErr:   true,
			errString: "at least one job type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "concurrency must be greater than 0",
		},
		{
			name:      "zero prefetch",
			mutate:    func(c *Config) { c.Worker.PrefetchCount = 0 },
			wantErr:   true,
			errString: "prefetch_count must be greater than 0",
		},
		{
			name:      "zero rate limit defer",
			mutate:    func(c *Config) { c.Worker.RateLimitDefer = 0 },
			wantErr:   true,
			errString: "rate_limit_defer must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "shutdown_timeout must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
