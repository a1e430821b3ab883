package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name       string
		configPath string
		wantErr    bool
		errMsg     string
		validate   func(*testing.T, *Config)
	}{
		{
			name:       "valid config file",
			configPath: "testdata/valid_config.yaml",
			wantErr:    false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, DriverPostgres, cfg.Database.Driver)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "recruiter_db", cfg.Database.Database)
				assert.True(t, cfg.RabbitMQ.Enabled)
				assert.Equal(t, "recruiter_events", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "recruiter_notifications", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "ai-recruiter", cfg.App.Name)
				assert.Equal(t, 3, cfg.Worker.Concurrency)
				assert.Equal(t, 10*time.Minute, cfg.Worker.JobTimeout)
				assert.Equal(t, "python3", cfg.Pipeline.Command)
				assert.Equal(t, []string{"-m", "evaluator"}, cfg.Pipeline.Args)
			},
		},
		{
			name:       "non-existent file",
			configPath: "testdata/nonexistent.yaml",
			wantErr:    true,
			errMsg:     "failed to read config file",
		},
		{
			name:       "malformed YAML",
			configPath: "testdata/malformed.yaml",
			wantErr:    true,
			errMsg:     "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.configPath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				if tt.validate != nil {
					tt.validate(t, cfg)
				}
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: memory\npipeline:\n  command: evaluator\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, time.Duration(0), cfg.Worker.JobTimeout)
	assert.Equal(t, 3, cfg.Orchestrator.PersistRetries)
	assert.Equal(t, 5*time.Minute, cfg.Stream.GracePeriod)
	assert.Equal(t, "data", cfg.Storage.UploadDir)
	assert.Equal(t, int64(20<<20), cfg.Storage.MaxUploadSize)
	assert.False(t, cfg.RabbitMQ.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("RECRUITER_DB_PASSWORD", "s3cret")
	path := filepath.Join(t.TempDir(), "env.yaml")
	content := "database:\n  host: db\n  database: recruiter\n  password: ${RECRUITER_DB_PASSWORD}\npipeline:\n  command: evaluator\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func validConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:   DriverPostgres,
			Host:     "localhost",
			Database: "recruiter_db",
		},
		Pipeline: PipelineConfig{Command: "evaluator"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid configuration",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name:    "port above maximum",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name:    "port at maximum",
			mutate:  func(c *Config) { c.Server.Port = MaxPort },
			wantErr: false,
		},
		{
			name:    "missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: true,
			errMsg:  "database host is required",
		},
		{
			name:    "missing database name",
			mutate:  func(c *Config) { c.Database.Database = "" },
			wantErr: true,
			errMsg:  "database name is required",
		},
		{
			name: "sqlite requires path",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: DriverSQLite}
			},
			wantErr: true,
			errMsg:  "database path is required",
		},
		{
			name: "sqlite with path",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: DriverSQLite, Path: "data/jobs.db"}
			},
			wantErr: false,
		},
		{
			name:    "memory store",
			mutate:  func(c *Config) { c.Database = DatabaseConfig{Driver: DriverMemory} },
			wantErr: false,
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: true,
			errMsg:  "unsupported database driver",
		},
		{
			name: "rabbitmq enabled without exchange",
			mutate: func(c *Config) {
				c.RabbitMQ.Enabled = true
				c.RabbitMQ.Host = "localhost"
				c.RabbitMQ.Queue.Name = "q"
			},
			wantErr: true,
			errMsg:  "rabbitmq exchange name is required",
		},
		{
			name: "rabbitmq disabled is not validated",
			mutate: func(c *Config) {
				c.RabbitMQ.Enabled = false
				c.RabbitMQ.Host = ""
			},
			wantErr: false,
		},
		{
			name:    "invalid logging format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
			errMsg:  "invalid logging format",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr: true,
			errMsg:  "worker concurrency must be greater than 0",
		},
		{
			name:    "negative job timeout",
			mutate:  func(c *Config) { c.Worker.JobTimeout = -time.Second },
			wantErr: true,
			errMsg:  "job_timeout must not be negative",
		},
		{
			name:    "zero grace period",
			mutate:  func(c *Config) { c.Stream.GracePeriod = 0 },
			wantErr: true,
			errMsg:  "grace_period must be greater than 0",
		},
		{
			name:    "missing pipeline command",
			mutate:  func(c *Config) { c.Pipeline.Command = "  " },
			wantErr: true,
			errMsg:  "pipeline command is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	tests := []struct {
		name       string
		configPath string
		errMsg     string
	}{
		{
			name:       "invalid port",
			configPath: "testdata/invalid_port.yaml",
			errMsg:     "invalid server port",
		},
		{
			name:       "missing database",
			configPath: "testdata/missing_database.yaml",
			errMsg:     "database name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.configPath)
			require.NoError(t, err)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
