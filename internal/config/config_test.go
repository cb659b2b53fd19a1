package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/sheetworks/internal/domain"
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
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "sheetworks", cfg.Database.Database)
			assert.Equal(t, "http://localhost:9000", cfg.Storage.Endpoint)
			assert.Equal(t, "sheetworks.jobs", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, []string{"job.enqueued"}, cfg.RabbitMQ.Queue.BindingKeys)
			assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
			assert.Equal(t, 2, cfg.Worker.Concurrency)
			assert.Equal(t, 320, cfg.Render.ThumbnailMaxWidth)

			// filled by defaults
			assert.Equal(t, domain.RenderScale, cfg.Render.Scale)
			assert.Equal(t, "pdftoppm", cfg.Render.PdftoppmPath)
			assert.Equal(t, "topic", cfg.RabbitMQ.Exchange.Type)
			assert.Equal(t, 30*time.Second, cfg.Worker.ShutdownTimeout)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDatabasePassword, "from-env")
	t.Setenv(EnvStorageSecretKey, "secret-from-env")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "secret-from-env", cfg.Storage.SecretKey)
	assert.Equal(t, "minioadmin", cfg.Storage.AccessKey)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, domain.DefaultPollInterval, cfg.Worker.PollInterval)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.Equal(t, []string{"render_package"}, cfg.Worker.PollTypes)
	assert.Equal(t, []domain.JobType{domain.JobTypeRenderPackage}, cfg.Worker.JobTypes())
	assert.Equal(t, time.Duration(0), cfg.Worker.JobTimeout)
	assert.False(t, cfg.Worker.RequireRenderedSheet)
	assert.Equal(t, domain.ThumbnailMaxWidth, cfg.Render.ThumbnailMaxWidth)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func validWorkerConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{Host: "localhost", Port: 5432, Database: "sheetworks"},
		Storage:  StorageConfig{Endpoint: "http://localhost:9000", AccessKey: "a", SecretKey: "b"},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "sheetworks.jobs"},
			Queue:    QueueConfig{Name: "sheetworks.worker"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 70000 },
			errString: "invalid database port",
		},
		{
			name:      "missing storage credentials",
			mutate:    func(c *Config) { c.Storage.SecretKey = "" },
			errString: "storage access_key and secret_key are required",
		},
		{
			name:      "missing queue when bus enabled",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name: "bus disabled skips rabbitmq checks",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{Enabled: false}
			},
		},
		{
			name:      "negative job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = -time.Second },
			errString: "worker job_timeout must not be negative",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = -1 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "unknown poll type",
			mutate:    func(c *Config) { c.Worker.PollTypes = []string{"render_package", "ocr"} },
			errString: `unknown job type "ocr"`,
		},
		{
			name:      "non-positive render scale",
			mutate:    func(c *Config) { c.Render.Scale = -2 },
			errString: "render scale must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validWorkerConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:   "publish only bus needs no queue",
			mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" },
		},
		{
			name:      "invalid server port",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "missing database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "missing storage endpoint",
			mutate:    func(c *Config) { c.Storage.Endpoint = "" },
			errString: "storage endpoint is required",
		},
		{
			name:      "missing exchange",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validWorkerConfig()
			cfg.Server.Port = 8080
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
