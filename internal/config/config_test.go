package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name        string
		data        string
		env         map[string]string
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			data: "",
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, defaultListen, cfg.Listen)
				require.Equal(t, LogLevelInfo, cfg.LogLevel)
				require.Equal(t, defaultWorkers, cfg.IndexerConfig.Workers)
				require.Equal(t, defaultDescFileName, cfg.IndexerConfig.DescFileName)
				require.Equal(t, defaultHTTPTimeout, cfg.SourceConfig.HTTPTimeout)
			},
		},
		{
			name: "file values",
			data: `
listen: ":9000"
log_level: debug
template_file: /etc/deploypkg/page.html
indexer:
  work_dir: /srv/packages
  workers: 2
encoder:
  chunk_size: 4096
  compression_level: 9
  pool_size: 8
source:
  http_timeout: 5s
`,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, ":9000", cfg.Listen)
				require.Equal(t, LogLevelDebug, cfg.LogLevel)
				require.Equal(t, "/etc/deploypkg/page.html", cfg.TemplateFileName)
				require.Equal(t, "/srv/packages", cfg.IndexerConfig.WorkDir)
				require.Equal(t, 2, cfg.IndexerConfig.Workers)
				require.Equal(t, 4096, cfg.EncoderConfig.ChunkSize)
				require.Equal(t, 9, cfg.EncoderConfig.CompressionLevel)
				require.Equal(t, 8, cfg.EncoderConfig.PoolSize)
				require.Equal(t, 5*time.Second, cfg.SourceConfig.HTTPTimeout)

				fsCfg := cfg.FSAdapterConfig()
				require.Equal(t, "/srv/packages", fsCfg.WorkDir)
				require.Equal(t, defaultDescFileName, fsCfg.DescFileName)
			},
		},
		{
			name: "environment wins",
			data: "listen: \":9000\"\nredis_url: redis://file:6379/0\n",
			env: map[string]string{
				EnvListen:   ":7000",
				EnvRedisURL: "redis://env:6379/1",
			},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, ":7000", cfg.Listen)
				require.Equal(t, "redis://env:6379/1", cfg.RedisURL)
			},
		},
		{
			name:        "unknown log level",
			data:        "log_level: verbose\n",
			expectError: true,
		},
		{
			name:        "broken yaml",
			data:        "listen: [\n",
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for _, key := range []string{EnvListen, EnvRedisURL, EnvLogLevel} {
				t.Setenv(key, tc.env[key])
			}

			cfg, err := Parse([]byte(tc.data))
			if tc.expectError {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}
