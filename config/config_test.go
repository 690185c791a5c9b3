package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sage3/foresight/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  url: http://sage3.local:3333
  token: ${TEST_FORESIGHT_TOKEN}
kernel:
  url: http://kernels.local:8888
  timeout_seconds: 60
redis:
  addr: redis.local:6379
rooms:
  - room-a
logging:
  level: debug
  format:
    preset: json
`

func TestLoadFromBytesYAML(t *testing.T) {
	t.Setenv("TEST_FORESIGHT_TOKEN", "secret-token")

	cfg, err := LoadFromBytes([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "http://sage3.local:3333", cfg.Server.URL)
	assert.Equal(t, "ws://sage3.local:3333/api", cfg.Server.SocketURL)
	assert.Equal(t, "secret-token", cfg.Server.Token)
	assert.Equal(t, 60, cfg.Kernel.TimeoutSeconds)
	assert.Equal(t, DefaultResultsChannel, cfg.Redis.ResultsChannel)
	assert.Equal(t, defaultPollInterval, cfg.Daemon.PollIntervalSeconds)
	assert.True(t, cfg.TracksRoom("room-a"))
	assert.False(t, cfg.TracksRoom("room-b"))

	var logCfg struct {
		Level  string `yaml:"level"`
		Format struct {
			Preset string `yaml:"preset"`
		} `yaml:"format"`
	}
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "debug", logCfg.Level)
	assert.Equal(t, "json", logCfg.Format.Preset)
}

func TestLoadFromBytesTOML(t *testing.T) {
	data := `
[server]
url = "https://sage3.example.org"
token = "tok"

[kernel]
url = "http://localhost:8888"

[redis]
addr = "localhost:6380"
results_channel = "outputs"

[logging]
level = "warn"
`
	cfg, err := LoadFromBytes([]byte(data), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "wss://sage3.example.org/api", cfg.Server.SocketURL)
	assert.Equal(t, "outputs", cfg.Redis.ResultsChannel)
	assert.Contains(t, cfg.Extensions, "logging")
	assert.NotContains(t, cfg.Extensions, "server")
}

func TestTokenFromEnvironment(t *testing.T) {
	t.Setenv(DefaultTokenEnv, "env-token")

	cfg, err := LoadFromBytes([]byte("server:\n  url: http://localhost:3333\nkernel:\n  url: http://localhost:8888\n"), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Server.Token)
}

func TestValidationErrors(t *testing.T) {
	t.Setenv(DefaultTokenEnv, "")

	tests := []struct {
		name string
		data string
		code errors.ErrorCode
	}{
		{
			name: "missing token",
			data: "server:\n  url: http://localhost:3333\nkernel:\n  url: http://localhost:8888\n",
			code: errors.ErrCodeConfigValidation,
		},
		{
			name: "bad kernel scheme",
			data: "server:\n  url: http://localhost:3333\n  token: t\nkernel:\n  url: ftp://localhost\n",
			code: errors.ErrCodeConfigValidation,
		},
		{
			name: "schema type mismatch",
			data: "server:\n  url: http://localhost:3333\n  token: t\nkernel:\n  url: http://localhost:8888\n  timeout_seconds: soon\n",
			code: errors.ErrCodeConfigValidation,
		},
		{
			name: "not yaml",
			data: "server: [unterminated",
			code: errors.ErrCodeConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data), FormatYAML)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestFindConfigFileWalksUp(t *testing.T) {
	t.Setenv("FORESIGHT_HOME", t.TempDir())
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	want := filepath.Join(root, "foresight.toml")
	require.NoError(t, os.WriteFile(want, []byte(""), 0644))

	got, err := FindConfigFile(nested)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, FormatTOML, FormatFor(got))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "foresight.yml"))
	assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), "socket_url")
	assert.Contains(t, string(data), "results_channel")
}
