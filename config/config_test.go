package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/tagmesh/plugins/file"
	"github.com/opd-ai/tagmesh/plugins/tcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	path := filepath.Join(t.TempDir(), DefaultFileName)
	conf := Default()
	conf.Passphrase = "correct horse"
	conf.TCP.MaxLatency = Duration{90 * time.Second}
	require.NoError(t, Save(path, conf))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "correct horse", loaded.Passphrase)
	assert.Equal(t, 90*time.Second, loaded.TCP.MaxLatency.Duration)
	assert.Equal(t, conf.File, loaded.File)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadKeepsDefaults(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	path := writeConfig(t, `
log_level = "debug"

[tcp]
listen = "127.0.0.1:9000"
`)
	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", conf.TCP.Listen)
	assert.Equal(t, tcp.DefaultMaxLatency, conf.TCP.MaxLatency.Duration)
	assert.Equal(t, int64(file.DefaultCapacity), conf.File.Capacity)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "data_dri = \"x\"\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "[tcp]\nmax_latency = \"soon\"\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestPassphraseFromEnvironment(t *testing.T) {
	t.Setenv(PassphraseEnv, "from env")
	path := writeConfig(t, "passphrase = \"from file\"\n")
	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from env", conf.Passphrase)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"empty listen", func(c *Config) { c.TCP.Listen = "" }},
		{"small frames", func(c *Config) { c.TCP.MaxFrameLength = 64 }},
		{"zero tcp latency", func(c *Config) { c.TCP.MaxLatency = Duration{} }},
		{"empty drop dir", func(c *Config) { c.File.Dir = "" }},
		{"tiny capacity", func(c *Config) { c.File.Capacity = 10 }},
		{"zero poll", func(c *Config) { c.File.PollInterval = Duration{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := Default()
			tt.mutate(conf)
			assert.ErrorIs(t, conf.Validate(), ErrInvalid)
		})
	}
}

func TestDisabledTransportsSkipValidation(t *testing.T) {
	conf := Default()
	conf.TCP = TCPConfig{}
	conf.File = FileConfig{}
	require.NoError(t, conf.Validate())
	assert.Empty(t, conf.Transports())
}

func TestTransports(t *testing.T) {
	ts := Default().Transports()
	require.Len(t, ts, 2)
	assert.Equal(t, tcp.ID, ts[0].ID)
	assert.Equal(t, TCPTransportIndex, ts[0].Index)
	assert.Equal(t, file.ID, ts[1].ID)
	assert.Equal(t, FileTransportIndex, ts[1].Index)
	assert.Equal(t, file.DefaultMaxLatency, ts[1].MaxLatency)
}

func TestPathsResolveAgainstConfigDir(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, Save(path, Default()))
	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "data", "db"), conf.DatabasePath())
	assert.Equal(t, filepath.Join(dir, "drop"), conf.FilePluginConfig().Dir)
	assert.Equal(t, "/abs/drop", conf.ResolvePath("/abs/drop"))
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	defer logrus.SetFormatter(logrus.StandardLogger().Formatter)

	conf := Default()
	conf.LogLevel = "warn"
	conf.LogFormat = "json"
	require.NoError(t, conf.ConfigureLogging())
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)
}
