package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devprobe-project/devprobe/internal/config"
)

func TestDefaultFlags(t *testing.T) {
	cmd, _ := newRootCmd()
	flags := cmd.Flags()

	addr, err := flags.GetString("addr")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr)

	port, err := flags.GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, 10123, port)

	auto, err := flags.GetBool("auto-pong-reply")
	require.NoError(t, err)
	assert.False(t, auto)
}

func TestFlagsOverrideConfig(t *testing.T) {
	cmd, opts := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"-a", "192.168.1.20",
		"--port", "4000",
		"--auto-pong-reply",
		"--journal", "/tmp/j.db",
		"--api-port", "8088",
	}))

	cfg := config.DefaultConfig()
	cfg.Logging.Level = "warn"

	applyFlags(cmd, opts, cfg)

	assert.Equal(t, "192.168.1.20", cfg.Peer.Address)
	assert.Equal(t, 4000, cfg.Peer.Port)
	assert.True(t, cfg.Client.AutoPongReply)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/j.db", cfg.Journal.Path)
	assert.Equal(t, 8088, cfg.API.Port)
	assert.Equal(t, "warn", cfg.Logging.Level, "unset flags leave file values alone")
}

func TestUnsetFlagsKeepConfig(t *testing.T) {
	cmd, opts := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))

	cfg := config.DefaultConfig()
	cfg.Peer.Address = "10.0.0.5"
	cfg.Peer.Port = 9999
	cfg.Client.AutoPongReply = true

	applyFlags(cmd, opts, cfg)

	assert.Equal(t, "10.0.0.5", cfg.Peer.Address)
	assert.Equal(t, 9999, cfg.Peer.Port)
	assert.True(t, cfg.Client.AutoPongReply)
}

func TestJournalFlagEmptyDisables(t *testing.T) {
	cmd, opts := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--journal="}))

	cfg := config.DefaultConfig()
	cfg.Journal.Enabled = true
	applyFlags(cmd, opts, cfg)

	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, config.DefaultJournalPath, cfg.Journal.Path)
}

func TestRejectsPositionalArgs(t *testing.T) {
	cmd, _ := newRootCmd()
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
