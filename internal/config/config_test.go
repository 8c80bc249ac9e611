package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	cc := cfg.ClientConfig()

	assert.Equal(t, "127.0.0.1:10123", cc.Peer.String())
	assert.False(t, cc.AutoPongReply)
	assert.Equal(t, time.Second, cc.ReceiveTimeout)
	assert.True(t, Validate(cfg).IsValid())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPeerPort, cfg.Peer.Port)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devprobe.json")
	body := `{"peer":{"port":20000},"client":{"auto_pong_reply":true,"receive_timeout_ms":250}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	cc := cfg.ClientConfig()
	assert.Equal(t, "127.0.0.1", cc.Peer.Host)
	assert.Equal(t, 20000, cc.Peer.Port)
	assert.True(t, cc.AutoPongReply)
	assert.Equal(t, 250*time.Millisecond, cc.ReceiveTimeout)
	assert.Equal(t, path, cfg.Path())
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devprobe.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPeerAddressIPv6(t *testing.T) {
	assert.Equal(t, "[::1]:10123", PeerAddress{Host: "::1", Port: 10123}.String())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peer.Address = " "
	cfg.Peer.Port = 70000
	cfg.Journal.Enabled = true
	cfg.Journal.Path = ""
	cfg.MQTT.Enabled = true
	cfg.MQTT.CertFile = "client.crt"
	cfg.API.Port = 80
	cfg.Client.ReceiveTimeoutMs = 10000

	result := Validate(cfg)
	assert.False(t, result.IsValid())

	fields := map[string]bool{}
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["peer.address"])
	assert.True(t, fields["peer.port"])
	assert.True(t, fields["journal.path"])
	assert.True(t, fields["mqtt.broker_url"])
	assert.True(t, fields["mqtt.cert_file"])

	warnings := map[string]bool{}
	for _, w := range result.Warnings {
		warnings[w.Field] = true
	}
	assert.True(t, warnings["api.port"])
	assert.True(t, warnings["client.receive_timeout_ms"])
}

func TestStatsInterval(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultStatsInterval, cfg.StatsInterval())

	cfg.Logging.StatsIntervalSec = 0
	assert.Zero(t, cfg.StatsInterval())

	cfg.Logging.StatsIntervalSec = -1
	cfg.Journal.MaxRows = -5
	result := Validate(cfg)
	require.False(t, result.IsValid())

	fields := map[string]bool{}
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["logging.stats_interval_sec"])
	assert.True(t, fields["journal.max_rows"])
}
