package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qupskd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const validConfig = `
listen_addr: "127.0.0.1:9000"
metrics_addr: "127.0.0.1:9090"
sink: "file:///run/qupskd"
rotation_interval: "90s"
max_secret_age: "10m"
peers:
  - id: "alice-bob"
    role: "initiator"
    peer_url: "http://bob:8454"
    etsi_url: "https://kme-a:443"
    source_sae_id: "sae-alice"
    target_sae_id: "sae-bob"
    psk: "seed"
  - id: "alice-carol"
    alias: "carol"
    role: "responder"
    etsi_url: "https://kme-a:443"
    target_sae_id: "sae-carol"
    sink: "vault://vault:8200/secret/psk"
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, 90*time.Second, cfg.RotationInterval.Std())
	assert.Equal(t, 10*time.Minute, cfg.MaxSecretAge.Std())
	assert.Equal(t, DefaultFakeQKDCapacity, cfg.FakeQKDCapacity)

	require.Len(t, cfg.Peers, 2)
	assert.Equal(t, "alice-bob", cfg.Peers[0].Alias, "alias defaults to id")
	assert.Equal(t, "carol", cfg.Peers[1].Alias)
	assert.Equal(t, "vault://vault:8200/secret/psk", cfg.Peers[1].Sink)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
sink: "file:///run/qupskd"
peers:
  - id: "a-b"
    role: "responder"
    etsi_url: "http://kme:80"
    target_sae_id: "sae-b"
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultRotationInterval, cfg.RotationInterval.Std())
	assert.Zero(t, cfg.MaxSecretAge.Std())
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
sink: "file:///run/qupskd"
rotation_interval: "soon"
peers:
  - id: "a-b"
    role: "responder"
    etsi_url: "http://kme:80"
    target_sae_id: "sae-b"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Sink: "file:///run/qupskd",
			Peers: []PeerConfig{{
				ID:        "a-b",
				Role:      "responder",
				ETSIURL:   "http://kme:80",
				TargetSAE: "sae-b",
			}},
		}
	}

	t.Run("valid", func(t *testing.T) {
		cfg := base()
		require.NoError(t, cfg.Validate())
	})

	t.Run("no peers", func(t *testing.T) {
		cfg := base()
		cfg.Peers = nil
		assert.ErrorContains(t, cfg.Validate(), "no peers")
	})

	t.Run("no sink", func(t *testing.T) {
		cfg := base()
		cfg.Sink = ""
		assert.ErrorContains(t, cfg.Validate(), "sink is required")
	})

	t.Run("duplicate ids", func(t *testing.T) {
		cfg := base()
		cfg.Peers = append(cfg.Peers, cfg.Peers[0])
		assert.ErrorContains(t, cfg.Validate(), "duplicate peer id")
	})

	t.Run("bad role", func(t *testing.T) {
		cfg := base()
		cfg.Peers[0].Role = "observer"
		assert.ErrorContains(t, cfg.Validate(), "role must be")
	})

	t.Run("initiator without peer_url", func(t *testing.T) {
		cfg := base()
		cfg.Peers[0].Role = "initiator"
		assert.ErrorContains(t, cfg.Validate(), "requires peer_url")
	})

	t.Run("missing etsi_url", func(t *testing.T) {
		cfg := base()
		cfg.Peers[0].ETSIURL = ""
		assert.ErrorContains(t, cfg.Validate(), "etsi_url")
	})

	t.Run("incomplete tls", func(t *testing.T) {
		cfg := base()
		cfg.KeySourceTLS = &TLSConfig{CACert: "ca.pem"}
		assert.ErrorContains(t, cfg.Validate(), "key_source_tls")
	})
}
