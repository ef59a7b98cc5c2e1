// Package config loads and validates the qupskd configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for yaml values like "90s" or "2m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type (
	// Config is the full daemon configuration, loaded once at startup.
	Config struct {
		// ListenAddr is the peer protocol endpoint bind address.
		ListenAddr string `yaml:"listen_addr"`

		// MetricsAddr is the Prometheus listener bind address; empty
		// disables metrics.
		MetricsAddr string `yaml:"metrics_addr"`

		// Sink is the default secret sink location URI.
		Sink string `yaml:"sink"`

		// RotationInterval is how often each initiator relationship rotates.
		RotationInterval Duration `yaml:"rotation_interval"`

		// MaxSecretAge bounds how long a secret may outlive its last
		// rotation before the random fallback replaces it; zero disables
		// the fallback.
		MaxSecretAge Duration `yaml:"max_secret_age"`

		// ConfirmWait is how long a responder holds a speculative advance.
		ConfirmWait Duration `yaml:"confirm_wait"`

		// KeySourceTLS configures mutual TLS towards the key source.
		KeySourceTLS *TLSConfig `yaml:"key_source_tls,omitempty"`

		// FakeQKDAPI serves a simulated key delivery API on the peer
		// endpoint listener for setups without QKD hardware.
		FakeQKDAPI bool `yaml:"fake_qkd_api"`

		// FakeQKDCapacity is the simulated store's initial key budget.
		FakeQKDCapacity int `yaml:"fake_qkd_capacity"`

		Peers []PeerConfig `yaml:"peers"`
	}

	// TLSConfig points at PEM files for mutual TLS.
	TLSConfig struct {
		CACert string `yaml:"ca_cert"`
		Cert   string `yaml:"cert"`
		Key    string `yaml:"key"`
	}

	// PeerConfig describes one relationship with a counterpart instance.
	PeerConfig struct {
		// ID is the relationship identifier, shared verbatim by both ends.
		ID string `yaml:"id"`

		// Alias names the output secret; defaults to ID.
		Alias string `yaml:"alias"`

		// Role is "initiator" or "responder"; exactly one end of the
		// relationship is the initiator.
		Role string `yaml:"role"`

		// PeerURL is the counterpart's peer endpoint. Required for
		// initiators; responders never dial the peer.
		PeerURL string `yaml:"peer_url"`

		// ETSIURL is the local key management entity address.
		ETSIURL string `yaml:"etsi_url"`

		// SourceSAE and TargetSAE are the application entity identifiers
		// the key source addresses keys by.
		SourceSAE string `yaml:"source_sae_id"`
		TargetSAE string `yaml:"target_sae_id"`

		// PSK optionally seeds the initial chain state.
		PSK string `yaml:"psk,omitempty"`

		// Sink overrides the default sink for this relationship.
		Sink string `yaml:"sink,omitempty"`
	}
)

// Defaults applied by Load for unset fields.
const (
	DefaultListenAddr       = "127.0.0.1:8454"
	DefaultRotationInterval = 2 * time.Minute
	DefaultFakeQKDCapacity  = 1024
)

// Load reads and validates the configuration file. Any validation error is
// fatal at startup.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.RotationInterval == 0 {
		c.RotationInterval = Duration(DefaultRotationInterval)
	}
	if c.FakeQKDCapacity == 0 {
		c.FakeQKDCapacity = DefaultFakeQKDCapacity
	}
	for i := range c.Peers {
		if c.Peers[i].Alias == "" {
			c.Peers[i].Alias = c.Peers[i].ID
		}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.Peers) == 0 {
		return fmt.Errorf("no peers configured")
	}
	if c.Sink == "" {
		return fmt.Errorf("sink is required")
	}
	if c.KeySourceTLS != nil {
		if c.KeySourceTLS.CACert == "" || c.KeySourceTLS.Cert == "" || c.KeySourceTLS.Key == "" {
			return fmt.Errorf("key_source_tls requires ca_cert, cert and key")
		}
	}

	seen := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == "" {
			return fmt.Errorf("peer missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate peer id %q", p.ID)
		}
		seen[p.ID] = true

		switch p.Role {
		case "initiator":
			if p.PeerURL == "" {
				return fmt.Errorf("peer %q: initiator requires peer_url", p.ID)
			}
		case "responder":
		default:
			return fmt.Errorf("peer %q: role must be initiator or responder, got %q", p.ID, p.Role)
		}

		if p.ETSIURL == "" {
			return fmt.Errorf("peer %q: etsi_url is required", p.ID)
		}
		if p.TargetSAE == "" {
			return fmt.Errorf("peer %q: target_sae_id is required", p.ID)
		}
	}
	return nil
}
