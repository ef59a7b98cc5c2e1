package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/qupskd/qupskd/chain"
)

// VaultSink writes derived secrets to HashiCorp Vault using the KV v2
// secrets engine, one secret per relationship alias. Vault's versioned
// writes give the atomic-replace semantics the sink contract requires.
type VaultSink struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultSink creates a Vault sink writing under mountPath/dataPath.
// Authentication uses the standard VAULT_TOKEN environment variable picked
// up by the Vault client.
func NewVaultSink(address, mountPath, dataPath string, log *slog.Logger) (*VaultSink, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultSink{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Put writes the encoded secret at <mount>/data/<path>/<alias>.
func (s *VaultSink) Put(ctx context.Context, secret chain.DerivedSecret) error {
	start := time.Now()
	secretPath := fmt.Sprintf("%s/data/%s/%s", s.mountPath, s.dataPath, secret.Alias)

	_, err := s.client.Logical().WriteWithContext(ctx, secretPath, map[string]interface{}{
		"data": map[string]interface{}{
			"psk":        string(secret.Encode()),
			"generation": secret.Generation,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write secret to Vault: %w", err)
	}

	s.log.Debug("Wrote derived secret to Vault",
		slog.String("path", secretPath),
		slog.Uint64("generation", secret.Generation),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Name returns a unique identifier for this sink.
func (s *VaultSink) Name() string {
	return fmt.Sprintf("vault-%s-%s", s.mountPath, s.dataPath)
}
