package qkd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

var (
	// ErrExhausted indicates the key source has no key material available.
	ErrExhausted = errors.New("key source exhausted")

	// ErrNotFound indicates the requested key ID is unknown or was already
	// consumed.
	ErrNotFound = errors.New("key not found")

	// ErrUnavailable indicates the key source could not be reached or
	// returned a malformed response.
	ErrUnavailable = errors.New("key source unavailable")
)

// Client mints and redeems single-use key material.
type Client interface {
	// Mint asks the key source to generate and hand out a fresh key. The
	// key is removed from the source's store.
	Mint(ctx context.Context) (Material, error)

	// Redeem retrieves and removes the key matching keyID. A second call
	// for the same ID fails with ErrNotFound.
	Redeem(ctx context.Context, keyID string) (Material, error)
}

// etsiKey is one entry of an ETSI GS QKD 014 key container.
type etsiKey struct {
	KeyID string `json:"key_ID"`
	Key   string `json:"key"`
}

type etsiKeyContainer struct {
	Keys []etsiKey `json:"keys"`
}

// ETSIClient implements Client against an ETSI GS QKD 014 key management
// entity. Keys for a peer are addressed by the target SAE (secure
// application entity) identifier from configuration.
type ETSIClient struct {
	// BaseURL is the key management entity address, e.g. https://kme:8443.
	BaseURL string

	// TargetSAE is the SAE identifier of the counterpart application.
	TargetSAE string

	Client *http.Client
}

// NewETSIClient creates a client for the key management entity at baseURL.
// tlsConfig may be nil for plain HTTP endpoints.
func NewETSIClient(baseURL, targetSAE string, tlsConfig *tls.Config) *ETSIClient {
	transport := &http.Transport{TLSClientConfig: tlsConfig}
	return &ETSIClient{
		BaseURL:   baseURL,
		TargetSAE: targetSAE,
		Client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

// Mint requests one freshly generated key via the enc_keys endpoint.
func (c *ETSIClient) Mint(ctx context.Context) (Material, error) {
	reqURL := fmt.Sprintf("%s/api/v1/keys/%s/enc_keys?number=1", c.BaseURL, url.PathEscape(c.TargetSAE))
	return c.fetch(ctx, reqURL)
}

// Redeem retrieves the key previously minted on the other side via the
// dec_keys endpoint, consuming it.
func (c *ETSIClient) Redeem(ctx context.Context, keyID string) (Material, error) {
	reqURL := fmt.Sprintf("%s/api/v1/keys/%s/dec_keys?key_ID=%s", c.BaseURL, url.PathEscape(c.TargetSAE), url.QueryEscape(keyID))
	return c.fetch(ctx, reqURL)
}

func (c *ETSIClient) fetch(ctx context.Context, reqURL string) (Material, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Material{}, fmt.Errorf("could not initialize request: %w", err)
	}

	if c.Client == nil {
		c.Client = http.DefaultClient
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return Material{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Material{}, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Material{}, fmt.Errorf("%w: %s", ErrNotFound, string(body))
	case http.StatusServiceUnavailable:
		return Material{}, fmt.Errorf("%w: %s", ErrExhausted, string(body))
	default:
		return Material{}, fmt.Errorf("%w: key source returned %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var container etsiKeyContainer
	if err := json.Unmarshal(body, &container); err != nil {
		return Material{}, fmt.Errorf("%w: could not parse key container: %v", ErrUnavailable, err)
	}
	if len(container.Keys) == 0 {
		return Material{}, fmt.Errorf("%w: empty key container", ErrUnavailable)
	}

	secret, err := base64.StdEncoding.DecodeString(container.Keys[0].Key)
	if err != nil {
		return Material{}, fmt.Errorf("%w: could not decode key: %v", ErrUnavailable, err)
	}

	return Material{ID: container.Keys[0].KeyID, Secret: secret}, nil
}

// LoadTLSConfig builds a mutual-TLS client configuration from PEM files.
// All three paths must be set; the CA certificate pins the key source.
func LoadTLSConfig(caCertFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("no certificates found in CA file")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
	}, nil
}
