// Package storage delivers derived secrets to their downstream consumers.
//
// A sink holds one addressable slot per relationship alias; every commit
// overwrites the slot atomically so a concurrent reader never observes a
// partially written secret. Backends are selected by location URI:
//
//   - file:///etc/qupskd/keys - one <alias>.key file per relationship
//   - vault://host:8200/secret/qupskd - HashiCorp Vault KV v2
//   - s3://bucket/prefix?region=eu-central-1 - S3 compatible object storage
//   - exec:///usr/bin/wg-set-psk - pipe the secret to a command
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/qupskd/qupskd/chain"
)

// Sink receives the derived secret of each committed round. The caller
// holds no reference to the secret after handoff.
type Sink interface {
	// Put atomically replaces the slot named by the secret's alias.
	Put(ctx context.Context, secret chain.DerivedSecret) error

	// Name returns a unique identifier for this sink.
	Name() string
}

// SinkFor creates a sink from a location URI.
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func SinkFor(locationURI string, log *slog.Logger) (Sink, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid sink URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return createFileSink(u, log)
	case "vault":
		return createVaultSink(u, log)
	case "s3":
		return createS3Sink(u, log)
	case "exec":
		return createExecSink(u, log)
	default:
		return nil, fmt.Errorf("unsupported sink scheme: %s", u.Scheme)
	}
}

// createFileSink creates a file system sink.
// URI format: file:///absolute/path/ or file://./relative/path/
func createFileSink(u *url.URL, log *slog.Logger) (Sink, error) {
	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("empty path in file URI: %s", u.String())
	}
	return NewFileSink(path, log)
}

// createVaultSink creates a HashiCorp Vault KV v2 sink.
// URI format: vault://host:8200/mount/path?tls=disable
// The token is taken from the standard VAULT_TOKEN environment variable.
func createVaultSink(u *url.URL, log *slog.Logger) (Sink, error) {
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("vault URI must contain mount and data path: %s", u.String())
	}

	scheme := "https"
	if u.Query().Get("tls") == "disable" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	return NewVaultSink(address, parts[0], parts[1], log)
}

// createS3Sink creates an S3 or S3-compatible sink.
// URI format: s3://bucket/prefix?region=us-east-1&endpoint=custom.s3.com
// Credentials come from the standard AWS environment/profile chain.
func createS3Sink(u *url.URL, log *slog.Logger) (Sink, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("missing bucket in S3 URI: %s", u.String())
	}

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Sink(bucket, strings.Trim(u.Path, "/"), region, query.Get("endpoint"), log)
}

// createExecSink creates a command sink.
// URI format: exec:///usr/bin/wg-set-psk?arg=wg0
func createExecSink(u *url.URL, log *slog.Logger) (Sink, error) {
	if u.Path == "" {
		return nil, fmt.Errorf("empty command in exec URI: %s", u.String())
	}
	return NewExecSink(u.Path, u.Query()["arg"], log), nil
}
