package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/qupskd/qupskd/chain"
)

// FileSink writes derived secrets to the local file system, one
// <alias>.key file per relationship.
type FileSink struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileSink creates a file sink rooted at baseDir, creating the
// directory if needed.
func NewFileSink(baseDir string, log *slog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	return &FileSink{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Put replaces <alias>.key with the encoded secret. The file is written to
// a temporary name and renamed into place, so a concurrent reader sees
// either the previous secret or the new one, never a partial write.
func (s *FileSink) Put(ctx context.Context, secret chain.DerivedSecret) error {
	target := filepath.Join(s.baseDir, secret.Alias+".key")

	f, err := os.CreateTemp(s.baseDir, secret.Alias+".key.tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(secret.Encode()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write secret: %w", err)
	}
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to set secret file mode: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close secret file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace secret file: %w", err)
	}

	s.log.Debug("Wrote derived secret",
		slog.String("path", target),
		slog.Uint64("generation", secret.Generation))

	return nil
}

// Name returns a unique identifier for this sink.
func (s *FileSink) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}
