package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/qupskd/qupskd/chain"
)

// execTimeout bounds how long a sink command may run per secret.
const execTimeout = 10 * time.Second

// ExecSink hands derived secrets to an external command, e.g. a wg-set-psk
// helper applying the secret to a WireGuard peer. The encoded secret is
// written to the command's stdin; the relationship alias is appended to
// the configured arguments.
type ExecSink struct {
	command string
	args    []string
	log     *slog.Logger
}

// NewExecSink creates a sink invoking command with args for each secret.
func NewExecSink(command string, args []string, log *slog.Logger) *ExecSink {
	return &ExecSink{command: command, args: args, log: log}
}

// Put runs the command with the secret on stdin. The command's exit status
// decides success; its output is logged, never the secret.
func (s *ExecSink) Put(ctx context.Context, secret chain.DerivedSecret) error {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	args := append(append([]string(nil), s.args...), secret.Alias)
	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Stdin = bytes.NewReader(secret.Encode())

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("sink command failed: %w: %s", err, string(output))
	}

	s.log.Debug("Handed derived secret to command",
		slog.String("command", s.command),
		slog.Uint64("generation", secret.Generation))

	return nil
}

// Name returns a unique identifier for this sink.
func (s *ExecSink) Name() string {
	return fmt.Sprintf("exec-%s", filepath.Base(s.command))
}
