package exchange

import (
	"errors"
	"fmt"

	"github.com/qupskd/qupskd/qkd"
)

var (
	// ErrRoundInFlight is returned when a trigger arrives while a round is
	// already running for the relationship. The scheduler treats this as a
	// missed rotation, not a failure.
	ErrRoundInFlight = errors.New("exchange round already in flight")

	// ErrProtocolViolation marks messages that do not match the receiving
	// end's state: duplicate requests, confirmations with no pending round,
	// stale generations. Not retried within the round.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrTransport marks peer endpoint failures: unreachable host, timeout,
	// malformed response. The round aborts and is retried only on the next
	// scheduled rotation.
	ErrTransport = errors.New("peer transport failure")

	// ErrUnknownRelationship is returned for messages addressed to a
	// relationship identifier this instance is not configured for.
	ErrUnknownRelationship = errors.New("unknown relationship")
)

// violationf wraps ErrProtocolViolation with detail.
func violationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether err should be retried on the next scheduled
// rotation. Transport failures and an exhausted key source are transient;
// protocol violations are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, qkd.ErrUnavailable) ||
		errors.Is(err, qkd.ErrExhausted)
}
