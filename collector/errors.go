package collector

import (
	"errors"
	"fmt"
)

// ErrorKind classifies upstream failures so that callers can decide whether
// to retry next cycle, notify the subscribing channel, or alert an operator.
type ErrorKind int

const (
	// ErrorTransport covers network failures, timeouts, 429 and 5xx. Retried
	// implicitly on the next cycle.
	ErrorTransport ErrorKind = iota

	// ErrorAuth means credentials were rejected. Fatal for the source until
	// reconfigured, must reach an operator-visible channel.
	ErrorAuth

	// ErrorMalformed means the source responded but the payload does not parse
	// (bozo feed XML, broken listing JSON). Skipped for the cycle.
	ErrorMalformed

	// ErrorNotFound means the source does not exist upstream (e.g. a subreddit
	// request that redirects to search). Surfaced to the subscriber, never
	// auto-unsubscribed.
	ErrorNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransport:
		return "transport"
	case ErrorAuth:
		return "auth"
	case ErrorMalformed:
		return "malformed"
	case ErrorNotFound:
		return "not_found"
	}
	return "unknown"
}

// SourceError is the single error type all collectors return. Source names
// which upstream source failed so that a batch fetch can report per-source
// errors without aborting siblings.
type SourceError struct {
	Kind   ErrorKind
	Source string
	Msg    string
	Cause  error
}

func (e *SourceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for source %q: %s: %v", e.Kind, e.Source, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s error for source %q: %s", e.Kind, e.Source, e.Msg)
}

func (e *SourceError) Unwrap() error {
	return e.Cause
}

func NewSourceError(kind ErrorKind, source, msg string, cause error) *SourceError {
	return &SourceError{Kind: kind, Source: source, Msg: msg, Cause: cause}
}

// KindOf extracts the ErrorKind from any error chain containing a
// SourceError. Unrecognized errors are treated as transport failures since
// those are the retry-next-cycle default.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrorTransport
}
