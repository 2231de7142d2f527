package ingestion

import (
	"errors"
	"fmt"
	"strings"

	"PoolLedger/internal/event"
)

var ErrMalformed = errors.New("malformed event")

// Parse reasons, used as the metric label.
const (
	ReasonDecode   = "decode"
	ReasonSubject  = "subject"
	ReasonContext  = "context"
	ReasonUnknown  = "unknown_type"
	ReasonMismatch = "mismatch"
)

// ParseError is a message that can never become a valid event.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %v", e.Reason, e.Err) }
func (e *ParseError) Unwrap() error { return ErrMalformed }

func malformed(reason string, format string, args ...any) error {
	return &ParseError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// ParseSubject splits pool.events.{chain}.{type}.
func ParseSubject(subject string) (chainID, eventType string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "pool" || parts[1] != "events" || parts[2] == "" || parts[3] == "" {
		return "", "", malformed(ReasonSubject, "unexpected subject %q", subject)
	}
	return parts[2], parts[3], nil
}

// ParseRawEvent decodes the envelope of a raw message and checks it against
// its subject. Messages without a subject (replay) are checked on their own.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	evt, err := event.Decode(raw.Data)
	if err != nil {
		if errors.Is(err, event.ErrUnknownType) {
			return nil, malformed(ReasonUnknown, "%v", err)
		}
		return nil, malformed(ReasonDecode, "%v", err)
	}

	ec := evt.Meta()
	if ec.ChainID == "" || ec.Timestamp.IsZero() {
		return nil, malformed(ReasonContext, "%s at %s has no chain or timestamp", evt.EventType(), ec.Key())
	}

	if raw.Subject != "" {
		chainID, eventType, err := ParseSubject(raw.Subject)
		if err != nil {
			return nil, err
		}
		if chainID != ec.ChainID || eventType != evt.EventType().String() {
			return nil, malformed(ReasonMismatch, "subject %s carries %s on chain %s", raw.Subject, evt.EventType(), ec.ChainID)
		}
	}
	return evt, nil
}

// Reason returns the metric label of a parse failure.
func Reason(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ReasonDecode
}
