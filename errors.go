package corelog

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a TransportError for delegates that want to react
// differently to storage failures versus protocol failures.
type ErrorKind int

const (
	// ErrStorage covers file/SQLite IO failures.
	ErrStorage ErrorKind = iota
	// ErrProtocol covers framing, encoding and decoding failures: a
	// RemoteTransport frame or event body, or an event that fails to
	// format for a bulk upload.
	ErrProtocol
	// ErrConfig covers configuration violations: construction-time
	// validation failures, and records larger than a configured size cap.
	ErrConfig
	// ErrNetwork covers dial/connect/upload failures.
	ErrNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case ErrStorage:
		return "storage"
	case ErrProtocol:
		return "protocol"
	case ErrConfig:
		return "config"
	case ErrNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// TransportError is reported to a Transport's ErrorHandler. It never
// propagates back to the producer that submitted the originating event.
type TransportError struct {
	Transport string
	Kind      ErrorKind
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Transport, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err with a stack trace (via github.com/pkg/errors)
// so delegates that log it get a useful trace without the caller needing to
// capture one itself.
func NewTransportError(transport string, kind ErrorKind, err error) *TransportError {
	return &TransportError{
		Transport: transport,
		Kind:      kind,
		Err:       errors.WithStack(err),
	}
}

// ErrorHandler receives out-of-band transport failures. It must not block
// the transport's work queue for long; implementations that log to a slow
// sink should do so asynchronously.
type ErrorHandler func(*TransportError)

// ErrConfigInvalid is returned by constructors when options fail
// validation (a programming error, not a runtime one per the error
// handling policy).
var ErrConfigInvalid = errors.New("corelog: invalid configuration")

// ConfigError wraps ErrConfigInvalid with the specific offending detail.
func ConfigError(detail string) error {
	return errors.Wrap(ErrConfigInvalid, detail)
}
