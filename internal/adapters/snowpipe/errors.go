package snowpipe

import (
	"errors"
	"fmt"
	"net"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/snowauth"
)

// TransientError covers timeouts and 5xx responses: the batch is lost but
// the session state is still good, so the pipeline continues with the next
// batch.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ProtocolError covers responses the server contract says should not happen:
// missing continuation tokens, unexpected shapes, rejected parameters.
type ProtocolError struct {
	Op     string
	Status int
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: protocol: status %d: %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: protocol: %s", e.Op, e.Detail)
}

// IsTransient reports whether err is worth the same request again later.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsAuth reports whether err stems from credential material, which makes the
// client discard its cached token before the next attempt.
func IsAuth(err error) bool {
	var ae *snowauth.AuthError
	return errors.As(err, &ae)
}

// classifyStatus maps a non-2xx response to the error taxonomy.
func classifyStatus(op string, status int, body string) error {
	switch {
	case status == 401 || status == 403:
		return &snowauth.AuthError{Op: op, Err: fmt.Errorf("status %d: %s", status, body)}
	case status == 408 || status == 429 || status >= 500:
		return &TransientError{Op: op, Status: status, Err: errors.New(body)}
	default:
		return &ProtocolError{Op: op, Status: status, Detail: body}
	}
}
