package realtime

import (
	"errors"
	"fmt"
)

// ErrClosed is returned to Connect callers whose attempt was abandoned by Disconnect.
var ErrClosed = errors.New("realtime channel closed")

// ConnectionError reports a connect attempt that gave up
type ConnectionError struct {
	URL        string
	Attempts   int
	StatusCode int // handshake HTTP status, 0 when no response was received
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("realtime connect to %s rejected (status %d) after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("realtime connect to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the server refused the credential during the handshake.
func (e *ConnectionError) Rejected() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
