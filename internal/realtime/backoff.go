package realtime

import "time"

// Reconnect defaults
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

// backoffDelay returns the wait before reconnect attempt n (1-based):
// base, 2*base, 4*base, ...
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
