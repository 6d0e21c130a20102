package airlock

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// RevocationStore records tokens that have been logged out. Implementations
// must be safe for concurrent use; the gateway never expires entries.
type RevocationStore interface {
	// IsRevoked returns the revocation timestamp for a token, when present.
	IsRevoked(ctx context.Context, token string) (string, bool, error)
	// Revoke records a token as dead along with the time it was revoked.
	Revoke(ctx context.Context, token, timestamp string) error
}

// TokenCodec issues and verifies the gateway's own bearer tokens.
type TokenCodec interface {
	CreateToken(user Record) (string, error)
	VerifyToken(token string) (Record, error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AIRLOCK "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AIRLOCK "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AIRLOCK "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AIRLOCK "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
