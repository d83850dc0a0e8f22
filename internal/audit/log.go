package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"vestry.org/internal/auth"
	"vestry.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and caller
// context. Every mutation of vesting state goes through here.
func LogEvent(ctx context.Context, event string, fields map[string]string) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	zfields := make([]zap.Field, 0, len(fields)+3)
	zfields = append(zfields, zap.String("type", "audit"))
	if rid := requestIDFromContext(ctx); rid != "" {
		zfields = append(zfields, zap.String("request_id", rid))
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		zfields = append(zfields, zap.String("caller", principal.Address.String()))
	}
	for k, v := range fields {
		zfields = append(zfields, zap.String(k, v))
	}

	obs.Logger().Info(event, zfields...)
	return nil
}
