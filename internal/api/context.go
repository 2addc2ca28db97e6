package api

import (
	"context"

	"clinicbooking/pkg/session"
)

type ctxKey string

const (
	ctxKeySession   ctxKey = "session"
	ctxKeyRequestID ctxKey = "request_id"
)

func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, ctxKeySession, s)
}

// SessionFromContext returns nil for anonymous requests.
func SessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(ctxKeySession).(*session.Session)
	return s
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// CustomerSession is the session of a signed-in customer. Ops sessions are ignored so an
// operator's subject never becomes the owner of customer bookings.
func CustomerSession(ctx context.Context) *session.Session {
	s := SessionFromContext(ctx)
	if s == nil || s.IsOps() {
		return nil
	}
	return s
}
