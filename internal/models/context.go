package models

import "context"

type requestContextKey struct{}

// RequestMetadata carries caller details through context so they end up in
// transaction log metadata and log lines without widening every signature.
type RequestMetadata struct {
	RequestId string
	ActorId   string
	Source    string // "cli", "worker", "listener"
}

// WithRequestMetadata attaches request metadata to a context.
func WithRequestMetadata(ctx context.Context, md *RequestMetadata) context.Context {
	return context.WithValue(ctx, requestContextKey{}, md)
}

// GetRequestMetadata retrieves request metadata from context, or nil if absent.
func GetRequestMetadata(ctx context.Context) *RequestMetadata {
	md, _ := ctx.Value(requestContextKey{}).(*RequestMetadata)
	return md
}
