package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// correlationIDBytes is the size of a generated correlation id before hex
// encoding.
const correlationIDBytes = 8

type correlationKey struct{}

// GenerateCorrelationID returns a random 16 character hex id.
func GenerateCorrelationID() string {
	var b [correlationIDBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}

	return hex.EncodeToString(b[:])
}

// WithCorrelationID returns ctx carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GetCorrelationID returns the id carried by ctx, or "".
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)

	return id
}

// WithCorrelation returns ctx carrying a correlation id, generating one if
// absent. Every channel call made through a session handle passes through it.
func WithCorrelation(ctx context.Context) context.Context {
	if GetCorrelationID(ctx) != "" {
		return ctx
	}

	return WithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationFields returns the correlation field for ctx, if it has one.
func CorrelationFields(ctx context.Context) []zap.Field {
	if id := GetCorrelationID(ctx); id != "" {
		return []zap.Field{zap.String(FieldCorrelationID, id)}
	}

	return nil
}

// LoggerWithCorrelation returns logger annotated with the correlation id of ctx.
func LoggerWithCorrelation(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if fields := CorrelationFields(ctx); fields != nil {
		return logger.With(fields...)
	}

	return logger
}
