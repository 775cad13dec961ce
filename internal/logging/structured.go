// Package logging builds the process logger and provides structured logging
// helpers that understand mailslot errors.
package logging

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/actual-software/mailslot/internal/config"
	"github.com/actual-software/mailslot/internal/errors"
	commonlog "github.com/actual-software/mailslot/pkg/common/logging"
)

// New creates the process logger from the logging configuration.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoding := cfg.Format
	if encoding == "" {
		encoding = "json"
	}

	zcfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       false,
		DisableCaller:     !cfg.IncludeCaller,
		DisableStacktrace: true,
		Encoding:          encoding,
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}

	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String(commonlog.FieldService, commonlog.ServiceMailslot)), nil
}

// Sync flushes logger, ignoring the error stderr returns when it is not a file.
func Sync(logger *zap.Logger) {
	if syncErr := logger.Sync(); syncErr != nil {
		if syncErr.Error() != "sync /dev/stderr: invalid argument" &&
			syncErr.Error() != "sync /dev/stdout: invalid argument" {
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", syncErr)
		}
	}
}

// WithError expands err into log fields. Mailslot errors contribute their
// kind, code, and context.
func WithError(err error) []zap.Field {
	if err == nil {
		return []zap.Field{}
	}

	fields := []zap.Field{
		zap.Error(err),
	}

	var msErr *errors.Error
	if stderrors.As(err, &msErr) {
		fields = append(fields,
			zap.String(commonlog.FieldErrorKind, string(msErr.Kind)),
			zap.String(commonlog.FieldErrorCode, msErr.Code),
			zap.String("severity", string(msErr.Severity)),
			zap.Bool("retryable", msErr.Retryable),
		)

		if msErr.Component != "" {
			fields = append(fields, zap.String(commonlog.FieldComponent, msErr.Component))
		}

		if msErr.Operation != "" {
			fields = append(fields, zap.String(commonlog.FieldOperation, msErr.Operation))
		}

		if len(msErr.Context) > 0 {
			fields = append(fields, zap.Any("error_context", msErr.Context))
		}
	}

	return fields
}

// LogError logs err at a level chosen from its severity, together with the
// correlation id carried by ctx.
func LogError(ctx context.Context, logger *zap.Logger, msg string, err error, additionalFields ...zap.Field) {
	fields := WithError(err)

	fields = append(fields, commonlog.CorrelationFields(ctx)...)
	fields = append(fields, additionalFields...)

	if ce := logger.Check(levelForError(err), msg); ce != nil {
		ce.Write(fields...)
	}
}

// levelForError maps error severity to a log level. Expected flow-control
// outcomes such as NoMessage are logged at debug.
func levelForError(err error) zapcore.Level {
	var msErr *errors.Error
	if !stderrors.As(err, &msErr) {
		return zapcore.ErrorLevel
	}

	switch msErr.Severity {
	case errors.SeverityLow:
		return zapcore.DebugLevel
	case errors.SeverityMedium:
		return zapcore.WarnLevel
	case errors.SeverityHigh, errors.SeverityCritical:
		return zapcore.ErrorLevel
	default:
		return zapcore.ErrorLevel
	}
}
