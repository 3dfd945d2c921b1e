// Package logging builds the zap logger and turns bus events into log lines.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	eventbus "github.com/hanpama/appsynclocal/internal/eventbus"
	events "github.com/hanpama/appsynclocal/internal/events"
	reqid "github.com/hanpama/appsynclocal/internal/reqid"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures New.
type Options struct {
	// Level is a zap level name such as "debug" or "info".
	Level string
	// Format is FormatConsole (colored, human readable) or FormatJSON.
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// New builds a logger. The console format uses zap's development encoder with
// colored levels; the JSON format uses the production encoder.
func New(opts Options) (*zap.Logger, error) {
	level := zap.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", opts.Level)
		}
	}

	var enc zapcore.Encoder
	switch opts.Format {
	case "", FormatConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(cfg)
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return nil, errors.Errorf("invalid log format %q", opts.Format)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)), nil
}

// Attach logs request, operation, handler, publish and authorization events
// published on b.
func Attach(b *eventbus.Bus, log *zap.Logger) (detach func()) {
	withRID := func(ctx context.Context, fields ...zap.Field) []zap.Field {
		if rid, ok := reqid.FromContext(ctx); ok {
			fields = append(fields, zap.String("request_id", rid))
		}
		return fields
	}

	unsubs := []func(){
		eventbus.On(b, func(ctx context.Context, e events.HTTPFinish) {
			log.Debug("http request", withRID(ctx,
				zap.String("method", e.Request.Method),
				zap.String("path", e.Request.URL.Path),
				zap.Int("status", e.Status),
				zap.Duration("duration", e.Duration),
			)...)
		}),
		eventbus.On(b, func(ctx context.Context, e events.GraphQLFinish) {
			fields := withRID(ctx,
				zap.String("operation", e.OperationName),
				zap.String("type", e.OperationType),
				zap.String("transport", e.Transport),
				zap.Duration("duration", e.Duration),
			)
			if len(e.Errors) > 0 {
				fields = append(fields, zap.Errors("errors", e.Errors))
			}
			log.Info("graphql operation", fields...)
		}),
		eventbus.On(b, func(ctx context.Context, e events.HandlerFinish) {
			fields := withRID(ctx,
				zap.String("field", e.TypeName+"."+e.FieldName),
				zap.String("aws_request_id", e.RequestID),
				zap.Duration("duration", e.Duration),
			)
			if e.Err != nil {
				log.Warn("handler failed", append(fields, zap.Error(e.Err))...)
				return
			}
			log.Debug("handler invoked", fields...)
		}),
		eventbus.On(b, func(ctx context.Context, e events.Published) {
			if e.Err != nil {
				log.Error("publish failed", withRID(ctx, zap.String("topic", e.Topic), zap.Error(e.Err))...)
				return
			}
			log.Debug("published", withRID(ctx, zap.String("topic", e.Topic))...)
		}),
		eventbus.On(b, func(ctx context.Context, e events.AuthDenied) {
			log.Info("unauthorized", withRID(ctx,
				zap.String("field", e.TypeName+"."+e.FieldName),
				zap.String("policy", e.Policy),
			)...)
		}),
		eventbus.On(b, func(ctx context.Context, e events.ConnectionOpen) {
			log.Debug("websocket connected", zap.String("connection", e.ID), zap.String("remote", e.RemoteAddr))
		}),
		eventbus.On(b, func(ctx context.Context, e events.ConnectionClose) {
			log.Debug("websocket closed",
				zap.String("connection", e.ID),
				zap.Int("operations", e.Operations),
				zap.Duration("duration", e.Duration),
			)
		}),
		eventbus.On(b, func(ctx context.Context, e events.SubscriptionStart) {
			log.Info("subscription started", zap.String("id", e.ID), zap.String("field", e.Field))
		}),
		eventbus.On(b, func(ctx context.Context, e events.SubscriptionFinish) {
			log.Info("subscription finished",
				zap.String("id", e.ID),
				zap.String("field", e.Field),
				zap.Int("events", e.Events),
				zap.Duration("duration", e.Duration),
			)
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
