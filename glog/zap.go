package glog

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ GLogger = (*zapLogger)(nil)

type zapLogger struct {
	sugar  *zap.SugaredLogger
	level  zap.AtomicLevel
	config *Config
}

func newZapLogger(config *Config) (*zapLogger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	writers, err := buildWriters(config)
	if err != nil {
		return nil, err
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}

	level := zap.NewAtomicLevelAt(zapcore.Level(config.Level))
	core := zapcore.NewCore(buildEncoder(config), zapcore.AddSync(out), level)

	l := zap.New(core, buildOptions(config)...)
	if len(config.InitialFields) > 0 {
		fields := make([]zap.Field, 0, len(config.InitialFields))
		for k, v := range config.InitialFields {
			fields = append(fields, zap.Any(k, v))
		}
		l = l.With(fields...)
	}

	return &zapLogger{
		sugar:  l.Sugar(),
		level:  level,
		config: config,
	}, nil
}

func (l *zapLogger) With(args ...interface{}) GLogger {
	return &zapLogger{
		sugar:  l.sugar.With(args...),
		level:  l.level,
		config: l.config,
	}
}

func (l *zapLogger) Debug(msg string, args ...interface{}) { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...interface{})  { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...interface{})  { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...interface{}) { l.sugar.Errorw(msg, args...) }
func (l *zapLogger) Fatal(msg string, args ...interface{}) { l.sugar.Fatalw(msg, args...) }

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func (l *zapLogger) DebugContext(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Debugw(msg, appendTraceFields(ctx, args)...)
}

func (l *zapLogger) InfoContext(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Infow(msg, appendTraceFields(ctx, args)...)
}

func (l *zapLogger) WarnContext(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Warnw(msg, appendTraceFields(ctx, args)...)
}

func (l *zapLogger) ErrorContext(ctx context.Context, msg string, args ...interface{}) {
	l.sugar.Errorw(msg, appendTraceFields(ctx, args)...)
}

func (l *zapLogger) SetLevel(level Level) {
	l.level.SetLevel(zapcore.Level(level))
}

func (l *zapLogger) Level() Level {
	return Level(l.level.Level())
}

func (l *zapLogger) Config() *Config {
	return l.config
}

func (l *zapLogger) Sync() error {
	return l.sugar.Sync()
}

// appendTraceFields 在上下文携带有效 span 时追加 trace_id 与 span_id。
func appendTraceFields(ctx context.Context, args []interface{}) []interface{} {
	if ctx == nil {
		return args
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return args
	}
	return append(args, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

func buildEncoder(config *Config) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if ec := config.EncoderConfig; ec != nil {
		if ec.MessageKey != "" {
			encoderConfig.MessageKey = ec.MessageKey
		}
		if ec.LevelKey != "" {
			encoderConfig.LevelKey = ec.LevelKey
		}
		if ec.TimeKey != "" {
			encoderConfig.TimeKey = ec.TimeKey
		}
		if ec.CallerKey != "" {
			encoderConfig.CallerKey = ec.CallerKey
		}
		if ec.StacktraceKey != "" {
			encoderConfig.StacktraceKey = ec.StacktraceKey
		}
	}
	if config.TimeFormat != "" {
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(config.TimeFormat)
	}

	if config.Encoding == JSONEncoding {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func buildOptions(config *Config) []zap.Option {
	var opts []zap.Option

	if config.Development {
		opts = append(opts, zap.Development())
	}
	if !config.DisableCaller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if !config.DisableStacktrace {
		stackLevel := zapcore.ErrorLevel
		if config.Development {
			stackLevel = zapcore.WarnLevel
		}
		opts = append(opts, zap.AddStacktrace(stackLevel))
	}
	// 高频场景下限制相同消息的输出量。
	opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, time.Second, 100, 100)
	}))
	return opts
}
