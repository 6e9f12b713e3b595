package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapLogger struct {
	logger  *zap.Logger
	rotator *SequentialRotator
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a logger that writes to the console and, unless
// ConsoleOnly is set, to a rotating per-process file under
// <LogDir>/logs/<process>/.
func NewZapLogger(config LoggerConfig) (*ZapLogger, error) {
	if config.ProcessName == "" {
		return nil, fmt.Errorf("logger process name cannot be empty")
	}
	if config.LogDir == "" {
		config.LogDir = BaseDataDir
	}

	level := zapcore.InfoLevel
	consoleEncoderConfig := zap.NewProductionEncoderConfig()
	if config.IsDevelopment {
		level = zapcore.DebugLevel
		consoleEncoderConfig = zap.NewDevelopmentEncoderConfig()
		consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	consoleEncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(TimeFormat)

	var consoleEncoder zapcore.Encoder
	if config.IsDevelopment {
		consoleEncoder = zapcore.NewConsoleEncoder(consoleEncoderConfig)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(consoleEncoderConfig)
	}
	console := os.Stdout
	if config.Stderr {
		console = os.Stderr
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(console), level),
	}

	var rotator *SequentialRotator
	if !config.ConsoleOnly {
		logDir := filepath.Join(config.LogDir, LogsDir, string(config.ProcessName))
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logPath := filepath.Join(logDir, time.Now().UTC().Format(LogFileFormat))
		rotator = NewSequentialRotator(logPath, config.MaxSizeMB, config.MaxAgeDays, config.MaxBackups)

		fileEncoderConfig := zap.NewProductionEncoderConfig()
		fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig), zapcore.AddSync(rotator), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("process", string(config.ProcessName)))

	return &ZapLogger{logger: logger, rotator: rotator}, nil
}

func (z *ZapLogger) Debug(msg string, tags ...any) {
	z.logger.Sugar().Debugw(msg, tags...)
}

func (z *ZapLogger) Info(msg string, tags ...any) {
	z.logger.Sugar().Infow(msg, tags...)
}

func (z *ZapLogger) Warn(msg string, tags ...any) {
	z.logger.Sugar().Warnw(msg, tags...)
}

func (z *ZapLogger) Error(msg string, tags ...any) {
	z.logger.Sugar().Errorw(msg, tags...)
}

func (z *ZapLogger) Fatal(msg string, tags ...any) {
	z.logger.Sugar().Fatalw(msg, tags...)
}

func (z *ZapLogger) Debugf(template string, args ...interface{}) {
	z.logger.Sugar().Debugf(template, args...)
}

func (z *ZapLogger) Infof(template string, args ...interface{}) {
	z.logger.Sugar().Infof(template, args...)
}

func (z *ZapLogger) Warnf(template string, args ...interface{}) {
	z.logger.Sugar().Warnf(template, args...)
}

func (z *ZapLogger) Errorf(template string, args ...interface{}) {
	z.logger.Sugar().Errorf(template, args...)
}

func (z *ZapLogger) Fatalf(template string, args ...interface{}) {
	z.logger.Sugar().Fatalf(template, args...)
}

func (z *ZapLogger) With(tags ...any) Logger {
	return &ZapLogger{
		logger:  z.logger.Sugar().With(tags...).Desugar(),
		rotator: z.rotator,
	}
}

// Close flushes buffered entries and closes the log file.
func (z *ZapLogger) Close() error {
	// Sync on stdout returns EINVAL on some platforms.
	_ = z.logger.Sync()
	if z.rotator != nil {
		return z.rotator.Close()
	}
	return nil
}
