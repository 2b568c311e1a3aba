package lib

import (
	"os"

	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeLayout = "2006-01-02T15:04:05"

type LoggerOptions struct {
	Level    string
	Color    bool
	IsProd   bool
	JSON     bool
	FilePath string // empty disables file logging
}

func NewLogger(opts LoggerOptions) (*Logger, error) {
	log, err := newLogger(opts)
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: log.Sugar()}, nil
}

// NewTestLogger logs only to stdout
func NewTestLogger() *Logger {
	log, _ := newLogger(LoggerOptions{Level: "debug"})
	return &Logger{SugaredLogger: log.Sugar()}
}

func newLogger(opts LoggerOptions) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(opts.IsProd, opts.Color, opts.JSON), zapcore.AddSync(os.Stdout), level),
	}

	if opts.FilePath != "" {
		file, err := os.OpenFile(opts.FilePath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
		if err != nil {
			return nil, err
		}
		// file always receives everything, console is filtered by level
		cores = append(cores, zapcore.NewCore(newEncoder(opts.IsProd, false, opts.JSON), zapcore.AddSync(file), zapcore.DebugLevel))
	}

	zapOpts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if !opts.IsProd {
		zapOpts = append(zapOpts, zap.Development())
	}

	return zap.New(zapcore.NewTee(cores...), zapOpts...), nil
}

func newEncoder(isProd, color, isJSON bool) zapcore.Encoder {
	var encoderCfg zapcore.EncoderConfig
	if isProd {
		encoderCfg = zap.NewProductionEncoderConfig()
	} else {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	}

	if isJSON {
		return zapcore.NewJSONEncoder(encoderCfg)
	}
	if color {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderCfg)
}

type Logger struct {
	*zap.SugaredLogger
}

func (l *Logger) Named(name string) interfaces.ILogger {
	return &Logger{l.SugaredLogger.Named(name)}
}

func (l *Logger) With(args ...interface{}) interfaces.ILogger {
	return &Logger{l.SugaredLogger.With(args...)}
}
