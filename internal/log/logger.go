package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hydroshare/hsextract/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	console io.Writer
	zl      *zap.Logger
	file    *os.File
}

// New logs to logFilePath, as JSON lines when logJSON is set and as console
// text otherwise. An empty path logs to stderr.
func New(logFilePath string, logJSON bool) (*Logger, error) {
	if logFilePath == "" {
		return NewWithWriter(os.Stderr, logJSON), nil
	}
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	l := NewWithWriter(file, logJSON)
	l.file = file
	return l, nil
}

// NewWithWriter logs entries to w.
func NewWithWriter(w io.Writer, logJSON bool) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	if logJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), zapcore.InfoLevel)
	return &Logger{console: os.Stdout, zl: zap.New(core)}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{console: io.Discard, zl: zap.NewNop()}
}

// Zap exposes the underlying logger for packages that take *zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

func (l *Logger) Close() error {
	_ = l.zl.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zl.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zl.Warn(msg, fields...)
}

func (l *Logger) Error(msg string, err error, fields ...zap.Field) {
	l.zl.Error(msg, append(fields, zap.Error(err))...)
}

// LogResult writes one line per handled event.
func (l *Logger) LogResult(r types.Result) {
	fields := []zap.Field{
		zap.String("event_id", r.Event.ID),
		zap.String("path", r.Event.Path),
		zap.String("event_type", string(r.Event.Type)),
		zap.String("status", string(r.Status)),
		zap.Duration("duration", r.Duration),
	}
	if r.ContentType != "" {
		fields = append(fields, zap.String("content_type", r.ContentType))
	}
	if len(r.Written) > 0 {
		fields = append(fields, zap.Strings("written", r.Written))
	}
	if len(r.Removed) > 0 {
		fields = append(fields, zap.Strings("removed", r.Removed))
	}

	msg := fmt.Sprintf("%s: %s", r.Status, r.Event.Path)
	switch r.Status {
	case types.ResultFailed:
		l.zl.Error(msg, append(fields, zap.String("error", r.Error))...)
	case types.ResultDegraded:
		l.zl.Warn(msg, append(fields, zap.String("extract_error", r.ExtractError))...)
	default:
		l.zl.Info(msg, fields...)
	}
}

func (l *Logger) Summary(summary types.RunSummary) {
	fmt.Fprintln(l.console, "\n=== hsextract Summary ===")
	fmt.Fprintf(l.console, "Files:          %d\n", summary.Files)
	fmt.Fprintf(l.console, "Aggregations:   %d\n", summary.Aggregations)
	fmt.Fprintf(l.console, "Processed:      %d\n", summary.Processed)
	fmt.Fprintf(l.console, "Skipped:        %d\n", summary.Skipped)
	fmt.Fprintf(l.console, "Degraded:       %d\n", summary.Degraded)
	fmt.Fprintf(l.console, "Failed:         %d\n", summary.Failed)
	fmt.Fprintf(l.console, "Duration:       %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Fprintln(l.console, "=========================")

	l.zl.Info("reindex finished",
		zap.Int("files", summary.Files),
		zap.Int("aggregations", summary.Aggregations),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("degraded", summary.Degraded),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
}

func (l *Logger) Progress(current, total int, name string) {
	fmt.Fprintf(l.console, "\r[%d/%d] %s", current, total, name)
}
