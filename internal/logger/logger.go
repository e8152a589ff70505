// Copyright 2026 The RHSS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides RHSS's process-wide leveled logger: a slog.Logger
// wrapping either a JSON or line-oriented text handler, rotated through
// lumberjack when writing to a file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/rhss-project/rhss/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu                   sync.Mutex
	defaultLoggerFactory = &loggerFactory{level: new(slog.LevelVar), format: string(cfg.TextLogFormat)}
	defaultLogger        = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultLoggerFactory.level, ""))
)

// severity mirrors cfg.LogSeverity but expressed as slog levels, with two
// extra levels (TRACE below DEBUG, OFF above ERROR) that slog itself does
// not define.
const (
	levelTrace slog.Level = -8
	levelOff   slog.Level = 100
)

var severityToLevel = map[string]slog.Level{
	string(cfg.TraceLogSeverity):   levelTrace,
	string(cfg.DebugLogSeverity):   slog.LevelDebug,
	string(cfg.InfoLogSeverity):    slog.LevelInfo,
	string(cfg.WarningLogSeverity): slog.LevelWarn,
	string(cfg.ErrorLogSeverity):   slog.LevelError,
	string(cfg.OffLogSeverity):     levelOff,
}

var levelToSeverity = map[slog.Level]string{
	levelTrace:      "TRACE",
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARNING",
	slog.LevelError: "ERROR",
}

type loggerFactory struct {
	format string
	level  *slog.LevelVar
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	replace := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.LevelKey {
			lvl, _ := a.Value.Any().(slog.Level)
			sev, ok := levelToSeverity[lvl]
			if !ok {
				sev = lvl.String()
			}
			a.Key = "severity"
			a.Value = slog.StringValue(sev)
		}
		if a.Key == slog.MessageKey && prefix != "" {
			a.Value = slog.StringValue(prefix + a.Value.String())
		}
		return a
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replace}
	if f.format == string(cfg.JSONLogFormat) {
		return slog.NewJSONHandler(w, opts)
	}
	return &textHandler{inner: slog.NewTextHandler(w, opts)}
}

// textHandler renders `time="..." severity=LEVEL msg="..."`, the format
// expected by operators who grep log files rather than parse JSON.
type textHandler struct {
	inner *slog.TextHandler
}

func (h *textHandler) Enabled(ctx context.Context, level slog.Level) bool { return h.inner.Enabled(ctx, level) }
func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler          { return &textHandler{inner: h.inner.WithAttrs(attrs).(*slog.TextHandler)} }
func (h *textHandler) WithGroup(name string) slog.Handler                { return &textHandler{inner: h.inner.WithGroup(name).(*slog.TextHandler)} }
func (h *textHandler) Handle(ctx context.Context, r slog.Record) error   { return h.inner.Handle(ctx, r) }

// Init builds the default logger from a resolved cfg.LoggingConfig. It must
// be called once at process startup, after flag/config parsing.
func Init(c cfg.LoggingConfig, name string) error {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer = os.Stderr
	if c.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    c.LogRotate.MaxSizeMB,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
	}

	level, ok := severityToLevel[string(c.Severity)]
	if !ok {
		return fmt.Errorf("unknown log severity %q", c.Severity)
	}

	defaultLoggerFactory = &loggerFactory{format: string(c.Format), level: new(slog.LevelVar)}
	defaultLoggerFactory.level.Set(level)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, defaultLoggerFactory.level, ""))
	return nil
}

func setLoggingLevel(severity string, level *slog.LevelVar) {
	if l, ok := severityToLevel[severity]; ok {
		level.Set(l)
	}
}

func Tracef(format string, args ...any) { logAt(levelTrace, format, args...) }
func Debugf(format string, args ...any) { logAt(slog.LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logAt(slog.LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logAt(slog.LevelWarn, format, args...) }
func Errorf(format string, args ...any) { logAt(slog.LevelError, format, args...) }

func Trace(msg string) { logAt(levelTrace, "%s", msg) }
func Debug(msg string) { logAt(slog.LevelDebug, "%s", msg) }
func Info(msg string)  { logAt(slog.LevelInfo, "%s", msg) }
func Warn(msg string)  { logAt(slog.LevelWarn, "%s", msg) }
func Error(msg string) { logAt(slog.LevelError, "%s", msg) }

func logAt(level slog.Level, format string, args ...any) {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	l.Log(context.Background(), level, fmt.Sprintf(format, args...))
}
