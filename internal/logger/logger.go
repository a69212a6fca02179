/*
 * MIT License
 *
 * Copyright (c) 2026 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package logger wraps logrus behind a small structured-logging contract
// every core component receives by injection, never reaching for
// log.Printf or fmt.Println directly.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/nabbar/tlsrp/internal/logger/fields"
	"github.com/nabbar/tlsrp/internal/logger/level"
)

// Logger is the contract every component logs through.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Panic(msg string, kv ...interface{})

	SetLevel(lvl level.Level)
	GetLevel() level.Level

	// WithFields returns a derived Logger that always includes base in
	// addition to any per-call kv pairs, the way a worker tags every log
	// line with its own worker id.
	WithFields(base fields.Fields) Logger

	// Close flushes and releases every registered hook, matching the
	// teacher's drain-before-exit idiom for fatal startup failures.
	Close() error

	// SetSPF13Level bridges jwalterweatherman — the logging package cobra
	// and viper use internally — into this logger, the way the teacher's
	// logger.SetSPF13Level does for the same upstream libraries. A nil
	// note bridges the package-level jww logger; passing a *jww.Notepad
	// bridges one Hugo/cobra-style scoped notepad instead.
	SetSPF13Level(lvl level.Level, note *jww.Notepad)
}

type logger struct {
	entry *logrus.Entry
	lvl   level.Level
	ioLvl level.Level
}

// New builds a logger with logrus's text formatter and the given initial
// level, with hooks wired in by the caller via AddHook before first use.
func New(lvl level.Level) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(lvl.Logrus())
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &logger{entry: logrus.NewEntry(l), lvl: lvl, ioLvl: level.InfoLevel}
}

// AddHook registers an additional logrus.Hook (e.g. a file or syslog
// sink) on the underlying logrus.Logger.
func AddHook(l Logger, h logrus.Hook) {
	if lg, ok := l.(*logger); ok {
		lg.entry.Logger.AddHook(h)
	}
}

func (l *logger) log(lvl level.Level, msg string, kv ...interface{}) {
	if lvl > l.lvl {
		return
	}
	e := l.entry
	if len(kv) > 0 {
		e = e.WithFields(fields.Fields{}.Add(kv...).Logrus())
	}

	switch lvl {
	case level.PanicLevel:
		e.Panic(msg)
	case level.FatalLevel:
		e.Fatal(msg)
	case level.ErrorLevel:
		e.Error(msg)
	case level.WarnLevel:
		e.Warn(msg)
	case level.DebugLevel:
		e.Debug(msg)
	default:
		e.Info(msg)
	}
}

func (l *logger) Debug(msg string, kv ...interface{}) { l.log(level.DebugLevel, msg, kv...) }
func (l *logger) Info(msg string, kv ...interface{})  { l.log(level.InfoLevel, msg, kv...) }
func (l *logger) Warn(msg string, kv ...interface{})  { l.log(level.WarnLevel, msg, kv...) }
func (l *logger) Error(msg string, kv ...interface{}) { l.log(level.ErrorLevel, msg, kv...) }
func (l *logger) Panic(msg string, kv ...interface{}) { l.log(level.PanicLevel, msg, kv...) }

func (l *logger) SetLevel(lvl level.Level) {
	l.lvl = lvl
	l.entry.Logger.SetLevel(lvl.Logrus())
}

func (l *logger) GetLevel() level.Level { return l.lvl }

func (l *logger) WithFields(base fields.Fields) Logger {
	return &logger{entry: l.entry.WithFields(base.Logrus()), lvl: l.lvl, ioLvl: l.ioLvl}
}

// Write implements io.Writer by logging the trimmed message at whatever
// level SetIOWriterLevel last configured, so this logger can be handed to
// anything that wants a plain io.Writer sink (log.New, jww.SetLogOutput).
func (l *logger) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		l.log(l.ioLvl, msg)
	}
	return len(p), nil
}

// SetIOWriterLevel sets the level Write logs at.
func (l *logger) SetIOWriterLevel(lvl level.Level) { l.ioLvl = lvl }

// SetSPF13Level configures jwalterweatherman — the logger cobra and viper
// use for their own internal diagnostics — to write through this logger
// instead of to stdout, mirroring the teacher's logger.SetSPF13Level. A nil
// note bridges the package-level jww logger used by viper/cobra directly;
// a non-nil note bridges one of jww's own Notepad instances.
func (l *logger) SetSPF13Level(lvl level.Level, note *jww.Notepad) {
	var (
		setOutput    func(io.Writer)
		setThreshold func(jww.Threshold)
	)

	if note == nil {
		jww.SetStdoutOutput(io.Discard)
		setOutput = jww.SetLogOutput
		setThreshold = jww.SetLogThreshold
	} else {
		setOutput = note.SetLogOutput
		setThreshold = note.SetLogThreshold
	}

	switch lvl {
	case level.NilLevel:
		setOutput(io.Discard)
		setThreshold(jww.LevelCritical)
	case level.DebugLevel:
		setOutput(l)
		setThreshold(jww.LevelTrace)
	case level.InfoLevel:
		setOutput(l)
		setThreshold(jww.LevelInfo)
	case level.WarnLevel:
		setOutput(l)
		setThreshold(jww.LevelWarn)
	case level.ErrorLevel:
		setOutput(l)
		setThreshold(jww.LevelError)
	case level.FatalLevel:
		setOutput(l)
		setThreshold(jww.LevelFatal)
	case level.PanicLevel:
		setOutput(l)
		setThreshold(jww.LevelCritical)
	}
}

func (l *logger) Close() error {
	seen := make(map[logrus.Hook]struct{})
	for _, hooks := range l.entry.Logger.Hooks {
		for _, h := range hooks {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			if c, ok := h.(interface{ Close() error }); ok {
				_ = c.Close()
			}
		}
	}
	return nil
}
