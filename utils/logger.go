/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Logger = logrus.Logger

const timestampFormat = "2006-01-02 15:04:05.000"

var (
	loggerRegistryMu sync.RWMutex
	loggerRegistry   = map[string]*logrus.Logger{}
	defaultLevel     = ParseLogLevel(EnvDefaultString("LOG_LEVEL", "info"))
	consoleLogFormat = EnvDefaultString("CONSOLE_LOG_FORMAT", "text")
	logOutput        io.Writer = os.Stdout
)

// ConfigureConsoleLogFormat switches newly created loggers between "text"
// and "json" output.
func ConfigureConsoleLogFormat(format string) {
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		consoleLogFormat = "json"
	} else {
		consoleLogFormat = "text"
	}
}

// ConfigureOutput redirects every registered logger, and loggers created
// afterwards, to w.
func ConfigureOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	logOutput = w
	for _, lg := range loggerRegistry {
		lg.SetOutput(w)
	}
}

func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogger returns the logger registered under name, creating it on first use.
func NewLogger(name string) *logrus.Logger {
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	if l, ok := loggerRegistry[name]; ok {
		return l
	}
	l := logrus.New()
	l.SetOutput(logOutput)
	l.SetLevel(defaultLevel)
	if consoleLogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap:        logrus.FieldMap{logrus.FieldKeyMsg: "message"},
		})
		l.AddHook(&nameHook{name: name})
	} else {
		l.SetFormatter(&Log4jFormatter{LoggerName: name, NameWidth: 10})
	}
	loggerRegistry[name] = l
	return l
}

// SetLoggerLevel changes the level of a registered logger. It reports false
// when no logger has that name.
func SetLoggerLevel(name string, lvlStr string) bool {
	loggerRegistryMu.RLock()
	lg, ok := loggerRegistry[name]
	loggerRegistryMu.RUnlock()
	if !ok {
		return false
	}
	lg.SetLevel(ParseLogLevel(lvlStr))
	return true
}

// ConfigureLogLevel sets the level of all registered loggers and of loggers
// created afterwards.
func ConfigureLogLevel(levelStr string) {
	lvl := ParseLogLevel(levelStr)
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	defaultLevel = lvl
	for _, lg := range loggerRegistry {
		lg.SetLevel(lvl)
	}
}

type nameHook struct{ name string }

func (h *nameHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *nameHook) Fire(e *logrus.Entry) error {
	e.Data["logger"] = h.name
	return nil
}

// Log4jFormatter renders "time LEVEL pid --- [name] : message k=v" lines with
// ANSI colored levels.
type Log4jFormatter struct {
	LoggerName string
	NameWidth  int
	NoColor    bool
}

func (f *Log4jFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	lvl := fmt.Sprintf("%7s", strings.ToUpper(entry.Level.String()))
	name := f.LoggerName
	if r := []rune(name); f.NameWidth > 0 && len(r) > f.NameWidth {
		name = string(r[:f.NameWidth])
	}
	var b strings.Builder
	b.WriteString(entry.Time.Format(timestampFormat))
	b.WriteByte(' ')
	b.WriteString(f.colorLevel(lvl, entry.Level))
	fmt.Fprintf(&b, " %-6d --- [%*s] : %s", os.Getpid(), f.NameWidth, name, entry.Message)
	if entry.HasCaller() {
		fmt.Fprintf(&b, " (%s:%d)", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func (f *Log4jFormatter) colorLevel(s string, level logrus.Level) string {
	if f.NoColor {
		return s
	}
	code := "\x1b[35m"
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		code = "\x1b[31m"
	case logrus.WarnLevel:
		code = "\x1b[33m"
	case logrus.InfoLevel:
		code = "\x1b[32m"
	case logrus.DebugLevel:
		code = "\x1b[34m"
	}
	return code + s + "\x1b[0m"
}

func EnvDefaultString(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}

// EnvDefaultDuration parses key as seconds ("30") or a Go duration ("30s").
func EnvDefaultDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func EnvDefaultInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
