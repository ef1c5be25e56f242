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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var querySilent atomic.Bool

// SilenceQueryHooks mutes every QueryHook and SlowQueryHook in the process.
func SilenceQueryHooks(b bool) { querySilent.Store(b) }

var operationColors = map[string]*color.Color{
	"SELECT": color.New(color.FgGreen),
	"INSERT": color.New(color.FgBlue),
	"UPDATE": color.New(color.FgYellow),
	"DELETE": color.New(color.FgMagenta),
	"BEGIN":  color.New(color.FgCyan),
	"COMMIT": color.New(color.FgCyan),
}

var (
	defaultOperationColor = color.New(color.FgRed)
	queryErrorColor       = color.New(color.BgRed, color.FgHiWhite)
	queryTagColor         = color.New(color.FgCyan)
)

func colorizeQuery(event *bun.QueryEvent) string {
	c, ok := operationColors[event.Operation()]
	if !ok {
		c = defaultOperationColor
	}
	return c.Sprint(event.Query)
}

// QueryHook prints executed statements with the operation colored. Only
// failed statements are printed unless Verbose is set; ISOLEVEL_SQL=1 and
// ISOLEVEL_SQL=2 override Enabled and Verbose at runtime.
type QueryHook struct {
	Enabled bool
	Verbose bool
	EnvName string
	Writer  io.Writer
}

var _ bun.QueryHook = (*QueryHook)(nil)

// NewQueryHook returns an enabled hook writing to w, or to stdout if w is nil.
func NewQueryHook(w io.Writer, verbose bool) *QueryHook {
	if w == nil {
		w = color.Output
	}
	return &QueryHook{Enabled: true, Verbose: verbose, EnvName: "ISOLEVEL_SQL", Writer: w}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if querySilent.Load() {
		return
	}
	enabled, verbose := h.Enabled, h.Verbose
	if env, ok := os.LookupEnv(h.EnvName); ok && h.EnvName != "" {
		enabled = env != "" && env != "0"
		verbose = env == "2"
	}
	if !enabled {
		return
	}
	if !verbose && (event.Err == nil || errors.Is(event.Err, sql.ErrNoRows) || errors.Is(event.Err, sql.ErrTxDone)) {
		return
	}

	now := time.Now()
	args := []interface{}{
		now.Format("2006-01-02 15:04:05.000"),
		queryTagColor.Sprint("[SQL]"),
		fmt.Sprintf("%12s", now.Sub(event.StartTime).Round(time.Microsecond)),
		colorizeQuery(event),
	}
	if event.Err != nil {
		args = append(args, queryErrorColor.Sprintf(" %T: %v ", event.Err, event.Err))
	}
	_, _ = fmt.Fprintln(h.Writer, args...)
}

// SlowQueryHook reports successful statements slower than Threshold through
// the database logger.
type SlowQueryHook struct {
	Threshold time.Duration
	logger    Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func NewSlowQueryHook(threshold time.Duration, logger Logger) *SlowQueryHook {
	if logger == nil {
		logger = GetLogger()
	}
	return &SlowQueryHook{Threshold: threshold, logger: logger}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if querySilent.Load() || event.Err != nil || h.Threshold <= 0 {
		return
	}
	if d := time.Since(event.StartTime); d > h.Threshold {
		h.logger.Warn("Slow query",
			"operation", event.Operation(),
			"duration", d.Round(time.Microsecond).String(),
			"query", event.Query,
		)
	}
}
