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
	"strings"
	"time"

	"github.com/tomoncle/isolevel/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tomoncle/isolevel/database"

// ErrInvalidIsolationLevel is returned before any transaction is opened when
// the requested level is not one of the supported values.
var ErrInvalidIsolationLevel = errors.New("invalid isolation level")

// IsolationLevel is the consistency guarantee requested for one transaction.
type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota + 1
	RepeatableRead
	Serializable
)

var _ types.BaseEnum = ReadCommitted

// IsolationLevels lists the supported levels from weakest to strongest.
func IsolationLevels() []IsolationLevel {
	return []IsolationLevel{ReadCommitted, RepeatableRead, Serializable}
}

func (l IsolationLevel) IsValid() bool {
	return l >= ReadCommitted && l <= Serializable
}

func (l IsolationLevel) Number() int {
	if !l.IsValid() {
		return types.IllegalValue
	}
	return int(l)
}

// String returns the SQL spelling, e.g. "REPEATABLE READ".
func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	}
	return types.IllegalName
}

// Name returns the identifier used in configuration, e.g. "repeatable_read".
func (l IsolationLevel) Name() string {
	if !l.IsValid() {
		return types.IllegalName
	}
	return strings.ReplaceAll(strings.ToLower(l.String()), " ", "_")
}

func (l IsolationLevel) Desc() string {
	switch l {
	case ReadCommitted:
		return "each statement sees rows committed before it began; non-repeatable reads and lost updates are possible"
	case RepeatableRead:
		return "repeated reads of a row return the same values; write skew may still occur depending on the store"
	case Serializable:
		return "concurrent transactions behave as if run one after another; conflicting ones abort and must be retried"
	}
	return types.IllegalDesc
}

// SQLLevel maps the level onto database/sql.
func (l IsolationLevel) SQLLevel() sql.IsolationLevel {
	switch l {
	case ReadCommitted:
		return sql.LevelReadCommitted
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	}
	return sql.LevelDefault
}

// ParseIsolationLevel accepts "read_committed", "READ COMMITTED",
// "repeatable-read" and similar spellings.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, l := range IsolationLevels() {
		if l.Name() == norm {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidIsolationLevel, s)
}

// TxState is the lifecycle position of one transaction:
// TxIdle -> TxOpen -> {TxCommitted | TxRolledBack}.
type TxState int

const (
	TxIdle TxState = iota
	TxOpen
	TxCommitted
	TxRolledBack
)

var _ types.BaseEnum = TxOpen

func (s TxState) IsValid() bool { return s >= TxIdle && s <= TxRolledBack }

func (s TxState) Number() int {
	if !s.IsValid() {
		return types.IllegalValue
	}
	return int(s)
}

func (s TxState) Name() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxOpen:
		return "open"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	}
	return types.IllegalName
}

func (s TxState) String() string { return s.Name() }

func (s TxState) Desc() string {
	switch s {
	case TxIdle:
		return "not started"
	case TxOpen:
		return "begun, neither committed nor rolled back"
	case TxCommitted:
		return "changes are durable"
	case TxRolledBack:
		return "changes were discarded"
	}
	return types.IllegalDesc
}

// Terminal reports whether no further transition is possible.
func (s TxState) Terminal() bool { return s == TxCommitted || s == TxRolledBack }

// TxError wraps a failure of a transaction scope. Unwrap returns the store
// error unchanged.
type TxError struct {
	Level IsolationLevel
	State TxState
	Op    string // begin, exec or commit
	Err   error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s transaction failed at %s (%s): %v", e.Level, e.Op, e.State, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may run the transaction again.
func (e *TxError) Retryable() bool { return IsRetryable(e.Err) }

// TxFunc is the body of a transaction scope.
type TxFunc func(ctx context.Context, tx bun.Tx) error

// TxRunner opens transactions at an explicit isolation level and guarantees
// commit or rollback on every exit path.
type TxRunner struct {
	db      *bun.DB
	logger  Logger
	metrics *TxMetrics
	tracer  trace.Tracer
}

type TxOption func(*TxRunner)

func WithTxLogger(logger Logger) TxOption {
	return func(r *TxRunner) { r.logger = logger }
}

func WithTxMetrics(metrics *TxMetrics) TxOption {
	return func(r *TxRunner) { r.metrics = metrics }
}

func WithTracer(tracer trace.Tracer) TxOption {
	return func(r *TxRunner) { r.tracer = tracer }
}

// NewTxRunner returns a runner on db. Without options it logs through the
// global logger, records no metrics and traces via the global provider.
func NewTxRunner(db *bun.DB, opts ...TxOption) *TxRunner {
	r := &TxRunner{db: db}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = GetLogger()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r
}

func (r *TxRunner) DB() *bun.DB { return r.db }

// Run executes fn in a transaction opened at level. The transaction commits
// when fn returns nil and rolls back when fn returns an error, panics, or the
// commit itself fails. Panics are re-raised after the rollback.
func (r *TxRunner) Run(ctx context.Context, level IsolationLevel, fn TxFunc) (err error) {
	if !level.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidIsolationLevel, level)
	}
	if r.db == nil {
		return ErrNotInitialized
	}

	ctx, span := r.tracer.Start(ctx, "tx "+level.Name(), trace.WithAttributes(
		attribute.String("db.system", r.db.Dialect().Name().String()),
		attribute.String("db.isolation_level", level.String()),
	))
	defer span.End()

	start := time.Now()
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return r.fail(span, start, &TxError{Level: level, State: TxIdle, Op: "begin", Err: err})
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, r.txOptions(level))
	if err != nil {
		return r.fail(span, start, &TxError{Level: level, State: TxIdle, Op: "begin", Err: err})
	}

	done := false
	defer func() {
		if done {
			return
		}
		p := recover()
		r.rollback(tx, level)
		r.metrics.observe(level, TxRolledBack, false, time.Since(start))
		span.SetStatus(codes.Error, "aborted")
		if p != nil {
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		done = true
		r.rollback(tx, level)
		return r.fail(span, start, &TxError{Level: level, State: TxRolledBack, Op: "exec", Err: err})
	}
	done = true

	if err := tx.Commit(); err != nil {
		r.abandon(ctx, conn, level)
		return r.fail(span, start, &TxError{Level: level, State: TxRolledBack, Op: "commit", Err: err})
	}

	r.metrics.observe(level, TxCommitted, false, time.Since(start))
	r.logger.Debug("Transaction committed", "level", level.Name(), "duration", time.Since(start))
	return nil
}

// txOptions maps the level onto driver options. SQLite transactions are
// always serializable and its drivers reject explicit levels, so the driver
// default is used there.
func (r *TxRunner) txOptions(level IsolationLevel) *sql.TxOptions {
	if r.db.Dialect().Name() == dialect.SQLite {
		return &sql.TxOptions{}
	}
	return &sql.TxOptions{Isolation: level.SQLLevel()}
}

func (r *TxRunner) rollback(tx bun.Tx, level IsolationLevel) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.logger.Error("Failed to rollback transaction", "level", level.Name(), "error", err)
	}
}

// abandon ends a transaction whose COMMIT failed. database/sql considers it
// done, but SQLite keeps it open when a deferred constraint rejects the
// commit and the pooled connection would refuse every later BEGIN. Servers
// that already ended it answer the ROLLBACK with a warning or an error that
// is ignored.
func (r *TxRunner) abandon(ctx context.Context, conn bun.Conn, level IsolationLevel) {
	if ctx.Err() != nil {
		// database/sql already rolled back on cancellation.
		return
	}
	if _, err := conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK"); err != nil {
		r.logger.Debug("Rollback after failed commit", "level", level.Name(), "error", err)
	}
}

func (r *TxRunner) fail(span trace.Span, start time.Time, txErr *TxError) error {
	retryable := txErr.Retryable()
	r.metrics.observe(txErr.Level, txErr.State, retryable, time.Since(start))
	span.RecordError(txErr.Err)
	span.SetStatus(codes.Error, txErr.Op)
	span.SetAttributes(attribute.Bool("db.tx.retryable", retryable))

	fields := []interface{}{"level", txErr.Level.Name(), "op", txErr.Op, "error", txErr.Err}
	if retryable {
		r.logger.Warn("Transaction aborted by concurrent update", fields...)
	} else {
		r.logger.Debug("Transaction rolled back", fields...)
	}
	return txErr
}
