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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestParseIsolationLevel(t *testing.T) {
	cases := map[string]IsolationLevel{
		"read_committed":   ReadCommitted,
		"READ COMMITTED":   ReadCommitted,
		"repeatable-read":  RepeatableRead,
		" Repeatable Read": RepeatableRead,
		"serializable":     Serializable,
	}
	for in, want := range cases {
		got, err := ParseIsolationLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseIsolationLevel("read uncommitted")
	assert.ErrorIs(t, err, ErrInvalidIsolationLevel)
}

func TestIsolationLevel_Names(t *testing.T) {
	assert.Equal(t, "REPEATABLE READ", RepeatableRead.String())
	assert.Equal(t, "repeatable_read", RepeatableRead.Name())
	assert.Equal(t, sql.LevelSerializable, Serializable.SQLLevel())
	assert.False(t, IsolationLevel(0).IsValid())
	assert.Equal(t, sql.LevelDefault, IsolationLevel(7).SQLLevel())
	assert.True(t, TxRolledBack.Terminal())
	assert.False(t, TxOpen.Terminal())
}

func TestTxRunner_Commit(t *testing.T) {
	db := newTestDB(t)
	runner := NewTxRunner(db, WithTxLogger(NopLogger{}))

	for _, level := range IsolationLevels() {
		err := runner.Run(context.Background(), level, func(ctx context.Context, tx bun.Tx) error {
			_, err := tx.NewInsert().Model(&widget{Name: level.Name()}).Exec(ctx)
			return err
		})
		require.NoError(t, err, level)
	}
	assert.Equal(t, 3, countWidgets(t, db))
}

func TestTxRunner_RollbackOnError(t *testing.T) {
	db := newTestDB(t)
	runner := NewTxRunner(db, WithTxLogger(NopLogger{}))
	boom := errors.New("boom")

	err := runner.Run(context.Background(), Serializable, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&widget{Name: "discarded"}).Exec(ctx); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, Serializable, txErr.Level)
	assert.Equal(t, TxRolledBack, txErr.State)
	assert.Equal(t, "exec", txErr.Op)
	assert.False(t, txErr.Retryable())
	assert.Equal(t, 0, countWidgets(t, db))
}

// A deferred foreign key makes SQLite reject the COMMIT while keeping the
// transaction open; the runner must still leave the connection usable.
func TestTxRunner_FailedCommitLeavesConnectionUsable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "CREATE TABLE widget_ref (widget_id INTEGER REFERENCES widget(id) DEFERRABLE INITIALLY DEFERRED)")
	require.NoError(t, err)

	runner := NewTxRunner(db, WithTxLogger(NopLogger{}))
	err = runner.Run(ctx, Serializable, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&widget{Name: "orphan"}).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO widget_ref (widget_id) VALUES (?)", 999)
		return err
	})

	require.Error(t, err)
	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "commit", txErr.Op)
	assert.Equal(t, TxRolledBack, txErr.State)
	assert.Equal(t, 0, countWidgets(t, db))

	require.NoError(t, runner.Run(ctx, ReadCommitted, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&widget{Name: "after"}).Exec(ctx)
		return err
	}))
	assert.Equal(t, 1, countWidgets(t, db))
}

func TestTxRunner_RollbackOnPanic(t *testing.T) {
	db := newTestDB(t)
	runner := NewTxRunner(db, WithTxLogger(NopLogger{}))

	assert.PanicsWithValue(t, "boom", func() {
		_ = runner.Run(context.Background(), ReadCommitted, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewInsert().Model(&widget{Name: "discarded"}).Exec(ctx); err != nil {
				return err
			}
			panic("boom")
		})
	})
	assert.Equal(t, 0, countWidgets(t, db))

	// The pool holds a single SQLite connection; it must have been released.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Run(ctx, ReadCommitted, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&widget{Name: "kept"}).Exec(ctx)
		return err
	}))
	assert.Equal(t, 1, countWidgets(t, db))
}

func TestTxRunner_ConstraintViolation(t *testing.T) {
	db := newTestDB(t)
	runner := NewTxRunner(db, WithTxLogger(NopLogger{}))
	ctx := context.Background()

	insert := func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&widget{Name: "same"}).Exec(ctx)
		return err
	}
	require.NoError(t, runner.Run(ctx, RepeatableRead, insert))

	err := runner.Run(ctx, RepeatableRead, insert)
	require.Error(t, err)
	assert.True(t, IsConstraintViolation(err))
	assert.Equal(t, DuplicateKeyErr, Classify(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, countWidgets(t, db))
}

func TestTxRunner_InvalidLevel(t *testing.T) {
	db := newTestDB(t)
	runner := NewTxRunner(db, WithTxLogger(NopLogger{}))

	called := false
	err := runner.Run(context.Background(), IsolationLevel(42), func(context.Context, bun.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidIsolationLevel)
	assert.False(t, called)
}

func TestTxRunner_NotInitialized(t *testing.T) {
	err := NewTxRunner(nil).Run(context.Background(), Serializable, func(context.Context, bun.Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestTxRunner_Metrics(t *testing.T) {
	db := newTestDB(t)
	reg := prometheus.NewRegistry()
	metrics, err := NewTxMetrics(reg)
	require.NoError(t, err)
	runner := NewTxRunner(db, WithTxLogger(NopLogger{}), WithTxMetrics(metrics))
	ctx := context.Background()

	require.NoError(t, runner.Run(ctx, Serializable, func(context.Context, bun.Tx) error { return nil }))
	require.NoError(t, runner.Run(ctx, Serializable, func(context.Context, bun.Tx) error { return nil }))
	require.Error(t, runner.Run(ctx, ReadCommitted, func(context.Context, bun.Tx) error { return errors.New("no") }))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.transactions.WithLabelValues("serializable", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transactions.WithLabelValues("read_committed", "rolled_back")))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.duration))

	_, err = NewTxMetrics(reg)
	assert.Error(t, err, "collectors registered twice")
}

func TestTxMetrics_NilIsNoop(t *testing.T) {
	var m *TxMetrics
	assert.NotPanics(t, func() { m.observe(Serializable, TxCommitted, false, time.Millisecond) })
}

func TestTxError_Message(t *testing.T) {
	inner := errors.New("could not serialize access")
	err := &TxError{Level: Serializable, State: TxRolledBack, Op: "commit", Err: inner}
	assert.Equal(t, "SERIALIZABLE transaction failed at commit (rolled_back): could not serialize access", err.Error())
	assert.Same(t, inner, errors.Unwrap(err))
	assert.True(t, err.Retryable())
}
