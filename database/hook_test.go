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
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	NopLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestQueryHook(t *testing.T) {
	db := newTestDB(t)
	var buf bytes.Buffer
	db.AddQueryHook(&QueryHook{Enabled: true, Writer: &buf})
	ctx := context.Background()

	_, err := db.NewInsert().Model(&widget{Name: "quiet"}).Exec(ctx)
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "successful statements are only printed in verbose mode")

	_, err = db.NewInsert().Model(&widget{Name: "quiet"}).Exec(ctx)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "[SQL]")
	assert.Contains(t, buf.String(), `INSERT INTO "widget"`)

	buf.Reset()
	SilenceQueryHooks(true)
	defer SilenceQueryHooks(false)
	_, _ = db.NewInsert().Model(&widget{Name: "quiet"}).Exec(ctx)
	assert.Empty(t, buf.String())
}

func TestQueryHook_EnvOverride(t *testing.T) {
	db := newTestDB(t)
	var buf bytes.Buffer
	db.AddQueryHook(&QueryHook{EnvName: "ISOLEVEL_SQL_TEST", Writer: &buf})
	t.Setenv("ISOLEVEL_SQL_TEST", "2")

	assert.Equal(t, 0, countWidgets(t, db))
	assert.Contains(t, buf.String(), "SELECT count(*)")
}

func TestSlowQueryHook(t *testing.T) {
	db := newTestDB(t)
	logger := &recordingLogger{}
	db.AddQueryHook(NewSlowQueryHook(1, logger))

	countWidgets(t, db)
	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Contains(t, logger.warns, "Slow query")
}
