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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type widget struct {
	bun.BaseModel `bun:"table:widget"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull,unique"`
}

func widgetRegistry() *ModelRegistry {
	reg := NewModelRegistry()
	reg.Register(NewModelAdapter((*widget)(nil), 1))
	return reg
}

// newTestDB returns a connected SQLite database with the widget table.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	cfg := DefaultConnectionConfig()
	cfg.DBName = filepath.Join(t.TempDir(), "test.db")
	m := NewDatabaseManager(cfg)
	m.SetLogger(NopLogger{})
	require.NoError(t, m.Connect(ctx))
	t.Cleanup(func() { _ = m.Disconnect() })

	require.NoError(t, NewMigrationManagerWithRegistry(m.GetDB(), NopLogger{}, widgetRegistry()).RunMigrations(ctx))
	return m.GetDB()
}

func countWidgets(t *testing.T, db bun.IDB) int {
	t.Helper()
	n, err := db.NewSelect().Model((*widget)(nil)).Count(context.Background())
	require.NoError(t, err)
	return n
}
