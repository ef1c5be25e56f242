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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationManager_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mm := NewMigrationManagerWithRegistry(db, NopLogger{}, widgetRegistry())

	require.NoError(t, mm.RunMigrations(ctx))
	require.NoError(t, mm.RunMigrations(ctx))

	applied, err := mm.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "001", applied[0].Version)
	assert.Equal(t, "create_entity_tables", applied[0].Name)
}

func TestMigrationManager_Rollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mm := NewMigrationManagerWithRegistry(db, NopLogger{}, widgetRegistry())

	require.NoError(t, mm.Rollback(ctx, "001"))

	applied, err := mm.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	_, err = db.NewInsert().Model(&widget{Name: "x"}).Exec(ctx)
	assert.Equal(t, NoTableErr, Classify(err))

	// Rolling back again is a no-op, and migrating restores the table.
	require.NoError(t, mm.Rollback(ctx, "001"))
	require.NoError(t, mm.RunMigrations(ctx))
	assert.Equal(t, 0, countWidgets(t, db))

	assert.ErrorIs(t, mm.Rollback(ctx, "999"), ErrUnknownMigration)
}

func TestMigrationManager_NotInitialized(t *testing.T) {
	mm := NewMigrationManagerWithRegistry(nil, NopLogger{}, widgetRegistry())
	assert.ErrorIs(t, mm.RunMigrations(context.Background()), ErrNotInitialized)
}
