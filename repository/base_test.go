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

package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/isolevel/database"
	"github.com/tomoncle/isolevel/entity"
	"github.com/tomoncle/isolevel/internal/testutil"
	"github.com/tomoncle/isolevel/repository"
	"github.com/tomoncle/isolevel/types"
)

func TestRepository_SaveInsertsThenUpdates(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := repository.NewRepository[entity.Account](db)
	ctx := context.Background()

	first, err := repo.Save(ctx, entity.NewAccount(100))
	require.NoError(t, err)
	second, err := repo.Save(ctx, entity.NewAccount(200))
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	got, found, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(100), got.Balance)

	got.Deposit(50)
	saved, err := repo.Save(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, first.ID, saved.ID)

	reloaded, _, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), reloaded.Balance)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRepository_SaveUnchangedRowStillMatches(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := repository.NewRepository[entity.Item](db)
	ctx := context.Background()

	item, err := repo.Save(ctx, entity.NewItem("SKU-1", 7, 3))
	require.NoError(t, err)
	_, err = repo.Save(ctx, item)
	assert.NoError(t, err)
}

func TestRepository_UpdateMissingIdentity(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := repository.NewRepository[entity.Account](db)

	_, err := repo.Save(context.Background(), &entity.Account{ID: 4242, Balance: 1})
	assert.ErrorIs(t, err, repository.ErrEntityNotFound)

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepository_FindByIDMissing(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := repository.NewRepository[entity.Room](db)

	room, found, err := repo.FindByID(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, room)
}

func TestRepository_RoomNullableGuest(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := repository.NewRepository[entity.Room](db)
	ctx := context.Background()

	room, err := repo.Save(ctx, entity.NewRoom())
	require.NoError(t, err)

	got, _, err := repo.FindByID(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAvailable)
	assert.Nil(t, got.GuestName)

	got.Book("Alice")
	_, err = repo.Save(ctx, got)
	require.NoError(t, err)
	got, _, err = repo.FindByID(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAvailable)
	require.NotNil(t, got.GuestName)
	assert.Equal(t, "Alice", *got.GuestName)

	got.Release()
	_, err = repo.Save(ctx, got)
	require.NoError(t, err)
	got, _, err = repo.FindByID(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAvailable)
	assert.Nil(t, got.GuestName)
}

func TestRepository_UniqueSKU(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := repository.NewRepository[entity.Item](db)
	ctx := context.Background()

	_, err := repo.Save(ctx, entity.NewItem("SKU-1", 1, 10))
	require.NoError(t, err)
	_, err = repo.Save(ctx, entity.NewItem("SKU-1", 2, 5))
	require.Error(t, err)
	assert.Equal(t, database.DuplicateKeyErr, database.Classify(err))
}

func TestRepository_CreateListDelete(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := repository.NewRepository[entity.Item](db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx,
		entity.NewItem("A", 1, 1),
		entity.NewItem("B", 1, 2),
		entity.NewItem("C", 2, 3),
	))

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	store1, err := repo.List(ctx, types.NewQueryFilter("store_id = ?", 1))
	require.NoError(t, err)
	assert.Len(t, store1, 2)

	deleted, err := repo.DeleteByID(ctx, all[0].ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = repo.DeleteByID(ctx, all[0].ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRepository_Page(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := repository.NewRepository[entity.Account](db)
	ctx := context.Background()

	for i := int64(1); i <= 7; i++ {
		_, err := repo.Save(ctx, entity.NewAccount(i*10))
		require.NoError(t, err)
	}

	page, err := repo.Page(ctx, types.NewPageRequest(2, 3, nil, []string{"balance DESC"}))
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 3, page.Pages())
	require.Len(t, page.Items, 3)
	assert.Equal(t, int64(40), page.Items[0].Balance)

	filtered, err := repo.Page(ctx, types.NewPageRequestWithFilter(1, 10, types.NewQueryFilter("balance > ?", 1000)))
	require.NoError(t, err)
	assert.Zero(t, filtered.Total)
	assert.Empty(t, filtered.Items)
}

func TestRepository_Upsert(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := repository.NewRepository[entity.Item](db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, entity.NewItem("SKU-9", 1, 1)))
	require.NoError(t, repo.Upsert(ctx, []string{"quantity"}, []string{"sku"},
		entity.NewItem("SKU-9", 1, 42),
		entity.NewItem("SKU-10", 1, 5),
	))

	items, err := repo.List(ctx, types.NewQueryFilter("sku = ?", "SKU-9"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 42, items[0].Quantity)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Error(t, repo.Upsert(ctx, nil, nil, entity.NewItem("X", 1, 1)))
}

func TestRepository_WithTx(t *testing.T) {
	db := testutil.NewSQLite(t)
	repo := repository.NewRepository[entity.Account](db)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = repo.WithTx(tx).Save(ctx, entity.NewAccount(1))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
