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

package repository

import (
	"context"
	"errors"

	"github.com/tomoncle/isolevel/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// ErrEntityNotFound is returned when an update targets an identity that no
// row holds.
var ErrEntityNotFound = errors.New("entity not found")

// Identifiable is satisfied by *T when T carries a store-assigned identity.
// A zero identity marks an entity that has never been persisted.
type Identifiable[T any] interface {
	*T
	GetID() int64
}

// CrudRepository defines basic persistence operations for an entity type.
type CrudRepository[T any] interface {
	// Save inserts entity when its identity is zero and updates the row
	// with its identity otherwise. On insert the assigned identity is
	// written back into entity.
	Save(ctx context.Context, entity *T) (*T, error)

	// FindByID returns found=false and no error when no row has id.
	FindByID(ctx context.Context, id int64) (entity *T, found bool, err error)

	FindAll(ctx context.Context) ([]*T, error)

	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	Count(ctx context.Context) (int, error)

	Create(ctx context.Context, entity ...*T) error

	// Upsert inserts entities and, on a conflict over conflictKeys, updates
	// fields instead.
	Upsert(ctx context.Context, fields []string, conflictKeys []string, entity ...*T) error

	Update(ctx context.Context, entity *T) error

	// DeleteByID reports whether a row was removed.
	DeleteByID(ctx context.Context, id int64) (bool, error)
}

// PageQueryRepository defines pagination for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// Repository is a CrudRepository bound either to the connection pool or to
// one open transaction.
type Repository[T any] interface {
	CrudRepository[T]
	PageQueryRepository[T]

	// WithTx returns the same repository running its statements in tx.
	WithTx(tx bun.Tx) Repository[T]
	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
	NewUpdate() *bun.UpdateQuery
}
