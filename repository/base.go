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
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tomoncle/isolevel/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

type baseRepositoryImpl[T any, PT Identifiable[T]] struct {
	db bun.IDB
}

// NewRepository returns a repository running on db, which may be a *bun.DB
// or a bun.Tx. PT is inferred: NewRepository[entity.Account](db).
func NewRepository[T any, PT Identifiable[T]](db bun.IDB) Repository[T] {
	return &baseRepositoryImpl[T, PT]{db: db}
}

func (r *baseRepositoryImpl[T, PT]) WithTx(tx bun.Tx) Repository[T] {
	return &baseRepositoryImpl[T, PT]{db: tx}
}

func (r *baseRepositoryImpl[T, PT]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *baseRepositoryImpl[T, PT]) NewSelect() *bun.SelectQuery { return r.db.NewSelect() }

func (r *baseRepositoryImpl[T, PT]) NewUpdate() *bun.UpdateQuery { return r.db.NewUpdate() }

func (r *baseRepositoryImpl[T, PT]) Save(ctx context.Context, entity *T) (*T, error) {
	if entity == nil {
		return nil, errors.New("repository: save of nil entity")
	}
	if PT(entity).GetID() == 0 {
		if _, err := r.db.NewInsert().Model(entity).Exec(ctx); err != nil {
			return nil, err
		}
		return entity, nil
	}
	if err := r.Update(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T, PT]) FindByID(ctx context.Context, id int64) (*T, bool, error) {
	entity := new(T)
	err := r.db.NewSelect().Model(entity).Where("?TableAlias.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entity, true, nil
}

func (r *baseRepositoryImpl[T, PT]) FindAll(ctx context.Context) ([]*T, error) {
	return r.List(ctx, nil)
}

func (r *baseRepositoryImpl[T, PT]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	entities := make([]*T, 0)
	query := r.db.NewSelect().Model(&entities)
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	if err := query.Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T, PT]) Count(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*T)(nil)).Count(ctx)
}

func (r *baseRepositoryImpl[T, PT]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	if pageRequest == nil {
		pageRequest = types.NewDefaultPageRequest(1, 0)
	}
	entities := make([]*T, 0)
	query := r.db.NewSelect().Model(&entities)
	if f := pageRequest.GetFilter(); f != nil {
		query = query.Where(f.Schema, f.Args...)
	}

	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := query.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	err = query.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		Order(pageRequest.GetOrders()...).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = entities
	return pagination, nil
}

func (r *baseRepositoryImpl[T, PT]) Create(ctx context.Context, entity ...*T) error {
	if len(entity) == 0 {
		return nil
	}
	entities := append([]*T(nil), entity...)
	_, err := r.db.NewInsert().Model(&entities).Exec(ctx)
	return err
}

// Update writes every column of entity to the row with its identity.
// It fails with ErrEntityNotFound when that row does not exist.
func (r *baseRepositoryImpl[T, PT]) Update(ctx context.Context, entity *T) error {
	id := PT(entity).GetID()
	res, err := r.db.NewUpdate().Model(entity).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %T id=%d", ErrEntityNotFound, entity, id)
	}
	return nil
}

func (r *baseRepositoryImpl[T, PT]) DeleteByID(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.NewDelete().Model((*T)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *baseRepositoryImpl[T, PT]) Upsert(ctx context.Context, fields []string, conflictKeys []string, entity ...*T) error {
	if len(fields) == 0 {
		return errors.New("repository: upsert fields cannot be empty")
	}
	if len(entity) == 0 {
		return nil
	}
	entities := append([]*T(nil), entity...)

	features := r.db.Dialect().Features()
	switch {
	case features.Has(feature.InsertOnConflict):
		return r.upsertOnConflict(ctx, fields, conflictKeys, entities)
	case features.Has(feature.InsertOnDuplicateKey):
		return r.upsertOnDuplicateKey(ctx, fields, entities)
	}
	return fmt.Errorf("repository: %s does not support upsert", r.db.Dialect().Name())
}

func (r *baseRepositoryImpl[T, PT]) upsertOnDuplicateKey(ctx context.Context, fields []string, entities []*T) error {
	sets := make([]string, 0, len(fields))
	for _, field := range fields {
		sets = append(sets, fmt.Sprintf("%[1]s = VALUES(%[1]s)", field))
	}
	_, err := r.db.NewInsert().
		Model(&entities).
		On("DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")).
		Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T, PT]) upsertOnConflict(ctx context.Context, fields []string, conflictKeys []string, entities []*T) error {
	if len(conflictKeys) == 0 {
		conflictKeys = []string{"id"}
	}
	sets := make([]string, 0, len(fields))
	for _, field := range fields {
		sets = append(sets, fmt.Sprintf("%[1]s = EXCLUDED.%[1]s", field))
	}
	_, err := r.db.NewInsert().
		Model(&entities).
		On("CONFLICT (" + strings.Join(conflictKeys, ", ") + ") DO UPDATE").
		Set(strings.Join(sets, ", ")).
		Exec(ctx)
	return err
}
