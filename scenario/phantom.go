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

package scenario

import (
	"context"
	"fmt"

	"github.com/tomoncle/isolevel"
	"github.com/tomoncle/isolevel/database"
	"github.com/tomoncle/isolevel/entity"
	"github.com/tomoncle/isolevel/repository"
	"golang.org/x/sync/errgroup"
)

// PhantomResult reports what a transaction scanning one store saw while an
// item was added to it.
type PhantomResult struct {
	Level       database.IsolationLevel
	StoreID     int64
	FirstCount  int
	SecondCount int
	// Restocked is the number of rows the scanning transaction updated with
	// the same predicate after its second count.
	Restocked int64
	Inserted  *entity.Item
	ReaderErr error
	WriterErr error
}

// Phantom reports whether a row appeared between two identical reads.
func (r *PhantomResult) Phantom() bool {
	return r.FirstCount != r.SecondCount
}

func (r *PhantomResult) String() string {
	return fmt.Sprintf("level=%s store=%d counts=%d/%d restocked=%d phantom=%t",
		r.Level, r.StoreID, r.FirstCount, r.SecondCount, r.Restocked, r.Phantom())
}

// PhantomInsert counts the items of store storeID in a transaction at
// level. While it is open a READ COMMITTED transaction inserts a new item
// sku into the store and commits. The reader then counts again and adds
// one unit to every item of the store. At SERIALIZABLE the reader keeps
// seeing, and updating, only the rows of its first read.
//
// The returned error covers the reads only.
func PhantomInsert(ctx context.Context, svc isolevel.ItemService, level database.IsolationLevel, storeID int64, sku string) (*PhantomResult, error) {
	result := &PhantomResult{Level: level, StoreID: storeID}
	var (
		firstCounted = newSignal()
		inserted     = newSignal()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer firstCounted.fire()
		var readErr error
		result.ReaderErr = svc.Transact(gctx, level, func(ctx context.Context, repo repository.Repository[entity.Item]) error {
			n, err := countStore(ctx, repo, storeID)
			if err != nil {
				readErr = err
				return err
			}
			result.FirstCount = n
			firstCounted.fire()
			inserted.wait(ctx, HandshakeTimeout)

			if result.SecondCount, err = countStore(ctx, repo, storeID); err != nil {
				readErr = err
				return err
			}
			res, err := repo.NewUpdate().Model((*entity.Item)(nil)).
				Set("quantity = quantity + 1").
				Where("store_id = ?", storeID).
				Exec(ctx)
			if err != nil {
				return err
			}
			result.Restocked, err = res.RowsAffected()
			return err
		})
		return readErr
	})
	g.Go(func() error {
		defer inserted.fire()
		firstCounted.wait(gctx, 0)
		result.Inserted, result.WriterErr = svc.SaveReadCommitted(gctx, entity.NewItem(sku, storeID, 0))
		return nil
	})
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

func countStore(ctx context.Context, repo repository.Repository[entity.Item], storeID int64) (int, error) {
	return repo.NewSelect().Model((*entity.Item)(nil)).
		Where("?TableAlias.store_id = ?", storeID).
		Count(ctx)
}
