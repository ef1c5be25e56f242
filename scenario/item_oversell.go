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

// OversellResult reports what two buyers of one item saw and did.
type OversellResult struct {
	Level database.IsolationLevel

	// FirstSawStock and FirstSawRestock are the first buyer's two reads of
	// the item's availability, before and after the restock.
	FirstSawStock   bool
	FirstSawRestock bool

	FirstBought   bool
	SecondBought  bool
	FirstErr      error
	SecondErr     error
	FinalQuantity int
}

// NonRepeatableRead reports whether the first buyer read two different
// answers inside one transaction.
func (r *OversellResult) NonRepeatableRead() bool {
	return r.FirstSawStock != r.FirstSawRestock
}

// Oversold reports whether more units were sold than were stocked.
func (r *OversellResult) Oversold() bool {
	return r.FinalQuantity < 0
}

func (r *OversellResult) String() string {
	return fmt.Sprintf("level=%s first_reads=%t/%t bought=%t/%t final=%d oversold=%t",
		r.Level, r.FirstSawStock, r.FirstSawRestock, r.FirstBought, r.SecondBought, r.FinalQuantity, r.Oversold())
}

// ItemOversell empties item itemID, then lets a first buyer check its
// availability at level. While that transaction is open a manager restocks
// one unit and a second buyer takes it without committing yet. The first
// buyer checks again and buys when the item looks available, after the
// second buyer committed. Purchases decrement the quantity in SQL, so a
// sale based on a stale check drives it below zero.
//
// The returned error covers the setup and the reads only.
func ItemOversell(ctx context.Context, svc isolevel.ItemService, level database.IsolationLevel, itemID int64) (*OversellResult, error) {
	item, found, err := svc.FindByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: item id=%d", repository.ErrEntityNotFound, itemID)
	}
	item.Quantity = 0
	if _, err := svc.SaveReadCommitted(ctx, item); err != nil {
		return nil, err
	}

	result := &OversellResult{Level: level}
	var (
		firstChecked   = newSignal()
		secondBought   = newSignal()
		firstRechecked = newSignal()
		secondDone     = newSignal()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer firstRechecked.fire()
		defer firstChecked.fire()
		var (
			readErr error
			bought  bool
		)
		result.FirstErr = svc.Transact(gctx, level, func(ctx context.Context, repo repository.Repository[entity.Item]) error {
			inStock, err := available(ctx, repo, itemID)
			if err != nil {
				readErr = err
				return err
			}
			result.FirstSawStock = inStock
			firstChecked.fire()
			secondBought.wait(ctx, HandshakeTimeout)

			if inStock, err = available(ctx, repo, itemID); err != nil {
				readErr = err
				return err
			}
			result.FirstSawRestock = inStock
			firstRechecked.fire()
			secondDone.wait(ctx, HandshakeTimeout)

			if !inStock {
				return nil
			}
			if err := buy(ctx, repo, itemID); err != nil {
				return err
			}
			bought = true
			return nil
		})
		result.FirstBought = bought && result.FirstErr == nil
		return readErr
	})
	g.Go(func() error {
		defer secondDone.fire()
		defer secondBought.fire()
		firstChecked.wait(gctx, 0)

		err := svc.Transact(gctx, database.ReadCommitted, func(ctx context.Context, repo repository.Repository[entity.Item]) error {
			_, err := repo.NewUpdate().Model((*entity.Item)(nil)).
				Set("quantity = ?", 1).
				Where("id = ?", itemID).
				Exec(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("restock: %w", err)
		}

		var (
			readErr error
			bought  bool
		)
		result.SecondErr = svc.Transact(gctx, level, func(ctx context.Context, repo repository.Repository[entity.Item]) error {
			inStock, err := available(ctx, repo, itemID)
			if err != nil {
				readErr = err
				return err
			}
			if inStock {
				if err := buy(ctx, repo, itemID); err != nil {
					return err
				}
				bought = true
			}
			secondBought.fire()
			firstRechecked.wait(ctx, HandshakeTimeout)
			return nil
		})
		result.SecondBought = bought && result.SecondErr == nil
		return readErr
	})
	if err := g.Wait(); err != nil {
		return result, err
	}

	final, found, err := svc.FindByID(ctx, itemID)
	if err != nil {
		return result, err
	}
	if !found {
		return result, fmt.Errorf("%w: item id=%d", repository.ErrEntityNotFound, itemID)
	}
	result.FinalQuantity = final.Quantity
	return result, nil
}

func available(ctx context.Context, repo repository.Repository[entity.Item], id int64) (bool, error) {
	return repo.NewSelect().Model((*entity.Item)(nil)).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.quantity > 0").
		Exists(ctx)
}

func buy(ctx context.Context, repo repository.Repository[entity.Item], id int64) error {
	_, err := repo.NewUpdate().Model((*entity.Item)(nil)).
		Set("quantity = quantity - 1").
		Where("id = ?", id).
		Exec(ctx)
	return err
}
