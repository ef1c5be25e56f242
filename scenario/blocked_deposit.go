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
	"time"

	"github.com/tomoncle/isolevel"
	"github.com/tomoncle/isolevel/database"
	"github.com/tomoncle/isolevel/entity"
	"github.com/tomoncle/isolevel/repository"
	"golang.org/x/sync/errgroup"
)

// BlockedDepositResult reports how a deposit fared against an open
// withdrawal of the same account.
type BlockedDepositResult struct {
	Level        database.IsolationLevel
	Hold         time.Duration
	Waited       time.Duration
	WithdrawErr  error
	DepositErr   error
	FinalBalance int64
}

func (r *BlockedDepositResult) String() string {
	return fmt.Sprintf("level=%s hold=%s waited=%s deposit_err=%v final=%d",
		r.Level, r.Hold, r.Waited.Round(time.Millisecond), r.DepositErr, r.FinalBalance)
}

// BlockedDeposit withdraws the whole balance of account accountID in one
// transaction at level and keeps it open for hold. Meanwhile a second
// transaction at level adds deposit to the balance in SQL. The row written
// by the first transaction stays locked until it ends, so the deposit waits
// for it and then either applies on top of the committed balance or fails
// with a serialization conflict.
//
// The returned error covers the reads only.
func BlockedDeposit(ctx context.Context, svc isolevel.AccountService, level database.IsolationLevel, accountID int64, deposit int64, hold time.Duration) (*BlockedDepositResult, error) {
	result := &BlockedDepositResult{Level: level, Hold: hold}
	withdrawn := newSignal()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer withdrawn.fire()
		var readErr error
		result.WithdrawErr = svc.Transact(gctx, level, func(ctx context.Context, repo repository.Repository[entity.Account]) error {
			acc, err := mustFind(ctx, repo, accountID)
			if err != nil {
				readErr = err
				return err
			}
			acc.Withdraw(acc.Balance)
			if _, err := repo.Save(ctx, acc); err != nil {
				return err
			}
			withdrawn.fire()

			t := time.NewTimer(hold)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		return readErr
	})
	g.Go(func() error {
		withdrawn.wait(gctx, 0)
		start := time.Now()
		result.DepositErr = svc.Transact(gctx, level, func(ctx context.Context, repo repository.Repository[entity.Account]) error {
			_, err := repo.NewUpdate().Model((*entity.Account)(nil)).
				Set("balance = balance + ?", deposit).
				Where("id = ?", accountID).
				Exec(ctx)
			return err
		})
		result.Waited = time.Since(start)
		return nil
	})
	if err := g.Wait(); err != nil {
		return result, err
	}

	final, found, err := svc.FindByID(ctx, accountID)
	if err != nil {
		return result, err
	}
	if !found {
		return result, fmt.Errorf("%w: account id=%d", repository.ErrEntityNotFound, accountID)
	}
	result.FinalBalance = final.Balance
	return result, nil
}
