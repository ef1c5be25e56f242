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

// Package scenario reproduces concurrency anomalies against a live store so
// that the effect of each isolation level can be observed.
package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomoncle/isolevel"
	"github.com/tomoncle/isolevel/database"
	"github.com/tomoncle/isolevel/entity"
	"github.com/tomoncle/isolevel/repository"
	"golang.org/x/sync/errgroup"
)

// HandshakeTimeout bounds how long one transaction waits for the other to
// reach its read. Stores that run one transaction at a time never let the
// second read happen while the first is open; the first then proceeds alone.
var HandshakeTimeout = 2 * time.Second

// LostUpdateResult reports how two overlapping withdrawals ended.
type LostUpdateResult struct {
	Level          database.IsolationLevel
	Amount         int64
	InitialBalance int64
	FinalBalance   int64
	FirstErr       error
	SecondErr      error
}

// Committed returns the number of withdrawals that committed.
func (r *LostUpdateResult) Committed() int {
	n := 0
	for _, err := range []error{r.FirstErr, r.SecondErr} {
		if err == nil {
			n++
		}
	}
	return n
}

// Lost reports whether a committed withdrawal is missing from the balance.
func (r *LostUpdateResult) Lost() bool {
	return r.FinalBalance != r.InitialBalance-int64(r.Committed())*r.Amount
}

// Conflict reports whether the store aborted one of the transactions to
// keep them serializable.
func (r *LostUpdateResult) Conflict() bool {
	return database.IsRetryable(r.FirstErr) || database.IsRetryable(r.SecondErr)
}

func (r *LostUpdateResult) String() string {
	return fmt.Sprintf("level=%s initial=%d final=%d committed=%d lost=%t conflict=%t",
		r.Level, r.InitialBalance, r.FinalBalance, r.Committed(), r.Lost(), r.Conflict())
}

// LostUpdate runs two transactions at level that both read account
// accountID and withdraw amount from what they read. The first commits
// while the second still holds its stale read, then the second writes.
//
// The returned error covers the reads only; the outcome of each
// transaction is in the result.
func LostUpdate(ctx context.Context, svc isolevel.AccountService, level database.IsolationLevel, accountID int64, amount int64) (*LostUpdateResult, error) {
	initial, found, err := svc.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: account id=%d", repository.ErrEntityNotFound, accountID)
	}

	result := &LostUpdateResult{Level: level, Amount: amount, InitialBalance: initial.Balance}

	var (
		firstRead  = newSignal()
		secondRead = newSignal()
		firstDone  = newSignal()
	)

	// A failed read ends the group and releases the partner's handshake;
	// conflicts at write or commit time are outcomes, kept in the result.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer firstDone.fire()
		defer firstRead.fire()
		var readErr error
		result.FirstErr = svc.Transact(gctx, level, func(ctx context.Context, repo repository.Repository[entity.Account]) error {
			acc, err := mustFind(ctx, repo, accountID)
			if err != nil {
				readErr = err
				return err
			}
			firstRead.fire()
			secondRead.wait(ctx, HandshakeTimeout)

			acc.Withdraw(amount)
			_, err = repo.Save(ctx, acc)
			return err
		})
		return readErr
	})
	g.Go(func() error {
		defer secondRead.fire()
		firstRead.wait(gctx, 0)
		var readErr error
		result.SecondErr = svc.Transact(gctx, level, func(ctx context.Context, repo repository.Repository[entity.Account]) error {
			acc, err := mustFind(ctx, repo, accountID)
			if err != nil {
				readErr = err
				return err
			}
			secondRead.fire()
			firstDone.wait(ctx, 0)

			acc.Withdraw(amount)
			_, err = repo.Save(ctx, acc)
			return err
		})
		return readErr
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

func mustFind(ctx context.Context, repo repository.Repository[entity.Account], id int64) (*entity.Account, error) {
	acc, found, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: account id=%d", repository.ErrEntityNotFound, id)
	}
	return acc, nil
}

// signal is a one-shot broadcast that may be fired more than once.
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal { return &signal{ch: make(chan struct{})} }

func (s *signal) fire() { s.once.Do(func() { close(s.ch) }) }

// wait blocks until the signal fires, ctx ends, or timeout elapses. A zero
// timeout waits without limit.
func (s *signal) wait(ctx context.Context, timeout time.Duration) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-s.ch:
	case <-ctx.Done():
	case <-expired:
	}
}
