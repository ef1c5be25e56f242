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

package isolevel_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/isolevel"
	"github.com/tomoncle/isolevel/database"
	"github.com/tomoncle/isolevel/entity"
	dbtest "github.com/tomoncle/isolevel/internal/testutil"
	"github.com/tomoncle/isolevel/repository"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

func TestPostgres_LevelReachesServer(t *testing.T) {
	svc := isolevel.NewAccountService(dbtest.NewPostgres(t), quiet())
	ctx := context.Background()

	want := map[database.IsolationLevel]string{
		database.ReadCommitted:  "read committed",
		database.RepeatableRead: "repeatable read",
		database.Serializable:   "serializable",
	}
	for level, setting := range want {
		var got string
		err := svc.Transact(ctx, level, func(ctx context.Context, repo repository.Repository[entity.Account]) error {
			return repo.NewSelect().ColumnExpr("current_setting('transaction_isolation')").Scan(ctx, &got)
		})
		require.NoError(t, err)
		assert.Equal(t, setting, got)
	}
}

func TestPostgres_RoomScenario(t *testing.T) {
	svc := isolevel.NewRoomService(dbtest.NewPostgres(t), quiet())
	ctx := context.Background()

	room, err := svc.SaveReadCommitted(ctx, entity.NewRoom())
	require.NoError(t, err)

	booking := &entity.Room{ID: room.ID}
	booking.Book("Alice")
	_, err = svc.SaveSerializable(ctx, booking)
	require.NoError(t, err)

	got, found, err := svc.FindByID(ctx, room.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, got.IsAvailable)
	assert.Equal(t, "Alice", got.Guest())
}

// Concurrent serializable deposits conflict; retrying each one as a whole
// unit of work must still apply every deposit exactly once.
func TestPostgres_RetryOnConflictAppliesEveryDeposit(t *testing.T) {
	svc := isolevel.NewAccountService(dbtest.NewPostgres(t), quiet())
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	acc, err := svc.SaveReadCommitted(ctx, entity.NewAccount(0))
	require.NoError(t, err)

	policy := isolevel.RetryPolicy{Attempts: 30, Delay: 5 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Logger: database.NopLogger{}}
	const workers = 6

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := isolevel.RetryOnConflict(ctx, policy, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, svc.Transact(ctx, database.Serializable, func(ctx context.Context, repo repository.Repository[entity.Account]) error {
					cur, _, err := repo.FindByID(ctx, acc.ID)
					if err != nil {
						return err
					}
					cur.Deposit(10)
					_, err = repo.Save(ctx, cur)
					return err
				})
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	final, _, err := svc.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*10), final.Balance)
}

// updateGate holds the first successful UPDATE inside its transaction until
// released, keeping the row lock it took.
type updateGate struct {
	once    sync.Once
	wrote   chan struct{}
	release chan struct{}
	closing sync.Once
}

func newUpdateGate() *updateGate {
	return &updateGate{wrote: make(chan struct{}), release: make(chan struct{})}
}

func (g *updateGate) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (g *updateGate) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if event.Err != nil || !strings.HasPrefix(event.Query, "UPDATE") {
		return
	}
	g.once.Do(func() {
		close(g.wrote)
		<-g.release
	})
}

func (g *updateGate) open() { g.closing.Do(func() { close(g.release) }) }

func TestPostgres_OverlappingSaveSerializableConflicts(t *testing.T) {
	db := dbtest.NewPostgres(t)
	svc := isolevel.NewAccountService(db, quiet())
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	acc, err := svc.SaveReadCommitted(ctx, entity.NewAccount(500))
	require.NoError(t, err)

	gate := newUpdateGate()
	db.AddQueryHook(gate)
	defer gate.open()

	var firstErr, secondErr error
	var g errgroup.Group
	g.Go(func() error {
		_, firstErr = svc.SaveSerializable(ctx, &entity.Account{ID: acc.ID, Balance: 250})
		return nil
	})
	g.Go(func() error {
		select {
		case <-gate.wrote:
		case <-ctx.Done():
			return ctx.Err()
		}
		_, secondErr = svc.SaveSerializable(ctx, &entity.Account{ID: acc.ID, Balance: 1500})
		return nil
	})

	// Release the first save only once the second waits for its row lock.
	require.Eventually(t, func() bool {
		var waiting int
		err := db.NewSelect().
			ColumnExpr("count(*)").
			TableExpr("pg_stat_activity").
			Where("datname = current_database()").
			Where("wait_event_type = 'Lock'").
			Scan(ctx, &waiting)
		return err == nil && waiting > 0
	}, 20*time.Second, 20*time.Millisecond)
	gate.open()
	require.NoError(t, g.Wait())

	assert.NoError(t, firstErr)
	require.Error(t, secondErr)
	assert.True(t, database.IsSerializationFailure(secondErr))

	final, found, err := svc.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(250), final.Balance)
}

func TestPostgres_ConcurrentReadCommittedSavesComplete(t *testing.T) {
	saveConcurrently(t, isolevel.NewAccountService(dbtest.NewPostgres(t), quiet()), 16)
}
