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

package isolevel

import (
	"context"
	"errors"
	"sync"

	"github.com/tomoncle/isolevel/database"
	"github.com/tomoncle/isolevel/repository"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace"
)

// Service persists one entity type, running every write in a transaction at
// an isolation level chosen by the caller.
type Service[T any] interface {
	// SaveReadCommitted saves entity in a READ COMMITTED transaction.
	SaveReadCommitted(ctx context.Context, entity *T) (*T, error)

	// SaveRepeatableRead saves entity in a REPEATABLE READ transaction.
	SaveRepeatableRead(ctx context.Context, entity *T) (*T, error)

	// SaveSerializable saves entity in a SERIALIZABLE transaction.
	SaveSerializable(ctx context.Context, entity *T) (*T, error)

	// SaveWithLevel inserts entity when its identity is zero and updates it
	// otherwise, committing on success and rolling back on any failure.
	SaveWithLevel(ctx context.Context, level database.IsolationLevel, entity *T) (*T, error)

	// FindByID reads one entity in a READ COMMITTED transaction.
	FindByID(ctx context.Context, id int64) (*T, bool, error)

	// FindAll lists every entity ordered by identity.
	FindAll(ctx context.Context) ([]*T, error)

	// Transact runs fn with a repository bound to one transaction at level.
	// The transaction commits when fn returns nil and rolls back otherwise.
	Transact(ctx context.Context, level database.IsolationLevel, fn func(ctx context.Context, repo repository.Repository[T]) error) error
}

type serviceOptions struct {
	txOpts []database.TxOption
}

// ServiceOption configures the transactions a Service runs.
type ServiceOption func(*serviceOptions)

// WithLogger sets the logger used for transaction outcomes.
func WithLogger(logger database.Logger) ServiceOption {
	return func(o *serviceOptions) { o.txOpts = append(o.txOpts, database.WithTxLogger(logger)) }
}

// WithMetrics records transaction outcomes in m.
func WithMetrics(m *database.TxMetrics) ServiceOption {
	return func(o *serviceOptions) { o.txOpts = append(o.txOpts, database.WithTxMetrics(m)) }
}

// WithTracer sets the tracer that opens one span per transaction.
func WithTracer(tracer trace.Tracer) ServiceOption {
	return func(o *serviceOptions) { o.txOpts = append(o.txOpts, database.WithTracer(tracer)) }
}

type baseServiceImpl[T any, PT repository.Identifiable[T]] struct {
	dbFunc func() *bun.DB
	opts   serviceOptions

	mu     sync.Mutex
	runner *database.TxRunner
	repo   repository.Repository[T]
}

// NewService returns a Service on db. PT is inferred:
// NewService[entity.Room](db).
func NewService[T any, PT repository.Identifiable[T]](db *bun.DB, opts ...ServiceOption) Service[T] {
	return newBaseServiceImpl[T, PT](func() *bun.DB { return db }, opts...)
}

// DefaultService returns a Service on the process-wide database. The
// database is looked up on first use, so DefaultService may be called before
// database.InitDB.
func DefaultService[T any, PT repository.Identifiable[T]](opts ...ServiceOption) Service[T] {
	return newBaseServiceImpl[T, PT](database.GetDB, opts...)
}

func newBaseServiceImpl[T any, PT repository.Identifiable[T]](dbFunc func() *bun.DB, opts ...ServiceOption) *baseServiceImpl[T, PT] {
	s := &baseServiceImpl[T, PT]{dbFunc: dbFunc}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// bind resolves the database on every call and rebuilds the runner and
// repository when it changed, e.g. after database.InitDB replaced the global
// database. Until one is available every call fails with
// database.ErrNotInitialized.
func (s *baseServiceImpl[T, PT]) bind() (*database.TxRunner, repository.Repository[T]) {
	db := s.dbFunc()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner == nil || s.runner.DB() != db {
		s.runner = database.NewTxRunner(db, s.opts.txOpts...)
		s.repo = nil
		if db != nil {
			s.repo = repository.NewRepository[T, PT](db)
		}
	}
	return s.runner, s.repo
}

func (s *baseServiceImpl[T, PT]) SaveReadCommitted(ctx context.Context, entity *T) (*T, error) {
	return s.SaveWithLevel(ctx, database.ReadCommitted, entity)
}

func (s *baseServiceImpl[T, PT]) SaveRepeatableRead(ctx context.Context, entity *T) (*T, error) {
	return s.SaveWithLevel(ctx, database.RepeatableRead, entity)
}

func (s *baseServiceImpl[T, PT]) SaveSerializable(ctx context.Context, entity *T) (*T, error) {
	return s.SaveWithLevel(ctx, database.Serializable, entity)
}

// SaveWithLevel saves a copy of entity and copies it back only after the
// commit, so a rolled back insert never leaves a store-assigned identity in
// the caller's entity and the same entity can be saved again.
func (s *baseServiceImpl[T, PT]) SaveWithLevel(ctx context.Context, level database.IsolationLevel, entity *T) (*T, error) {
	if entity == nil {
		return nil, errors.New("isolevel: save of nil entity")
	}
	work := *entity
	err := s.Transact(ctx, level, func(ctx context.Context, repo repository.Repository[T]) error {
		_, err := repo.Save(ctx, &work)
		return err
	})
	if err != nil {
		return nil, err
	}
	*entity = work
	return entity, nil
}

func (s *baseServiceImpl[T, PT]) FindByID(ctx context.Context, id int64) (*T, bool, error) {
	var (
		found  *T
		exists bool
	)
	err := s.Transact(ctx, database.ReadCommitted, func(ctx context.Context, repo repository.Repository[T]) error {
		var err error
		found, exists, err = repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return found, exists, nil
}

func (s *baseServiceImpl[T, PT]) FindAll(ctx context.Context) ([]*T, error) {
	_, repo := s.bind()
	if repo == nil {
		return nil, database.ErrNotInitialized
	}
	return repo.FindAll(ctx)
}

func (s *baseServiceImpl[T, PT]) Transact(ctx context.Context, level database.IsolationLevel, fn func(ctx context.Context, repo repository.Repository[T]) error) error {
	runner, _ := s.bind()
	return runner.Run(ctx, level, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, repository.NewRepository[T, PT](tx))
	})
}
