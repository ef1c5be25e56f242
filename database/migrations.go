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
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// ErrUnknownMigration is returned by Rollback for a version with no
// migration definition.
var ErrUnknownMigration = errors.New("unknown migration version")

// Migration is the record of an applied migration.
type Migration struct {
	bun.BaseModel `bun:"table:migrations"`

	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name,notnull"`
	AppliedAt   time.Time `bun:"applied_at,notnull"`
	Description string    `bun:"description"`
}

// MigrationFunc is one migration step, run inside its own transaction.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem pairs a version with its up and down steps.
type MigrationItem struct {
	Version     string
	Name        string
	Description string
	Up          MigrationFunc
	Down        MigrationFunc
}

// MigrationManager creates the entity tables and records what it applied in
// the migrations table.
type MigrationManager struct {
	db       *bun.DB
	logger   Logger
	registry *ModelRegistry
}

// NewMigrationManager uses the process-wide model registry.
func NewMigrationManager(db *bun.DB, logger Logger) *MigrationManager {
	return NewMigrationManagerWithRegistry(db, logger, defaultRegistry)
}

func NewMigrationManagerWithRegistry(db *bun.DB, logger Logger, registry *ModelRegistry) *MigrationManager {
	if logger == nil {
		logger = GetLogger()
	}
	return &MigrationManager{db: db, logger: logger, registry: registry}
}

func (mm *MigrationManager) migrations() []MigrationItem {
	return []MigrationItem{
		{
			Version:     "001",
			Name:        "create_entity_tables",
			Description: "Create one table per registered entity",
			Up:          mm.createEntityTables,
			Down:        mm.dropEntityTables,
		},
	}
}

// RunMigrations applies every migration not yet recorded, in version order.
// It is safe to call repeatedly.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	if mm.db == nil {
		return ErrNotInitialized
	}

	if _, err := mm.db.NewCreateTable().
		Model((*Migration)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	items := mm.migrations()
	slices.SortFunc(items, func(a, b MigrationItem) int { return strings.Compare(a.Version, b.Version) })

	for _, item := range items {
		if err := mm.apply(ctx, item); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", item.Version, err)
		}
	}

	mm.logger.Info("Database migrations completed")
	return nil
}

func (mm *MigrationManager) apply(ctx context.Context, item MigrationItem) error {
	exists, err := mm.db.NewSelect().
		Model((*Migration)(nil)).
		Where("version = ?", item.Version).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		mm.logger.Debug("Migration already applied", "version", item.Version)
		return nil
	}

	err = mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := item.Up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewInsert().
			Model(&Migration{
				Version:     item.Version,
				Name:        item.Name,
				AppliedAt:   time.Now(),
				Description: item.Description,
			}).
			Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}

	mm.logger.Info("Migration executed successfully", "version", item.Version, "name", item.Name)
	return nil
}

// Rollback runs the down step of an applied migration and deletes its record.
// Rolling back a version that was never applied is a no-op.
func (mm *MigrationManager) Rollback(ctx context.Context, version string) error {
	if mm.db == nil {
		return ErrNotInitialized
	}
	idx := slices.IndexFunc(mm.migrations(), func(m MigrationItem) bool { return m.Version == version })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMigration, version)
	}
	item := mm.migrations()[idx]

	return mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*Migration)(nil)).
			Where("version = ?", version).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if item.Down == nil {
			return fmt.Errorf("migration %s cannot be rolled back", version)
		}
		if err := item.Down(ctx, tx); err != nil {
			return err
		}
		mm.logger.Info("Migration rolled back", "version", version, "name", item.Name)
		return nil
	})
}

// AppliedMigrations returns migration records ordered by version.
func (mm *MigrationManager) AppliedMigrations(ctx context.Context) ([]Migration, error) {
	var applied []Migration
	err := mm.db.NewSelect().
		Model(&applied).
		Order("version ASC").
		Scan(ctx)
	return applied, err
}

func (mm *MigrationManager) createEntityTables(ctx context.Context, db bun.IDB) error {
	for _, model := range mm.registry.Instances() {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %T: %w", model, err)
		}
	}
	return nil
}

func (mm *MigrationManager) dropEntityTables(ctx context.Context, db bun.IDB) error {
	models := mm.registry.Instances()
	slices.Reverse(models)
	for _, model := range models {
		if _, err := db.NewDropTable().
			Model(model).
			IfExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table %T: %w", model, err)
		}
	}
	return nil
}
