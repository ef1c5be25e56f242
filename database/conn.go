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
	"fmt"
	"sync"

	"github.com/uptrace/bun"
)

var (
	globalMu      sync.RWMutex
	globalFactory *BaseDatabaseFactory
	globalConfig  *Config
)

// GetDB returns the process-wide database set up by InitDB, or nil.
func GetDB() *bun.DB {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory == nil {
		return nil
	}
	return globalFactory.GetDB()
}

// GetDatabaseManager returns the process-wide manager, or nil.
func GetDatabaseManager() AbstractDatabaseManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory == nil {
		return nil
	}
	return globalFactory.GetManager()
}

// InitDB connects the process-wide database described by cfg, then creates
// the tables and seeds data when cfg asks for it. A previous global database
// is closed first.
func InitDB(ctx context.Context, cfg *Config) (*bun.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}

	factory := NewDatabaseFactory()
	manager, err := factory.CreateFromConfig(&cfg.ConnectionConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}
	if err := factory.InitializeDatabase(ctx, cfg.DataMigrateConfig.EnableMigrateOnStartup); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if cfg.DataInitConfig.AutoInitOnStartup {
		if err := manager.InitData(ctx, cfg.DataInitConfig); err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("failed to initialize data: %w", err)
		}
	}

	db := manager.GetDB()
	db.RegisterModel(defaultRegistry.Instances()...)

	globalMu.Lock()
	previous := globalFactory
	globalFactory, globalConfig = factory, cfg
	globalMu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return db, nil
}

// CloseDB closes the process-wide database.
func CloseDB() error {
	globalMu.Lock()
	factory := globalFactory
	globalFactory, globalConfig = nil, nil
	globalMu.Unlock()

	if factory == nil {
		return nil
	}
	return factory.Close()
}

func GetHealthStatus(ctx context.Context) *HealthStatus {
	globalMu.RLock()
	factory := globalFactory
	globalMu.RUnlock()

	if factory == nil {
		return &HealthStatus{LastError: ErrNotInitialized.Error()}
	}
	return factory.GetHealthStatus(ctx)
}

func GetDatabaseStats() *DBStats {
	globalMu.RLock()
	factory := globalFactory
	globalMu.RUnlock()

	if factory == nil {
		return &DBStats{}
	}
	return factory.GetStats()
}

// RunMigrations creates the entity tables on the process-wide database.
func RunMigrations(ctx context.Context) error {
	manager := GetDatabaseManager()
	if manager == nil {
		return ErrNotInitialized
	}
	return manager.RunMigrations(ctx)
}

// InitDataWithSQL seeds the process-wide database from the SQL files of
// environment. The seed root comes from the InitDB configuration.
func InitDataWithSQL(ctx context.Context, environment string) error {
	globalMu.RLock()
	factory, cfg := globalFactory, globalConfig
	globalMu.RUnlock()

	if factory == nil || factory.GetManager() == nil {
		return ErrNotInitialized
	}
	initCfg := cfg.DataInitConfig
	initCfg.Environment = environment
	return factory.GetManager().InitData(ctx, initCfg)
}
