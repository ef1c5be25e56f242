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
	"slices"
	"strings"
	"time"

	"github.com/tomoncle/isolevel/utils"
	"github.com/uptrace/bun"
)

// SupportedTypes lists the accepted ConnectionConfig.Type values.
var SupportedTypes = []string{"postgres", "postgresql", "mysql", "sqlite", "sqlite3"}

// BaseDatabaseFactory builds a manager from configuration and drives its
// startup sequence.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	logger  Logger
}

func NewDatabaseFactory() *BaseDatabaseFactory {
	return &BaseDatabaseFactory{logger: GetLogger()}
}

// CreateFromConfig applies DB_* environment overrides to cfg and returns a
// manager for it. The manager is not connected yet.
func (f *BaseDatabaseFactory) CreateFromConfig(cfg *ConnectionConfig) (AbstractDatabaseManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}

	OverrideFromEnv(cfg)

	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	if !slices.Contains(SupportedTypes, cfg.Type) {
		return nil, fmt.Errorf("unsupported database type: %q, supported types: %v", cfg.Type, SupportedTypes)
	}

	manager := NewDatabaseManager(cfg)
	manager.SetLogger(f.logger)
	f.manager = manager
	return manager, nil
}

// OverrideFromEnv replaces connection settings with DB_* environment
// variables when they are set. Durations accept seconds or Go syntax.
func OverrideFromEnv(cfg *ConnectionConfig) {
	cfg.Type = utils.EnvDefaultString("DB_TYPE", cfg.Type)
	cfg.Host = utils.EnvDefaultString("DB_HOST", cfg.Host)
	cfg.Port = utils.EnvDefaultInt("DB_PORT", cfg.Port)
	cfg.Username = utils.EnvDefaultString("DB_USERNAME", cfg.Username)
	cfg.Password = utils.EnvDefaultString("DB_PASSWORD", cfg.Password)
	cfg.DBName = utils.EnvDefaultString("DB_NAME", cfg.DBName)
	cfg.SSLMode = utils.EnvDefaultString("DB_SSLMODE", cfg.SSLMode)

	cfg.MaxIdleConns = utils.EnvDefaultInt("DB_MAX_IDLE_CONNS", cfg.MaxIdleConns)
	cfg.MaxOpenConns = utils.EnvDefaultInt("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns)
	cfg.ConnMaxLifetime = utils.EnvDefaultDuration("DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime)
	cfg.LockTimeout = utils.EnvDefaultDuration("DB_LOCK_TIMEOUT", cfg.LockTimeout)

	cfg.EnableQueryLog = utils.EnvDefaultBool("DB_ENABLE_QUERY_LOG", cfg.EnableQueryLog)
}

// InitializeDatabase connects and, if runMigrations is set, creates the
// entity tables.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context, runMigrations bool) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created")
	}
	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if runMigrations {
		if err := f.manager.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}
	f.logger.Info("Database initialization completed")
	return nil
}

func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager {
	return f.manager
}

func (f *BaseDatabaseFactory) GetDB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	if f.manager != nil {
		f.manager.SetLogger(logger)
	}
}

func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{
			LastError:     ErrNotInitialized.Error(),
			LastCheckTime: time.Now(),
		}
	}
	return f.manager.HealthCheck(ctx)
}

func (f *BaseDatabaseFactory) GetStats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}
