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

// Package testutil opens migrated databases for tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tomoncle/isolevel/database"
	_ "github.com/tomoncle/isolevel/entity"
	"github.com/uptrace/bun"
)

// NewSQLite returns a migrated SQLite database stored under t.TempDir().
func NewSQLite(t *testing.T) *bun.DB {
	t.Helper()
	cfg := database.DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = filepath.Join(t.TempDir(), "isolevel.db")
	return open(t, cfg)
}

// NewPostgres starts a PostgreSQL container and returns a migrated database
// on it. The test is skipped with -short or when Docker is unavailable.
func NewPostgres(t *testing.T) *bun.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("isolevel"),
		postgres.WithUsername("isolevel"),
		postgres.WithPassword("isolevel"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := database.DefaultConnectionConfig()
	cfg.Type = "postgres"
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.Username = "isolevel"
	cfg.Password = "isolevel"
	cfg.DBName = "isolevel"
	cfg.SSLMode = "disable"
	cfg.LockTimeout = 5 * time.Second
	return open(t, cfg)
}

func open(t *testing.T, cfg *database.ConnectionConfig) *bun.DB {
	t.Helper()
	ctx := context.Background()

	manager := database.NewDatabaseManager(cfg)
	manager.SetLogger(database.NopLogger{})
	require.NoError(t, manager.Connect(ctx))
	t.Cleanup(func() { _ = manager.Disconnect() })

	require.NoError(t, manager.RunMigrations(ctx))
	return manager.GetDB()
}
