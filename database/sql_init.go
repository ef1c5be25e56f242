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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/uptrace/bun"
)

// DefaultSQLRootPath is where seed files are looked up when no path is set.
const DefaultSQLRootPath = "configs/sql"

const commonEnvironment = "common"

var sqlFileOrder = regexp.MustCompile(`^(\d+)_`)

// SQLInitManager seeds the database from SQL files laid out as
//
//	<root>/common/*.sql
//	<root>/environments/<environment>/*.sql
//
// Common files run first. Within a directory files run in the order given by
// their numeric prefix ("001_accounts.sql"). Each file runs in one
// transaction.
type SQLInitManager struct {
	db          *bun.DB
	environment string
	sqlRootPath string
	logger      Logger
}

// SQLFileInfo describes one discovered seed file.
type SQLFileInfo struct {
	Path        string
	Name        string
	Order       int
	Environment string
}

// ExecutionResult is the outcome of one seed file.
type ExecutionResult struct {
	File         string
	Duration     time.Duration
	RowsAffected int64
	Err          error
}

func NewSQLInitManager(db *bun.DB, environment string) *SQLInitManager {
	return &SQLInitManager{
		db:          db,
		environment: environment,
		sqlRootPath: DefaultSQLRootPath,
		logger:      GetLogger(),
	}
}

func (s *SQLInitManager) SetSQLRootPath(path string) {
	if path != "" {
		s.sqlRootPath = path
	}
}

// ExecuteInitialization runs every discovered seed file and stops at the
// first failure.
func (s *SQLInitManager) ExecuteInitialization(ctx context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	s.logger.Info("Starting SQL initialization", "environment", s.environment, "sql_path", s.sqlRootPath)

	files, err := s.GetSQLFiles()
	if err != nil {
		return fmt.Errorf("failed to get SQL files: %w", err)
	}
	if len(files) == 0 {
		s.logger.Info("No SQL files found to execute")
		return nil
	}

	for _, file := range files {
		result := s.executeFile(ctx, file)
		if result.Err != nil {
			s.logger.Error("SQL file execution failed", "file", result.File, "error", result.Err)
			return fmt.Errorf("SQL file execution failed %s: %w", result.File, result.Err)
		}
		s.logger.Info("SQL file executed successfully",
			"file", result.File,
			"duration", result.Duration.String(),
			"rows_affected", result.RowsAffected,
		)
	}

	s.logger.Info("SQL initialization completed", "total_files", len(files), "environment", s.environment)
	return nil
}

// GetSQLFiles lists seed files in execution order. Missing directories are
// not an error.
func (s *SQLInitManager) GetSQLFiles() ([]SQLFileInfo, error) {
	common, err := s.filesFromDir(filepath.Join(s.sqlRootPath, commonEnvironment), commonEnvironment)
	if err != nil {
		return nil, fmt.Errorf("failed to get common SQL files: %w", err)
	}
	files := common

	if s.environment != "" {
		env, err := s.filesFromDir(filepath.Join(s.sqlRootPath, "environments", s.environment), s.environment)
		if err != nil {
			return nil, fmt.Errorf("failed to get environment SQL files: %w", err)
		}
		files = append(files, env...)
	}
	return files, nil
}

func (s *SQLInitManager) filesFromDir(dir, environment string) ([]SQLFileInfo, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var files []SQLFileInfo
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".sql") {
			return nil
		}
		files = append(files, SQLFileInfo{
			Path:        path,
			Name:        d.Name(),
			Order:       parseFileOrder(d.Name()),
			Environment: environment,
		})
		return nil
	})
	slices.SortStableFunc(files, func(a, b SQLFileInfo) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		return strings.Compare(a.Name, b.Name)
	})
	return files, err
}

func parseFileOrder(filename string) int {
	if m := sqlFileOrder.FindStringSubmatch(filename); len(m) > 1 {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 999
}

func (s *SQLInitManager) executeFile(ctx context.Context, file SQLFileInfo) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{File: file.Path}

	content, err := os.ReadFile(file.Path)
	if err != nil {
		result.Err = fmt.Errorf("failed to read file: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	rendered, err := s.renderTemplate(string(content))
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}

	result.Err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, stmt := range splitSQLStatements(rendered) {
			res, err := tx.ExecContext(ctx, stmt)
			if err != nil {
				return fmt.Errorf("failed to execute SQL statement %q: %w", stmt, err)
			}
			n, _ := res.RowsAffected()
			result.RowsAffected += n
		}
		return nil
	})
	result.Duration = time.Since(start)
	return result
}

// renderTemplate expands {{.NAME}} references to environment variables.
// ENVIRONMENT holds the seeding environment.
func (s *SQLInitManager) renderTemplate(content string) (string, error) {
	if !strings.Contains(content, "{{") {
		return content, nil
	}
	tmpl, err := template.New("sql").Option("missingkey=zero").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	vars["ENVIRONMENT"] = s.environment

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// splitSQLStatements splits on lines ending with ';'. Comment lines and blank
// lines are dropped.
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString(" ")
		if strings.HasSuffix(line, ";") {
			flush()
		}
	}
	flush()
	return statements
}
