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
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want SQLError
	}{
		{"pq serialization", &pq.Error{Code: "40001"}, SerializationFailureErr},
		{"pq deadlock", &pq.Error{Code: "40P01"}, DeadlockErr},
		{"pq other rollback class", &pq.Error{Code: "40003"}, SerializationFailureErr},
		{"pq lock not available", &pq.Error{Code: "55P03"}, LockTimeoutErr},
		{"pq unique", &pq.Error{Code: "23505"}, DuplicateKeyErr},
		{"pq not null", &pq.Error{Code: "23502"}, NotNullViolationErr},
		{"pq unmapped", &pq.Error{Code: "08006"}, UnknownErr},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, DeadlockErr},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, LockTimeoutErr},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, DuplicateKeyErr},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), LockTimeoutErr},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: item.sku (2067)"), DuplicateKeyErr},
		{"sqlite not null", errors.New("NOT NULL constraint failed: item.sku"), NotNullViolationErr},
		{"no rows", sql.ErrNoRows, NoRowsErr},
		{"wrapped", fmt.Errorf("save: %w", &pq.Error{Code: "40001"}), SerializationFailureErr},
		{"unrelated", errors.New("connection refused"), UnknownErr},
		{"nil", nil, UnknownErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsSqlError(t *testing.T) {
	is, _ := IsSqlError(errors.New("connection refused"))
	assert.False(t, is)

	is, c := IsSqlError(&pq.Error{Code: "08006"})
	assert.True(t, is)
	assert.Equal(t, UnknownErr, c)
}

func TestErrorPredicates(t *testing.T) {
	serialization := &TxError{Level: Serializable, State: TxRolledBack, Op: "exec", Err: &pq.Error{Code: "40001"}}
	assert.True(t, IsSerializationFailure(serialization))
	assert.True(t, IsRetryable(serialization))
	assert.False(t, IsConstraintViolation(serialization))

	mysqlDeadlock := &mysql.MySQLError{Number: 1213}
	assert.True(t, IsSerializationFailure(mysqlDeadlock))

	lockWait := &mysql.MySQLError{Number: 1205}
	assert.False(t, IsSerializationFailure(lockWait))
	assert.True(t, IsRetryable(lockWait))

	dup := &pq.Error{Code: "23505"}
	assert.True(t, IsConstraintViolation(dup))
	assert.False(t, IsRetryable(dup))

	assert.False(t, IsRetryable(nil))
	assert.Equal(t, "serialization_failure", SerializationFailureErr.String())
	assert.Equal(t, "unknown", SQLError(99).String())
}
