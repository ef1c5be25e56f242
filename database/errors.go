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
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// ErrNotInitialized is returned when an operation needs a connected database.
var ErrNotInitialized = errors.New("database not initialized")

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoIndexErr
	NoColumnErr
	ExistIndexErr
	ExistColumnErr
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
	SerializationFailureErr
	DeadlockErr
	LockTimeoutErr
)

var sqlErrorNames = map[SQLError]string{
	UnknownErr:                  "unknown",
	NoRowsErr:                   "no_rows",
	NoIndexErr:                  "no_index",
	NoColumnErr:                 "no_column",
	ExistIndexErr:               "index_exists",
	ExistColumnErr:              "column_exists",
	NoTableErr:                  "no_table",
	ExistTableErr:               "table_exists",
	DuplicateKeyErr:             "duplicate_key",
	NotNullViolationErr:         "not_null_violation",
	ForeignKeyViolationErr:      "foreign_key_violation",
	CheckConstraintViolationErr: "check_violation",
	DataTruncatedErr:            "data_truncated",
	InvalidTypeCastErr:          "invalid_type_cast",
	SerializationFailureErr:     "serialization_failure",
	DeadlockErr:                 "deadlock",
	LockTimeoutErr:              "lock_timeout",
}

func (e SQLError) String() string {
	if s, ok := sqlErrorNames[e]; ok {
		return s
	}
	return sqlErrorNames[UnknownErr]
}

// pqCodes maps PostgreSQL SQLSTATE codes to SQLError.
var pqCodes = map[pq.ErrorCode]SQLError{
	"40001": SerializationFailureErr,
	"40P01": DeadlockErr,
	"55P03": LockTimeoutErr,
	"23505": DuplicateKeyErr,
	"23502": NotNullViolationErr,
	"23503": ForeignKeyViolationErr,
	"23514": CheckConstraintViolationErr,
	"22001": DataTruncatedErr,
	"42804": InvalidTypeCastErr,
	"42703": NoColumnErr,
	"42704": NoIndexErr,
	"42P01": NoTableErr,
	"42P07": ExistTableErr,
}

// mysqlNumbers maps MySQL server error numbers to SQLError. InnoDB reports a
// SERIALIZABLE conflict as a deadlock (1213).
var mysqlNumbers = map[uint16]SQLError{
	1213: DeadlockErr,
	1205: LockTimeoutErr,
	1091: NoIndexErr,
	1054: NoColumnErr,
	1061: ExistIndexErr,
	1060: ExistColumnErr,
	1146: NoTableErr,
	1050: ExistTableErr,
	1062: DuplicateKeyErr,
	1048: NotNullViolationErr,
	1216: ForeignKeyViolationErr,
	1217: ForeignKeyViolationErr,
	1451: ForeignKeyViolationErr,
	1452: ForeignKeyViolationErr,
	3819: CheckConstraintViolationErr,
	1265: DataTruncatedErr,
	1406: DataTruncatedErr,
}

// IsSqlError reports whether err comes from the store and, if so, its class.
// Driver error types are checked first, then well-known message fragments
// (SQLite and wrapped errors only expose text).
func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true, NoRowsErr
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if c, ok := pqCodes[pqErr.Code]; ok {
			return true, c
		}
		if pqErr.Code.Class() == "40" {
			return true, SerializationFailureErr
		}
		return true, UnknownErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		if c, ok := mysqlNumbers[mysqlErr.Number]; ok {
			return true, c
		}
		return true, UnknownErr
	}
	return classifyMessage(strings.ToLower(err.Error()))
}

func classifyMessage(s string) (bool, SQLError) {
	switch {
	case strings.Contains(s, "sqlstate 40001") ||
		strings.Contains(s, "could not serialize access"):
		return true, SerializationFailureErr
	case strings.Contains(s, "sqlstate 40p01") ||
		strings.Contains(s, "deadlock"):
		return true, DeadlockErr
	case strings.Contains(s, "database is locked") ||
		strings.Contains(s, "sqlite_busy") ||
		strings.Contains(s, "lock wait timeout"):
		return true, LockTimeoutErr
	case strings.Contains(s, "sqlstate 42703") ||
		strings.Contains(s, "undefined column") ||
		strings.Contains(s, "no such column"):
		return true, NoColumnErr
	case strings.Contains(s, "sqlstate 42p01") ||
		strings.Contains(s, "undefined table") ||
		strings.Contains(s, "no such table"):
		return true, NoTableErr
	case strings.Contains(s, "already exists") && strings.Contains(s, "index"):
		return true, ExistIndexErr
	case strings.Contains(s, "already exists") &&
		(strings.Contains(s, "table") || strings.Contains(s, "relation")):
		return true, ExistTableErr
	case strings.Contains(s, "duplicate key value") ||
		strings.Contains(s, "unique constraint failed") ||
		strings.Contains(s, "sqlstate 23505"):
		return true, DuplicateKeyErr
	case strings.Contains(s, "not-null constraint") ||
		strings.Contains(s, "sqlstate 23502") ||
		strings.Contains(s, "not null constraint failed"):
		return true, NotNullViolationErr
	case strings.Contains(s, "foreign key violation") ||
		strings.Contains(s, "foreign key constraint failed") ||
		strings.Contains(s, "sqlstate 23503"):
		return true, ForeignKeyViolationErr
	case strings.Contains(s, "check constraint") ||
		strings.Contains(s, "sqlstate 23514"):
		return true, CheckConstraintViolationErr
	case strings.Contains(s, "string data right truncation") ||
		strings.Contains(s, "sqlstate 22001") ||
		strings.Contains(s, "data truncated"):
		return true, DataTruncatedErr
	case strings.Contains(s, "datatype mismatch") ||
		strings.Contains(s, "sqlstate 42804"):
		return true, InvalidTypeCastErr
	}
	return false, UnknownErr
}

// Classify returns the SQLError class of err, UnknownErr when it is not a
// recognised store failure.
func Classify(err error) SQLError {
	_, c := IsSqlError(err)
	return c
}

// IsSerializationFailure reports whether the store aborted the transaction
// because it could not be ordered against a concurrent one.
func IsSerializationFailure(err error) bool {
	switch Classify(err) {
	case SerializationFailureErr, DeadlockErr:
		return true
	}
	return false
}

// IsRetryable reports whether running the whole transaction again may succeed.
func IsRetryable(err error) bool {
	return IsSerializationFailure(err) || Classify(err) == LockTimeoutErr
}

// IsConstraintViolation reports whether the store rejected the written values.
func IsConstraintViolation(err error) bool {
	switch Classify(err) {
	case DuplicateKeyErr, NotNullViolationErr, ForeignKeyViolationErr,
		CheckConstraintViolationErr, DataTruncatedErr, InvalidTypeCastErr:
		return true
	}
	return false
}
