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

// Package isolevel persists accounts, items and rooms through generic
// services whose writes run in transactions at an explicit isolation level:
// READ COMMITTED, REPEATABLE READ or SERIALIZABLE.
//
// Concurrency control is left to the store. A write that loses a race
// surfaces as an error for which database.IsSerializationFailure reports
// true; services never retry on their own. Callers that want retries wrap
// the whole unit of work in RetryOnConflict.
package isolevel
