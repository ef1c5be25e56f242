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
	"github.com/tomoncle/isolevel/entity"
	"github.com/uptrace/bun"
)

type (
	AccountService = Service[entity.Account]
	ItemService    = Service[entity.Item]
	RoomService    = Service[entity.Room]
)

func NewAccountService(db *bun.DB, opts ...ServiceOption) AccountService {
	return NewService[entity.Account](db, opts...)
}

func NewItemService(db *bun.DB, opts ...ServiceOption) ItemService {
	return NewService[entity.Item](db, opts...)
}

func NewRoomService(db *bun.DB, opts ...ServiceOption) RoomService {
	return NewService[entity.Room](db, opts...)
}
