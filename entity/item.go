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

package entity

import (
	"fmt"

	"github.com/tomoncle/isolevel/database"
	"github.com/uptrace/bun"
)

// Item is a stock record for one SKU in one store.
type Item struct {
	bun.BaseModel `bun:"table:item,alias:i"`

	ID       int64  `bun:"id,pk,autoincrement" json:"id" yaml:"id"`
	SKU      string `bun:"sku,notnull,unique" json:"sku" yaml:"sku"`
	StoreID  int64  `bun:"store_id,notnull" json:"store_id" yaml:"store_id"`
	Quantity int    `bun:"quantity,notnull" json:"quantity" yaml:"quantity"`
}

func NewItem(sku string, storeID int64, quantity int) *Item {
	return &Item{SKU: sku, StoreID: storeID, Quantity: quantity}
}

func (i *Item) GetID() int64 { return i.ID }

func (i *Item) String() string {
	return fmt.Sprintf("Item{id=%d, sku=%s, store=%d, quantity=%d}", i.ID, i.SKU, i.StoreID, i.Quantity)
}

func init() {
	database.RegisterModel((*Item)(nil), 20)
}
