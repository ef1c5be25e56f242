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

// Account is a balance holder. Balance is in minor currency units.
type Account struct {
	bun.BaseModel `bun:"table:account,alias:a"`

	ID      int64 `bun:"id,pk,autoincrement" json:"id" yaml:"id"`
	Balance int64 `bun:"balance,notnull" json:"balance" yaml:"balance"`
}

func NewAccount(balance int64) *Account {
	return &Account{Balance: balance}
}

func (a *Account) GetID() int64 { return a.ID }

// Withdraw lowers the balance by amount. Balances may go negative; the
// store enforces no floor.
func (a *Account) Withdraw(amount int64) {
	a.Balance -= amount
}

func (a *Account) Deposit(amount int64) {
	a.Balance += amount
}

func (a *Account) String() string {
	return fmt.Sprintf("Account{id=%d, balance=%d}", a.ID, a.Balance)
}

func init() {
	database.RegisterModel((*Account)(nil), 10)
}
