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

// Room is a bookable room. GuestName is nil while nobody holds it.
type Room struct {
	bun.BaseModel `bun:"table:room,alias:r"`

	ID          int64   `bun:"id,pk,autoincrement" json:"id" yaml:"id"`
	IsAvailable bool    `bun:"is_available,notnull" json:"is_available" yaml:"is_available"`
	GuestName   *string `bun:"guest_name,nullzero" json:"guest_name,omitempty" yaml:"guest_name,omitempty"`
}

// NewRoom returns an available room with no guest.
func NewRoom() *Room {
	return &Room{IsAvailable: true}
}

func (r *Room) GetID() int64 { return r.ID }

// Book assigns the room to guest and marks it unavailable.
func (r *Room) Book(guest string) {
	r.IsAvailable = false
	r.GuestName = &guest
}

// Release clears the guest and makes the room available again.
func (r *Room) Release() {
	r.IsAvailable = true
	r.GuestName = nil
}

// Guest returns the guest name, or "" when the room is free.
func (r *Room) Guest() string {
	if r.GuestName == nil {
		return ""
	}
	return *r.GuestName
}

func (r *Room) String() string {
	return fmt.Sprintf("Room{id=%d, available=%t, guest=%q}", r.ID, r.IsAvailable, r.Guest())
}

func init() {
	database.RegisterModel((*Room)(nil), 30)
}
