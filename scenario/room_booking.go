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

package scenario

import (
	"context"
	"fmt"

	"github.com/tomoncle/isolevel"
	"github.com/tomoncle/isolevel/entity"
	"github.com/tomoncle/isolevel/repository"
)

// RoomBookingResult holds the stored room after each step.
type RoomBookingResult struct {
	Created *entity.Room
	Booked  *entity.Room
}

// RoomBooking creates an available room at READ COMMITTED, then books it for
// guest by saving a new value with the same identity at SERIALIZABLE. Both
// snapshots are read back from the store.
func RoomBooking(ctx context.Context, svc isolevel.RoomService, guest string) (*RoomBookingResult, error) {
	room, err := svc.SaveReadCommitted(ctx, entity.NewRoom())
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	created, err := reload(ctx, svc, room.ID)
	if err != nil {
		return nil, err
	}

	booking := &entity.Room{ID: room.ID}
	booking.Book(guest)
	if _, err := svc.SaveSerializable(ctx, booking); err != nil {
		return nil, fmt.Errorf("book room %d: %w", room.ID, err)
	}

	booked, err := reload(ctx, svc, room.ID)
	if err != nil {
		return nil, err
	}
	return &RoomBookingResult{Created: created, Booked: booked}, nil
}

func reload(ctx context.Context, svc isolevel.RoomService, id int64) (*entity.Room, error) {
	room, found, err := svc.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: room id=%d", repository.ErrEntityNotFound, id)
	}
	return room, nil
}
