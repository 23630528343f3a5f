package repository

import (
	"context"
	"errors"
	"fmt"

	"freight-chat/internal/models"
)

// DemoUsers are created by SeedDemo.
var DemoUsers = []models.User{
	{Username: "shipper", Name: "Hanbit Logistics", Role: models.RoleShipper},
	{Username: "driver", Name: "Driver Kim", Role: models.RoleDriver},
}

// SeedDemo creates the demo users, if missing, with the given password hash
// and opens a personal room between them.
func SeedDemo(ctx context.Context, users UserRepository, rooms RoomRepository, passwordHash string) error {
	ids := make([]int64, 0, len(DemoUsers))
	for _, demo := range DemoUsers {
		existing, err := users.GetUserByUsername(ctx, demo.Username)
		if err == nil {
			ids = append(ids, existing.ID)
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		user := demo
		user.Password_Hash = passwordHash
		if err := users.CreateUser(ctx, &user); err != nil {
			return fmt.Errorf("seed %s: %w", demo.Username, err)
		}
		ids = append(ids, user.ID)
	}

	if _, err := rooms.GetOrCreatePersonal(ctx, ids[0], ids[1]); err != nil {
		return fmt.Errorf("seed personal room: %w", err)
	}
	return nil
}
