package models

import (
	"time"
)

type Role string

const (
	RoleShipper Role = "SHIPPER"
	RoleDriver  Role = "DRIVER"
)

type User struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	Password_Hash string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}
