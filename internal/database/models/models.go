// Package models contains the database model definitions.
package models

import (
	"time"
)

// Well-known NV block keys.
const (
	// NVKeyDriver holds the driver's country code and tx power record.
	NVKeyDriver = "driver"
	// NVKeyAPProfile holds the yaml of the last AP configuration started.
	NVKeyAPProfile = "ap_profile"
)

// NVBlock is one named block of persistent storage.
// Table: nv_blocks
type NVBlock struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex"`
	Data      []byte    `gorm:"column:data"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the table name.
func (NVBlock) TableName() string { return "nv_blocks" }

// All lists every model for migration.
func All() []any {
	return []any{&NVBlock{}}
}
