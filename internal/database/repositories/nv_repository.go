// Package repositories provides data access for the persistent store.
package repositories

import (
	"context"
	"errors"

	"github.com/bbernstein/lacylights-wifi/internal/database/models"
	"github.com/lucsky/cuid"
	"gorm.io/gorm"
)

// NVRepository stores one named NV block. It satisfies wifi.NVStore.
type NVRepository struct {
	db  *gorm.DB
	key string
}

// NewNVRepository creates a repository for the block named key.
func NewNVRepository(db *gorm.DB, key string) *NVRepository {
	return &NVRepository{db: db, key: key}
}

// Key returns the block name.
func (r *NVRepository) Key() string {
	return r.key
}

// Read returns the block contents, or nil when it was never written.
func (r *NVRepository) Read(ctx context.Context) ([]byte, error) {
	var block models.NVBlock
	result := r.db.WithContext(ctx).First(&block, "key = ?", r.key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return block.Data, nil
}

// Write replaces the block contents, creating the block if needed. The read
// and the write happen in one transaction.
func (r *NVRepository) Write(ctx context.Context, data []byte) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var block models.NVBlock
		result := tx.First(&block, "key = ?", r.key)

		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			block = models.NVBlock{
				ID:   cuid.New(),
				Key:  r.key,
				Data: append([]byte(nil), data...),
			}
			return tx.Create(&block).Error
		} else if result.Error != nil {
			return result.Error
		}

		block.Data = append([]byte(nil), data...)
		return tx.Save(&block).Error
	})
}

// Erase deletes the block. Erasing a missing block succeeds.
func (r *NVRepository) Erase(ctx context.Context) error {
	return r.db.WithContext(ctx).Delete(&models.NVBlock{}, "key = ?", r.key).Error
}
