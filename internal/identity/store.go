// Package identity keeps the local device identity stable across restarts.
// Only the identity is stored; sessions are never persisted.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Device struct {
	ID        uint   `gorm:"primaryKey"`
	PeerID    string `gorm:"uniqueIndex;not null"`
	Name      string
	CreatedAt int64
}

type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}

	if err := db.AutoMigrate(&Device{}); err != nil {
		return nil, fmt.Errorf("migrating identity store: %w", err)
	}
	return &Store{db: db}, nil
}

// GetOrCreate returns the stored identity, creating one named name on first
// use. A different name updates the stored one; the id never changes.
func (s *Store) GetOrCreate(ctx context.Context, name string) (peer.Info, error) {
	var dev Device
	err := s.db.WithContext(ctx).Order("id").First(&dev).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		dev = Device{
			PeerID:    uuid.NewString(),
			Name:      name,
			CreatedAt: time.Now().Unix(),
		}
		if err := s.db.WithContext(ctx).Create(&dev).Error; err != nil {
			return peer.Info{}, fmt.Errorf("creating identity: %w", err)
		}
	case err != nil:
		return peer.Info{}, fmt.Errorf("loading identity: %w", err)
	case name != "" && dev.Name != name:
		dev.Name = name
		if err := s.db.WithContext(ctx).Model(&dev).Update("name", name).Error; err != nil {
			return peer.Info{}, fmt.Errorf("renaming identity: %w", err)
		}
	}

	return peer.Info{ID: peer.ID(dev.PeerID), Name: dev.Name}, nil
}

// Reset forgets the stored identity so the next GetOrCreate mints a new id.
func (s *Store) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&Device{}).Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ephemeral returns a fresh identity that is not stored anywhere.
func Ephemeral(name string) peer.Info {
	return peer.Info{ID: peer.ID(uuid.NewString()), Name: name}
}
