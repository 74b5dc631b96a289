package repositories

import (
	"context"

	"keycabinet/internal/adapters/persistence/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyRepository handles the key/room registry
type KeyRepository struct {
	db *gorm.DB
}

// NewKeyRepository creates a new key repository
func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// ============================================================
// Room Queries
// ============================================================

// GetRoomByCode returns a room by code
func (r *KeyRepository) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&room).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// ListActiveRooms returns all active rooms
func (r *KeyRepository) ListActiveRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("code ASC").Find(&rooms).Error
	return rooms, err
}

// CreateRoom creates a room
func (r *KeyRepository) CreateRoom(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

// ============================================================
// Key Queries
// ============================================================

// Create creates a key
func (r *KeyRepository) Create(ctx context.Context, key *models.Key) error {
	return r.db.WithContext(ctx).Create(key).Error
}

// GetByID returns a key by ID
func (r *KeyRepository) GetByID(ctx context.Context, id uint) (*models.Key, error) {
	var key models.Key
	err := r.db.WithContext(ctx).First(&key, id).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// LockByID reads a key row with FOR UPDATE
func (r *KeyRepository) LockByID(ctx context.Context, id uint) (*models.Key, error) {
	var key models.Key
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&key, id).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListActiveByRoom returns the active keys serving a room, lowest slot first
func (r *KeyRepository) ListActiveByRoom(ctx context.Context, roomCode string) ([]models.Key, error) {
	var keys []models.Key
	err := r.db.WithContext(ctx).
		Where("room_code = ? AND is_active = ?", roomCode, true).
		Order("slot_number ASC").
		Find(&keys).Error
	return keys, err
}

// ListActive returns all active keys
func (r *KeyRepository) ListActive(ctx context.Context) ([]models.Key, error) {
	var keys []models.Key
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("room_code ASC, slot_number ASC").
		Find(&keys).Error
	return keys, err
}
