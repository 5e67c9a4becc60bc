package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/matchbox-io/matchbox/pkg/game"
)

type roomRow struct {
	RoomID   string `gorm:"primaryKey;column:room_id"`
	GameName string `gorm:"column:game_name;index"`
	State    []byte `gorm:"column:state;type:jsonb"`
	Metadata []byte `gorm:"column:metadata;type:jsonb"`
}

func (roomRow) TableName() string { return "rooms" }

// Postgres backs the store with a shared database, for deployments running
// more than one lobby process against the same room space.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&roomRow{}); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) CreateGame(ctx context.Context, roomID string, state game.State, metadata Metadata) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	row := roomRow{RoomID: roomID, GameName: metadata.GameName, State: stateJSON, Metadata: metaJSON}
	return p.db.WithContext(ctx).Save(&row).Error
}

func (p *Postgres) FetchState(ctx context.Context, roomID string) (game.State, error) {
	var row roomRow
	err := p.db.WithContext(ctx).First(&row, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.State{}, ErrNotFound
	}
	if err != nil {
		return game.State{}, err
	}
	var st game.State
	if err := json.Unmarshal(row.State, &st); err != nil {
		return game.State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func (p *Postgres) WriteState(ctx context.Context, roomID string, state game.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	res := p.db.WithContext(ctx).Model(&roomRow{}).
		Where("room_id = ?", roomID).
		Update("state", stateJSON)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) FetchMetadata(ctx context.Context, roomID string) (Metadata, error) {
	var row roomRow
	err := p.db.WithContext(ctx).First(&row, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(row.Metadata, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func (p *Postgres) WriteMetadata(ctx context.Context, roomID string, metadata Metadata) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res := p.db.WithContext(ctx).Model(&roomRow{}).
		Where("room_id = ?", roomID).
		Updates(map[string]any{"metadata": metaJSON, "game_name": metadata.GameName})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListRooms(ctx context.Context, gameName string) ([]string, error) {
	var ids []string
	err := p.db.WithContext(ctx).Model(&roomRow{}).
		Where("game_name = ?", gameName).
		Order("room_id").
		Pluck("room_id", &ids).Error
	return ids, err
}

func (p *Postgres) Wipe(ctx context.Context, roomID string) error {
	return p.db.WithContext(ctx).Delete(&roomRow{}, "room_id = ?", roomID).Error
}

func (p *Postgres) Close() error {
	db, err := p.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
