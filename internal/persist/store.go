package persist

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
)

// Store persists virtual-server and channel snapshots so a restarted
// server comes back with its channel tree intact.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "persist"),
	}
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&ServerRecord{}, &ChannelRecord{}); err != nil {
		return fmt.Errorf("migrate snapshot tables: %w", err)
	}
	return nil
}

func (s *Store) SaveServer(id shared.ServerID, name string, props map[property.ServerKey]property.Value) error {
	encoded, err := encodeProps(props)
	if err != nil {
		return err
	}
	record := ServerRecord{ID: uint64(id), Name: name, Props: encoded}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
		return fmt.Errorf("save server %d: %w", id, err)
	}
	return nil
}

func (s *Store) LoadServer(id shared.ServerID) (map[property.ServerKey]property.Value, error) {
	var record ServerRecord
	if err := s.db.First(&record, "id = ?", uint64(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("load server %d: %w", id, err)
	}
	return decodeProps[property.ServerKey](record.Props)
}

func (s *Store) SaveChannel(server shared.ServerID, id, parent shared.ChannelID, props map[property.ChannelKey]property.Value) error {
	encoded, err := encodeProps(props)
	if err != nil {
		return err
	}
	name := ""
	if v, ok := props[property.ChannelName]; ok {
		name, _ = v.AsString()
	}
	record := ChannelRecord{
		ID:       uint64(id),
		ServerID: uint64(server),
		ParentID: uint64(parent),
		Name:     name,
		Props:    encoded,
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
		return fmt.Errorf("save channel %d: %w", id, err)
	}
	return nil
}

// LoadChannels returns every channel of a server. IDs are assigned in
// creation order, so ascending ID puts parents before children and the
// tree rebuilds in one pass.
func (s *Store) LoadChannels(server shared.ServerID) ([]ChannelSnapshot, error) {
	var records []ChannelRecord
	if err := s.db.Where("server_id = ?", uint64(server)).Order("id asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load channels of server %d: %w", server, err)
	}

	out := make([]ChannelSnapshot, 0, len(records))
	for _, r := range records {
		props, err := decodeProps[property.ChannelKey](r.Props)
		if err != nil {
			return nil, err
		}
		out = append(out, ChannelSnapshot{
			ID:     shared.ChannelID(r.ID),
			Parent: shared.ChannelID(r.ParentID),
			Props:  props,
		})
	}
	return out, nil
}

func (s *Store) DeleteChannel(server shared.ServerID, id shared.ChannelID) error {
	result := s.db.Delete(&ChannelRecord{}, "server_id = ? AND id = ?", uint64(server), uint64(id))
	if result.Error != nil {
		return fmt.Errorf("delete channel %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteServer removes a server snapshot and all of its channels.
func (s *Store) DeleteServer(id shared.ServerID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChannelRecord{}, "server_id = ?", uint64(id)).Error; err != nil {
			return fmt.Errorf("delete channels of server %d: %w", id, err)
		}
		if err := tx.Delete(&ServerRecord{}, "id = ?", uint64(id)).Error; err != nil {
			return fmt.Errorf("delete server %d: %w", id, err)
		}
		return nil
	})
}
