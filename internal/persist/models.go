package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
)

// ServerRecord is the durable snapshot of one virtual server's
// properties.
type ServerRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement:false"`
	Name      string `gorm:"index"`
	Props     string
	UpdatedAt time.Time
}

func (ServerRecord) TableName() string { return "servers" }

// ChannelRecord is the durable snapshot of one channel. Channel IDs are
// assigned per virtual server, so rows key on (server, channel).
type ChannelRecord struct {
	ServerID  uint64 `gorm:"primaryKey;autoIncrement:false"`
	ID        uint64 `gorm:"primaryKey;autoIncrement:false"`
	ParentID  uint64
	Name      string
	Props     string
	UpdatedAt time.Time
}

func (ChannelRecord) TableName() string { return "channels" }

// ChannelSnapshot is a decoded channel row.
type ChannelSnapshot struct {
	ID     shared.ChannelID
	Parent shared.ChannelID
	Props  map[property.ChannelKey]property.Value
}

func encodeProps[K comparable](props map[K]property.Value) (string, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(raw), nil
}

func decodeProps[K comparable](raw string) (map[K]property.Value, error) {
	if raw == "" {
		return map[K]property.Value{}, nil
	}
	var props map[K]property.Value
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return props, nil
}
