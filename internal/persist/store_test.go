package persist

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStore_ServerRoundTrip(t *testing.T) {
	s := testStore(t)

	props := map[property.ServerKey]property.Value{
		property.ServerName:       property.String("main"),
		property.ServerMaxClients: property.Int(64),
	}
	if err := s.SaveServer(1, "main", props); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Saving again updates in place.
	props[property.ServerMaxClients] = property.Int(128)
	if err := s.SaveServer(1, "main", props); err != nil {
		t.Fatalf("resave: %v", err)
	}

	loaded, err := s.LoadServer(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	max, err := loaded[property.ServerMaxClients].AsInt()
	if err != nil || max != 128 {
		t.Errorf("max clients = %d (%v)", max, err)
	}
	name, _ := loaded[property.ServerName].AsString()
	if name != "main" {
		t.Errorf("name = %q", name)
	}

	if _, err := s.LoadServer(99); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("missing server: %v", err)
	}
}

func TestStore_ChannelTreeRoundTrip(t *testing.T) {
	s := testStore(t)

	root := map[property.ChannelKey]property.Value{
		property.ChannelName: property.String("lobby"),
	}
	child := map[property.ChannelKey]property.Value{
		property.ChannelName:  property.String("afk"),
		property.ChannelTopic: property.String("idle here"),
	}
	if err := s.SaveChannel(1, 10, 0, root); err != nil {
		t.Fatalf("save root: %v", err)
	}
	if err := s.SaveChannel(1, 11, 10, child); err != nil {
		t.Fatalf("save child: %v", err)
	}
	if err := s.SaveChannel(2, 20, 0, root); err != nil {
		t.Fatalf("save other server: %v", err)
	}

	channels, err := s.LoadChannels(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}
	if channels[0].ID != 10 || channels[1].ID != 11 || channels[1].Parent != 10 {
		t.Errorf("tree order broken: %+v", channels)
	}
	topic, _ := channels[1].Props[property.ChannelTopic].AsString()
	if topic != "idle here" {
		t.Errorf("topic = %q", topic)
	}
}

func TestStore_SameChannelIDOnTwoServers(t *testing.T) {
	s := testStore(t)

	if err := s.SaveChannel(1, 1, 0, map[property.ChannelKey]property.Value{
		property.ChannelName: property.String("first lobby"),
	}); err != nil {
		t.Fatalf("save server 1: %v", err)
	}
	if err := s.SaveChannel(2, 1, 0, map[property.ChannelKey]property.Value{
		property.ChannelName: property.String("second lobby"),
	}); err != nil {
		t.Fatalf("save server 2: %v", err)
	}

	channels, err := s.LoadChannels(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("server 1 channels = %d, want 1", len(channels))
	}
	name, _ := channels[0].Props[property.ChannelName].AsString()
	if name != "first lobby" {
		t.Errorf("server 1 channel name = %q", name)
	}

	// Deleting on one server leaves the other's row alone.
	if err := s.DeleteChannel(2, 1); err != nil {
		t.Fatalf("delete on server 2: %v", err)
	}
	channels, _ = s.LoadChannels(1)
	if len(channels) != 1 {
		t.Errorf("server 1 lost its channel: %+v", channels)
	}
}

func TestStore_Deletes(t *testing.T) {
	s := testStore(t)

	props := map[property.ChannelKey]property.Value{
		property.ChannelName: property.String("x"),
	}
	s.SaveServer(1, "main", nil)
	s.SaveChannel(1, 10, 0, props)
	s.SaveChannel(1, 11, 10, props)

	if err := s.DeleteChannel(1, 11); err != nil {
		t.Fatalf("delete channel: %v", err)
	}
	if err := s.DeleteChannel(1, 11); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("double delete: %v", err)
	}

	if err := s.DeleteServer(1); err != nil {
		t.Fatalf("delete server: %v", err)
	}
	if _, err := s.LoadServer(1); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("server survived: %v", err)
	}
	channels, _ := s.LoadChannels(1)
	if len(channels) != 0 {
		t.Errorf("channels survived: %+v", channels)
	}
}
