package entity

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
)

func testStore() *Store {
	return NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStore_ChannelLifecycle(t *testing.T) {
	s := testStore()

	s.CreateChannel(1, 0)
	if !s.HasChannel(1) {
		t.Fatal("channel should exist")
	}

	err := s.ApplyChannelUpdate(1, map[property.ChannelKey]property.Value{
		property.ChannelName:       property.String("lobby"),
		property.ChannelMaxClients: property.Int(32),
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	name, err := s.ChannelString(1, property.ChannelName)
	if err != nil || name != "lobby" {
		t.Errorf("expected 'lobby', got %q (%v)", name, err)
	}
	maxClients, err := s.ChannelInt(1, property.ChannelMaxClients)
	if err != nil || maxClients != 32 {
		t.Errorf("expected 32, got %d (%v)", maxClients, err)
	}

	if err := s.DestroyChannel(1); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}

	// Destroyed IDs fail fast, never return cached data.
	if _, err := s.ChannelString(1, property.ChannelName); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("destroyed channel must be not-found, got %v", err)
	}
	if err := s.DestroyChannel(1); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("double destroy must be not-found, got %v", err)
	}
}

func TestStore_TypeMismatchOnWrongAccessor(t *testing.T) {
	s := testStore()
	s.CreateChannel(1, 0)
	_ = s.ApplyChannelUpdate(1, map[property.ChannelKey]property.Value{
		property.ChannelName: property.String("lobby"),
	})

	if _, err := s.ChannelInt(1, property.ChannelName); !errors.Is(err, shared.ErrTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", err)
	}
	if _, err := s.ChannelUint64(1, property.ChannelName); !errors.Is(err, shared.ErrTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", err)
	}
}

func TestStore_ClientLifecycle(t *testing.T) {
	s := testStore()
	s.CreateChannel(1, 0)
	s.CreateChannel(2, 0)
	s.CreateClient(10, 1)

	ch, err := s.ClientChannel(10)
	if err != nil || ch != 1 {
		t.Fatalf("expected channel 1, got %d (%v)", ch, err)
	}

	if err := s.MoveClient(10, 2); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	ch, _ = s.ClientChannel(10)
	if ch != 2 {
		t.Errorf("expected channel 2, got %d", ch)
	}

	got := s.ChannelClients(2)
	if len(got) != 1 || got[0] != 10 {
		t.Errorf("expected client 10 in channel 2, got %v", got)
	}

	if err := s.DestroyClient(10); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if _, err := s.ClientChannel(10); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("destroyed client must be not-found, got %v", err)
	}
}

func TestStore_ProvisionalChannel(t *testing.T) {
	s := testStore()

	prov, err := s.CreateProvisionalChannel(0, map[property.ChannelKey]property.Value{
		property.ChannelName: property.String("new room"),
	})
	if err != nil {
		t.Fatalf("provisional create failed: %v", err)
	}
	if prov < provisionalBase {
		t.Errorf("provisional ID %d must be outside the server range", prov)
	}
	if !s.ChannelProvisional(prov) {
		t.Error("channel should be marked provisional")
	}

	// Server confirms with its own ID.
	if err := s.PromoteChannel(prov, 42); err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	if s.HasChannel(prov) {
		t.Error("provisional ID must be stale after promotion")
	}
	name, err := s.ChannelString(42, property.ChannelName)
	if err != nil || name != "new room" {
		t.Errorf("confirmed channel lost properties: %q (%v)", name, err)
	}
	if s.ChannelProvisional(42) {
		t.Error("confirmed channel must not be provisional")
	}
}

func TestStore_ProvisionalRollback(t *testing.T) {
	s := testStore()

	prov, _ := s.CreateProvisionalChannel(0, nil)
	if err := s.RollbackChannel(prov); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if s.HasChannel(prov) {
		t.Error("rolled back channel must be gone")
	}

	// Confirmed channels cannot be rolled back through this path.
	s.CreateChannel(7, 0)
	if err := s.RollbackChannel(7); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("rollback of confirmed channel must fail, got %v", err)
	}
}

func TestStore_UpdateUnknownEntity(t *testing.T) {
	s := testStore()
	err := s.ApplyChannelUpdate(99, map[property.ChannelKey]property.Value{
		property.ChannelName: property.String("x"),
	})
	if !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	err = s.ApplyClientUpdate(99, map[property.ClientKey]property.Value{
		property.ClientNickname: property.String("x"),
	})
	if !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStore_ServerProperties(t *testing.T) {
	s := testStore()
	err := s.ApplyServerUpdate(map[property.ServerKey]property.Value{
		property.ServerName:       property.String("main"),
		property.ServerMaxClients: property.Int(128),
		property.ServerCreated:    property.Uint64(1700000000),
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	name, _ := s.ServerString(property.ServerName)
	if name != "main" {
		t.Errorf("expected 'main', got %q", name)
	}
	created, _ := s.ServerUint64(property.ServerCreated)
	if created != 1700000000 {
		t.Errorf("expected creation stamp, got %d", created)
	}
	if _, err := s.ServerInt(property.ServerName); !errors.Is(err, shared.ErrTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", err)
	}
}

func TestStore_Reset(t *testing.T) {
	s := testStore()
	s.CreateChannel(1, 0)
	s.CreateClient(5, 1)
	s.SetSelf(5)

	s.Reset()

	if s.HasChannel(1) || s.HasClient(5) || s.Self() != 0 {
		t.Error("reset must drop all entities")
	}
}
