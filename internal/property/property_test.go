package property

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/accordvoice/accord/internal/shared"
)

func TestValue_TypedAccess(t *testing.T) {
	v := Int(42)
	got, err := v.AsInt()
	if err != nil {
		t.Fatalf("AsInt failed: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	if _, err := v.AsString(); !errors.Is(err, shared.ErrTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", err)
	}
	if _, err := v.AsUint64(); !errors.Is(err, shared.ErrTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", err)
	}
}

func TestValue_Zero(t *testing.T) {
	var v Value
	if !v.Zero() {
		t.Error("unset value should be zero")
	}
	if String("").Zero() {
		t.Error("set value should not be zero")
	}
}

func TestValue_JSONRoundTrip(t *testing.T) {
	for _, v := range []Value{Int(-7), Uint64(1 << 40), String("lobby")} {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back Value
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !back.Equal(v) {
			t.Errorf("round trip changed value: %v != %v", back, v)
		}
	}
}

func TestKeys_CanonicalKinds(t *testing.T) {
	if ClientNickname.Kind() != KindString {
		t.Error("client_nickname should be a string key")
	}
	if ClientFlagTalking.Kind() != KindInt {
		t.Error("client_flag_talking should be an int key")
	}
	if ChannelOrder.Kind() != KindUint64 {
		t.Error("channel_order should be a uint64 key")
	}
	if ServerCreated.Kind() != KindUint64 {
		t.Error("virtualserver_created should be a uint64 key")
	}
}

func TestKeys_ReadOnly(t *testing.T) {
	if !ClientFlagTalking.ReadOnly() {
		t.Error("talk flag must be read-only")
	}
	if ClientNickname.ReadOnly() {
		t.Error("nickname must be writable")
	}
	if !ChannelFlagPassword.ReadOnly() {
		t.Error("channel_flag_password is derived, must be read-only")
	}
	if !ServerUptime.ReadOnly() {
		t.Error("uptime must be read-only")
	}
}

func TestTable_GetSet(t *testing.T) {
	tbl := NewTable[ChannelKey]()

	if _, err := tbl.Get(ChannelName); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	if err := tbl.Set(ChannelName, String("lobby")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	v, err := tbl.Get(ChannelName)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if s, _ := v.AsString(); s != "lobby" {
		t.Errorf("expected 'lobby', got %q", s)
	}
}

func TestTable_KindEnforced(t *testing.T) {
	tbl := NewTable[ChannelKey]()
	if err := tbl.Set(ChannelMaxClients, String("ten")); !errors.Is(err, shared.ErrTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", err)
	}
	if tbl.Len() != 0 {
		t.Error("failed set must not store anything")
	}
}

func TestTable_ApplyAllOrNothing(t *testing.T) {
	tbl := NewTable[ChannelKey]()
	err := tbl.Apply(map[ChannelKey]Value{
		ChannelName:       String("lobby"),
		ChannelMaxClients: String("not-an-int"),
	})
	if !errors.Is(err, shared.ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	if tbl.Len() != 0 {
		t.Error("failed apply must not partially commit")
	}

	err = tbl.Apply(map[ChannelKey]Value{
		ChannelName:       String("lobby"),
		ChannelMaxClients: Int(16),
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if tbl.Len() != 2 {
		t.Errorf("expected 2 values, got %d", tbl.Len())
	}
}

func TestTable_SnapshotIsCopy(t *testing.T) {
	tbl := NewTable[ClientKey]()
	_ = tbl.Set(ClientNickname, String("alice"))

	snap := tbl.Snapshot()
	snap[ClientNickname] = String("mallory")

	v, _ := tbl.Get(ClientNickname)
	if s, _ := v.AsString(); s != "alice" {
		t.Error("snapshot mutation leaked into table")
	}
}
