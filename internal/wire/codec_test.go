package wire

import (
	"testing"

	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	env, err := New(TypeClientMove, ClientMove{
		Token:   "m1",
		Targets: []shared.ClientID{7},
		Channel: 2,
	})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	codec := NewCodec(nil, nil)
	data, err := codec.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	back, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.T != TypeClientMove {
		t.Errorf("expected %s, got %s", TypeClientMove, back.T)
	}

	var move ClientMove
	if err := back.Decode(&move); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if move.Token != "m1" || move.Channel != 2 || len(move.Targets) != 1 {
		t.Errorf("payload mangled: %+v", move)
	}
}

func TestEnvelope_PropertyValuesSurvive(t *testing.T) {
	env, err := New(TypeFlushChannel, FlushChannel{
		Channel: 4,
		Values: map[property.ChannelKey]property.Value{
			property.ChannelName:       property.String("lobby"),
			property.ChannelMaxClients: property.Int(16),
			property.ChannelOrder:      property.Uint64(3),
		},
	})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	codec := NewCodec(nil, nil)
	data, _ := codec.Marshal(env)
	back, _ := codec.Unmarshal(data)

	var flush FlushChannel
	if err := back.Decode(&flush); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	name, err := flush.Values[property.ChannelName].AsString()
	if err != nil || name != "lobby" {
		t.Errorf("string value lost: %q (%v)", name, err)
	}
	maxClients, err := flush.Values[property.ChannelMaxClients].AsInt()
	if err != nil || maxClients != 16 {
		t.Errorf("int value lost: %d (%v)", maxClients, err)
	}
	order, err := flush.Values[property.ChannelOrder].AsUint64()
	if err != nil || order != 3 {
		t.Errorf("uint64 value lost: %d (%v)", order, err)
	}
}

func TestCodec_PacketHooks(t *testing.T) {
	xor := func(data []byte) []byte {
		out := make([]byte, len(data))
		for i, b := range data {
			out[i] = b ^ 0x5a
		}
		return out
	}

	codec := NewCodec(
		func(data []byte) []byte { return xor(data) },
		func(data []byte) ([]byte, error) { return xor(data), nil },
	)

	env, _ := New(TypeReply, Reply{Token: "m1", Code: shared.CodeOK})
	data, err := codec.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	// A plain codec must not understand the transformed bytes.
	if _, err := NewCodec(nil, nil).Unmarshal(data); err == nil {
		t.Error("encrypted packet should not parse without the hook")
	}

	back, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	var reply Reply
	if err := back.Decode(&reply); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if reply.Token != "m1" {
		t.Errorf("payload mangled: %+v", reply)
	}
}
