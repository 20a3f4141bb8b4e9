package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope frames one application message.
type Envelope struct {
	T Type            `json:"t"`
	P json.RawMessage `json:"p,omitempty"`
}

// New wraps a payload. Payload types in this package always marshal.
func New(t Type, payload any) (*Envelope, error) {
	if payload == nil {
		return &Envelope{T: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Envelope{T: t, P: raw}, nil
}

// Decode unmarshals the payload into a typed struct.
func (e *Envelope) Decode(into any) error {
	if err := json.Unmarshal(e.P, into); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.T, err)
	}
	return nil
}

// EncryptHook transforms serialized bytes just before they reach the
// transport; DecryptHook reverses it on the way in. Both default to
// identity.
type (
	EncryptHook func([]byte) []byte
	DecryptHook func([]byte) ([]byte, error)
)

// Codec serializes envelopes and applies the custom packet hooks.
type Codec struct {
	encrypt EncryptHook
	decrypt DecryptHook
}

func NewCodec(encrypt EncryptHook, decrypt DecryptHook) *Codec {
	return &Codec{encrypt: encrypt, decrypt: decrypt}
}

func (c *Codec) Marshal(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if c.encrypt != nil {
		data = c.encrypt(data)
	}
	return data, nil
}

func (c *Codec) Unmarshal(data []byte) (*Envelope, error) {
	if c.decrypt != nil {
		var err error
		data, err = c.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt packet: %w", err)
		}
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &e, nil
}
