package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode_Error(t *testing.T) {
	if CodeOK.Error() != "ok" {
		t.Errorf("expected 'ok', got %q", CodeOK.Error())
	}
	if CodeTypeMismatch.Error() != "property type mismatch" {
		t.Errorf("unexpected message: %q", CodeTypeMismatch.Error())
	}
}

func TestCode_UnknownMessage(t *testing.T) {
	c := Code(9999)
	if c.Message() != "undefined error" {
		t.Errorf("unknown code should map to undefined, got %q", c.Message())
	}
}

func TestCode_Err(t *testing.T) {
	if CodeOK.Err() != nil {
		t.Error("CodeOK.Err() should be nil")
	}
	if CodeNotFound.Err() == nil {
		t.Error("CodeNotFound.Err() should be non-nil")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != CodeOK {
		t.Errorf("expected CodeOK, got %v", got)
	}
	if got := CodeOf(CodeReadOnly); got != CodeReadOnly {
		t.Errorf("expected CodeReadOnly, got %v", got)
	}
	wrapped := fmt.Errorf("stage edit: %w", CodeTypeMismatch)
	if got := CodeOf(wrapped); got != CodeTypeMismatch {
		t.Errorf("expected CodeTypeMismatch through wrap, got %v", got)
	}
	if got := CodeOf(errors.New("boom")); got != CodeUndefined {
		t.Errorf("expected CodeUndefined, got %v", got)
	}
}

func TestSentinels(t *testing.T) {
	err := fmt.Errorf("get channel: %w", CodeNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is should match ErrNotFound")
	}
	if errors.Is(err, ErrTypeMismatch) {
		t.Error("errors.Is should not match ErrTypeMismatch")
	}
}

func TestNewToken(t *testing.T) {
	a := NewToken()
	b := NewToken()
	if a == b {
		t.Error("tokens should be unique")
	}
	if len(a) != 35 {
		t.Errorf("expected 35 chars, got %d", len(a))
	}
}
