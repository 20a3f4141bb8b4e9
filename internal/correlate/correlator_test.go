package correlate

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/accordvoice/accord/internal/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCorrelator_IssueResolve(t *testing.T) {
	c := New(testLogger())

	p, err := c.Issue("m1")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if !c.Resolve("m1", Outcome{Code: shared.CodeOK}) {
		t.Fatal("resolve should match pending request")
	}

	select {
	case out := <-p.Done():
		if out.Code != shared.CodeOK {
			t.Errorf("expected ok, got %v", out.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("outcome never delivered")
	}

	if c.PendingCount() != 0 {
		t.Error("resolved token should be released")
	}
}

func TestCorrelator_EmptyTokenFireAndForget(t *testing.T) {
	c := New(testLogger())

	p, err := c.Issue("")
	if err != nil {
		t.Fatalf("empty token must be accepted: %v", err)
	}
	if p != nil {
		t.Error("empty token should not create a handle")
	}
	if c.Resolve("", Outcome{Code: shared.CodeOK}) {
		t.Error("empty-token reply must not match anything")
	}
}

func TestCorrelator_OutOfOrderResolution(t *testing.T) {
	c := New(testLogger())

	a, _ := c.Issue("a")
	b, _ := c.Issue("b")

	// Network reordering: reply B arrives first.
	c.Resolve("b", Outcome{Code: shared.CodePermissionDenied})
	c.Resolve("a", Outcome{Code: shared.CodeOK})

	outB := <-b.Done()
	outA := <-a.Done()

	if outB.Code != shared.CodePermissionDenied {
		t.Errorf("request b got %v", outB.Code)
	}
	if outA.Code != shared.CodeOK {
		t.Errorf("request a got %v", outA.Code)
	}
}

func TestCorrelator_TokenReuseRejected(t *testing.T) {
	c := New(testLogger())

	if _, err := c.Issue("dup"); err != nil {
		t.Fatalf("first issue failed: %v", err)
	}
	if _, err := c.Issue("dup"); !errors.Is(err, shared.ErrTokenInUse) {
		t.Errorf("expected token-in-use, got %v", err)
	}

	// After resolution the token is free again.
	c.Resolve("dup", Outcome{Code: shared.CodeOK})
	if _, err := c.Issue("dup"); err != nil {
		t.Errorf("token should be reusable after resolve: %v", err)
	}
}

func TestCorrelator_UnknownTokenNotMatched(t *testing.T) {
	c := New(testLogger())
	if c.Resolve("ghost", Outcome{Code: shared.CodeOK}) {
		t.Error("unknown token must not match")
	}
}

func TestCorrelator_FailAll(t *testing.T) {
	c := New(testLogger())

	a, _ := c.Issue("a")
	b, _ := c.Issue("b")

	c.FailAll(shared.CodeConnectionLost)

	for _, p := range []*Pending{a, b} {
		select {
		case out := <-p.Done():
			if out.Code != shared.CodeConnectionLost {
				t.Errorf("expected connection lost, got %v", out.Code)
			}
		case <-time.After(time.Second):
			t.Fatal("FailAll must resolve every pending request")
		}
	}

	if c.PendingCount() != 0 {
		t.Error("no requests should remain pending")
	}
}

func TestCorrelator_Abandon(t *testing.T) {
	c := New(testLogger())
	_, _ = c.Issue("x")
	c.Abandon("x")
	if c.PendingCount() != 0 {
		t.Error("abandoned token should be released")
	}
	if c.Resolve("x", Outcome{}) {
		t.Error("abandoned token must not match")
	}
}
