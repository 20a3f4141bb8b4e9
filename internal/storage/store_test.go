package storage

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func put(t *testing.T, s *Store, ch shared.ChannelID, dir, name, data string) {
	t.Helper()
	w, _, err := s.OpenWrite(ch, dir, name, false, true)
	if err != nil {
		t.Fatalf("open write %s: %v", name, err)
	}
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	w.Close()
	if err := s.Finish(ch, dir, name, true); err != nil {
		t.Fatalf("finish %s: %v", name, err)
	}
}

func TestStore_PathTraversalRejected(t *testing.T) {
	s := testStore(t)

	bad := []string{"", "relative", "/../escape", "/a/../../b", "/a\\b"}
	for _, p := range bad {
		if _, err := s.List(1, p); !errors.Is(err, shared.CodeInvalidPath) {
			t.Errorf("path %q: expected invalid path, got %v", p, err)
		}
	}
}

func TestStore_ListNonRecursive(t *testing.T) {
	s := testStore(t)

	if err := s.CreateDir(5, "/", "sub"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	put(t, s, 5, "/", "a.txt", "aaa")
	put(t, s, 5, "/sub", "nested.txt", "nnn")

	entries, err := s.List(5, "/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		switch e.Name {
		case "a.txt":
			if e.Type != wire.EntryTypeFile || e.Size != 3 {
				t.Errorf("a.txt: %+v", e)
			}
		case "sub":
			if e.Type != wire.EntryTypeDirectory {
				t.Errorf("sub should be a directory: %+v", e)
			}
		default:
			t.Errorf("unexpected entry %q", e.Name)
		}
	}
}

func TestStore_ChannelsIsolated(t *testing.T) {
	s := testStore(t)
	put(t, s, 1, "/", "secret.txt", "data")

	if _, err := s.Info(2, "/", "secret.txt"); !errors.Is(err, shared.CodeFileNotFound) {
		t.Errorf("expected not found across channels, got %v", err)
	}
}

func TestStore_UploadResume(t *testing.T) {
	s := testStore(t)

	w, offset, err := s.OpenWrite(3, "/", "big.bin", false, true)
	if err != nil {
		t.Fatalf("open write: %v", err)
	}
	if offset != 0 {
		t.Fatalf("fresh upload offset = %d", offset)
	}
	w.Write([]byte("first"))
	w.Close()

	// Interrupted: no Finish. The partial must be visible in listings
	// and resumable at its current size.
	entries, err := s.List(3, "/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "big.bin" || entries[0].Partial != 5 {
		t.Fatalf("partial not listed: %+v", entries)
	}
	if got := s.PartialSize(3, "/", "big.bin"); got != 5 {
		t.Fatalf("partial size = %d", got)
	}

	w, offset, err = s.OpenWrite(3, "/", "big.bin", true, true)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if offset != 5 {
		t.Fatalf("resume offset = %d", offset)
	}
	w.Write([]byte("second"))
	w.Close()
	if err := s.Finish(3, "/", "big.bin", true); err != nil {
		t.Fatalf("finish: %v", err)
	}

	r, size, err := s.OpenRead(3, "/", "big.bin", 0)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	defer r.Close()
	if size != 11 {
		t.Errorf("size = %d", size)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "firstsecond" {
		t.Errorf("content = %q", data)
	}
}

func TestStore_DownloadOffset(t *testing.T) {
	s := testStore(t)
	put(t, s, 1, "/", "f.txt", "0123456789")

	r, size, err := s.OpenRead(1, "/", "f.txt", 4)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	defer r.Close()
	if size != 10 {
		t.Errorf("size = %d", size)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "456789" {
		t.Errorf("content = %q", data)
	}

	if _, _, err := s.OpenRead(1, "/", "f.txt", 11); !errors.Is(err, shared.CodeInvalidArgument) {
		t.Errorf("offset past end should fail, got %v", err)
	}
}

func TestStore_OverwriteGuards(t *testing.T) {
	s := testStore(t)
	put(t, s, 1, "/", "f.txt", "old")

	if _, _, err := s.OpenWrite(1, "/", "f.txt", false, false); !errors.Is(err, shared.CodeFileAlreadyExists) {
		t.Errorf("expected already exists, got %v", err)
	}
	if err := s.CreateDir(1, "/", "f.txt"); !errors.Is(err, shared.CodeFileAlreadyExists) {
		t.Errorf("mkdir over file: %v", err)
	}
}

func TestStore_RenameAndDelete(t *testing.T) {
	s := testStore(t)
	put(t, s, 1, "/", "a.txt", "x")

	if err := s.Rename(1, "/a.txt", 1, "/b.txt"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := s.Info(1, "/", "a.txt"); !errors.Is(err, shared.CodeFileNotFound) {
		t.Errorf("old name survived: %v", err)
	}
	if _, err := s.Info(1, "/", "b.txt"); err != nil {
		t.Errorf("new name missing: %v", err)
	}

	// Move across channels.
	if err := s.Rename(1, "/b.txt", 2, "/moved.txt"); err != nil {
		t.Fatalf("cross-channel rename: %v", err)
	}
	if _, err := s.Info(2, "/", "moved.txt"); err != nil {
		t.Errorf("cross-channel target missing: %v", err)
	}

	if err := s.Delete(2, "/", "moved.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(2, "/", "moved.txt"); !errors.Is(err, shared.CodeFileNotFound) {
		t.Errorf("double delete: %v", err)
	}
}

func TestStore_RewriteHook(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStore(t.TempDir(), func(channel shared.ChannelID, virtual string) (string, error) {
		return "/rewritten" + virtual, nil
	}, logger)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	put(t, s, 1, "/", "f.txt", "x")

	// The hook runs on every resolve, so reads through the same virtual
	// path see the write.
	if _, err := s.Info(1, "/", "f.txt"); err != nil {
		t.Errorf("hooked path not stable: %v", err)
	}
	entries, err := s.List(1, "/")
	if err != nil || len(entries) != 1 {
		t.Errorf("hooked listing: %v %v", entries, err)
	}
}

func TestStore_RewriteHookError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStore(t.TempDir(), func(channel shared.ChannelID, virtual string) (string, error) {
		if channel == 7 {
			return "", shared.CodePermissionDenied
		}
		return virtual, nil
	}, logger)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, _, err := s.OpenWrite(7, "/", "f.txt", false, false); !errors.Is(err, shared.CodePermissionDenied) {
		t.Errorf("open write through denying hook: %v", err)
	}
	if _, _, err := s.OpenRead(7, "/", "f.txt", 0); !errors.Is(err, shared.CodePermissionDenied) {
		t.Errorf("open read through denying hook: %v", err)
	}

	// Other channels pass through untouched.
	put(t, s, 8, "/", "f.txt", "x")
	if _, err := s.Info(8, "/", "f.txt"); err != nil {
		t.Errorf("unaffected channel: %v", err)
	}
}
