package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

// partSuffix marks an upload that has not finished yet. Partial files stay
// on disk so an interrupted upload can resume from its current size.
const partSuffix = ".part"

// RewriteHook lets the host remap a virtual file path to a different one
// before it touches disk. Return the path unchanged to keep the default
// layout; a non-nil error aborts the operation with that error.
type RewriteHook func(channel shared.ChannelID, virtual string) (string, error)

// Entry describes one file or directory inside a channel's storage.
type Entry struct {
	Name     string
	Size     uint64
	Modified int64
	Type     wire.EntryType
	Partial  uint64
}

// Store is a directory-backed file area, one subtree per channel. All
// virtual paths are absolute ("/" is the channel root) and are validated
// before they reach the filesystem.
type Store struct {
	root    string
	rewrite RewriteHook
	logger  *slog.Logger
}

func NewStore(root string, rewrite RewriteHook, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{
		root:    root,
		rewrite: rewrite,
		logger:  logger.With("component", "file_store"),
	}, nil
}

// resolve validates a virtual path and maps it onto the real filesystem.
func (s *Store) resolve(channel shared.ChannelID, virtual string) (string, error) {
	if virtual == "" || !strings.HasPrefix(virtual, "/") {
		return "", shared.CodeInvalidPath
	}
	if strings.Contains(virtual, "\\") || strings.Contains(virtual, "\x00") {
		return "", shared.CodeInvalidPath
	}
	cleaned := path.Clean(virtual)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", shared.CodeInvalidPath
	}
	if s.rewrite != nil {
		rewritten, err := s.rewrite(channel, cleaned)
		if err != nil {
			return "", err
		}
		if rewritten == "" || !strings.HasPrefix(rewritten, "/") {
			return "", shared.CodeInvalidPath
		}
		cleaned = rewritten
	}
	base := filepath.Join(s.root, "channel_"+strconv.FormatUint(uint64(channel), 10))
	real := filepath.Join(base, filepath.FromSlash(cleaned))
	if real != base && !strings.HasPrefix(real, base+string(filepath.Separator)) {
		return "", shared.CodeInvalidPath
	}
	return real, nil
}

// List returns the direct children of a directory, non-recursively, in
// lexical order. Unfinished uploads appear under their final name with
// Partial set to the bytes received so far.
func (s *Store) List(channel shared.ChannelID, dir string) ([]Entry, error) {
	real, err := s.resolve(channel, dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(real)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, shared.CodeFileNotFound
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	out := make([]Entry, 0, len(entries))
	for _, de := range entries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		e := Entry{
			Name:     de.Name(),
			Size:     uint64(info.Size()),
			Modified: info.ModTime().Unix(),
			Type:     wire.EntryTypeFile,
		}
		if de.IsDir() {
			e.Type = wire.EntryTypeDirectory
			e.Size = 0
		} else if strings.HasSuffix(e.Name, partSuffix) {
			e.Name = strings.TrimSuffix(e.Name, partSuffix)
			e.Partial = e.Size
		}
		out = append(out, e)
	}
	return out, nil
}

// Info returns metadata for a single finished file or directory.
func (s *Store) Info(channel shared.ChannelID, dir, name string) (Entry, error) {
	real, err := s.resolve(channel, path.Join(dir, name))
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(real)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, shared.CodeFileNotFound
		}
		return Entry{}, fmt.Errorf("stat %s: %w", name, err)
	}
	e := Entry{
		Name:     name,
		Size:     uint64(info.Size()),
		Modified: info.ModTime().Unix(),
		Type:     wire.EntryTypeFile,
	}
	if info.IsDir() {
		e.Type = wire.EntryTypeDirectory
		e.Size = 0
	}
	return e, nil
}

// Delete removes a file, or an empty directory.
func (s *Store) Delete(channel shared.ChannelID, dir, name string) error {
	real, err := s.resolve(channel, path.Join(dir, name))
	if err != nil {
		return err
	}
	info, err := os.Stat(real)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return shared.CodeFileNotFound
		}
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		if err := os.Remove(real); err != nil {
			return shared.CodeFileIO
		}
		return nil
	}
	if err := os.Remove(real); err != nil {
		return shared.CodeFileIO
	}
	// A stale partial for the same name goes with it.
	_ = os.Remove(real + partSuffix)
	return nil
}

// CreateDir makes a directory, including missing parents.
func (s *Store) CreateDir(channel shared.ChannelID, dir, name string) error {
	real, err := s.resolve(channel, path.Join(dir, name))
	if err != nil {
		return err
	}
	if _, err := os.Stat(real); err == nil {
		return shared.CodeFileAlreadyExists
	}
	if err := os.MkdirAll(real, 0o755); err != nil {
		return shared.CodeFileIO
	}
	return nil
}

// Rename moves a file or directory within the same channel, or across
// channels when toChannel differs.
func (s *Store) Rename(channel shared.ChannelID, oldPath string, toChannel shared.ChannelID, newPath string) error {
	from, err := s.resolve(channel, oldPath)
	if err != nil {
		return err
	}
	to, err := s.resolve(toChannel, newPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(from); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return shared.CodeFileNotFound
		}
		return fmt.Errorf("stat %s: %w", oldPath, err)
	}
	if _, err := os.Stat(to); err == nil {
		return shared.CodeFileAlreadyExists
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return shared.CodeFileIO
	}
	if err := os.Rename(from, to); err != nil {
		return shared.CodeFileIO
	}
	return nil
}

// OpenRead opens a finished file for download, seeking to offset for a
// resumed transfer. It returns the total file size.
func (s *Store) OpenRead(channel shared.ChannelID, dir, name string, offset uint64) (io.ReadCloser, uint64, error) {
	real, err := s.resolve(channel, path.Join(dir, name))
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(real)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, shared.CodeFileNotFound
		}
		return nil, 0, shared.CodeFileIO
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, 0, shared.CodeFileNotFound
	}
	size := uint64(info.Size())
	if offset > size {
		f.Close()
		return nil, 0, shared.CodeInvalidArgument
	}
	if offset > 0 {
		if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
			f.Close()
			return nil, 0, shared.CodeFileIO
		}
	}
	return f, size, nil
}

// OpenWrite starts or resumes an upload. Data lands in a partial file
// until Finish renames it into place. The returned offset is the number
// of bytes already present; the sender continues from there.
func (s *Store) OpenWrite(channel shared.ChannelID, dir, name string, resume, overwrite bool) (io.WriteCloser, uint64, error) {
	final, err := s.resolve(channel, path.Join(dir, name))
	if err != nil {
		return nil, 0, err
	}
	if !overwrite {
		if _, err := os.Stat(final); err == nil {
			return nil, 0, shared.CodeFileAlreadyExists
		}
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, 0, shared.CodeFileIO
	}

	part := final + partSuffix
	var offset uint64
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		if info, err := os.Stat(part); err == nil {
			offset = uint64(info.Size())
			flags = os.O_WRONLY | os.O_APPEND
		}
	}
	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return nil, 0, shared.CodeFileIO
	}
	return f, offset, nil
}

// Finish promotes a completed upload from its partial file to its final
// name.
func (s *Store) Finish(channel shared.ChannelID, dir, name string, overwrite bool) error {
	final, err := s.resolve(channel, path.Join(dir, name))
	if err != nil {
		return err
	}
	part := final + partSuffix
	if _, err := os.Stat(part); err != nil {
		return shared.CodeFileNotFound
	}
	if !overwrite {
		if _, err := os.Stat(final); err == nil {
			_ = os.Remove(part)
			return shared.CodeFileAlreadyExists
		}
	}
	if err := os.Rename(part, final); err != nil {
		return shared.CodeFileIO
	}
	return nil
}

// PartialSize reports how many bytes of an unfinished upload are already
// on disk, for resume negotiation.
func (s *Store) PartialSize(channel shared.ChannelID, dir, name string) uint64 {
	final, err := s.resolve(channel, path.Join(dir, name))
	if err != nil {
		return 0
	}
	info, err := os.Stat(final + partSuffix)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}
