package server

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/accordvoice/accord/internal/bandwidth"
	"github.com/accordvoice/accord/internal/permission"
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

const ftChunkSize = 4096

// splitVirtualPath breaks an absolute virtual path into the directory and
// entry name the file store operates on.
func splitVirtualPath(p string) (dir, name string, err error) {
	if !strings.HasPrefix(p, "/") {
		return "", "", shared.CodeInvalidPath
	}
	p = path.Clean(p)
	name = path.Base(p)
	if name == "/" || name == "." || name == ".." {
		return "", "", shared.CodeInvalidPath
	}
	dir = path.Dir(p)
	return dir, name, nil
}

// fileAccess runs the shared preamble of every file operation: the
// channel must exist, its password must match, and the gate must allow
// the action.
func (vs *VirtualServer) fileAccess(sess *session, ch shared.ChannelID, password string, action permission.Action, p, newPath string) error {
	if !vs.channelExists(ch) {
		return shared.CodeNotFound
	}
	if err := vs.checkChannelPassword(ch, password, sess); err != nil {
		return err
	}
	return vs.lib.gate.Check(permission.Request{
		Server:  vs.id,
		Action:  action,
		Actor:   sess.actor(),
		Channel: ch,
		Path:    p,
		NewPath: newPath,
	})
}

func (vs *VirtualServer) handleFTList(sess *session, env *wire.Envelope) {
	var req wire.FTList
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if err := vs.fileAccess(sess, req.Channel, req.ChannelPassword, permission.ActionFileList, req.Path, ""); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	entries, err := vs.lib.files.List(req.Channel, req.Path)
	if err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	for _, e := range entries {
		item, _ := wire.New(wire.TypeFileListEntry, wire.FileListEntry{
			Token:          req.Token,
			Channel:        req.Channel,
			Path:           req.Path,
			Name:           e.Name,
			Size:           e.Size,
			DateTime:       uint64(e.Modified),
			Type:           e.Type,
			IncompleteSize: e.Partial,
		})
		sess.send(item)
	}
	// The finished marker doubles as the success reply.
	finished, _ := wire.New(wire.TypeFileListFinished, wire.FileListFinished{
		Token:   req.Token,
		Channel: req.Channel,
		Path:    req.Path,
	})
	sess.send(finished)
}

func (vs *VirtualServer) handleFTInfo(sess *session, env *wire.Envelope) {
	var req wire.FTInfo
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if err := vs.fileAccess(sess, req.Channel, req.ChannelPassword, permission.ActionFileInfo, req.Path, ""); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	dir, name, err := splitVirtualPath(req.Path)
	if err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	entry, err := vs.lib.files.Info(req.Channel, dir, name)
	if err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	result, _ := wire.New(wire.TypeFileInfoResult, wire.FileInfoResult{
		Token:    req.Token,
		Channel:  req.Channel,
		Name:     entry.Name,
		Size:     entry.Size,
		DateTime: uint64(entry.Modified),
	})
	sess.send(result)
}

func (vs *VirtualServer) handleFTDelete(sess *session, env *wire.Envelope) {
	var req wire.FTDelete
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if len(req.Paths) == 0 {
		vs.reply(sess, req.Token, shared.CodeInvalidArgument)
		return
	}
	for _, p := range req.Paths {
		if err := vs.fileAccess(sess, req.Channel, req.ChannelPassword, permission.ActionFileDelete, p, ""); err != nil {
			vs.reply(sess, req.Token, err)
			return
		}
	}

	for _, p := range req.Paths {
		dir, name, err := splitVirtualPath(p)
		if err != nil {
			vs.reply(sess, req.Token, err)
			return
		}
		if err := vs.lib.files.Delete(req.Channel, dir, name); err != nil {
			vs.reply(sess, req.Token, err)
			return
		}
	}
	vs.reply(sess, req.Token, nil)
}

func (vs *VirtualServer) handleFTMkdir(sess *session, env *wire.Envelope) {
	var req wire.FTMkdir
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if err := vs.fileAccess(sess, req.Channel, req.ChannelPassword, permission.ActionFileCreateDir, req.Path, ""); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	dir, name, err := splitVirtualPath(req.Path)
	if err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	vs.reply(sess, req.Token, vs.lib.files.CreateDir(req.Channel, dir, name))
}

func (vs *VirtualServer) handleFTRename(sess *session, env *wire.Envelope) {
	var req wire.FTRename
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	toChannel := req.ToChannel
	if toChannel == 0 {
		toChannel = req.FromChannel
	}
	if err := vs.fileAccess(sess, req.FromChannel, req.ChannelPassword, permission.ActionFileRename, req.OldPath, req.NewPath); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	if toChannel != req.FromChannel && !vs.channelExists(toChannel) {
		vs.reply(sess, req.Token, shared.CodeNotFound)
		return
	}
	vs.reply(sess, req.Token, vs.lib.files.Rename(req.FromChannel, req.OldPath, toChannel, req.NewPath))
}

func (vs *VirtualServer) handleFTUpload(sess *session, env *wire.Envelope) {
	var req wire.FTUpload
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if err := vs.fileAccess(sess, req.Channel, req.ChannelPassword, permission.ActionFileInitUpload, req.Path, ""); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	dir, name, err := splitVirtualPath(req.Path)
	if err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	w, offset, err := vs.lib.files.OpenWrite(req.Channel, dir, name, req.Resume, req.Overwrite)
	if err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	key := shared.NewID("ft_")
	vs.mu.Lock()
	vs.uploads[key] = &upload{
		owner:     sess.id,
		channel:   req.Channel,
		dir:       dir,
		name:      name,
		overwrite: req.Overwrite,
		w:         w,
	}
	vs.mu.Unlock()

	// FTStart is the success reply; the client resolves its token on it.
	start, _ := wire.New(wire.TypeFTStart, wire.FTStart{
		Token:        req.Token,
		Key:          key,
		Size:         req.Size,
		ResumeOffset: offset,
	})
	sess.send(start)
	vs.logger.Debug("upload started", "key", key, "client_id", sess.id, "path", req.Path)
}

func (vs *VirtualServer) handleFTDownload(sess *session, env *wire.Envelope) {
	var req wire.FTDownload
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}
	if err := vs.fileAccess(sess, req.Channel, req.ChannelPassword, permission.ActionFileInitDownload, req.Path, ""); err != nil {
		vs.reply(sess, req.Token, err)
		return
	}
	dir, name, err := splitVirtualPath(req.Path)
	if err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	r, size, err := vs.lib.files.OpenRead(req.Channel, dir, name, req.Resume)
	if err != nil {
		vs.reply(sess, req.Token, err)
		return
	}

	key := shared.NewID("ft_")
	ctx, cancel := context.WithCancel(context.Background())
	vs.mu.Lock()
	vs.downloads[key] = cancel
	vs.mu.Unlock()

	start, _ := wire.New(wire.TypeFTStart, wire.FTStart{
		Token:        req.Token,
		Key:          key,
		Size:         size,
		ResumeOffset: req.Resume,
	})
	sess.send(start)

	go vs.pumpDownload(ctx, sess, key, r)
	vs.logger.Debug("download started", "key", key, "client_id", sess.id, "path", req.Path)
}

// pumpDownload streams file chunks to the session, throttled by the
// instance and server limiters.
func (vs *VirtualServer) pumpDownload(ctx context.Context, sess *session, key string, r io.ReadCloser) {
	defer r.Close()
	defer func() {
		vs.mu.Lock()
		delete(vs.downloads, key)
		vs.mu.Unlock()
	}()

	tiered := bandwidth.NewTiered(vs.lib.instanceLimit, vs.serverLimit)
	buf := make([]byte, ftChunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if err := tiered.WaitN(ctx, n); err != nil {
				return
			}
			chunk, _ := wire.New(wire.TypeFTData, wire.FTData{
				Key:  key,
				Data: append([]byte(nil), buf[:n]...),
				Done: readErr == io.EOF,
			})
			sess.send(chunk)
		}
		if readErr == io.EOF {
			if n == 0 {
				done, _ := wire.New(wire.TypeFTData, wire.FTData{Key: key, Done: true})
				sess.send(done)
			}
			return
		}
		if readErr != nil {
			status, _ := wire.New(wire.TypeFTStatus, wire.FTStatus{
				Key:     key,
				Code:    shared.CodeFileIO,
				Message: readErr.Error(),
			})
			sess.send(status)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// handleFTData receives one inbound upload chunk.
func (vs *VirtualServer) handleFTData(sess *session, env *wire.Envelope) {
	var req wire.FTData
	if err := env.Decode(&req); err != nil {
		return
	}

	vs.mu.Lock()
	up, ok := vs.uploads[req.Key]
	if ok && up.owner != sess.id {
		ok = false
		up = nil
	}
	vs.mu.Unlock()
	if !ok {
		return
	}

	if len(req.Data) > 0 {
		if _, err := up.w.Write(req.Data); err != nil {
			up.w.Close()
			vs.mu.Lock()
			delete(vs.uploads, req.Key)
			vs.mu.Unlock()
			status, _ := wire.New(wire.TypeFTStatus, wire.FTStatus{
				Key:     req.Key,
				Code:    shared.CodeFileIO,
				Message: err.Error(),
			})
			sess.send(status)
			return
		}
	}
	if !req.Done {
		return
	}

	up.w.Close()
	vs.mu.Lock()
	delete(vs.uploads, req.Key)
	vs.mu.Unlock()

	code := shared.CodeOK
	if err := vs.lib.files.Finish(up.channel, up.dir, up.name, up.overwrite); err != nil {
		code = shared.CodeOf(err)
	}
	status, _ := wire.New(wire.TypeFTStatus, wire.FTStatus{
		Key:  req.Key,
		Code: code,
	})
	sess.send(status)
	vs.logger.Debug("upload finished", "key", req.Key, "code", int(code))
}

// handleFTHalt aborts a running transfer. A halted upload keeps its
// partial so a later attempt can resume it.
func (vs *VirtualServer) handleFTHalt(sess *session, env *wire.Envelope) {
	var req wire.FTHalt
	if err := env.Decode(&req); err != nil {
		vs.reply(sess, "", shared.CodeInvalidArgument)
		return
	}

	vs.mu.Lock()
	if up, ok := vs.uploads[req.Key]; ok && up.owner == sess.id {
		up.w.Close()
		delete(vs.uploads, req.Key)
	}
	if cancel, ok := vs.downloads[req.Key]; ok {
		cancel()
		delete(vs.downloads, req.Key)
	}
	vs.mu.Unlock()

	vs.reply(sess, req.Token, nil)
}
