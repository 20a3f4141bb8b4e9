package client

import (
	"path"

	"github.com/accordvoice/accord/internal/correlate"
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/transfer"
	"github.com/accordvoice/accord/internal/wire"
)

// SendFile queues an upload of localDir/name into a channel's file area
// under virtualDir. The transfer ID is valid immediately; progress and
// the terminal state arrive as transfer status events.
func (c *Connection) SendFile(channel shared.ChannelID, channelPassword, virtualDir, name, localDir string, overwrite, resume bool) (shared.TransferID, error) {
	t, err := c.transfers.CreateUpload(channel, virtualDir, name, localDir, overwrite, resume)
	if err != nil {
		return 0, err
	}

	token := shared.NewID("ftu_")
	c.mu.Lock()
	c.ftPending[token] = t.ID()
	c.mu.Unlock()

	env, err := wire.New(wire.TypeFTUpload, wire.FTUpload{
		Token:           token,
		Channel:         channel,
		ChannelPassword: channelPassword,
		Path:            path.Join(virtualDir, name),
		Size:            t.Size(),
		Overwrite:       overwrite,
		Resume:          resume,
	})
	if err == nil {
		err = c.sendWithTimeout(env)
	}
	if err != nil {
		c.dropFTToken(token)
		c.transfers.Fail(t.ID(), shared.CodeConnectionLost)
		return 0, err
	}
	return t.ID(), nil
}

// RequestFile queues a download into localDir/name. With resume set, an
// existing local partial shifts the requested byte range.
func (c *Connection) RequestFile(channel shared.ChannelID, channelPassword, virtualDir, name, localDir string, overwrite, resume bool) (shared.TransferID, error) {
	t, err := c.transfers.CreateDownload(channel, virtualDir, name, localDir, overwrite, resume)
	if err != nil {
		return 0, err
	}

	offset := uint64(0)
	if resume {
		offset = c.transfers.LocalPartialSize(t.ID())
	}

	token := shared.NewID("ftd_")
	c.mu.Lock()
	c.ftPending[token] = t.ID()
	c.mu.Unlock()

	env, err := wire.New(wire.TypeFTDownload, wire.FTDownload{
		Token:           token,
		Channel:         channel,
		ChannelPassword: channelPassword,
		Path:            path.Join(virtualDir, name),
		Resume:          offset,
	})
	if err == nil {
		err = c.sendWithTimeout(env)
	}
	if err != nil {
		c.dropFTToken(token)
		c.transfers.Fail(t.ID(), shared.CodeConnectionLost)
		return 0, err
	}
	return t.ID(), nil
}

func (c *Connection) dropFTToken(token string) {
	c.mu.Lock()
	delete(c.ftPending, token)
	c.mu.Unlock()
}

// HaltTransfer force-fails a transfer. deleteLocal additionally removes
// an unfinished download from disk. The ID stays reserved until released.
func (c *Connection) HaltTransfer(id shared.TransferID, deleteLocal bool) error {
	t, err := c.transfers.Get(id)
	if err != nil {
		return err
	}
	if key := t.Key(); key != "" {
		env, err := wire.New(wire.TypeFTHalt, wire.FTHalt{Key: key})
		if err == nil {
			_ = c.sendWithTimeout(env)
		}
	}
	return c.transfers.Halt(id, deleteLocal)
}

// Transfer returns the live handle for progress and speed queries.
func (c *Connection) Transfer(id shared.TransferID) (*transfer.Transfer, error) {
	return c.transfers.Get(id)
}

// ReleaseTransfer frees a terminal transfer's ID. Queries against it
// fail with transfer-not-found afterwards.
func (c *Connection) ReleaseTransfer(id shared.TransferID) error {
	return c.transfers.Release(id)
}

func (c *Connection) RequestFileList(token string, channel shared.ChannelID, channelPassword, dir string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeFTList, wire.FTList{
		Token:           token,
		Channel:         channel,
		ChannelPassword: channelPassword,
		Path:            dir,
	})
}

func (c *Connection) RequestFileInfo(token string, channel shared.ChannelID, channelPassword, filePath string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeFTInfo, wire.FTInfo{
		Token:           token,
		Channel:         channel,
		ChannelPassword: channelPassword,
		Path:            filePath,
	})
}

func (c *Connection) DeleteFiles(token string, channel shared.ChannelID, channelPassword string, paths []string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeFTDelete, wire.FTDelete{
		Token:           token,
		Channel:         channel,
		ChannelPassword: channelPassword,
		Paths:           paths,
	})
}

func (c *Connection) CreateDirectory(token string, channel shared.ChannelID, channelPassword, dirPath string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeFTMkdir, wire.FTMkdir{
		Token:           token,
		Channel:         channel,
		ChannelPassword: channelPassword,
		Path:            dirPath,
	})
}

func (c *Connection) RenameFile(token string, fromChannel, toChannel shared.ChannelID, channelPassword, oldPath, newPath string) (*correlate.Pending, error) {
	return c.request(token, wire.TypeFTRename, wire.FTRename{
		Token:           token,
		FromChannel:     fromChannel,
		ToChannel:       toChannel,
		ChannelPassword: channelPassword,
		OldPath:         oldPath,
		NewPath:         newPath,
	})
}

// Speed limits. The effective throughput of a transfer is the minimum of
// the instance, server and per-transfer scopes; bounded limits below the
// floor are clamped up to it.

func (c *Connection) SetServerUploadLimit(bytesPerSecond uint64) {
	c.serverUp.SetLimit(bytesPerSecond)
}

func (c *Connection) ServerUploadLimit() uint64 { return c.serverUp.Limit() }

func (c *Connection) SetServerDownloadLimit(bytesPerSecond uint64) {
	c.serverDown.SetLimit(bytesPerSecond)
}

func (c *Connection) ServerDownloadLimit() uint64 { return c.serverDown.Limit() }

func (c *Connection) SetTransferSpeedLimit(id shared.TransferID, bytesPerSecond uint64) error {
	t, err := c.transfers.Get(id)
	if err != nil {
		return err
	}
	t.SetSpeedLimit(bytesPerSecond)
	return nil
}

func (c *Connection) TransferSpeedLimit(id shared.TransferID) (uint64, error) {
	t, err := c.transfers.Get(id)
	if err != nil {
		return 0, err
	}
	return t.SpeedLimit(), nil
}
