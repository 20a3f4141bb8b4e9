package wire

import (
	"github.com/accordvoice/accord/internal/property"
	"github.com/accordvoice/accord/internal/shared"
)

type Type string

// Client-issued requests.
const (
	TypeConnect       Type = "connect"
	TypeDisconnect    Type = "disconnect"
	TypeFlushSelf     Type = "flush_self"
	TypeFlushServer   Type = "flush_server"
	TypeFlushChannel  Type = "flush_channel"
	TypeChannelCreate Type = "channel_create"
	TypeChannelDelete Type = "channel_delete"
	TypeChannelMove   Type = "channel_move"
	TypeClientMove    Type = "client_move"
	TypeClientKick    Type = "client_kick"
	TypeTextMessage   Type = "text_message"
	TypeSubscribe     Type = "subscribe"
	TypeUnsubscribe   Type = "unsubscribe"
	TypeServerVars    Type = "server_vars"
	TypeClientVars    Type = "client_vars"
	TypeConnInfo      Type = "conn_info"
	TypeTalkStatus    Type = "talk_status"
	TypeAuthToken     Type = "auth_token"

	TypeFTUpload   Type = "ft_upload"
	TypeFTDownload Type = "ft_download"
	TypeFTData     Type = "ft_data"
	TypeFTHalt     Type = "ft_halt"
	TypeFTList     Type = "ft_list"
	TypeFTInfo     Type = "ft_info"
	TypeFTDelete   Type = "ft_delete"
	TypeFTMkdir    Type = "ft_mkdir"
	TypeFTRename   Type = "ft_rename"
)

// Server-issued notifications.
const (
	TypeWelcome          Type = "welcome"
	TypeReply            Type = "reply"
	TypeServerEdited     Type = "server_edited"
	TypeServerStop       Type = "server_stop"
	TypeChannelAdded     Type = "channel_added"
	TypeChannelCreated   Type = "channel_created"
	TypeChannelDeleted   Type = "channel_deleted"
	TypeChannelMoved     Type = "channel_moved"
	TypeChannelEdited    Type = "channel_edited"
	TypeClientEnter      Type = "client_enter"
	TypeClientLeft       Type = "client_left"
	TypeClientMoved      Type = "client_moved"
	TypeClientUpdated    Type = "client_updated"
	TypeTalkChanged      Type = "talk_changed"
	TypeTextArrived      Type = "text_arrived"
	TypeSubConfirm       Type = "sub_confirm"
	TypeUnsubConfirm     Type = "unsub_confirm"
	TypeConnInfoResult   Type = "conn_info_result"
	TypeAuthTokenIssued  Type = "auth_token_issued"
	TypeFTStart          Type = "ft_start"
	TypeFTStatus         Type = "ft_status"
	TypeFileListEntry    Type = "file_list_entry"
	TypeFileListFinished Type = "file_list_finished"
	TypeFileInfoResult   Type = "file_info_result"
)

// Visibility qualifies client move notifications: whether the client
// entered view, stayed in view, or left view of the receiving connection.
type Visibility int

const (
	VisibilityEnter Visibility = iota
	VisibilityRetain
	VisibilityLeave
)

// MoveReason distinguishes why a client changed channels.
type MoveReason int

const (
	MoveReasonSelf MoveReason = iota
	MoveReasonMoved
	MoveReasonKickChannel
	MoveReasonKickServer
	MoveReasonTimeout
)

// TextTarget is the scope of a text message.
type TextTarget int

const (
	TextTargetClient TextTarget = iota
	TextTargetChannel
	TextTargetServer
)

// Invoker identifies the client that caused a notification.
type Invoker struct {
	ID       shared.ClientID `json:"id"`
	Name     string          `json:"name"`
	UID      string          `json:"uid"`
}

type Connect struct {
	Identity       string   `json:"identity"`
	Nickname       string   `json:"nickname"`
	ServerPassword string   `json:"server_password,omitempty"`
	DefaultChannel []string `json:"default_channel,omitempty"`
}

type Disconnect struct {
	QuitMessage string `json:"quit_message,omitempty"`
}

type FlushSelf struct {
	Token  string                                    `json:"token,omitempty"`
	Values map[property.ClientKey]property.Value     `json:"values"`
}

type FlushServer struct {
	Token  string                                `json:"token,omitempty"`
	Values map[property.ServerKey]property.Value `json:"values"`
}

type FlushChannel struct {
	Token   string                                 `json:"token,omitempty"`
	Channel shared.ChannelID                       `json:"channel"`
	Values  map[property.ChannelKey]property.Value `json:"values"`
}

type ChannelCreate struct {
	Token       string                                 `json:"token,omitempty"`
	Provisional shared.ChannelID                       `json:"provisional"`
	Parent      shared.ChannelID                       `json:"parent"`
	Values      map[property.ChannelKey]property.Value `json:"values"`
}

type ChannelDelete struct {
	Token   string           `json:"token,omitempty"`
	Channel shared.ChannelID `json:"channel"`
	Force   bool             `json:"force,omitempty"`
}

type ChannelMove struct {
	Token     string           `json:"token,omitempty"`
	Channel   shared.ChannelID `json:"channel"`
	NewParent shared.ChannelID `json:"new_parent"`
	Order     uint64           `json:"order,omitempty"`
}

type ClientMove struct {
	Token    string            `json:"token,omitempty"`
	Targets  []shared.ClientID `json:"targets"`
	Channel  shared.ChannelID  `json:"channel"`
	Password string            `json:"password,omitempty"`
}

type ClientKick struct {
	Token      string            `json:"token,omitempty"`
	Targets    []shared.ClientID `json:"targets"`
	FromServer bool              `json:"from_server,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

type TextMessage struct {
	Token   string           `json:"token,omitempty"`
	Target  TextTarget       `json:"target"`
	Client  shared.ClientID  `json:"client,omitempty"`
	Channel shared.ChannelID `json:"channel,omitempty"`
	Message string           `json:"message"`
}

type Subscribe struct {
	Token    string             `json:"token,omitempty"`
	Channels []shared.ChannelID `json:"channels"`
}

type VarsRequest struct {
	Token  string          `json:"token,omitempty"`
	Client shared.ClientID `json:"client,omitempty"`
}

type ConnInfo struct {
	Token  string          `json:"token,omitempty"`
	Client shared.ClientID `json:"client"`
}

type TalkStatus struct {
	Talking bool `json:"talking"`
}

type AuthTokenRequest struct {
	Token string `json:"token,omitempty"`
	Kind  string `json:"kind"`
}

type Welcome struct {
	Self   shared.ClientID                       `json:"self"`
	Server map[property.ServerKey]property.Value `json:"server"`
}

type Reply struct {
	Token   string      `json:"token,omitempty"`
	Code    shared.Code `json:"code"`
	Message string      `json:"message,omitempty"`
	Extra   string      `json:"extra,omitempty"`
}

type ServerEdited struct {
	Values  map[property.ServerKey]property.Value `json:"values"`
	Invoker *Invoker                              `json:"invoker,omitempty"`
}

type ServerStop struct {
	Message string `json:"message,omitempty"`
}

type ChannelAdded struct {
	Channel shared.ChannelID                       `json:"channel"`
	Parent  shared.ChannelID                       `json:"parent"`
	Values  map[property.ChannelKey]property.Value `json:"values"`
}

type ChannelCreated struct {
	Provisional shared.ChannelID                       `json:"provisional,omitempty"`
	Channel     shared.ChannelID                       `json:"channel"`
	Parent      shared.ChannelID                       `json:"parent"`
	Values      map[property.ChannelKey]property.Value `json:"values"`
	Invoker     *Invoker                               `json:"invoker,omitempty"`
}

type ChannelDeleted struct {
	Channel shared.ChannelID `json:"channel"`
	Invoker *Invoker         `json:"invoker,omitempty"`
}

type ChannelMoved struct {
	Channel   shared.ChannelID `json:"channel"`
	NewParent shared.ChannelID `json:"new_parent"`
	Invoker   *Invoker         `json:"invoker,omitempty"`
}

type ChannelEdited struct {
	Channel shared.ChannelID                       `json:"channel"`
	Values  map[property.ChannelKey]property.Value `json:"values"`
	Invoker *Invoker                               `json:"invoker,omitempty"`
}

type ClientEnter struct {
	Client     shared.ClientID                       `json:"client"`
	Channel    shared.ChannelID                      `json:"channel"`
	Values     map[property.ClientKey]property.Value `json:"values"`
	Visibility Visibility                            `json:"visibility"`
}

type ClientLeft struct {
	Client     shared.ClientID  `json:"client"`
	OldChannel shared.ChannelID `json:"old_channel"`
	Visibility Visibility       `json:"visibility"`
	Message    string           `json:"message,omitempty"`
}

type ClientMoved struct {
	Client     shared.ClientID  `json:"client"`
	OldChannel shared.ChannelID `json:"old_channel"`
	NewChannel shared.ChannelID `json:"new_channel"`
	Visibility Visibility       `json:"visibility"`
	Reason     MoveReason       `json:"reason"`
	Invoker    *Invoker         `json:"invoker,omitempty"`
	Message    string           `json:"message,omitempty"`
	Values     map[property.ClientKey]property.Value `json:"values,omitempty"`
}

type ClientUpdated struct {
	Client  shared.ClientID                       `json:"client"`
	Values  map[property.ClientKey]property.Value `json:"values"`
	Invoker *Invoker                              `json:"invoker,omitempty"`
}

type TalkChanged struct {
	Client  shared.ClientID `json:"client"`
	Talking bool            `json:"talking"`
	Whisper bool            `json:"whisper,omitempty"`
}

type TextArrived struct {
	Target   TextTarget       `json:"target"`
	Client   shared.ClientID  `json:"client,omitempty"`
	Channel  shared.ChannelID `json:"channel,omitempty"`
	From     shared.ClientID  `json:"from"`
	FromName string           `json:"from_name"`
	FromUID  string           `json:"from_uid,omitempty"`
	Message  string           `json:"message"`
}

type SubConfirm struct {
	Channel shared.ChannelID `json:"channel"`
}

type ConnInfoResult struct {
	Client shared.ClientID  `json:"client"`
	Info   shared.StringMap `json:"info"`
}

type AuthTokenIssued struct {
	Kind  string `json:"kind"`
	Token string `json:"token"`
}

// File transfer payloads. The server assigns Key on init; the data plane
// carries it on every chunk.

type FTUpload struct {
	Token           string           `json:"token,omitempty"`
	Channel         shared.ChannelID `json:"channel"`
	ChannelPassword string           `json:"channel_password,omitempty"`
	Path            string           `json:"path"`
	Size            uint64           `json:"size"`
	Overwrite       bool             `json:"overwrite,omitempty"`
	Resume          bool             `json:"resume,omitempty"`
}

type FTDownload struct {
	Token           string           `json:"token,omitempty"`
	Channel         shared.ChannelID `json:"channel"`
	ChannelPassword string           `json:"channel_password,omitempty"`
	Path            string           `json:"path"`
	Resume          uint64           `json:"resume,omitempty"`
}

type FTStart struct {
	Token        string `json:"token,omitempty"`
	Key          string `json:"key"`
	Size         uint64 `json:"size"`
	ResumeOffset uint64 `json:"resume_offset,omitempty"`
}

type FTData struct {
	Key  string `json:"key"`
	Data []byte `json:"data,omitempty"`
	Done bool   `json:"done,omitempty"`
}

type FTHalt struct {
	Token string `json:"token,omitempty"`
	Key   string `json:"key"`
}

type FTStatus struct {
	Key     string      `json:"key"`
	Code    shared.Code `json:"code"`
	Message string      `json:"message,omitempty"`
	Size    uint64      `json:"size,omitempty"`
}

type FTList struct {
	Token           string           `json:"token,omitempty"`
	Channel         shared.ChannelID `json:"channel"`
	ChannelPassword string           `json:"channel_password,omitempty"`
	Path            string           `json:"path"`
}

type FTInfo struct {
	Token           string           `json:"token,omitempty"`
	Channel         shared.ChannelID `json:"channel"`
	ChannelPassword string           `json:"channel_password,omitempty"`
	Path            string           `json:"path"`
}

type FTDelete struct {
	Token           string           `json:"token,omitempty"`
	Channel         shared.ChannelID `json:"channel"`
	ChannelPassword string           `json:"channel_password,omitempty"`
	Paths           []string         `json:"paths"`
}

type FTMkdir struct {
	Token           string           `json:"token,omitempty"`
	Channel         shared.ChannelID `json:"channel"`
	ChannelPassword string           `json:"channel_password,omitempty"`
	Path            string           `json:"path"`
}

type FTRename struct {
	Token           string           `json:"token,omitempty"`
	FromChannel     shared.ChannelID `json:"from_channel"`
	ToChannel       shared.ChannelID `json:"to_channel"`
	ChannelPassword string           `json:"channel_password,omitempty"`
	OldPath         string           `json:"old_path"`
	NewPath         string           `json:"new_path"`
}

// EntryType tags directory listing entries.
type EntryType int

const (
	EntryTypeFile EntryType = iota
	EntryTypeDirectory
)

type FileListEntry struct {
	Token          string           `json:"token,omitempty"`
	Channel        shared.ChannelID `json:"channel"`
	Path           string           `json:"path"`
	Name           string           `json:"name"`
	Size           uint64           `json:"size"`
	DateTime       uint64           `json:"datetime"`
	Type           EntryType        `json:"type"`
	IncompleteSize uint64           `json:"incomplete_size,omitempty"`
}

type FileListFinished struct {
	Token   string           `json:"token,omitempty"`
	Channel shared.ChannelID `json:"channel"`
	Path    string           `json:"path"`
}

type FileInfoResult struct {
	Token    string           `json:"token,omitempty"`
	Channel  shared.ChannelID `json:"channel"`
	Name     string           `json:"name"`
	Size     uint64           `json:"size"`
	DateTime uint64           `json:"datetime"`
}
