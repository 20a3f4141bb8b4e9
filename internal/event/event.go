package event

import (
	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/wire"
)

// Event is a notification delivered to the application. All variants are
// delivered in arrival order on a single goroutine per connection.
type Event interface {
	event()
}

// ConnectStatus mirrors the connection lifecycle phases.
type ConnectStatus int

const (
	StatusDisconnected ConnectStatus = iota
	StatusConnecting
	StatusConnected
	StatusEstablishing
	StatusEstablished
)

func (s ConnectStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusEstablishing:
		return "establishing"
	case StatusEstablished:
		return "established"
	default:
		return "unknown"
	}
}

type ConnectStatusChanged struct {
	Status ConnectStatus
	Code   shared.Code
}

type ServerEdited struct {
	Invoker shared.ClientID
	Name    string
}

type ServerStopped struct {
	Message string
}

type ChannelCreated struct {
	Channel shared.ChannelID
	Parent  shared.ChannelID
	Invoker shared.ClientID
	Name    string
}

type ChannelDeleted struct {
	Channel shared.ChannelID
	Invoker shared.ClientID
}

type ChannelMoved struct {
	Channel   shared.ChannelID
	NewParent shared.ChannelID
	Invoker   shared.ClientID
}

type ChannelEdited struct {
	Channel shared.ChannelID
	Invoker shared.ClientID
}

type ClientEntered struct {
	Client     shared.ClientID
	Channel    shared.ChannelID
	Visibility wire.Visibility
	Nickname   string
}

type ClientLeft struct {
	Client     shared.ClientID
	OldChannel shared.ChannelID
	Visibility wire.Visibility
	Reason     wire.MoveReason
	Message    string
}

type ClientMoved struct {
	Client     shared.ClientID
	OldChannel shared.ChannelID
	NewChannel shared.ChannelID
	Visibility wire.Visibility
	Reason     wire.MoveReason
	Invoker    shared.ClientID
	Message    string
}

type ClientUpdated struct {
	Client  shared.ClientID
	Invoker shared.ClientID
}

type TalkStatusChanged struct {
	Client  shared.ClientID
	Talking bool
}

type TextMessageArrived struct {
	Target   wire.TextTarget
	From     shared.ClientID
	FromName string
	Text     string
}

type SubscriptionChanged struct {
	Channel    shared.ChannelID
	Subscribed bool
}

// SubscriptionsFinished fires once per completed subscribe or unsubscribe
// batch, after the per-channel confirmations.
type SubscriptionsFinished struct {
	Kind wire.Type
}

type TransferStatusChanged struct {
	Transfer shared.TransferID
	Code     shared.Code
}

type FileListEntry struct {
	Channel  shared.ChannelID
	Path     string
	Name     string
	Size     uint64
	Modified int64
	Type     wire.EntryType
	Partial  uint64
}

type FileListFinished struct {
	Channel shared.ChannelID
	Path    string
}

type FileInfoArrived struct {
	Channel  shared.ChannelID
	Name     string
	Size     uint64
	Modified int64
}

type ConnectionInfoArrived struct {
	Client shared.ClientID
	Info   shared.StringMap
}

type AuthTokenIssued struct {
	Token string
}

type ServerErrorArrived struct {
	Token   string
	Code    shared.Code
	Message string
	Extra   string
}

func (ConnectStatusChanged) event()   {}
func (ServerEdited) event()           {}
func (ServerStopped) event()          {}
func (ChannelCreated) event()         {}
func (ChannelDeleted) event()         {}
func (ChannelMoved) event()           {}
func (ChannelEdited) event()          {}
func (ClientEntered) event()          {}
func (ClientLeft) event()             {}
func (ClientMoved) event()            {}
func (ClientUpdated) event()          {}
func (TalkStatusChanged) event()      {}
func (TextMessageArrived) event()     {}
func (SubscriptionChanged) event()    {}
func (SubscriptionsFinished) event()  {}
func (TransferStatusChanged) event()  {}
func (FileListEntry) event()          {}
func (FileListFinished) event()       {}
func (FileInfoArrived) event()        {}
func (ConnectionInfoArrived) event()  {}
func (AuthTokenIssued) event()        {}
func (ServerErrorArrived) event()     {}
