package permission

// Action tags the category of a gated operation. The gate is one
// polymorphic dispatch over this tag so every authorization decision flows
// through a single auditable chokepoint.
type Action uint8

const (
	ActionClientConnect Action = iota
	ActionClientMove
	ActionClientKickFromChannel
	ActionClientKickFromServer
	ActionClientUpdate
	ActionServerEdit
	ActionChannelCreate
	ActionChannelEdit
	ActionChannelMove
	ActionChannelDelete
	ActionChannelSubscribe
	ActionChannelDescription
	ActionTextMessage
	ActionConnectionInfo
	ActionFileInitUpload
	ActionFileInitDownload
	ActionFileInfo
	ActionFileList
	ActionFileDelete
	ActionFileCreateDir
	ActionFileRename
	ActionServerPasswordCheck
	ActionChannelPasswordCheck
)

var actionNames = map[Action]string{
	ActionClientConnect:         "client_connect",
	ActionClientMove:            "client_move",
	ActionClientKickFromChannel: "client_kick_channel",
	ActionClientKickFromServer:  "client_kick_server",
	ActionClientUpdate:          "client_update",
	ActionServerEdit:            "server_edit",
	ActionChannelCreate:         "channel_create",
	ActionChannelEdit:           "channel_edit",
	ActionChannelMove:           "channel_move",
	ActionChannelDelete:         "channel_delete",
	ActionChannelSubscribe:      "channel_subscribe",
	ActionChannelDescription:    "channel_description",
	ActionTextMessage:           "text_message",
	ActionConnectionInfo:        "connection_info",
	ActionFileInitUpload:        "file_init_upload",
	ActionFileInitDownload:      "file_init_download",
	ActionFileInfo:              "file_info",
	ActionFileList:              "file_list",
	ActionFileDelete:            "file_delete",
	ActionFileCreateDir:         "file_create_dir",
	ActionFileRename:            "file_rename",
	ActionServerPasswordCheck:   "server_password_check",
	ActionChannelPasswordCheck:  "channel_password_check",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "action_unknown"
}
