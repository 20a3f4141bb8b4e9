package property

// Key is implemented by the per-entity property key enums. The kind of a
// key never changes; read-only keys reject local staging but still accept
// remote updates.
type Key interface {
	comparable
	Kind() Kind
	ReadOnly() bool
}

type ClientKey uint16

const (
	ClientUniqueIdentifier ClientKey = iota
	ClientNickname
	ClientFlagTalking
	ClientInputMuted
	ClientOutputMuted
	ClientInputHardware
	ClientOutputHardware
	ClientAway
	ClientAwayMessage
	ClientMetaData
	ClientIdleTime
	ClientIsRecording
)

type clientKeyInfo struct {
	kind     Kind
	readOnly bool
	name     string
}

var clientKeys = map[ClientKey]clientKeyInfo{
	ClientUniqueIdentifier: {KindString, true, "client_unique_identifier"},
	ClientNickname:         {KindString, false, "client_nickname"},
	ClientFlagTalking:      {KindInt, true, "client_flag_talking"},
	ClientInputMuted:       {KindInt, false, "client_input_muted"},
	ClientOutputMuted:      {KindInt, false, "client_output_muted"},
	ClientInputHardware:    {KindInt, true, "client_input_hardware"},
	ClientOutputHardware:   {KindInt, true, "client_output_hardware"},
	ClientAway:             {KindInt, false, "client_away"},
	ClientAwayMessage:      {KindString, false, "client_away_message"},
	ClientMetaData:         {KindString, false, "client_meta_data"},
	ClientIdleTime:         {KindUint64, true, "client_idle_time"},
	ClientIsRecording:      {KindInt, true, "client_is_recording"},
}

func (k ClientKey) Kind() Kind {
	return clientKeys[k].kind
}

func (k ClientKey) ReadOnly() bool {
	return clientKeys[k].readOnly
}

func (k ClientKey) Valid() bool {
	_, ok := clientKeys[k]
	return ok
}

func (k ClientKey) String() string {
	if info, ok := clientKeys[k]; ok {
		return info.name
	}
	return "client_key_unknown"
}

type ChannelKey uint16

const (
	ChannelName ChannelKey = iota
	ChannelTopic
	ChannelDescription
	ChannelPassword
	ChannelCodec
	ChannelCodecQuality
	ChannelMaxClients
	ChannelOrder
	ChannelFlagPermanent
	ChannelFlagSemiPermanent
	ChannelFlagDefault
	ChannelFlagPassword
	ChannelDeleteDelay
)

type channelKeyInfo struct {
	kind     Kind
	readOnly bool
	name     string
}

var channelKeys = map[ChannelKey]channelKeyInfo{
	ChannelName:              {KindString, false, "channel_name"},
	ChannelTopic:             {KindString, false, "channel_topic"},
	ChannelDescription:       {KindString, false, "channel_description"},
	ChannelPassword:          {KindString, false, "channel_password"},
	ChannelCodec:             {KindInt, false, "channel_codec"},
	ChannelCodecQuality:      {KindInt, false, "channel_codec_quality"},
	ChannelMaxClients:        {KindInt, false, "channel_max_clients"},
	ChannelOrder:             {KindUint64, false, "channel_order"},
	ChannelFlagPermanent:     {KindInt, false, "channel_flag_permanent"},
	ChannelFlagSemiPermanent: {KindInt, false, "channel_flag_semi_permanent"},
	ChannelFlagDefault:       {KindInt, false, "channel_flag_default"},
	ChannelFlagPassword:      {KindInt, true, "channel_flag_password"},
	ChannelDeleteDelay:       {KindInt, false, "channel_delete_delay"},
}

func (k ChannelKey) Kind() Kind {
	return channelKeys[k].kind
}

func (k ChannelKey) ReadOnly() bool {
	return channelKeys[k].readOnly
}

func (k ChannelKey) Valid() bool {
	_, ok := channelKeys[k]
	return ok
}

func (k ChannelKey) String() string {
	if info, ok := channelKeys[k]; ok {
		return info.name
	}
	return "channel_key_unknown"
}

type ServerKey uint16

const (
	ServerUniqueIdentifier ServerKey = iota
	ServerName
	ServerWelcomeMessage
	ServerPlatform
	ServerVersion
	ServerMaxClients
	ServerClientsOnline
	ServerChannelsOnline
	ServerCreated
	ServerUptime
	ServerPassword
)

type serverKeyInfo struct {
	kind     Kind
	readOnly bool
	name     string
}

var serverKeys = map[ServerKey]serverKeyInfo{
	ServerUniqueIdentifier: {KindString, true, "virtualserver_unique_identifier"},
	ServerName:             {KindString, false, "virtualserver_name"},
	ServerWelcomeMessage:   {KindString, false, "virtualserver_welcome_message"},
	ServerPlatform:         {KindString, true, "virtualserver_platform"},
	ServerVersion:          {KindString, true, "virtualserver_version"},
	ServerMaxClients:       {KindInt, false, "virtualserver_max_clients"},
	ServerClientsOnline:    {KindInt, true, "virtualserver_clients_online"},
	ServerChannelsOnline:   {KindInt, true, "virtualserver_channels_online"},
	ServerCreated:          {KindUint64, true, "virtualserver_created"},
	ServerUptime:           {KindUint64, true, "virtualserver_uptime"},
	ServerPassword:         {KindString, false, "virtualserver_password"},
}

func (k ServerKey) Kind() Kind {
	return serverKeys[k].kind
}

func (k ServerKey) ReadOnly() bool {
	return serverKeys[k].readOnly
}

func (k ServerKey) Valid() bool {
	_, ok := serverKeys[k]
	return ok
}

func (k ServerKey) String() string {
	if info, ok := serverKeys[k]; ok {
		return info.name
	}
	return "server_key_unknown"
}
