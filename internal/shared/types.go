package shared

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ConnectionID identifies one connection handler. Handlers are spawned and
// destroyed explicitly and never share state with each other.
type ConnectionID uint64

// ChannelID identifies a channel on a virtual server. Root channels have
// parent ID 0.
type ChannelID uint64

// ServerID identifies a virtual server inside a server library instance.
type ServerID uint64

// ClientID is the connection-scoped small integer identifying a client.
// A client whose channel is 0 is not in any channel.
type ClientID uint16

// TransferID identifies one file transfer for the lifetime of that
// transfer. Terminal transfers release their ID.
type TransferID uint16

type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	return json.Marshal(m)
}

func (m *StringMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringMap", value)
	}

	return json.Unmarshal(bytes, m)
}

func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// NewToken returns a random request token for callers that do not want to
// pick their own. Tokens correlate asynchronous replies to their request;
// the empty token means fire-and-forget.
func NewToken() string {
	return NewID("rq_")
}
