package shared

import "errors"

// Code is the enumerated result of every synchronous call and of every
// asynchronous reply. Codes are stable wire values; CodeOK is zero so a
// zero-valued reply means success.
type Code uint16

const (
	CodeOK Code = iota
	CodeUndefined

	// Connection lifecycle.
	CodeNotConnected
	CodeConnectionLost
	CodeHandlerDestroyed
	CodeServerShutdown
	CodeMaxClientsReached

	// Local validation. These never reach the network.
	CodeNotFound
	CodeTypeMismatch
	CodeReadOnly
	CodeInvalidArgument
	CodeTokenInUse

	// Authorization.
	CodePermissionDenied
	CodeHookTimeout
	CodeServerPasswordWrong
	CodeChannelPasswordWrong

	// Channel tree.
	CodeChannelNotEmpty
	CodeChannelNameTaken
	CodeParentNotFound

	// File transfer.
	CodeTransferNotFound
	CodeTransferHalted
	CodeFileNotFound
	CodeFileAlreadyExists
	CodeFileIO
	CodeInvalidPath
)

var codeMessages = map[Code]string{
	CodeOK:                   "ok",
	CodeUndefined:            "undefined error",
	CodeNotConnected:         "not connected",
	CodeConnectionLost:       "connection lost",
	CodeHandlerDestroyed:     "connection handler destroyed",
	CodeServerShutdown:       "server shutdown",
	CodeMaxClientsReached:    "server is full",
	CodeNotFound:             "not found",
	CodeTypeMismatch:         "property type mismatch",
	CodeReadOnly:             "property is read-only",
	CodeInvalidArgument:      "invalid argument",
	CodeTokenInUse:           "return code already pending",
	CodePermissionDenied:     "insufficient permissions",
	CodeHookTimeout:          "permission hook timed out",
	CodeServerPasswordWrong:  "wrong server password",
	CodeChannelPasswordWrong: "wrong channel password",
	CodeChannelNotEmpty:      "channel is not empty",
	CodeChannelNameTaken:     "channel name already in use",
	CodeParentNotFound:       "parent channel not found",
	CodeTransferNotFound:     "transfer not found",
	CodeTransferHalted:       "transfer halted",
	CodeFileNotFound:         "file not found",
	CodeFileAlreadyExists:    "file already exists",
	CodeFileIO:               "file i/o error",
	CodeInvalidPath:          "invalid file path",
}

func (c Code) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return codeMessages[CodeUndefined]
}

func (c Code) Error() string {
	return c.Message()
}

// Err returns nil for CodeOK and the code itself otherwise, so call sites
// can return a Code directly from functions with an error result.
func (c Code) Err() error {
	if c == CodeOK {
		return nil
	}
	return c
}

// Sentinels for the most common local validation failures. Code implements
// error by value, so errors.Is matches these against any returned Code.
var (
	ErrNotFound     error = CodeNotFound
	ErrTypeMismatch error = CodeTypeMismatch
	ErrReadOnly     error = CodeReadOnly
	ErrTokenInUse   error = CodeTokenInUse
)

// CodeOf maps an error back to its result code. Non-Code errors collapse
// to CodeUndefined; nil is CodeOK.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return CodeUndefined
}
