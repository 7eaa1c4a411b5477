package errcode

import (
	"errors"
	"fmt"
)

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Is matches wrapped errors against their base code so errors.Is works
// across Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam   = New(1001, "invalid parameter")
	ErrInternalServer = New(1002, "internal server error")
	ErrUnauthorized   = New(1003, "unauthorized")
	ErrForbidden      = New(1004, "forbidden")
	ErrNotFound       = New(1005, "not found")
	ErrNetwork        = New(1006, "network error")

	// Auth errors (2xxx)
	ErrTokenInvalid  = New(2001, "token invalid")
	ErrTokenExpired  = New(2002, "token expired")
	ErrTokenMissing  = New(2003, "token missing")
	ErrLoginFailed   = New(2004, "login failed")
	ErrUserNotFound  = New(2005, "user not found")
	ErrPasswordWrong = New(2006, "password wrong")

	// Conversation errors (3xxx)
	ErrConvNotFound   = New(3001, "conversation not found")
	ErrNotParticipant = New(3002, "not a conversation participant")

	// Message errors (4xxx)
	ErrMessageNotFound   = New(4001, "message not found")
	ErrMessageDuplicate  = New(4002, "duplicate message")
	ErrSendFailed        = New(4003, "message send failed")
	ErrVoiceUploadFailed = New(4004, "voice upload failed")

	// Listing errors (5xxx)
	ErrListingNotFound    = New(5001, "listing not found")
	ErrListingUnavailable = New(5002, "listing unavailable")

	// Channel errors (6xxx)
	ErrNotConnected     = New(6001, "channel not connected")
	ErrNotJoined        = New(6002, "conversation not joined")
	ErrConnClosed       = New(6003, "connection closed")
	ErrWriteChannelFull = New(6004, "write channel full")
	ErrInvalidProtocol  = New(6005, "invalid protocol")
)
