package chat

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// ErrRejected is returned when the server answers with an ERROR status.
var ErrRejected = errors.New("message rejected by server")

// Response is the decoded subset of a server reply the load generator uses.
type Response struct {
	Status          string
	RoomID          string
	ServerTimestamp string
	Message         string
	Echoed          bool
}

// OK reports whether the server accepted the message.
func (r Response) OK() bool {
	return strings.EqualFold(r.Status, StatusSuccess)
}

// Rejected reports whether the server explicitly refused the message. Replies
// without a status field count as delivered.
func (r Response) Rejected() bool {
	return r.Status != "" && !r.OK()
}

// Err returns ErrRejected wrapped with the server's reason for non-OK replies.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	if r.Message != "" {
		return &RejectedError{Status: r.Status, Reason: r.Message}
	}
	return &RejectedError{Status: r.Status}
}

// RejectedError carries the status and reason of a rejected message.
type RejectedError struct {
	Status string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "server status " + e.Status
	}
	return "server status " + e.Status + ": " + e.Reason
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// ParseResponse extracts the reply fields without decoding the echoed message.
// Payloads that are not JSON objects yield an empty status.
func ParseResponse(data []byte) Response {
	if !gjson.ValidBytes(data) {
		return Response{}
	}
	fields := gjson.GetManyBytes(data, "status", "roomId", "serverTimestamp", "message", "originalMessage")
	return Response{
		Status:          fields[0].String(),
		RoomID:          fields[1].String(),
		ServerTimestamp: fields[2].String(),
		Message:         fields[3].String(),
		Echoed:          fields[4].IsObject(),
	}
}
