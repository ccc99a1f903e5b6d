// Package chat defines the room chat wire model exchanged with the protocol server.
package chat

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind is the message type carried on the wire.
type Kind string

const (
	KindText  Kind = "TEXT"
	KindJoin  Kind = "JOIN"
	KindLeave Kind = "LEAVE"
)

// Kinds lists every message kind in report order.
var Kinds = []Kind{KindText, KindJoin, KindLeave}

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindJoin, KindLeave:
		return true
	}
	return false
}

const (
	MinParticipantID = 1
	MaxParticipantID = 100000
	MinNameLength    = 3
	MaxNameLength    = 20
	MinBodyLength    = 1
	MaxBodyLength    = 500
)

var displayNamePattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Message is a single chat message. Values are never mutated after creation.
type Message struct {
	ParticipantID int
	DisplayName   string
	Body          string
	Timestamp     string
	Kind          Kind
}

// wireMessage is the JSON layout the chat server expects.
type wireMessage struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	MessageType Kind   `json:"messageType"`
}

// MarshalJSON encodes the message using the server field names.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		UserID:      strconv.Itoa(m.ParticipantID),
		Username:    m.DisplayName,
		Message:     m.Body,
		Timestamp:   m.Timestamp,
		MessageType: m.Kind,
	})
}

// UnmarshalJSON decodes a server-layout message. A non-numeric userId
// decodes to participant 0 and is rejected by Validate.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id, err := strconv.Atoi(strings.TrimSpace(w.UserID))
	if err != nil {
		id = 0
	}
	*m = Message{
		ParticipantID: id,
		DisplayName:   w.Username,
		Body:          w.Message,
		Timestamp:     w.Timestamp,
		Kind:          w.MessageType,
	}
	return nil
}

// ValidationError describes why a message was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}

// Validate applies the server-side acceptance rules.
func (m Message) Validate() error {
	if m.ParticipantID < MinParticipantID || m.ParticipantID > MaxParticipantID {
		return &ValidationError{Reason: fmt.Sprintf("userId must be between %d and %d", MinParticipantID, MaxParticipantID)}
	}
	if n := len(m.DisplayName); n < MinNameLength || n > MaxNameLength {
		return &ValidationError{Reason: fmt.Sprintf("username must be %d-%d characters", MinNameLength, MaxNameLength)}
	}
	if !displayNamePattern.MatchString(m.DisplayName) {
		return &ValidationError{Reason: "username must be alphanumeric"}
	}
	if n := utf8.RuneCountInString(m.Body); n < MinBodyLength || n > MaxBodyLength {
		return &ValidationError{Reason: fmt.Sprintf("message must be %d-%d characters", MinBodyLength, MaxBodyLength)}
	}
	if m.Timestamp == "" {
		return &ValidationError{Reason: "timestamp is required"}
	}
	if _, err := time.Parse(time.RFC3339Nano, m.Timestamp); err != nil {
		return &ValidationError{Reason: "timestamp must be valid ISO-8601 format"}
	}
	if m.Kind == "" {
		return &ValidationError{Reason: "messageType is required"}
	}
	if !m.Kind.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("unknown messageType %q", m.Kind)}
	}
	return nil
}

// Task is one message scheduled for a room. Attempts is only touched by the
// worker that dequeued the task.
type Task struct {
	Message  Message
	RoomID   int
	Attempts int
}
